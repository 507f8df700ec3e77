package notify

import (
	"context"
	"sync"
	"time"

	"github.com/mmdatafocus/tradedocs/models"
	"github.com/mmdatafocus/tradedocs/utils"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
)

// Event is the user-facing outcome of one document operation.
type Event struct {
	Kind           Kind                `json:"kind"`
	Operation      string              `json:"operation"`
	DocumentType   models.DocumentType `json:"document_type"`
	DocumentId     int64               `json:"document_id,omitempty"`
	DocumentNumber string              `json:"document_number,omitempty"`
	Message        string              `json:"message"`
	BusinessId     string              `json:"business_id"`
	CorrelationId  string              `json:"correlation_id,omitempty"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

// Notifier delivers events. Delivery problems are the notifier's to log; they never fail the operation.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

func Succeeded(ctx context.Context, operation string, doc models.TradeDocument, message string) Event {
	return stamp(ctx, Event{
		Kind:           KindSuccess,
		Operation:      operation,
		DocumentType:   doc.Type,
		DocumentId:     doc.ID,
		DocumentNumber: doc.DocumentNumber,
		Message:        message,
	})
}

func Failed(ctx context.Context, operation string, t models.DocumentType, id int64, err error) Event {
	e := Event{
		Kind:         KindFailure,
		Operation:    operation,
		DocumentType: t,
		DocumentId:   id,
	}
	if err != nil {
		e.Message = err.Error()
	}
	return stamp(ctx, e)
}

func stamp(ctx context.Context, e Event) Event {
	e.BusinessId = utils.BusinessIdOrDefault(ctx)
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		e.CorrelationId = id
	}
	e.OccurredAt = time.Now().UTC()
	return e
}

type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Notify(ctx context.Context, e Event) {
	entry := n.Logger.WithFields(logrus.Fields{
		"module":          "notify",
		"operation":       e.Operation,
		"document_type":   e.DocumentType,
		"document_id":     e.DocumentId,
		"document_number": e.DocumentNumber,
		"business_id":     e.BusinessId,
		"correlation_id":  e.CorrelationId,
	})
	if e.Kind == KindFailure {
		entry.Warn(e.Message)
		return
	}
	entry.Info(e.Message)
}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(ctx context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
