package conversion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/tradedocs/models"
)

// Journal persists saga state so a partial conversion can be detected and resumed.
// Load returns (nil, nil) when nothing is recorded for the source.
type Journal interface {
	Load(ctx context.Context, businessId string, t models.DocumentType, id int64) (*Saga, error)
	Begin(ctx context.Context, saga Saga) (Saga, error)
	MarkDerivedCreated(ctx context.Context, saga Saga) error
	MarkLinked(ctx context.Context, saga Saga) error
	MarkFailed(ctx context.Context, saga Saga, cause error) error
	// Pending lists sagas stuck in DERIVED_CREATED across all businesses.
	Pending(ctx context.Context) ([]Saga, error)
}

// MemoryJournal keeps sagas for the lifetime of the process.
type MemoryJournal struct {
	mu    sync.Mutex
	sagas map[string]Saga
	now   func() time.Time
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{sagas: make(map[string]Saga), now: time.Now}
}

func (j *MemoryJournal) Load(ctx context.Context, businessId string, t models.DocumentType, id int64) (*Saga, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	s, ok := j.sagas[sagaKey(businessId, t, id)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (j *MemoryJournal) Begin(ctx context.Context, saga Saga) (Saga, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	key := sagaKey(saga.BusinessId, saga.SourceType, saga.SourceId)
	if existing, ok := j.sagas[key]; ok {
		resumed, err := resolveExisting(existing, now)
		if err != nil {
			return Saga{}, err
		}
		j.sagas[key] = resumed
		return resumed, nil
	}
	saga.State = SagaStarted
	saga.CreatedAt = now
	saga.UpdatedAt = now
	j.sagas[key] = saga
	return saga, nil
}

func (j *MemoryJournal) MarkDerivedCreated(ctx context.Context, saga Saga) error {
	return j.update(saga, SagaDerivedCreated, "")
}

func (j *MemoryJournal) MarkLinked(ctx context.Context, saga Saga) error {
	return j.update(saga, SagaLinked, "")
}

func (j *MemoryJournal) MarkFailed(ctx context.Context, saga Saga, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return j.update(saga, SagaFailed, msg)
}

func (j *MemoryJournal) update(saga Saga, state SagaState, lastError string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	key := sagaKey(saga.BusinessId, saga.SourceType, saga.SourceId)
	current, ok := j.sagas[key]
	if !ok {
		current = saga
		current.CreatedAt = j.now()
	}
	if saga.DerivedId != 0 {
		current.DerivedId = saga.DerivedId
		current.DerivedNumber = saga.DerivedNumber
	}
	current.State = state
	current.LastError = lastError
	current.UpdatedAt = j.now()
	j.sagas[key] = current
	return nil
}

func (j *MemoryJournal) Pending(ctx context.Context) ([]Saga, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Saga
	for _, s := range j.sagas {
		if s.State == SagaDerivedCreated {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	return out, nil
}
