package conversion

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/tradedocs/models"
)

type SagaState string

const (
	SagaStarted        SagaState = "STARTED"
	SagaDerivedCreated SagaState = "DERIVED_CREATED"
	SagaLinked         SagaState = "LINKED"
	SagaFailed         SagaState = "FAILED"
)

// a STARTED saga older than this is assumed abandoned and may be restarted
const startedStaleAfter = 5 * time.Minute

var (
	ErrNoItems              = errors.New("source document has no line items to convert")
	ErrConversionInProgress = errors.New("conversion already in progress for this document")
	ErrNothingToResume      = errors.New("no partial conversion recorded for this document")
	ErrNotConvertible       = errors.New("document type cannot be converted")
)

// Saga is the journaled progress of one conversion. There is at most one per source document.
type Saga struct {
	BusinessId     string              `json:"business_id"`
	SourceType     models.DocumentType `json:"source_type"`
	SourceId       int64               `json:"source_id"`
	SourceNumber   string              `json:"source_number"`
	DerivedType    models.DocumentType `json:"derived_type"`
	DerivedId      int64               `json:"derived_id"`
	DerivedNumber  string              `json:"derived_number"`
	IdempotencyKey string              `json:"idempotency_key"`
	State          SagaState           `json:"state"`
	LastError      string              `json:"last_error"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// PartialConversionError means the derived document exists but the source was not linked.
// The source stays blocked for conversion until the link is resumed.
type PartialConversionError struct {
	SourceType    models.DocumentType
	SourceId      int64
	SourceNumber  string
	DerivedType   models.DocumentType
	DerivedId     int64
	DerivedNumber string
	Err           error
}

func (e *PartialConversionError) Error() string {
	derived := e.DerivedNumber
	if derived == "" {
		derived = fmt.Sprintf("#%d", e.DerivedId)
	}
	msg := fmt.Sprintf("partial conversion: %s %s was created from %s %s but the source was not marked converted",
		e.DerivedType.Label(), derived, e.SourceType.Label(), e.SourceNumber)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PartialConversionError) Unwrap() error {
	return e.Err
}

func IsPartialConversion(err error) bool {
	var target *PartialConversionError
	return errors.As(err, &target)
}

func partialFromSaga(s Saga, err error) *PartialConversionError {
	return &PartialConversionError{
		SourceType:    s.SourceType,
		SourceId:      s.SourceId,
		SourceNumber:  s.SourceNumber,
		DerivedType:   s.DerivedType,
		DerivedId:     s.DerivedId,
		DerivedNumber: s.DerivedNumber,
		Err:           err,
	}
}

// resolveExisting decides what Begin does when a saga already exists for the source.
// It returns the saga to continue with, or the error that blocks the conversion.
func resolveExisting(existing Saga, now time.Time) (Saga, error) {
	switch existing.State {
	case SagaLinked:
		return Saga{}, &models.NotAllowedError{
			Type:      existing.SourceType,
			Converted: true,
			Message:   fmt.Sprintf("%s %s is already converted", existing.SourceType.Label(), existing.SourceNumber),
		}
	case SagaDerivedCreated:
		return Saga{}, partialFromSaga(existing, nil)
	case SagaStarted:
		if now.Sub(existing.UpdatedAt) < startedStaleAfter {
			return Saga{}, ErrConversionInProgress
		}
	}
	// FAILED or abandoned: restart with the same idempotency key so a create that did land is reused
	existing.State = SagaStarted
	existing.LastError = ""
	existing.UpdatedAt = now
	return existing, nil
}

func sagaKey(businessId string, t models.DocumentType, id int64) string {
	return fmt.Sprintf("%s:%s:%d", businessId, t, id)
}
