package conversion

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/tradedocs/models"
	"gorm.io/gorm"
)

// ConversionSaga is the durable saga row.
// Unique constraint: (business_id, source_type, source_id).
type ConversionSaga struct {
	ID             int                 `gorm:"primary_key" json:"id"`
	BusinessId     string              `gorm:"size:64;not null;index:uniq_conversion_source,unique" json:"business_id"`
	SourceType     models.DocumentType `gorm:"size:32;not null;index:uniq_conversion_source,unique" json:"source_type"`
	SourceId       int64               `gorm:"not null;index:uniq_conversion_source,unique" json:"source_id"`
	SourceNumber   string              `gorm:"size:64" json:"source_number"`
	DerivedType    models.DocumentType `gorm:"size:32;not null" json:"derived_type"`
	DerivedId      int64               `gorm:"default:0" json:"derived_id"`
	DerivedNumber  string              `gorm:"size:64" json:"derived_number"`
	IdempotencyKey string              `gorm:"size:64;not null" json:"idempotency_key"`
	State          SagaState           `gorm:"size:20;not null;index" json:"state"`
	LastError      *string             `gorm:"type:text" json:"last_error"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r ConversionSaga) toSaga() Saga {
	s := Saga{
		BusinessId:     r.BusinessId,
		SourceType:     r.SourceType,
		SourceId:       r.SourceId,
		SourceNumber:   r.SourceNumber,
		DerivedType:    r.DerivedType,
		DerivedId:      r.DerivedId,
		DerivedNumber:  r.DerivedNumber,
		IdempotencyKey: r.IdempotencyKey,
		State:          r.State,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastError != nil {
		s.LastError = *r.LastError
	}
	return s
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// GormJournal keeps sagas in MySQL so partial conversions survive restarts.
type GormJournal struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormJournal(db *gorm.DB) *GormJournal {
	return &GormJournal{db: db, now: time.Now}
}

func (j *GormJournal) Migrate(ctx context.Context) error {
	return j.db.WithContext(ctx).AutoMigrate(&ConversionSaga{})
}

func (j *GormJournal) sourceScope(businessId string, t models.DocumentType, id int64) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("business_id = ? AND source_type = ? AND source_id = ?", businessId, t, id)
	}
}

func (j *GormJournal) Load(ctx context.Context, businessId string, t models.DocumentType, id int64) (*Saga, error) {
	var row ConversionSaga
	err := j.db.WithContext(ctx).Scopes(j.sourceScope(businessId, t, id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := row.toSaga()
	return &s, nil
}

// Begin inserts STARTED. A duplicate key means a saga exists and resolveExisting decides.
func (j *GormJournal) Begin(ctx context.Context, saga Saga) (Saga, error) {
	row := ConversionSaga{
		BusinessId:     saga.BusinessId,
		SourceType:     saga.SourceType,
		SourceId:       saga.SourceId,
		SourceNumber:   saga.SourceNumber,
		DerivedType:    saga.DerivedType,
		IdempotencyKey: saga.IdempotencyKey,
		State:          SagaStarted,
	}
	db := j.db.WithContext(ctx)
	if err := db.Create(&row).Error; err == nil {
		return row.toSaga(), nil
	} else if !isDuplicateKeyErr(err) {
		return Saga{}, err
	}

	var existing ConversionSaga
	if err := db.Scopes(j.sourceScope(saga.BusinessId, saga.SourceType, saga.SourceId)).First(&existing).Error; err != nil {
		return Saga{}, err
	}
	resumed, err := resolveExisting(existing.toSaga(), j.now())
	if err != nil {
		return Saga{}, err
	}
	if err := db.Model(&ConversionSaga{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"state": SagaStarted, "last_error": nil}).Error; err != nil {
		return Saga{}, err
	}
	return resumed, nil
}

func (j *GormJournal) MarkDerivedCreated(ctx context.Context, saga Saga) error {
	return j.db.WithContext(ctx).Model(&ConversionSaga{}).
		Scopes(j.sourceScope(saga.BusinessId, saga.SourceType, saga.SourceId)).
		Updates(map[string]interface{}{
			"state":          SagaDerivedCreated,
			"derived_id":     saga.DerivedId,
			"derived_number": saga.DerivedNumber,
			"last_error":     nil,
		}).Error
}

func (j *GormJournal) MarkLinked(ctx context.Context, saga Saga) error {
	return j.db.WithContext(ctx).Model(&ConversionSaga{}).
		Scopes(j.sourceScope(saga.BusinessId, saga.SourceType, saga.SourceId)).
		Updates(map[string]interface{}{"state": SagaLinked, "last_error": nil}).Error
}

func (j *GormJournal) MarkFailed(ctx context.Context, saga Saga, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return j.db.WithContext(ctx).Model(&ConversionSaga{}).
		Scopes(j.sourceScope(saga.BusinessId, saga.SourceType, saga.SourceId)).
		Updates(map[string]interface{}{"state": SagaFailed, "last_error": &msg}).Error
}

func (j *GormJournal) Pending(ctx context.Context) ([]Saga, error) {
	var rows []ConversionSaga
	if err := j.db.WithContext(ctx).
		Where("state = ?", SagaDerivedCreated).
		Order("updated_at").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Saga, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSaga())
	}
	return out, nil
}
