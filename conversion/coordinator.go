package conversion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/tradedocs/config"
	"github.com/mmdatafocus/tradedocs/lifecycle"
	"github.com/mmdatafocus/tradedocs/models"
	"github.com/mmdatafocus/tradedocs/querycache"
	"github.com/mmdatafocus/tradedocs/remote"
	"github.com/mmdatafocus/tradedocs/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("tradedocs/conversion")

type Result struct {
	Source  models.TradeDocument
	Derived models.TradeDocument
}

// Coordinator converts a source document into its derived document and links the two.
type Coordinator struct {
	api            remote.DocumentAPI
	combined       remote.CombinedConverter
	cache          *querycache.Cache
	journal        Journal
	locker         Locker
	lockTTL        time.Duration
	linkMaxRetries int
	baseDelay      time.Duration
	maxDelay       time.Duration
	detectDerived  bool
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
	logger         *logrus.Logger
}

type Option func(*Coordinator)

func WithJournal(j Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

func WithLocker(l Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithLinkRetries bounds the retries of the link step on transient failures.
func WithLinkRetries(n int) Option {
	return func(c *Coordinator) { c.linkMaxRetries = n }
}

func WithDerivedDetection(enabled bool) Option {
	return func(c *Coordinator) { c.detectDerived = enabled }
}

// WithCombined sends create and link as one request; nil turns combined mode off.
func WithCombined(cc remote.CombinedConverter) Option {
	return func(c *Coordinator) { c.combined = cc }
}

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func NewCoordinator(api remote.DocumentAPI, cache *querycache.Cache, opts ...Option) *Coordinator {
	s := config.LoadSettings()
	c := &Coordinator{
		api:            api,
		cache:          cache,
		journal:        NewMemoryJournal(),
		locker:         NewLocalLocker(),
		lockTTL:        time.Minute,
		linkMaxRetries: s.LinkMaxRetries,
		baseDelay:      s.BaseDelay,
		maxDelay:       s.MaxDelay,
		detectDerived:  config.DetectDerivedDocuments(),
		sleep:          sleepContext,
		now:            time.Now,
		logger:         config.GetLogger(),
	}
	if config.UseCombinedConversion() {
		if cc, ok := api.(remote.CombinedConverter); ok {
			c.combined = cc
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func lockKey(businessId string, t models.DocumentType, id int64) string {
	return "conversion:lock:" + sagaKey(businessId, t, id)
}

// Convert creates the derived document from source and marks source converted.
// Once the create request is sent the operation ignores ctx cancellation.
func (c *Coordinator) Convert(ctx context.Context, source models.TradeDocument, o Overrides) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "conversion.Convert", trace.WithAttributes(
		attribute.String("source.type", string(source.Type)),
		attribute.Int64("source.id", source.ID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rule, ok := lifecycle.Conversion(source.Type)
	if !ok {
		return nil, &models.NotAllowedError{
			Type:    source.Type,
			Status:  source.Status,
			Message: fmt.Sprintf("%s cannot be converted", source.Type.Label()),
		}
	}
	if err := lifecycle.Check(source, rule.Action); err != nil {
		return nil, err
	}

	businessId := utils.BusinessIdOrDefault(ctx)
	if err := c.checkJournal(ctx, businessId, source); err != nil {
		return nil, err
	}

	lock, err := c.locker.Obtain(ctx, lockKey(businessId, source.Type, source.ID), c.lockTTL)
	if err != nil {
		return nil, err
	}
	defer c.release(ctx, lock)

	full, err := c.resident(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Check(full, rule.Action); err != nil {
		return nil, err
	}
	if c.detectDerived {
		if err := c.detectExisting(ctx, businessId, full, rule); err != nil {
			return nil, err
		}
	}

	draft, err := BuildDraft(full, rule, o, c.now())
	if err != nil {
		return nil, err
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	saga, err := c.journal.Begin(ctx, Saga{
		BusinessId:     businessId,
		SourceType:     full.Type,
		SourceId:       full.ID,
		SourceNumber:   full.DocumentNumber,
		DerivedType:    rule.Target,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	if c.combined != nil {
		return c.convertCombined(ctx, full, rule, draft, saga)
	}

	derived, err := querycache.Write(ctx, c.cache, func(ctx context.Context) (models.TradeDocument, error) {
		return c.api.Create(ctx, rule.Target, draft, saga.IdempotencyKey)
	}, querycache.DocumentsKey(rule.Target))
	if err != nil {
		c.journalErr(c.journal.MarkFailed(ctx, saga, err), "MarkFailed", saga)
		return nil, fmt.Errorf("create %s from %s %s: %w", rule.Target.Label(), full.Type.Label(), full.DocumentNumber, err)
	}
	saga.DerivedId = derived.ID
	saga.DerivedNumber = derived.DocumentNumber
	c.journalErr(c.journal.MarkDerivedCreated(ctx, saga), "MarkDerivedCreated", saga)

	linked, err := c.link(ctx, full.Type, full.ID, rule, derived.ID)
	if err != nil {
		c.cache.Invalidate(ctx, querycache.DocumentsKey(full.Type), querycache.DocumentKey(full.Type, full.ID))
		perr := partialFromSaga(saga, err)
		config.LogError(c.logger, "conversion", "Convert", "link source", saga, perr)
		return nil, perr
	}
	c.finish(ctx, saga, rule)

	c.logger.WithFields(logrus.Fields{
		"module":  "conversion",
		"source":  full.DocumentNumber,
		"derived": derived.DocumentNumber,
	}).Info("document converted")
	return &Result{Source: linked, Derived: derived}, nil
}

func (c *Coordinator) convertCombined(ctx context.Context, full models.TradeDocument, rule lifecycle.ConversionRule, draft models.DocumentDraft, saga Saga) (*Result, error) {
	res, err := querycache.Write(ctx, c.cache, func(ctx context.Context) (remote.LinkResult, error) {
		return c.combined.CreateAndLink(ctx, full.Type, full.ID, draft, saga.IdempotencyKey)
	}, querycache.DocumentsKey(rule.Target))
	if err != nil {
		c.journalErr(c.journal.MarkFailed(ctx, saga, err), "MarkFailed", saga)
		return nil, fmt.Errorf("convert %s %s: %w", full.Type.Label(), full.DocumentNumber, err)
	}
	saga.DerivedId = res.Derived.ID
	saga.DerivedNumber = res.Derived.DocumentNumber
	c.finish(ctx, saga, rule)
	return &Result{Source: res.Source, Derived: res.Derived}, nil
}

// Resume completes the link of a partial conversion recorded for source.
func (c *Coordinator) Resume(ctx context.Context, source models.TradeDocument) (*Result, error) {
	businessId := utils.BusinessIdOrDefault(ctx)
	saga, err := c.journal.Load(ctx, businessId, source.Type, source.ID)
	if err != nil {
		return nil, err
	}
	if saga == nil || saga.State != SagaDerivedCreated {
		return nil, ErrNothingToResume
	}
	return c.ResumeSaga(ctx, *saga)
}

// ResumeSaga re-issues the link step of a journaled saga. The link is keyed by the
// derived document id, so repeating it after an unknown outcome is safe.
func (c *Coordinator) ResumeSaga(ctx context.Context, saga Saga) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "conversion.Resume", trace.WithAttributes(
		attribute.String("source.type", string(saga.SourceType)),
		attribute.Int64("source.id", saga.SourceId),
		attribute.Int64("derived.id", saga.DerivedId),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if saga.State != SagaDerivedCreated || saga.DerivedId == 0 {
		return nil, ErrNothingToResume
	}
	rule, ok := lifecycle.Conversion(saga.SourceType)
	if !ok {
		return nil, ErrNotConvertible
	}
	lock, err := c.locker.Obtain(ctx, lockKey(saga.BusinessId, saga.SourceType, saga.SourceId), c.lockTTL)
	if err != nil {
		return nil, err
	}
	defer c.release(ctx, lock)

	ctx = context.WithoutCancel(ctx)
	linked, err := c.link(ctx, saga.SourceType, saga.SourceId, rule, saga.DerivedId)
	if err != nil {
		return nil, partialFromSaga(saga, err)
	}
	c.finish(ctx, saga, rule)

	derived, err := querycache.Read(ctx, c.cache, querycache.DocumentKey(rule.Target, saga.DerivedId), func(ctx context.Context) (models.TradeDocument, error) {
		return c.api.Get(ctx, rule.Target, saga.DerivedId)
	})
	if err != nil {
		config.LogError(c.logger, "conversion", "ResumeSaga", "fetch derived", saga, err)
		derived = models.TradeDocument{ID: saga.DerivedId, Type: rule.Target, DocumentNumber: saga.DerivedNumber}
	}
	return &Result{Source: linked, Derived: derived}, nil
}

// Pending lists conversions whose derived document exists but whose source is not linked.
func (c *Coordinator) Pending(ctx context.Context) ([]Saga, error) {
	return c.journal.Pending(ctx)
}

func (c *Coordinator) checkJournal(ctx context.Context, businessId string, source models.TradeDocument) error {
	saga, err := c.journal.Load(ctx, businessId, source.Type, source.ID)
	if err != nil {
		return fmt.Errorf("load conversion journal: %w", err)
	}
	if saga == nil {
		return nil
	}
	_, err = resolveExisting(*saga, c.now())
	return err
}

// resident returns source with its line items, fetching it through the cache when list views omitted them.
func (c *Coordinator) resident(ctx context.Context, source models.TradeDocument) (models.TradeDocument, error) {
	if source.HasLineItems() {
		return source, nil
	}
	full, err := querycache.Read(ctx, c.cache, querycache.DocumentKey(source.Type, source.ID), func(ctx context.Context) (models.TradeDocument, error) {
		return c.api.Get(ctx, source.Type, source.ID)
	})
	if err != nil {
		return models.TradeDocument{}, err
	}
	if !full.HasLineItems() {
		return models.TradeDocument{}, ErrNoItems
	}
	return full, nil
}

// detectExisting blocks a conversion when a derived document already references the source.
func (c *Coordinator) detectExisting(ctx context.Context, businessId string, source models.TradeDocument, rule lifecycle.ConversionRule) error {
	docs, err := querycache.Read(ctx, c.cache, querycache.DocumentsKey(rule.Target), func(ctx context.Context) ([]models.TradeDocument, error) {
		return c.api.List(ctx, rule.Target)
	})
	if err != nil {
		return fmt.Errorf("check existing %s: %w", rule.Target.Label(), err)
	}
	for _, d := range docs {
		if !ReferencesSource(d, source) {
			continue
		}
		saga := Saga{
			BusinessId:     businessId,
			SourceType:     source.Type,
			SourceId:       source.ID,
			SourceNumber:   source.DocumentNumber,
			DerivedType:    rule.Target,
			DerivedId:      d.ID,
			DerivedNumber:  d.DocumentNumber,
			IdempotencyKey: uuid.NewString(),
		}
		if _, err := c.journal.Begin(ctx, saga); err != nil {
			config.LogError(c.logger, "conversion", "detectExisting", "begin", saga, err)
		}
		c.journalErr(c.journal.MarkDerivedCreated(ctx, saga), "MarkDerivedCreated", saga)
		return partialFromSaga(saga, nil)
	}
	return nil
}

// link marks the source converted, retrying transient failures.
func (c *Coordinator) link(ctx context.Context, t models.DocumentType, id int64, rule lifecycle.ConversionRule, derivedId int64) (models.TradeDocument, error) {
	status := rule.FulfilledStatus
	patch := models.DocumentPatch{Status: &status, Converted: utils.NewTrue(), DerivedDocumentId: &derivedId}

	for attempt := 0; ; attempt++ {
		doc, err := c.api.Update(ctx, t, id, patch)
		if err == nil {
			return doc, nil
		}
		if querycache.Classify(err) != querycache.ClassTransient || attempt >= c.linkMaxRetries {
			return models.TradeDocument{}, err
		}
		delay := querycache.RetryDelay(attempt, c.baseDelay, c.maxDelay)
		c.logger.WithFields(logrus.Fields{
			"module":  "conversion",
			"source":  id,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("retrying conversion link: " + err.Error())
		if serr := c.sleep(ctx, delay); serr != nil {
			return models.TradeDocument{}, err
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, saga Saga, rule lifecycle.ConversionRule) {
	c.journalErr(c.journal.MarkLinked(ctx, saga), "MarkLinked", saga)
	c.cache.Invalidate(ctx,
		querycache.DocumentsKey(saga.SourceType),
		querycache.DocumentKey(saga.SourceType, saga.SourceId),
		querycache.DocumentsKey(rule.Target),
	)
}

func (c *Coordinator) release(ctx context.Context, lock Lock) {
	if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
		config.LogError(c.logger, "conversion", "release", "release lock", nil, err)
	}
}

func (c *Coordinator) journalErr(err error, funcName string, saga Saga) {
	if err != nil {
		config.LogError(c.logger, "conversion", funcName, "journal write", saga, err)
	}
}
