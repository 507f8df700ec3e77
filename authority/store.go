package authority

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/tradedocs/lifecycle"
	"github.com/mmdatafocus/tradedocs/models"
	"github.com/mmdatafocus/tradedocs/remote"
	"github.com/mmdatafocus/tradedocs/utils"
)

type Operation string

const (
	OpList          Operation = "list"
	OpGet           Operation = "get"
	OpCreate        Operation = "create"
	OpUpdate        Operation = "update"
	OpLink          Operation = "link"
	OpDelete        Operation = "delete"
	OpCreateAndLink Operation = "create_and_link"
)

var ErrUnknownType = errors.New("unknown document type")

// Store is the in-memory record of documents. It re-validates every transition with the
// same lifecycle tables the client uses and can be used directly as a remote.DocumentAPI.
type Store struct {
	mu         sync.Mutex
	docs       map[models.DocumentType]map[int64]*models.TradeDocument
	nextId     int64
	sequences  map[models.DocumentType]int
	idempotent map[string]int64
	links      map[string]remote.LinkResult
	faults     map[Operation][]error
	calls      map[Operation]int
	names      map[string]map[int64]string
	omitItems  bool
	now        func() time.Time
}

type StoreOption func(*Store)

// WithListOmitsItems makes List return documents without line items, like a paged list view.
func WithListOmitsItems() StoreOption {
	return func(s *Store) { s.omitItems = true }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		docs:       make(map[models.DocumentType]map[int64]*models.TradeDocument),
		sequences:  make(map[models.DocumentType]int),
		idempotent: make(map[string]int64),
		links:      make(map[string]remote.LinkResult),
		faults:     make(map[Operation][]error),
		calls:      make(map[Operation]int),
		names:      make(map[string]map[int64]string),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next n calls of op fail with err before touching any state.
func (s *Store) FailNext(op Operation, err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.faults[op] = append(s.faults[op], err)
	}
}

// Unavailable is a convenience fault mimicking a 503 response.
func Unavailable() error {
	return &remote.APIError{StatusCode: http.StatusServiceUnavailable, Code: "unavailable", Message: "service unavailable"}
}

func (s *Store) Calls(op Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// SeedNames registers catalog display names of one kind.
func (s *Store) SeedNames(kind string, names map[int64]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[kind] == nil {
		s.names[kind] = make(map[int64]string)
	}
	for id, name := range names {
		s.names[kind][id] = name
	}
}

// enterLocked counts the call and pops a pending fault.
func (s *Store) enterLocked(op Operation) error {
	s.calls[op]++
	if pending := s.faults[op]; len(pending) > 0 {
		s.faults[op] = pending[1:]
		return pending[0]
	}
	return nil
}

func (s *Store) List(ctx context.Context, t models.DocumentType) ([]models.TradeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterLocked(OpList); err != nil {
		return nil, err
	}
	if !t.IsValid() {
		return nil, ErrUnknownType
	}
	out := make([]models.TradeDocument, 0, len(s.docs[t]))
	for _, d := range s.docs[t] {
		c := d.Clone()
		if s.omitItems {
			c.LineItems = nil
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Get(ctx context.Context, t models.DocumentType, id int64) (models.TradeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterLocked(OpGet); err != nil {
		return models.TradeDocument{}, err
	}
	d, err := s.findLocked(t, id)
	if err != nil {
		return models.TradeDocument{}, err
	}
	return d.Clone(), nil
}

func (s *Store) Create(ctx context.Context, t models.DocumentType, draft models.DocumentDraft, idempotencyKey string) (models.TradeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterLocked(OpCreate); err != nil {
		return models.TradeDocument{}, err
	}
	d, err := s.createLocked(ctx, t, draft, idempotencyKey)
	if err != nil {
		return models.TradeDocument{}, err
	}
	return d.Clone(), nil
}

func (s *Store) Update(ctx context.Context, t models.DocumentType, id int64, patch models.DocumentPatch) (models.TradeDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := OpUpdate
	if patch.IsLink() {
		op = OpLink
	}
	if err := s.enterLocked(op); err != nil {
		return models.TradeDocument{}, err
	}
	d, err := s.findLocked(t, id)
	if err != nil {
		return models.TradeDocument{}, err
	}
	if patch.IsLink() {
		if err := s.linkLocked(ctx, d, patch); err != nil {
			return models.TradeDocument{}, err
		}
		return d.Clone(), nil
	}
	if err := s.applyLocked(ctx, d, patch); err != nil {
		return models.TradeDocument{}, err
	}
	return d.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, t models.DocumentType, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterLocked(OpDelete); err != nil {
		return err
	}
	d, err := s.findLocked(t, id)
	if err != nil {
		return err
	}
	if err := lifecycle.Check(*d, models.ActionDelete); err != nil {
		return serverNotAllowed(err)
	}
	delete(s.docs[t], id)
	return nil
}

// CreateAndLink creates the derived document and links the source atomically.
func (s *Store) CreateAndLink(ctx context.Context, sourceType models.DocumentType, sourceId int64, draft models.DocumentDraft, idempotencyKey string) (remote.LinkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterLocked(OpCreateAndLink); err != nil {
		return remote.LinkResult{}, err
	}
	if idempotencyKey != "" {
		if res, ok := s.links[idempotencyKey]; ok {
			return res, nil
		}
	}
	src, err := s.findLocked(sourceType, sourceId)
	if err != nil {
		return remote.LinkResult{}, err
	}
	rule, ok := lifecycle.Conversion(sourceType)
	if !ok || rule.Target != draft.Type {
		return remote.LinkResult{}, &models.NotAllowedError{Message: fmt.Sprintf("%s cannot be converted to %s", sourceType.Label(), draft.Type.Label())}
	}
	if err := lifecycle.Check(*src, rule.Action); err != nil {
		return remote.LinkResult{}, serverNotAllowed(err)
	}
	derived, err := s.createLocked(ctx, draft.Type, draft, "")
	if err != nil {
		return remote.LinkResult{}, err
	}
	s.markLinkedLocked(ctx, src, rule.FulfilledStatus, derived.ID)

	res := remote.LinkResult{Source: src.Clone(), Derived: derived.Clone()}
	if idempotencyKey != "" {
		s.links[idempotencyKey] = res
	}
	return res, nil
}

func (s *Store) ResolveNames(ctx context.Context, kind string, ids []int64) (map[int64]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if name, ok := s.names[kind][id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (s *Store) findLocked(t models.DocumentType, id int64) (*models.TradeDocument, error) {
	if !t.IsValid() {
		return nil, ErrUnknownType
	}
	d, ok := s.docs[t][id]
	if !ok {
		return nil, &remote.APIError{StatusCode: http.StatusNotFound, Code: remote.CodeNotFound, Message: fmt.Sprintf("%s %d not found", t.Label(), id)}
	}
	return d, nil
}

func (s *Store) createLocked(ctx context.Context, t models.DocumentType, draft models.DocumentDraft, idempotencyKey string) (*models.TradeDocument, error) {
	if draft.Type == "" {
		draft.Type = t
	}
	if draft.Type != t {
		return nil, &models.ValidationError{Message: "draft type does not match collection"}
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		if id, ok := s.idempotent[string(t)+":"+idempotencyKey]; ok {
			if existing, ok := s.docs[t][id]; ok {
				return existing, nil
			}
		}
	}

	status := draft.Status
	if status == "" {
		status = t.InitialStatus()
	}
	s.nextId++
	s.sequences[t]++
	now := s.now()
	user := actor(ctx)
	d := &models.TradeDocument{
		ID:             s.nextId,
		Type:           t,
		DocumentNumber: fmt.Sprintf("%s-%06d", t.NumberPrefix(), s.sequences[t]),
		Status:         status,
		CounterpartyId: draft.CounterpartyId,
		DocumentDate:   draft.DocumentDate,
		Notes:          draft.Notes,
		LineItems:      append([]models.LineItem(nil), draft.LineItems...),
		CreatedAt:      now,
		CreatedBy:      user,
		UpdatedAt:      now,
		UpdatedBy:      user,
	}
	if s.docs[t] == nil {
		s.docs[t] = make(map[int64]*models.TradeDocument)
	}
	s.docs[t][d.ID] = d
	if idempotencyKey != "" {
		s.idempotent[string(t)+":"+idempotencyKey] = d.ID
	}
	return d, nil
}

// linkLocked marks a source converted. Repeating a link with the same derived id is a no-op.
func (s *Store) linkLocked(ctx context.Context, d *models.TradeDocument, patch models.DocumentPatch) error {
	if patch.DerivedDocumentId == nil || *patch.DerivedDocumentId <= 0 {
		return &models.ValidationError{Message: "derived_document_id is required to link a conversion"}
	}
	if d.Frozen() {
		if d.DerivedDocumentId == *patch.DerivedDocumentId {
			return nil
		}
		return &models.NotAllowedError{Type: d.Type, Message: fmt.Sprintf("%s %s is already converted", d.Type.Label(), d.DocumentNumber)}
	}
	rule, ok := lifecycle.Conversion(d.Type)
	if !ok {
		return &models.NotAllowedError{Type: d.Type, Message: fmt.Sprintf("%s cannot be converted", d.Type.Label())}
	}
	if patch.Status != nil && *patch.Status != rule.FulfilledStatus {
		return &models.ValidationError{Message: fmt.Sprintf("a converted %s must be %s", d.Type.Label(), rule.FulfilledStatus)}
	}
	if err := lifecycle.Check(*d, rule.Action); err != nil {
		return serverNotAllowed(err)
	}
	s.markLinkedLocked(ctx, d, rule.FulfilledStatus, *patch.DerivedDocumentId)
	return nil
}

func (s *Store) markLinkedLocked(ctx context.Context, d *models.TradeDocument, status models.DocumentStatus, derivedId int64) {
	d.Converted = true
	d.Status = status
	d.DerivedDocumentId = derivedId
	d.UpdatedAt = s.now()
	d.UpdatedBy = actor(ctx)
}

func (s *Store) applyLocked(ctx context.Context, d *models.TradeDocument, patch models.DocumentPatch) error {
	if err := patch.Validate(d.Type); err != nil {
		return err
	}
	if d.Frozen() {
		action := models.ActionChangeStatus
		if patch.IsEdit() {
			action = models.ActionEdit
		} else if patch.Status != nil {
			if a, ok := lifecycle.ActionForTransition(d.Type, d.Status, *patch.Status); ok {
				action = a
			}
		}
		return serverNotAllowed(&models.NotAllowedError{Type: d.Type, Action: action, Status: d.Status, Converted: true})
	}
	if patch.IsEdit() {
		if err := lifecycle.Check(*d, models.ActionEdit); err != nil {
			return serverNotAllowed(err)
		}
	}
	if patch.Status != nil && *patch.Status != d.Status {
		if err := lifecycle.CheckTransition(*d, *patch.Status); err != nil {
			return serverNotAllowed(err)
		}
	}
	if !patch.IsEdit() && patch.Status == nil {
		return &models.ValidationError{Message: "empty patch"}
	}

	if patch.CounterpartyId != nil {
		d.CounterpartyId = *patch.CounterpartyId
	}
	if patch.DocumentDate != nil {
		d.DocumentDate = *patch.DocumentDate
	}
	if patch.Notes != nil {
		d.Notes = *patch.Notes
	}
	if patch.LineItems != nil {
		d.LineItems = append([]models.LineItem(nil), patch.LineItems...)
	}
	if patch.Status != nil {
		d.Status = *patch.Status
	}
	d.UpdatedAt = s.now()
	d.UpdatedBy = actor(ctx)
	return nil
}

// serverNotAllowed turns a policy rejection into the message the server reports.
func serverNotAllowed(err error) error {
	var na *models.NotAllowedError
	if errors.As(err, &na) && na.Message == "" {
		return &models.NotAllowedError{Type: na.Type, Action: na.Action, Status: na.Status, Converted: na.Converted, Message: na.Error()}
	}
	return err
}

func actor(ctx context.Context) string {
	if name, ok := utils.GetUsernameFromContext(ctx); ok && name != "" {
		return name
	}
	return "system"
}
