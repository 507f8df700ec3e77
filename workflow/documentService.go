package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/tradedocs/config"
	"github.com/mmdatafocus/tradedocs/conversion"
	"github.com/mmdatafocus/tradedocs/lifecycle"
	"github.com/mmdatafocus/tradedocs/models"
	"github.com/mmdatafocus/tradedocs/notify"
	"github.com/mmdatafocus/tradedocs/querycache"
	"github.com/mmdatafocus/tradedocs/remote"
	"github.com/sirupsen/logrus"
)

const (
	OpCreate       = "create"
	OpEdit         = "edit"
	OpChangeStatus = "change_status"
	OpDelete       = "delete"
	OpConvert      = "convert"
	OpResume       = "resume_conversion"
)

// DocumentService is the entry point for document operations. Every command is
// checked against the lifecycle policy before anything is sent to the authority.
type DocumentService struct {
	api         remote.DocumentAPI
	cache       *querycache.Cache
	coordinator *conversion.Coordinator
	notifier    notify.Notifier
	logger      *logrus.Logger
}

func NewDocumentService(api remote.DocumentAPI, cache *querycache.Cache, coordinator *conversion.Coordinator, notifier notify.Notifier) *DocumentService {
	logger := config.GetLogger()
	if notifier == nil {
		notifier = notify.LogNotifier{Logger: logger}
	}
	return &DocumentService{
		api:         api,
		cache:       cache,
		coordinator: coordinator,
		notifier:    notifier,
		logger:      logger,
	}
}

func (s *DocumentService) List(ctx context.Context, t models.DocumentType) ([]models.TradeDocument, error) {
	return querycache.Read(ctx, s.cache, querycache.DocumentsKey(t), func(ctx context.Context) ([]models.TradeDocument, error) {
		return s.api.List(ctx, t)
	})
}

func (s *DocumentService) Get(ctx context.Context, t models.DocumentType, id int64) (models.TradeDocument, error) {
	return querycache.Read(ctx, s.cache, querycache.DocumentKey(t, id), func(ctx context.Context) (models.TradeDocument, error) {
		return s.api.Get(ctx, t, id)
	})
}

// AllowedActions is what the UI may offer for doc.
func (s *DocumentService) AllowedActions(doc models.TradeDocument) []models.Action {
	return lifecycle.AllowedActionsFor(doc).Slice()
}

func (s *DocumentService) Create(ctx context.Context, draft models.DocumentDraft) (models.TradeDocument, error) {
	if err := draft.Validate(); err != nil {
		s.notifier.Notify(ctx, notify.Failed(ctx, OpCreate, draft.Type, 0, err))
		return models.TradeDocument{}, err
	}
	key := uuid.NewString()
	doc, err := querycache.Write(ctx, s.cache, func(ctx context.Context) (models.TradeDocument, error) {
		return s.api.Create(ctx, draft.Type, draft, key)
	}, querycache.DocumentsKey(draft.Type))
	if err != nil {
		s.notifier.Notify(ctx, notify.Failed(ctx, OpCreate, draft.Type, 0, err))
		return models.TradeDocument{}, err
	}
	s.notifier.Notify(ctx, notify.Succeeded(ctx, OpCreate, doc, fmt.Sprintf("%s %s created", doc.Type.Label(), doc.DocumentNumber)))
	return doc, nil
}

// Edit changes counterparty, date, notes or line items. Status changes go through ChangeStatus.
func (s *DocumentService) Edit(ctx context.Context, doc models.TradeDocument, patch models.DocumentPatch) (models.TradeDocument, error) {
	if err := lifecycle.Check(doc, models.ActionEdit); err != nil {
		return s.reject(ctx, OpEdit, doc, err)
	}
	if !patch.IsEdit() || patch.Status != nil || patch.Converted != nil || patch.DerivedDocumentId != nil {
		return s.reject(ctx, OpEdit, doc, &models.ValidationError{Message: "an edit may only change counterparty, date, notes or line items"})
	}
	if err := patch.Validate(doc.Type); err != nil {
		return s.reject(ctx, OpEdit, doc, err)
	}
	return s.update(ctx, OpEdit, doc, patch, "updated")
}

// ChangeStatus moves doc to status to when the policy has a transition for it.
func (s *DocumentService) ChangeStatus(ctx context.Context, doc models.TradeDocument, to models.DocumentStatus) (models.TradeDocument, error) {
	if err := lifecycle.CheckTransition(doc, to); err != nil {
		return s.reject(ctx, OpChangeStatus, doc, err)
	}
	return s.update(ctx, OpChangeStatus, doc, models.DocumentPatch{Status: &to}, "moved to "+string(to))
}

func (s *DocumentService) MarkReceived(ctx context.Context, doc models.TradeDocument) (models.TradeDocument, error) {
	return s.transition(ctx, doc, models.ActionMarkReceived)
}

func (s *DocumentService) MarkCancelled(ctx context.Context, doc models.TradeDocument) (models.TradeDocument, error) {
	return s.transition(ctx, doc, models.ActionMarkCancelled)
}

func (s *DocumentService) transition(ctx context.Context, doc models.TradeDocument, action models.Action) (models.TradeDocument, error) {
	if err := lifecycle.Check(doc, action); err != nil {
		return s.reject(ctx, string(action), doc, err)
	}
	to, ok := lifecycle.StatusForAction(doc.Type, action)
	if !ok {
		return s.reject(ctx, string(action), doc, &models.NotAllowedError{Type: doc.Type, Action: action, Status: doc.Status})
	}
	return s.update(ctx, string(action), doc, models.DocumentPatch{Status: &to}, "moved to "+string(to))
}

func (s *DocumentService) Delete(ctx context.Context, doc models.TradeDocument) error {
	if err := lifecycle.Check(doc, models.ActionDelete); err != nil {
		_, err = s.reject(ctx, OpDelete, doc, err)
		return err
	}
	_, err := querycache.Write(ctx, s.cache, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.api.Delete(ctx, doc.Type, doc.ID)
	}, querycache.DocumentsKey(doc.Type), querycache.DocumentKey(doc.Type, doc.ID))
	if err != nil {
		s.notifier.Notify(ctx, notify.Failed(ctx, OpDelete, doc.Type, doc.ID, err))
		return err
	}
	s.notifier.Notify(ctx, notify.Succeeded(ctx, OpDelete, doc, fmt.Sprintf("%s %s deleted", doc.Type.Label(), doc.DocumentNumber)))
	return nil
}

func (s *DocumentService) Convert(ctx context.Context, doc models.TradeDocument, o conversion.Overrides) (*conversion.Result, error) {
	res, err := s.coordinator.Convert(ctx, doc, o)
	if err != nil {
		s.notifier.Notify(ctx, notify.Failed(ctx, OpConvert, doc.Type, doc.ID, err))
		return nil, err
	}
	s.notifier.Notify(ctx, notify.Succeeded(ctx, OpConvert, res.Derived,
		fmt.Sprintf("%s %s created from %s %s", res.Derived.Type.Label(), res.Derived.DocumentNumber, res.Source.Type.Label(), res.Source.DocumentNumber)))
	return res, nil
}

// ResumeConversion finishes a partial conversion of doc.
func (s *DocumentService) ResumeConversion(ctx context.Context, doc models.TradeDocument) (*conversion.Result, error) {
	res, err := s.coordinator.Resume(ctx, doc)
	if err != nil {
		s.notifier.Notify(ctx, notify.Failed(ctx, OpResume, doc.Type, doc.ID, err))
		return nil, err
	}
	s.notifier.Notify(ctx, notify.Succeeded(ctx, OpResume, res.Source,
		fmt.Sprintf("%s %s linked to %s %s", res.Source.Type.Label(), res.Source.DocumentNumber, res.Derived.Type.Label(), res.Derived.DocumentNumber)))
	return res, nil
}

// Retry refetches a query the user gave up waiting on.
func (s *DocumentService) Retry(ctx context.Context, key querycache.Key) error {
	return s.cache.Refetch(ctx, key)
}

// State exposes the loading and retry state of a query for display.
func (s *DocumentService) State(key querycache.Key) querycache.State {
	return s.cache.State(key)
}

func (s *DocumentService) update(ctx context.Context, op string, doc models.TradeDocument, patch models.DocumentPatch, verb string) (models.TradeDocument, error) {
	out, err := querycache.Write(ctx, s.cache, func(ctx context.Context) (models.TradeDocument, error) {
		return s.api.Update(ctx, doc.Type, doc.ID, patch)
	}, querycache.DocumentsKey(doc.Type), querycache.DocumentKey(doc.Type, doc.ID))
	if err != nil {
		s.notifier.Notify(ctx, notify.Failed(ctx, op, doc.Type, doc.ID, err))
		return models.TradeDocument{}, err
	}
	s.notifier.Notify(ctx, notify.Succeeded(ctx, op, out, fmt.Sprintf("%s %s %s", out.Type.Label(), out.DocumentNumber, verb)))
	return out, nil
}

func (s *DocumentService) reject(ctx context.Context, op string, doc models.TradeDocument, err error) (models.TradeDocument, error) {
	s.logger.WithFields(logrus.Fields{
		"module":          "workflow",
		"operation":       op,
		"document_number": doc.DocumentNumber,
	}).Info("rejected: " + err.Error())
	s.notifier.Notify(ctx, notify.Failed(ctx, op, doc.Type, doc.ID, err))
	return models.TradeDocument{}, err
}
