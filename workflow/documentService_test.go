package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/tradedocs/authority"
	"github.com/mmdatafocus/tradedocs/conversion"
	"github.com/mmdatafocus/tradedocs/models"
	"github.com/mmdatafocus/tradedocs/notify"
	"github.com/mmdatafocus/tradedocs/querycache"
	"github.com/shopspring/decimal"
)

func noSleep(context.Context, time.Duration) error { return nil }

type fixture struct {
	store    *authority.Store
	cache    *querycache.Cache
	recorder *notify.Recorder
	svc      *DocumentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := authority.NewStore()
	cache := querycache.New(querycache.WithSleeper(noSleep))
	t.Cleanup(func() { _ = cache.Close(context.Background()) })
	coord := conversion.NewCoordinator(store, cache,
		conversion.WithSleeper(noSleep),
		conversion.WithDerivedDetection(false),
		conversion.WithCombined(nil),
	)
	recorder := &notify.Recorder{}
	return &fixture{
		store:    store,
		cache:    cache,
		recorder: recorder,
		svc:      NewDocumentService(store, cache, coord, recorder),
	}
}

func purchaseDraft(items int) models.DocumentDraft {
	d := models.DocumentDraft{
		Type:           models.DocumentTypePurchaseOrder,
		CounterpartyId: 3,
		DocumentDate:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	for i := 0; i < items; i++ {
		d.LineItems = append(d.LineItems, models.LineItem{
			CategoryId: 1, ProductId: int64(10 + i), Quantity: decimal.NewFromInt(1), Weight: decimal.NewFromInt(2), EstimatedValue: decimal.NewFromInt(50),
		})
	}
	return d
}

func (f *fixture) totalCalls() int {
	n := 0
	for _, op := range []authority.Operation{
		authority.OpList, authority.OpGet, authority.OpCreate, authority.OpUpdate,
		authority.OpLink, authority.OpDelete, authority.OpCreateAndLink,
	} {
		n += f.store.Calls(op)
	}
	return n
}

func TestDocumentService_DeleteConvertedIsRejectedLocally(t *testing.T) {
	f := newFixture(t)
	po := models.TradeDocument{
		ID: 9, Type: models.DocumentTypePurchaseOrder, DocumentNumber: "PO-000009",
		Status: models.StatusOrderReceived, Converted: true,
	}

	err := f.svc.Delete(context.Background(), po)
	if !models.IsNotAllowed(err) {
		t.Fatalf("want NotAllowed, got %v", err)
	}
	if n := f.totalCalls(); n != 0 {
		t.Fatalf("authority calls = %d, want 0", n)
	}
	last, ok := f.recorder.Last()
	if !ok || last.Kind != notify.KindFailure || last.Operation != OpDelete {
		t.Fatalf("notification = %+v", last)
	}
}

func TestDocumentService_CreateListAndEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	po, err := f.svc.Create(ctx, purchaseDraft(2))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if po.DocumentNumber != "PO-000001" || po.Status != models.StatusOrderPlaced {
		t.Fatalf("created = %+v", po)
	}

	list, err := f.svc.List(ctx, models.DocumentTypePurchaseOrder)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
	if _, err := f.svc.List(ctx, models.DocumentTypePurchaseOrder); err != nil {
		t.Fatalf("List again: %v", err)
	}
	if f.store.Calls(authority.OpList) != 1 {
		t.Fatalf("fresh list must be served from cache, list calls = %d", f.store.Calls(authority.OpList))
	}

	notes := "deliver to warehouse B"
	edited, err := f.svc.Edit(ctx, po, models.DocumentPatch{Notes: &notes})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Notes != notes {
		t.Fatalf("notes = %q", edited.Notes)
	}
	if !f.cache.State(querycache.DocumentsKey(models.DocumentTypePurchaseOrder)).Stale {
		t.Fatalf("edit must invalidate the collection")
	}

	events := f.recorder.Events()
	if len(events) != 2 || events[0].Message != "Purchase Order PO-000001 created" || events[1].Kind != notify.KindSuccess {
		t.Fatalf("events = %+v", events)
	}
}

func TestDocumentService_EditRejectsStatusInPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, _ := f.svc.Create(ctx, purchaseDraft(1))
	before := f.totalCalls()

	cancelled := models.StatusOrderCancelled
	if _, err := f.svc.Edit(ctx, po, models.DocumentPatch{Status: &cancelled}); !models.IsValidationError(err) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if f.totalCalls() != before {
		t.Fatalf("rejected edit reached the authority")
	}
}

func TestDocumentService_StatusCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, _ := f.svc.Create(ctx, purchaseDraft(1))

	received, err := f.svc.MarkReceived(ctx, po)
	if err != nil {
		t.Fatalf("MarkReceived: %v", err)
	}
	if received.Status != models.StatusOrderReceived || received.Converted {
		t.Fatalf("received = %+v", received)
	}
	if _, err := f.svc.MarkReceived(ctx, received); !models.IsNotAllowed(err) {
		t.Fatalf("second MarkReceived: want NotAllowed, got %v", err)
	}
	cancelled, err := f.svc.MarkCancelled(ctx, received)
	if err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	if cancelled.Status != models.StatusOrderCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if _, err := f.svc.Edit(ctx, cancelled, models.DocumentPatch{Notes: new(string)}); !models.IsNotAllowed(err) {
		t.Fatalf("edit of cancelled PO: want NotAllowed, got %v", err)
	}
	if err := f.svc.Delete(ctx, cancelled); err != nil {
		t.Fatalf("Delete cancelled: %v", err)
	}

	so, err := f.svc.Create(ctx, models.DocumentDraft{
		Type: models.DocumentTypeSalesOrder, CounterpartyId: 1, DocumentDate: time.Now(),
		LineItems: purchaseDraft(1).LineItems,
	})
	if err != nil {
		t.Fatalf("Create SO: %v", err)
	}
	if _, err := f.svc.MarkReceived(ctx, so); !models.IsNotAllowed(err) {
		t.Fatalf("mark_received on SO: want NotAllowed, got %v", err)
	}
	if _, err := f.svc.ChangeStatus(ctx, so, models.StatusNew); !models.IsNotAllowed(err) {
		t.Fatalf("New→New: want NotAllowed, got %v", err)
	}
	delivered, err := f.svc.ChangeStatus(ctx, so, models.StatusDelivered)
	if err != nil || delivered.Status != models.StatusDelivered {
		t.Fatalf("ChangeStatus = %+v, %v", delivered, err)
	}
}

func TestDocumentService_ConvertAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, _ := f.svc.Create(ctx, purchaseDraft(3))

	f.store.FailNext(authority.OpLink, errors.New("link rejected"), 1)
	if _, err := f.svc.Convert(ctx, po, conversion.Overrides{}); !conversion.IsPartialConversion(err) {
		t.Fatalf("want partial conversion, got %v", err)
	}
	if last, _ := f.recorder.Last(); last.Kind != notify.KindFailure || last.Operation != OpConvert {
		t.Fatalf("notification = %+v", last)
	}

	res, err := f.svc.ResumeConversion(ctx, po)
	if err != nil {
		t.Fatalf("ResumeConversion: %v", err)
	}
	if len(res.Derived.LineItems) != 3 || !res.Source.Converted {
		t.Fatalf("result = %+v", res)
	}
	if got := f.svc.AllowedActions(res.Source); len(got) != 0 {
		t.Fatalf("actions after conversion = %v", got)
	}

	fresh, err := f.svc.Get(ctx, po.Type, po.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !fresh.Converted {
		t.Fatalf("cached source not refreshed after link")
	}
}

func TestDocumentService_RetryRefetches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.FailNext(authority.OpList, errors.New("boom"), 1)

	if _, err := f.svc.List(ctx, models.DocumentTypeSalesOrder); err == nil {
		t.Fatalf("want list error")
	}
	key := querycache.DocumentsKey(models.DocumentTypeSalesOrder)
	if f.svc.State(key).Err == nil {
		t.Fatalf("error not recorded in state")
	}
	if err := f.svc.Retry(ctx, key); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if st := f.svc.State(key); st.Err != nil || !st.HasValue {
		t.Fatalf("state after retry = %+v", st)
	}
}
