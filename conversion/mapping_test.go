package conversion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/tradedocs/lifecycle"
	"github.com/mmdatafocus/tradedocs/models"
)

func TestMapLineItems_PreservesFields(t *testing.T) {
	po := models.TradeDocument{
		Type:           models.DocumentTypePurchaseOrder,
		DocumentNumber: "PO-000004",
		LineItems:      draftOf(models.DocumentTypePurchaseOrder, 4).LineItems,
	}
	po.LineItems[2].Remarks = "  fragile  "

	items := MapLineItems(po)
	if len(items) != 4 {
		t.Fatalf("len = %d", len(items))
	}
	for i, item := range items {
		src := po.LineItems[i]
		if item.CategoryId != src.CategoryId || item.ProductId != src.ProductId || !item.Quantity.Equal(src.Quantity) {
			t.Fatalf("item %d = %+v", i, item)
		}
	}
	if items[0].Remarks != "From Purchase Order: PO-000004" {
		t.Fatalf("blank remarks = %q", items[0].Remarks)
	}
	if items[2].Remarks != "fragile" {
		t.Fatalf("explicit remarks = %q", items[2].Remarks)
	}
}

func TestBuildDraft_DefaultsAndOverrides(t *testing.T) {
	rule, _ := lifecycle.Conversion(models.DocumentTypeSalesOrder)
	so := models.TradeDocument{
		Type:           models.DocumentTypeSalesOrder,
		DocumentNumber: "SO-000002",
		CounterpartyId: 9,
		LineItems:      draftOf(models.DocumentTypeSalesOrder, 1).LineItems,
	}
	now := time.Date(2024, 7, 3, 15, 4, 5, 0, time.UTC)

	d, err := BuildDraft(so, rule, Overrides{}, now)
	if err != nil {
		t.Fatalf("BuildDraft: %v", err)
	}
	if d.Type != models.DocumentTypeSalesChallan || d.Status != models.StatusNew || d.CounterpartyId != 9 {
		t.Fatalf("draft = %+v", d)
	}
	if !d.DocumentDate.Equal(time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %v", d.DocumentDate)
	}
	if d.Notes != "From Sales Order: SO-000002" {
		t.Fatalf("notes = %q", d.Notes)
	}

	date := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	d, _ = BuildDraft(so, rule, Overrides{CounterpartyId: 4, DocumentDate: date, Notes: "truck 2"}, now)
	if d.CounterpartyId != 4 || !d.DocumentDate.Equal(date) || d.Notes != "truck 2" {
		t.Fatalf("overrides not applied: %+v", d)
	}

	so.LineItems = nil
	if _, err := BuildDraft(so, rule, Overrides{}, now); !errors.Is(err, ErrNoItems) {
		t.Fatalf("want ErrNoItems, got %v", err)
	}
}

func TestReferencesSource(t *testing.T) {
	src := models.TradeDocument{Type: models.DocumentTypeSalesOrder, DocumentNumber: "SO-000001"}
	byNotes := models.TradeDocument{Notes: "From Sales Order: SO-000001"}
	byRemarks := models.TradeDocument{LineItems: []models.LineItem{{Remarks: "From Sales Order: SO-000001"}}}
	other := models.TradeDocument{LineItems: []models.LineItem{{Remarks: "From Sales Order: SO-0000011"}}}

	if !ReferencesSource(byNotes, src) || !ReferencesSource(byRemarks, src) {
		t.Fatalf("back-reference not detected")
	}
	if ReferencesSource(other, src) {
		t.Fatalf("a longer document number must not match")
	}

	notes := []struct {
		notes string
		want  bool
	}{
		{"From Sales Order: SO-0000010", false},
		{"From Sales Order: SO-0000010, From Sales Order: SO-000001", true},
		{"From Sales Order: SO-000001 (partial)", true},
		{"From Sales Order: SO-000001A", false},
	}
	for _, tc := range notes {
		if got := ReferencesSource(models.TradeDocument{Notes: tc.notes}, src); got != tc.want {
			t.Fatalf("notes %q: got %v, want %v", tc.notes, got, tc.want)
		}
	}
}

func TestMemoryJournal_BeginResolvesExisting(t *testing.T) {
	j := NewMemoryJournal()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }
	ctx := context.Background()
	base := Saga{BusinessId: "b1", SourceType: models.DocumentTypePurchaseOrder, SourceId: 5, SourceNumber: "PO-000005", IdempotencyKey: "k1"}

	if _, err := j.Begin(ctx, base); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := j.Begin(ctx, base); !errors.Is(err, ErrConversionInProgress) {
		t.Fatalf("recent STARTED: want in progress, got %v", err)
	}

	now = now.Add(10 * time.Minute)
	restarted, err := j.Begin(ctx, Saga{BusinessId: "b1", SourceType: models.DocumentTypePurchaseOrder, SourceId: 5, IdempotencyKey: "k2"})
	if err != nil {
		t.Fatalf("abandoned STARTED: %v", err)
	}
	if restarted.IdempotencyKey != "k1" {
		t.Fatalf("restart must keep the original key, got %q", restarted.IdempotencyKey)
	}

	if err := j.MarkFailed(ctx, base, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := j.Begin(ctx, base); err != nil {
		t.Fatalf("FAILED must restart: %v", err)
	}

	base.DerivedId = 9
	base.DerivedNumber = "GRN-000009"
	_ = j.MarkDerivedCreated(ctx, base)
	if _, err := j.Begin(ctx, base); !IsPartialConversion(err) {
		t.Fatalf("DERIVED_CREATED: want partial, got %v", err)
	}

	_ = j.MarkLinked(ctx, base)
	if _, err := j.Begin(ctx, base); !models.IsNotAllowed(err) {
		t.Fatalf("LINKED: want NotAllowed, got %v", err)
	}
	if got, _ := j.Load(ctx, "b1", models.DocumentTypePurchaseOrder, 5); got.DerivedNumber != "GRN-000009" {
		t.Fatalf("loaded = %+v", got)
	}
	if got, _ := j.Load(ctx, "b2", models.DocumentTypePurchaseOrder, 5); got != nil {
		t.Fatalf("journal must be scoped per business")
	}
}
