package lifecycle

import (
	"testing"

	"github.com/mmdatafocus/tradedocs/models"
)

func TestAllowedActions_Table(t *testing.T) {
	type row struct {
		typ       models.DocumentType
		status    models.DocumentStatus
		converted bool
		want      []models.Action
	}
	rows := []row{
		{models.DocumentTypePurchaseOrder, models.StatusOrderPlaced, false, []models.Action{
			models.ActionEdit, models.ActionDelete, models.ActionConvertToGRN, models.ActionMarkReceived, models.ActionMarkCancelled,
		}},
		{models.DocumentTypePurchaseOrder, models.StatusOrderReceived, false, []models.Action{
			models.ActionEdit, models.ActionDelete, models.ActionConvertToGRN, models.ActionMarkCancelled,
		}},
		{models.DocumentTypePurchaseOrder, models.StatusOrderReceived, true, nil},
		{models.DocumentTypePurchaseOrder, models.StatusOrderCancelled, false, []models.Action{models.ActionDelete}},
		{models.DocumentTypePurchaseOrder, models.StatusOrderCancelled, true, []models.Action{models.ActionDelete}},

		{models.DocumentTypeSalesOrder, models.StatusNew, false, []models.Action{
			models.ActionEdit, models.ActionChangeStatus, models.ActionConvertToChallan, models.ActionDelete,
		}},
		{models.DocumentTypeSalesOrder, models.StatusDelivered, false, []models.Action{
			models.ActionEdit, models.ActionChangeStatus, models.ActionConvertToChallan, models.ActionDelete,
		}},
		{models.DocumentTypeSalesOrder, models.StatusCancelled, false, []models.Action{models.ActionDelete}},
		{models.DocumentTypeSalesOrder, models.StatusNew, true, nil},
		{models.DocumentTypeSalesOrder, models.StatusDelivered, true, nil},
		{models.DocumentTypeSalesOrder, models.StatusCancelled, true, nil},

		{models.DocumentTypeSalesChallan, models.StatusNew, false, []models.Action{
			models.ActionEdit, models.ActionChangeStatus, models.ActionDelete,
		}},
		{models.DocumentTypeSalesChallan, models.StatusDelivered, false, nil},
		{models.DocumentTypeSalesChallan, models.StatusCancelled, false, []models.Action{models.ActionDelete}},
	}

	for _, r := range rows {
		got := AllowedActions(r.typ, r.status, r.converted)
		want := NewSet(r.want...)
		if !got.Equal(want) {
			t.Fatalf("%s/%s/converted=%v: got %v, want %v", r.typ, r.status, r.converted, got.Slice(), want.Slice())
		}
	}
}

func TestAllowedActions_ConvertedIsFrozen(t *testing.T) {
	for _, typ := range []models.DocumentType{models.DocumentTypePurchaseOrder, models.DocumentTypeSalesOrder} {
		for _, status := range typ.Statuses() {
			if typ == models.DocumentTypePurchaseOrder && status == models.StatusOrderCancelled {
				// a cancelled PO may still be deleted
				continue
			}
			if got := AllowedActions(typ, status, true); got.Len() != 0 {
				t.Fatalf("%s/%s converted: expected no actions, got %v", typ, status, got.Slice())
			}
		}
	}
}

func TestAllowedActions_ConvertedIgnoredWithoutFlag(t *testing.T) {
	got := AllowedActions(models.DocumentTypeSalesChallan, models.StatusNew, true)
	want := AllowedActions(models.DocumentTypeSalesChallan, models.StatusNew, false)
	if !got.Equal(want) {
		t.Fatalf("challan has no conversion flag; got %v want %v", got.Slice(), want.Slice())
	}
}

func TestAllowedActions_UnmappedIsEmpty(t *testing.T) {
	cases := []struct {
		typ    models.DocumentType
		status models.DocumentStatus
	}{
		{models.DocumentTypePurchaseOrder, "Draft"},
		{models.DocumentTypeGoodsReceiptNote, models.StatusReceived},
		{models.DocumentTypeJobOrder, models.StatusNew},
		{"Invoice", models.StatusNew},
	}
	for _, c := range cases {
		if got := AllowedActions(c.typ, c.status, false); got.Len() != 0 {
			t.Fatalf("%s/%s: expected empty set, got %v", c.typ, c.status, got.Slice())
		}
	}
}

func TestAllowedActions_Idempotent(t *testing.T) {
	for _, typ := range models.AllDocumentTypes() {
		for _, status := range typ.Statuses() {
			for _, converted := range []bool{false, true} {
				a := AllowedActions(typ, status, converted)
				b := AllowedActions(typ, status, converted)
				if !a.Equal(b) {
					t.Fatalf("%s/%s/%v not stable", typ, status, converted)
				}
			}
		}
	}

	// callers mutating a result must not affect the table
	first := AllowedActions(models.DocumentTypePurchaseOrder, models.StatusOrderPlaced, false)
	delete(first, models.ActionDelete)
	if !AllowedActions(models.DocumentTypePurchaseOrder, models.StatusOrderPlaced, false).Has(models.ActionDelete) {
		t.Fatalf("table was mutated through a returned set")
	}
}

func TestReachableStatuses(t *testing.T) {
	cases := []struct {
		typ  models.DocumentType
		from models.DocumentStatus
		want []models.DocumentStatus
	}{
		{models.DocumentTypePurchaseOrder, models.StatusOrderPlaced, []models.DocumentStatus{models.StatusOrderReceived, models.StatusOrderCancelled}},
		{models.DocumentTypePurchaseOrder, models.StatusOrderReceived, []models.DocumentStatus{models.StatusOrderCancelled}},
		{models.DocumentTypePurchaseOrder, models.StatusOrderCancelled, nil},
		{models.DocumentTypeSalesOrder, models.StatusNew, []models.DocumentStatus{models.StatusDelivered, models.StatusCancelled}},
		{models.DocumentTypeSalesOrder, models.StatusDelivered, []models.DocumentStatus{models.StatusCancelled}},
		{models.DocumentTypeSalesChallan, models.StatusNew, []models.DocumentStatus{models.StatusDelivered, models.StatusCancelled}},
		{models.DocumentTypeSalesChallan, models.StatusDelivered, nil},
		{models.DocumentTypeJobOrder, models.StatusNew, nil},
	}
	for _, c := range cases {
		got := ReachableStatuses(c.typ, c.from)
		if !got.Equal(NewSet(c.want...)) {
			t.Fatalf("%s from %s: got %v, want %v", c.typ, c.from, got.Slice(), c.want)
		}
	}
}

func TestActionForTransition(t *testing.T) {
	a, ok := ActionForTransition(models.DocumentTypePurchaseOrder, models.StatusOrderPlaced, models.StatusOrderReceived)
	if !ok || a != models.ActionMarkReceived {
		t.Fatalf("PO placed→received = %q %v", a, ok)
	}
	a, ok = ActionForTransition(models.DocumentTypeSalesOrder, models.StatusNew, models.StatusDelivered)
	if !ok || a != models.ActionChangeStatus {
		t.Fatalf("SO new→delivered = %q %v", a, ok)
	}
	if _, ok := ActionForTransition(models.DocumentTypeSalesChallan, models.StatusDelivered, models.StatusNew); ok {
		t.Fatalf("delivered challan cannot move")
	}
}

func TestStatusForAction(t *testing.T) {
	if s, ok := StatusForAction(models.DocumentTypePurchaseOrder, models.ActionMarkCancelled); !ok || s != models.StatusOrderCancelled {
		t.Fatalf("mark_cancelled = %q %v", s, ok)
	}
	if _, ok := StatusForAction(models.DocumentTypeSalesOrder, models.ActionMarkReceived); ok {
		t.Fatalf("sales orders have no mark_received")
	}
}

func TestCheck(t *testing.T) {
	received := models.TradeDocument{Type: models.DocumentTypePurchaseOrder, Status: models.StatusOrderReceived, Converted: true}
	err := Check(received, models.ActionDelete)
	if !models.IsNotAllowed(err) {
		t.Fatalf("delete on converted PO: expected NotAllowed, got %v", err)
	}

	soNew := models.TradeDocument{Type: models.DocumentTypeSalesOrder, Status: models.StatusNew}
	if err := CheckTransition(soNew, models.StatusDelivered); err != nil {
		t.Fatalf("SO new→delivered rejected: %v", err)
	}
	soNew.Converted = true
	if err := CheckTransition(soNew, models.StatusDelivered); !models.IsNotAllowed(err) {
		t.Fatalf("converted SO status change must be rejected, got %v", err)
	}
}

func TestConversion(t *testing.T) {
	rule, ok := Conversion(models.DocumentTypePurchaseOrder)
	if !ok || rule.Target != models.DocumentTypeGoodsReceiptNote || rule.FulfilledStatus != models.StatusOrderReceived || rule.Action != models.ActionConvertToGRN {
		t.Fatalf("PO rule = %+v %v", rule, ok)
	}
	rule, ok = Conversion(models.DocumentTypeSalesOrder)
	if !ok || rule.Target != models.DocumentTypeSalesChallan || rule.FulfilledStatus != models.StatusDelivered {
		t.Fatalf("SO rule = %+v %v", rule, ok)
	}
	if _, ok := Conversion(models.DocumentTypeSalesChallan); ok {
		t.Fatalf("challans do not convert")
	}
}
