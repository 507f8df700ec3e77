package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mmdatafocus/tradedocs/models"
	"github.com/mmdatafocus/tradedocs/utils"
	"github.com/sirupsen/logrus"
)

func TestSucceededAndFailed_StampContext(t *testing.T) {
	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	ctx = utils.SetCorrelationIdInContext(ctx, "corr-9")
	doc := models.TradeDocument{ID: 4, Type: models.DocumentTypePurchaseOrder, DocumentNumber: "PO-000004"}

	ok := Succeeded(ctx, "create", doc, "Purchase Order PO-000004 created")
	if ok.Kind != KindSuccess || ok.BusinessId != "biz-1" || ok.CorrelationId != "corr-9" || ok.DocumentNumber != "PO-000004" {
		t.Fatalf("success event = %+v", ok)
	}
	if ok.OccurredAt.IsZero() {
		t.Fatalf("OccurredAt not set")
	}

	bad := Failed(context.Background(), "delete", models.DocumentTypeSalesOrder, 3, errors.New("boom"))
	if bad.Kind != KindFailure || bad.Message != "boom" || bad.BusinessId != "default" {
		t.Fatalf("failure event = %+v", bad)
	}
}

func TestMulti_FansOutInOrder(t *testing.T) {
	var first, second Recorder
	m := Multi{&first, nil, &second}
	m.Notify(context.Background(), Event{Operation: "edit"})
	m.Notify(context.Background(), Event{Operation: "delete"})

	for _, r := range []*Recorder{&first, &second} {
		events := r.Events()
		if len(events) != 2 || events[0].Operation != "edit" || events[1].Operation != "delete" {
			t.Fatalf("events = %+v", events)
		}
	}
	if last, ok := second.Last(); !ok || last.Operation != "delete" {
		t.Fatalf("last = %+v", last)
	}
	second.Reset()
	if _, ok := second.Last(); ok {
		t.Fatalf("Reset did not clear events")
	}
}

func TestLogNotifier_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	LogNotifier{Logger: logger}.Notify(context.Background(), Event{
		Kind:           KindFailure,
		Operation:      "convert",
		DocumentType:   models.DocumentTypeSalesOrder,
		DocumentNumber: "SO-000001",
		Message:        "link failed",
	})

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["level"] != "warning" || entry["operation"] != "convert" || entry["document_number"] != "SO-000001" {
		t.Fatalf("entry = %v", entry)
	}
	if !strings.Contains(entry["msg"].(string), "link failed") {
		t.Fatalf("msg = %v", entry["msg"])
	}
}
