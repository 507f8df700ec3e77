package conversion

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mmdatafocus/tradedocs/lifecycle"
	"github.com/mmdatafocus/tradedocs/models"
)

// Overrides are caller-supplied fields of the derived document. Zero values fall back to the source.
type Overrides struct {
	CounterpartyId int64
	DocumentDate   time.Time
	Notes          string
}

// BackReference is the annotation tying a derived document to its source, e.g. "From Purchase Order: PO-000001".
func BackReference(source models.TradeDocument) string {
	return fmt.Sprintf("From %s: %s", source.Type.Label(), source.DocumentNumber)
}

// MapLineItems copies the source items into derived items, filling blank remarks with the back-reference.
func MapLineItems(source models.TradeDocument) []models.LineItem {
	ref := BackReference(source)
	out := make([]models.LineItem, 0, len(source.LineItems))
	for _, item := range source.LineItems {
		remarks := strings.TrimSpace(item.Remarks)
		if remarks == "" {
			remarks = ref
		}
		out = append(out, models.LineItem{
			CategoryId:     item.CategoryId,
			ProductId:      item.ProductId,
			Quantity:       item.Quantity,
			Weight:         item.Weight,
			EstimatedValue: item.EstimatedValue,
			Remarks:        remarks,
		})
	}
	return out
}

// BuildDraft assembles the derived document for a conversion.
func BuildDraft(source models.TradeDocument, rule lifecycle.ConversionRule, o Overrides, now time.Time) (models.DocumentDraft, error) {
	items := MapLineItems(source)
	if len(items) == 0 {
		return models.DocumentDraft{}, ErrNoItems
	}
	draft := models.DocumentDraft{
		Type:           rule.Target,
		Status:         rule.Target.InitialStatus(),
		CounterpartyId: source.CounterpartyId,
		DocumentDate:   now.UTC().Truncate(24 * time.Hour),
		Notes:          BackReference(source),
		LineItems:      items,
	}
	if o.CounterpartyId > 0 {
		draft.CounterpartyId = o.CounterpartyId
	}
	if !o.DocumentDate.IsZero() {
		draft.DocumentDate = o.DocumentDate
	}
	if strings.TrimSpace(o.Notes) != "" {
		draft.Notes = o.Notes
	}
	return draft, nil
}

// ReferencesSource reports whether doc carries the back-reference of source in its notes or remarks.
func ReferencesSource(doc models.TradeDocument, source models.TradeDocument) bool {
	ref := BackReference(source)
	if containsRef(doc.Notes, ref) {
		return true
	}
	for _, item := range doc.LineItems {
		if strings.TrimSpace(item.Remarks) == ref {
			return true
		}
	}
	return false
}

// containsRef finds ref in s where it is not followed by more of a document number.
func containsRef(s, ref string) bool {
	for i := strings.Index(s, ref); i >= 0; {
		end := i + len(ref)
		if end == len(s) {
			return true
		}
		if r, _ := utf8.DecodeRuneInString(s[end:]); !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
		next := strings.Index(s[i+1:], ref)
		if next < 0 {
			return false
		}
		i += next + 1
	}
	return false
}
