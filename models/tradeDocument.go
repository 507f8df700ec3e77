package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	CategoryId     int64           `json:"category_id" validate:"required,gt=0"`
	ProductId      int64           `json:"product_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity" validate:"gte=0"`
	Weight         decimal.Decimal `json:"weight" validate:"gte=0"`
	EstimatedValue decimal.Decimal `json:"estimated_value" validate:"gte=0"`
	Remarks        string          `json:"remarks" validate:"max=255"`
}

// TradeDocument is the server-authoritative shape shared by all document types.
// Values handed out by the cache are treated as immutable; use Clone before changing one.
type TradeDocument struct {
	ID             int64          `json:"id"`
	Type           DocumentType   `json:"type"`
	DocumentNumber string         `json:"document_number"`
	Status         DocumentStatus `json:"status"`
	// meaningful only when Type.HasConversionFlag()
	Converted bool `json:"converted"`
	// id the source was linked with on conversion (link idempotency key)
	DerivedDocumentId int64      `json:"derived_document_id,omitempty"`
	CounterpartyId    int64      `json:"counterparty_id"`
	DocumentDate      time.Time  `json:"document_date"`
	Notes             string     `json:"notes"`
	LineItems         []LineItem `json:"line_items,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CreatedBy         string     `json:"created_by"`
	UpdatedAt         time.Time  `json:"updated_at"`
	UpdatedBy         string     `json:"updated_by"`
}

// DocumentDraft is a client-side document not yet submitted.
type DocumentDraft struct {
	Type DocumentType `json:"type" validate:"required"`
	// empty means the type's initial status
	Status         DocumentStatus `json:"status,omitempty"`
	CounterpartyId int64          `json:"counterparty_id" validate:"required,gt=0"`
	DocumentDate   time.Time      `json:"document_date" validate:"required"`
	Notes          string         `json:"notes" validate:"max=1000"`
	LineItems      []LineItem     `json:"line_items" validate:"required,min=1,dive"`
}

// DocumentPatch carries an edit or a status/link command; nil fields are left unchanged.
type DocumentPatch struct {
	Status            *DocumentStatus `json:"status,omitempty"`
	Converted         *bool           `json:"converted,omitempty"`
	DerivedDocumentId *int64          `json:"derived_document_id,omitempty"`
	CounterpartyId    *int64          `json:"counterparty_id,omitempty" validate:"omitempty,gt=0"`
	DocumentDate      *time.Time      `json:"document_date,omitempty"`
	Notes             *string         `json:"notes,omitempty" validate:"omitempty,max=1000"`
	LineItems         []LineItem      `json:"line_items,omitempty" validate:"omitempty,min=1,dive"`
}

// IsEdit reports whether the patch changes document content (not just status or link).
func (p DocumentPatch) IsEdit() bool {
	return p.CounterpartyId != nil || p.DocumentDate != nil || p.Notes != nil || p.LineItems != nil
}

// IsLink reports whether the patch marks the document converted.
func (p DocumentPatch) IsLink() bool {
	return p.Converted != nil && *p.Converted
}

// Frozen documents accept no further change of any kind.
func (d TradeDocument) Frozen() bool {
	return d.Type.HasConversionFlag() && d.Converted
}

func (d TradeDocument) HasLineItems() bool {
	return len(d.LineItems) > 0
}

func (d TradeDocument) Totals() Totals {
	return ComputeTotals(d.LineItems)
}

func (d TradeDocument) Clone() TradeDocument {
	c := d
	if d.LineItems != nil {
		c.LineItems = append([]LineItem(nil), d.LineItems...)
	}
	return c
}

func (d DocumentDraft) Totals() Totals {
	return ComputeTotals(d.LineItems)
}

type Totals struct {
	ItemCount   int             `json:"item_count"`
	TotalWeight decimal.Decimal `json:"total_weight"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// ComputeTotals folds line items; there is no other source of totals.
func ComputeTotals(items []LineItem) Totals {
	t := Totals{
		ItemCount:   len(items),
		TotalWeight: decimal.Zero,
		TotalValue:  decimal.Zero,
	}
	for _, item := range items {
		t.TotalWeight = t.TotalWeight.Add(item.Weight)
		t.TotalValue = t.TotalValue.Add(item.EstimatedValue)
	}
	return t
}
