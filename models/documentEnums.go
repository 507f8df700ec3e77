package models

import (
	"encoding/json"
	"errors"
	"strings"
)

type DocumentType string

const (
	DocumentTypePurchaseOrder    DocumentType = "PurchaseOrder"
	DocumentTypeGoodsReceiptNote DocumentType = "GoodsReceiptNote"
	DocumentTypeSalesOrder       DocumentType = "SalesOrder"
	DocumentTypeSalesChallan     DocumentType = "SalesChallan"
	DocumentTypeJobOrder         DocumentType = "JobOrder"
)

type documentTypeInfo struct {
	collection string
	label      string
	prefix     string
	statuses   []DocumentStatus
	// only purchase and sales orders carry the converted flag
	convertible bool
}

var documentTypes = map[DocumentType]documentTypeInfo{
	DocumentTypePurchaseOrder: {
		collection:  "purchaseOrders",
		label:       "Purchase Order",
		prefix:      "PO",
		statuses:    []DocumentStatus{StatusOrderPlaced, StatusOrderReceived, StatusOrderCancelled},
		convertible: true,
	},
	DocumentTypeGoodsReceiptNote: {
		collection: "goodsReceiptNotes",
		label:      "Goods Receipt Note",
		prefix:     "GRN",
		statuses:   []DocumentStatus{StatusReceived},
	},
	DocumentTypeSalesOrder: {
		collection:  "salesOrders",
		label:       "Sales Order",
		prefix:      "SO",
		statuses:    []DocumentStatus{StatusNew, StatusDelivered, StatusCancelled},
		convertible: true,
	},
	DocumentTypeSalesChallan: {
		collection: "salesChallans",
		label:      "Sales Challan",
		prefix:     "SC",
		statuses:   []DocumentStatus{StatusNew, StatusDelivered, StatusCancelled},
	},
	DocumentTypeJobOrder: {
		collection: "jobOrders",
		label:      "Job Order",
		prefix:     "JO",
		statuses:   []DocumentStatus{StatusNew, StatusCompleted, StatusCancelled},
	},
}

func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentTypePurchaseOrder,
		DocumentTypeGoodsReceiptNote,
		DocumentTypeSalesOrder,
		DocumentTypeSalesChallan,
		DocumentTypeJobOrder,
	}
}

func (t DocumentType) IsValid() bool {
	_, ok := documentTypes[t]
	return ok
}

// Collection is the resource name used in API paths and cache keys.
func (t DocumentType) Collection() string {
	return documentTypes[t].collection
}

// Label is the human-readable type name, e.g. "Purchase Order".
func (t DocumentType) Label() string {
	if info, ok := documentTypes[t]; ok {
		return info.label
	}
	return string(t)
}

func (t DocumentType) NumberPrefix() string {
	return documentTypes[t].prefix
}

func (t DocumentType) HasConversionFlag() bool {
	return documentTypes[t].convertible
}

func (t DocumentType) Statuses() []DocumentStatus {
	return append([]DocumentStatus(nil), documentTypes[t].statuses...)
}

// InitialStatus is the status a freshly created document of this type starts in.
func (t DocumentType) InitialStatus() DocumentStatus {
	statuses := documentTypes[t].statuses
	if len(statuses) == 0 {
		return ""
	}
	return statuses[0]
}

func (t DocumentType) ValidStatus(s DocumentStatus) bool {
	for _, v := range documentTypes[t].statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseDocumentType accepts a type name ("PurchaseOrder") or a collection ("purchaseOrders").
func ParseDocumentType(s string) (DocumentType, error) {
	s = strings.TrimSpace(s)
	if t := DocumentType(s); t.IsValid() {
		return t, nil
	}
	for t, info := range documentTypes {
		if strings.EqualFold(info.collection, s) || strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", errors.New("invalid document type")
}

func (t *DocumentType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("document type must be string")
	}
	if str == "" {
		*t = ""
		return nil
	}
	parsed, err := ParseDocumentType(str)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type DocumentStatus string

const (
	StatusOrderPlaced    DocumentStatus = "Order Placed"
	StatusOrderReceived  DocumentStatus = "Order Received"
	StatusOrderCancelled DocumentStatus = "Order Cancelled"
	StatusNew            DocumentStatus = "New"
	StatusDelivered      DocumentStatus = "Delivered"
	StatusCancelled      DocumentStatus = "Cancelled"
	StatusReceived       DocumentStatus = "Received"
	StatusCompleted      DocumentStatus = "Completed"
)

type Action string

const (
	ActionEdit             Action = "edit"
	ActionDelete           Action = "delete"
	ActionConvertToGRN     Action = "convert_to_grn"
	ActionConvertToChallan Action = "convert_to_challan"
	ActionMarkReceived     Action = "mark_received"
	ActionMarkCancelled    Action = "mark_cancelled"
	ActionChangeStatus     Action = "change_status"
)

func (a Action) IsConversion() bool {
	return a == ActionConvertToGRN || a == ActionConvertToChallan
}
