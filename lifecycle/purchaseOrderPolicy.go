package lifecycle

import "github.com/mmdatafocus/tradedocs/models"

// mark_received and convert_to_grn are independent: a PO may be received without a GRN.
var purchaseOrderPolicy = policy{
	actions: map[State][]models.Action{
		{Status: models.StatusOrderPlaced, Converted: false}: {
			models.ActionEdit,
			models.ActionDelete,
			models.ActionConvertToGRN,
			models.ActionMarkReceived,
			models.ActionMarkCancelled,
		},
		{Status: models.StatusOrderReceived, Converted: false}: {
			models.ActionEdit,
			models.ActionDelete,
			models.ActionConvertToGRN,
			models.ActionMarkCancelled,
		},
		{Status: models.StatusOrderReceived, Converted: true}: {},
		{Status: models.StatusOrderCancelled, Converted: false}: {
			models.ActionDelete,
		},
		{Status: models.StatusOrderCancelled, Converted: true}: {
			models.ActionDelete,
		},
	},
	transitions: map[models.DocumentStatus][]models.DocumentStatus{
		models.StatusOrderPlaced:   {models.StatusOrderReceived, models.StatusOrderCancelled},
		models.StatusOrderReceived: {models.StatusOrderCancelled},
	},
	transitionActions: map[models.DocumentStatus]models.Action{
		models.StatusOrderReceived:  models.ActionMarkReceived,
		models.StatusOrderCancelled: models.ActionMarkCancelled,
	},
	conversion: &ConversionRule{
		Action:          models.ActionConvertToGRN,
		Target:          models.DocumentTypeGoodsReceiptNote,
		FulfilledStatus: models.StatusOrderReceived,
	},
}
