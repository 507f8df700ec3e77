package lifecycle

import "github.com/mmdatafocus/tradedocs/models"

// A converted sales order is frozen in every status, so no converted rows are listed.
var salesOrderPolicy = policy{
	actions: map[State][]models.Action{
		{Status: models.StatusNew}: {
			models.ActionEdit,
			models.ActionChangeStatus,
			models.ActionConvertToChallan,
			models.ActionDelete,
		},
		{Status: models.StatusDelivered}: {
			models.ActionEdit,
			models.ActionChangeStatus,
			models.ActionConvertToChallan,
			models.ActionDelete,
		},
		{Status: models.StatusCancelled}: {
			models.ActionDelete,
		},
	},
	transitions: map[models.DocumentStatus][]models.DocumentStatus{
		models.StatusNew:       {models.StatusDelivered, models.StatusCancelled},
		models.StatusDelivered: {models.StatusCancelled},
	},
	conversion: &ConversionRule{
		Action:          models.ActionConvertToChallan,
		Target:          models.DocumentTypeSalesChallan,
		FulfilledStatus: models.StatusDelivered,
	},
}
