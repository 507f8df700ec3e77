package lifecycle

import "github.com/mmdatafocus/tradedocs/models"

// Delivered is terminal: dispatch cannot be undone.
var salesChallanPolicy = policy{
	actions: map[State][]models.Action{
		{Status: models.StatusNew}: {
			models.ActionEdit,
			models.ActionChangeStatus,
			models.ActionDelete,
		},
		{Status: models.StatusDelivered}: {},
		{Status: models.StatusCancelled}: {
			models.ActionDelete,
		},
	},
	transitions: map[models.DocumentStatus][]models.DocumentStatus{
		models.StatusNew: {models.StatusDelivered, models.StatusCancelled},
	},
}
