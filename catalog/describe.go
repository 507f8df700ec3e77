package catalog

import (
	"context"

	"github.com/mmdatafocus/tradedocs/lifecycle"
	"github.com/mmdatafocus/tradedocs/models"
)

type ItemView struct {
	models.LineItem
	ProductName  string `json:"product_name"`
	CategoryName string `json:"category_name"`
}

// DocumentView is a document ready for display: names resolved and totals recomputed from its items.
type DocumentView struct {
	Document         models.TradeDocument `json:"document"`
	CounterpartyName string               `json:"counterparty_name"`
	Items            []ItemView           `json:"items"`
	Totals           models.Totals        `json:"totals"`
	AllowedActions   []models.Action      `json:"allowed_actions"`
}

// Describe resolves the names a document refers to. All lookups of one kind go out as one batch.
func (l *Loaders) Describe(ctx context.Context, doc models.TradeDocument) (DocumentView, error) {
	productIds := make([]int64, 0, len(doc.LineItems))
	categoryIds := make([]int64, 0, len(doc.LineItems))
	for _, item := range doc.LineItems {
		productIds = append(productIds, item.ProductId)
		categoryIds = append(categoryIds, item.CategoryId)
	}

	counterpartyThunk := l.counterpartyLoader.Load(ctx, doc.CounterpartyId)
	productThunk := l.productLoader.LoadMany(ctx, productIds)
	categoryThunk := l.categoryLoader.LoadMany(ctx, categoryIds)

	counterparty, err := counterpartyThunk()
	if err != nil {
		return DocumentView{}, err
	}
	products, errs := productThunk()
	if err := firstError(errs); err != nil {
		return DocumentView{}, err
	}
	categories, errs := categoryThunk()
	if err := firstError(errs); err != nil {
		return DocumentView{}, err
	}

	view := DocumentView{
		Document:         doc,
		CounterpartyName: counterparty,
		Items:            make([]ItemView, 0, len(doc.LineItems)),
		Totals:           doc.Totals(),
		AllowedActions:   lifecycle.AllowedActionsFor(doc).Slice(),
	}
	for i, item := range doc.LineItems {
		view.Items = append(view.Items, ItemView{
			LineItem:     item,
			ProductName:  products[i],
			CategoryName: categories[i],
		})
	}
	return view, nil
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
