package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader/v7"
)

const (
	KindProducts       = "products"
	KindCategories     = "categories"
	KindCounterparties = "counterparties"
)

// Resolver maps catalog ids of one kind to display names. Unknown ids are left out of the map.
type Resolver interface {
	ResolveNames(ctx context.Context, kind string, ids []int64) (map[int64]string, error)
}

type ctxKey string

const loadersKey = ctxKey("catalog-loaders")

// Loaders batch name lookups issued while rendering one view.
type Loaders struct {
	productLoader      *dataloader.Loader[int64, string]
	categoryLoader     *dataloader.Loader[int64, string]
	counterpartyLoader *dataloader.Loader[int64, string]
}

type nameReader struct {
	resolver Resolver
	kind     string
}

func (r *nameReader) getNames(ctx context.Context, ids []int64) []*dataloader.Result[string] {
	names, err := r.resolver.ResolveNames(ctx, r.kind, ids)
	if err != nil {
		return handleError[string](len(ids), err)
	}
	results := make([]*dataloader.Result[string], 0, len(ids))
	for _, id := range ids {
		name, ok := names[id]
		if !ok || name == "" {
			name = fmt.Sprintf("#%d", id)
		}
		results = append(results, &dataloader.Result[string]{Data: name})
	}
	return results
}

// handleError repeats err for every requested key
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

func NewLoaders(resolver Resolver) *Loaders {
	productReader := &nameReader{resolver: resolver, kind: KindProducts}
	categoryReader := &nameReader{resolver: resolver, kind: KindCategories}
	counterpartyReader := &nameReader{resolver: resolver, kind: KindCounterparties}

	return &Loaders{
		productLoader:      dataloader.NewBatchedLoader(productReader.getNames, dataloader.WithWait[int64, string](time.Millisecond)),
		categoryLoader:     dataloader.NewBatchedLoader(categoryReader.getNames, dataloader.WithWait[int64, string](time.Millisecond)),
		counterpartyLoader: dataloader.NewBatchedLoader(counterpartyReader.getNames, dataloader.WithWait[int64, string](time.Millisecond)),
	}
}

func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, l)
}

// For returns the loaders stored in ctx, or nil.
func For(ctx context.Context) *Loaders {
	l, _ := ctx.Value(loadersKey).(*Loaders)
	return l
}

func (l *Loaders) ProductName(ctx context.Context, id int64) (string, error) {
	return l.productLoader.Load(ctx, id)()
}

func (l *Loaders) CategoryName(ctx context.Context, id int64) (string, error) {
	return l.categoryLoader.Load(ctx, id)()
}

func (l *Loaders) CounterpartyName(ctx context.Context, id int64) (string, error) {
	return l.counterpartyLoader.Load(ctx, id)()
}

// Clear drops cached names, e.g. after master data changed.
func (l *Loaders) Clear() {
	l.productLoader.ClearAll()
	l.categoryLoader.ClearAll()
	l.counterpartyLoader.ClearAll()
}
