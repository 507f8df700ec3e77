package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/tradedocs/models"
	"github.com/shopspring/decimal"
)

type fakeResolver struct {
	mu      sync.Mutex
	names   map[string]map[int64]string
	batches map[string][][]int64
	err     error
}

func (f *fakeResolver) ResolveNames(ctx context.Context, kind string, ids []int64) (map[int64]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batches == nil {
		f.batches = make(map[string][][]int64)
	}
	f.batches[kind] = append(f.batches[kind], append([]int64(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]string)
	for _, id := range ids {
		if n, ok := f.names[kind][id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (f *fakeResolver) batchesFor(kind string) [][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[kind]
}

func sampleDocument() models.TradeDocument {
	return models.TradeDocument{
		ID:             1,
		Type:           models.DocumentTypeSalesOrder,
		DocumentNumber: "SO-000001",
		Status:         models.StatusNew,
		CounterpartyId: 5,
		DocumentDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		LineItems: []models.LineItem{
			{CategoryId: 1, ProductId: 10, Quantity: decimal.NewFromInt(2), Weight: decimal.RequireFromString("1.5"), EstimatedValue: decimal.NewFromInt(300)},
			{CategoryId: 1, ProductId: 11, Quantity: decimal.NewFromInt(1), Weight: decimal.RequireFromString("2.25"), EstimatedValue: decimal.NewFromInt(200)},
			{CategoryId: 2, ProductId: 10, Quantity: decimal.NewFromInt(4), Weight: decimal.NewFromInt(3), EstimatedValue: decimal.NewFromInt(100)},
		},
	}
}

func TestDescribe_BatchesLookupsPerKind(t *testing.T) {
	resolver := &fakeResolver{names: map[string]map[int64]string{
		KindProducts:       {10: "Teak log", 11: "Pine board"},
		KindCategories:     {1: "Timber"},
		KindCounterparties: {5: "Shwe Traders"},
	}}
	loaders := NewLoaders(resolver)

	view, err := loaders.Describe(context.Background(), sampleDocument())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if view.CounterpartyName != "Shwe Traders" {
		t.Fatalf("counterparty = %q", view.CounterpartyName)
	}
	if view.Items[0].ProductName != "Teak log" || view.Items[1].ProductName != "Pine board" || view.Items[2].ProductName != "Teak log" {
		t.Fatalf("product names = %+v", view.Items)
	}
	if view.Items[2].CategoryName != "#2" {
		t.Fatalf("unknown category = %q, want #2", view.Items[2].CategoryName)
	}
	if view.Totals.ItemCount != 3 || !view.Totals.TotalWeight.Equal(decimal.RequireFromString("6.75")) || !view.Totals.TotalValue.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("totals = %+v", view.Totals)
	}
	if len(view.AllowedActions) == 0 {
		t.Fatalf("a new sales order must have actions")
	}

	batches := resolver.batchesFor(KindProducts)
	if len(batches) != 1 {
		t.Fatalf("product batches = %v, want one", batches)
	}
	ids := batches[0]
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 11 {
		t.Fatalf("product batch = %v, want deduplicated [10 11]", ids)
	}

	// names are cached for the lifetime of the loaders
	if _, err := loaders.Describe(context.Background(), sampleDocument()); err != nil {
		t.Fatalf("second Describe: %v", err)
	}
	if n := len(resolver.batchesFor(KindProducts)); n != 1 {
		t.Fatalf("product batches after cached Describe = %d", n)
	}
	loaders.Clear()
	if _, err := loaders.ProductName(context.Background(), 10); err != nil {
		t.Fatalf("ProductName: %v", err)
	}
	if n := len(resolver.batchesFor(KindProducts)); n != 2 {
		t.Fatalf("Clear must force a new lookup, batches = %d", n)
	}
}

func TestDescribe_PropagatesResolverError(t *testing.T) {
	loaders := NewLoaders(&fakeResolver{err: errors.New("catalog down")})
	if _, err := loaders.Describe(context.Background(), sampleDocument()); err == nil || err.Error() != "catalog down" {
		t.Fatalf("want resolver error, got %v", err)
	}
}

func TestFor_ReturnsStoredLoaders(t *testing.T) {
	if For(context.Background()) != nil {
		t.Fatalf("empty context must have no loaders")
	}
	l := NewLoaders(&fakeResolver{})
	if For(WithLoaders(context.Background(), l)) != l {
		t.Fatalf("loaders not found in context")
	}
}
