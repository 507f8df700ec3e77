package conversion

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/tradedocs/config"
	"github.com/mmdatafocus/tradedocs/models"
	"github.com/redis/go-redis/v9"
)

func skipUnlessIntegration(t *testing.T, requires string) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires " + requires + ")")
	}
}

func newIntegrationRedis(t *testing.T) *redis.Client {
	t.Helper()
	skipUnlessIntegration(t, "redis")
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// exerciseJournal runs the saga lifecycle every journal backend must honor.
func exerciseJournal(t *testing.T, j Journal, businessId string) {
	t.Helper()
	ctx := context.Background()
	saga := Saga{
		BusinessId:     businessId,
		SourceType:     models.DocumentTypeSalesOrder,
		SourceId:       42,
		SourceNumber:   "SO-000042",
		DerivedType:    models.DocumentTypeSalesChallan,
		IdempotencyKey: uuid.NewString(),
	}

	if got, err := j.Load(ctx, businessId, saga.SourceType, saga.SourceId); err != nil || got != nil {
		t.Fatalf("Load before begin = %+v, %v", got, err)
	}
	if _, err := j.Begin(ctx, saga); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := j.Begin(ctx, saga); !errors.Is(err, ErrConversionInProgress) {
		t.Fatalf("second Begin: want in progress, got %v", err)
	}

	saga.DerivedId = 77
	saga.DerivedNumber = "SC-000077"
	if err := j.MarkDerivedCreated(ctx, saga); err != nil {
		t.Fatalf("MarkDerivedCreated: %v", err)
	}
	pending, err := j.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	found := false
	for _, p := range pending {
		if p.BusinessId == businessId && p.SourceId == 42 && p.DerivedId == 77 {
			found = true
		}
	}
	if !found {
		t.Fatalf("pending = %+v", pending)
	}
	if _, err := j.Begin(ctx, saga); !IsPartialConversion(err) {
		t.Fatalf("Begin after derived: want partial, got %v", err)
	}

	if err := j.MarkLinked(ctx, saga); err != nil {
		t.Fatalf("MarkLinked: %v", err)
	}
	got, err := j.Load(ctx, businessId, saga.SourceType, saga.SourceId)
	if err != nil || got == nil || got.State != SagaLinked || got.DerivedNumber != "SC-000077" {
		t.Fatalf("Load after link = %+v, %v", got, err)
	}
}

func TestRedisJournal_Lifecycle(t *testing.T) {
	client := newIntegrationRedis(t)
	j := NewRedisJournal(client)
	j.prefix = "conversion-test:" + uuid.NewString()
	exerciseJournal(t, j, "biz-"+uuid.NewString())
}

func TestRedisLocker_Exclusive(t *testing.T) {
	client := newIntegrationRedis(t)
	locker := NewRedisLocker(redislock.New(client))
	ctx := context.Background()
	key := "conversion-test:lock:" + uuid.NewString()

	lock, err := locker.Obtain(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if _, err := locker.Obtain(ctx, key, time.Minute); !errors.Is(err, ErrConversionInProgress) {
		t.Fatalf("second Obtain: want in progress, got %v", err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := locker.Obtain(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Obtain after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestGormJournal_Lifecycle(t *testing.T) {
	skipUnlessIntegration(t, "mysql")
	ctx := context.Background()
	if err := config.ConnectDatabaseWithRetry(ctx, 3); err != nil {
		t.Fatalf("connect: %v", err)
	}
	j := NewGormJournal(config.GetDB())
	if err := j.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	businessId := "biz-" + uuid.NewString()
	t.Cleanup(func() {
		config.GetDB().Where("business_id = ?", businessId).Delete(&ConversionSaga{})
	})
	exerciseJournal(t, j, businessId)
}
