package conversion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmdatafocus/tradedocs/config"
	"github.com/mmdatafocus/tradedocs/models"
	"github.com/redis/go-redis/v9"
)

// linked sagas are kept for a while so repeated conversions are still reported as converted
const linkedSagaRetention = 30 * 24 * time.Hour

// RedisJournal stores one JSON saga per source and indexes unlinked ones in a set.
type RedisJournal struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisJournal(client redis.Cmdable) *RedisJournal {
	return &RedisJournal{client: client, prefix: "conversion", now: time.Now}
}

func (j *RedisJournal) sagaRedisKey(businessId string, t models.DocumentType, id int64) string {
	return j.prefix + ":saga:" + sagaKey(businessId, t, id)
}

func (j *RedisJournal) pendingKey() string {
	return j.prefix + ":pending"
}

func (j *RedisJournal) Load(ctx context.Context, businessId string, t models.DocumentType, id int64) (*Saga, error) {
	var s Saga
	found, err := config.GetRedisObject(ctx, j.client, j.sagaRedisKey(businessId, t, id), &s)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &s, nil
}

func (j *RedisJournal) Begin(ctx context.Context, saga Saga) (Saga, error) {
	now := j.now()
	saga.State = SagaStarted
	saga.CreatedAt = now
	saga.UpdatedAt = now
	raw, err := json.Marshal(saga)
	if err != nil {
		return Saga{}, err
	}
	key := j.sagaRedisKey(saga.BusinessId, saga.SourceType, saga.SourceId)
	created, err := j.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return Saga{}, err
	}
	if created {
		return saga, nil
	}

	existing, err := j.Load(ctx, saga.BusinessId, saga.SourceType, saga.SourceId)
	if err != nil {
		return Saga{}, err
	}
	if existing == nil {
		return Saga{}, fmt.Errorf("saga %s vanished during begin", key)
	}
	resumed, err := resolveExisting(*existing, now)
	if err != nil {
		return Saga{}, err
	}
	if err := config.SetRedisObject(ctx, j.client, key, resumed, 0); err != nil {
		return Saga{}, err
	}
	return resumed, nil
}

func (j *RedisJournal) MarkDerivedCreated(ctx context.Context, saga Saga) error {
	if err := j.update(ctx, saga, SagaDerivedCreated, "", 0); err != nil {
		return err
	}
	return config.AddRedisSet(ctx, j.client, j.pendingKey(), j.sagaRedisKey(saga.BusinessId, saga.SourceType, saga.SourceId))
}

func (j *RedisJournal) MarkLinked(ctx context.Context, saga Saga) error {
	if err := j.update(ctx, saga, SagaLinked, "", linkedSagaRetention); err != nil {
		return err
	}
	return config.RemoveRedisSetMember(ctx, j.client, j.pendingKey(), j.sagaRedisKey(saga.BusinessId, saga.SourceType, saga.SourceId))
}

func (j *RedisJournal) MarkFailed(ctx context.Context, saga Saga, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return j.update(ctx, saga, SagaFailed, msg, 0)
}

func (j *RedisJournal) update(ctx context.Context, saga Saga, state SagaState, lastError string, ttl time.Duration) error {
	current, err := j.Load(ctx, saga.BusinessId, saga.SourceType, saga.SourceId)
	if err != nil {
		return err
	}
	next := saga
	if current != nil {
		next = *current
		if saga.DerivedId != 0 {
			next.DerivedId = saga.DerivedId
			next.DerivedNumber = saga.DerivedNumber
		}
	}
	next.State = state
	next.LastError = lastError
	next.UpdatedAt = j.now()
	return config.SetRedisObject(ctx, j.client, j.sagaRedisKey(saga.BusinessId, saga.SourceType, saga.SourceId), next, ttl)
}

func (j *RedisJournal) Pending(ctx context.Context) ([]Saga, error) {
	members, err := config.GetRedisSetMembers(ctx, j.client, j.pendingKey())
	if err != nil {
		return nil, err
	}
	out := make([]Saga, 0, len(members))
	for _, key := range members {
		var s Saga
		found, err := config.GetRedisObject(ctx, j.client, key, &s)
		if err != nil {
			return nil, err
		}
		if !found || s.State != SagaDerivedCreated {
			_ = config.RemoveRedisSetMember(ctx, j.client, j.pendingKey(), key)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
