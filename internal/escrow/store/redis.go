package store

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
)

const redisKeyPrefix = "escrow:"

// RedisStore keeps each record as a redis hash whose fields are the persisted
// state keys. Version checks run under WATCH, so a concurrent writer aborts
// the transaction.
type RedisStore struct {
	rdclient *redis.Client
}

func NewRedisStore(redisURL string, redisPW string, redisDB int) *RedisStore {
	rdclient := redis.NewClient(&redis.Options{
		Addr:     redisURL,
		Password: redisPW,
		DB:       redisDB,
	})
	return NewRedisStoreWithClient(rdclient)
}

func NewRedisStoreWithClient(rdclient *redis.Client) *RedisStore {
	return &RedisStore{
		rdclient: rdclient,
	}
}

func (r *RedisStore) Load(ctx context.Context, session string) (*model.EscrowRecord, error) {
	state, err := r.rdclient.HGetAll(ctx, redisKeyPrefix+session).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "loading session %s", session)
	}
	if len(state) == 0 {
		return nil, errors.Wrapf(ErrRecordNotFound, "session %s", session)
	}
	return model.RecordFromState(state)
}

func (r *RedisStore) Save(ctx context.Context, session string, record *model.EscrowRecord) error {
	if err := checkSavable(record); err != nil {
		return err
	}
	fields := make(map[string]interface{})
	for k, v := range record.State() {
		fields[k] = v
	}

	key := redisKeyPrefix + session
	err := r.rdclient.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored != record.Version-1 {
			return errors.Wrapf(ErrVersionConflict, "session %s at version %d, writing %d", session, stored, record.Version)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)
	return redisError(err, "saving", session)
}

func (r *RedisStore) Remove(ctx context.Context, session string, version uint64) error {
	key := redisKeyPrefix + session
	err := r.rdclient.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored == 0 {
			return nil
		}
		if stored != version {
			return errors.Wrapf(ErrVersionConflict, "session %s at version %d, removing %d", session, stored, version)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	return redisError(err, "removing", session)
}

func (r *RedisStore) Close() error {
	return r.rdclient.Close()
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (uint64, error) {
	v, err := tx.HGet(ctx, key, model.KeyVersion).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func redisError(err error, action string, session string) error {
	if err == redis.TxFailedErr {
		return errors.Wrapf(ErrVersionConflict, "%s session %s", action, session)
	}
	return errors.Wrapf(err, "%s session %s", action, session)
}
