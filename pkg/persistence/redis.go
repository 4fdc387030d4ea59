package persistence

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// Redis stores each kind as one hash; hash fields are record keys and values
// are BSON-encoded records.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storageError("connect", "", fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err))
	}
	return NewRedisWithClient(client, opts.Prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "pebble"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) hashKey(kind string) string {
	return r.prefix + ":" + kind
}

func (r *Redis) Load(ctx context.Context, kind string, key store.Key) (store.Record, error) {
	raw, err := r.client.HGet(ctx, r.hashKey(kind), string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Record{}, &runtime.NotFoundError{Kind: kind, Key: string(key)}
	}
	if err != nil {
		return store.Record{}, storageError("load", kind, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return store.Record{}, storageError("load", kind, err)
	}
	return rec, nil
}

func (r *Redis) Save(ctx context.Context, kind string, rec store.Record) error {
	raw, err := encodeRecord(kind, rec)
	if err != nil {
		return storageError("save", kind, err)
	}
	return storageError("save", kind, r.client.HSet(ctx, r.hashKey(kind), string(rec.Key), raw).Err())
}

func (r *Redis) Erase(ctx context.Context, kind string, key store.Key) error {
	return storageError("erase", kind, r.client.HDel(ctx, r.hashKey(kind), string(key)).Err())
}

// List returns the records of kind ordered by insertion ordinal.
func (r *Redis) List(ctx context.Context, kind string) ([]store.Record, error) {
	all, err := r.client.HGetAll(ctx, r.hashKey(kind)).Result()
	if err != nil {
		return nil, storageError("list", kind, err)
	}

	records := make([]store.Record, 0, len(all))
	for _, raw := range all {
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, storageError("list", kind, err)
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b store.Record) int { return cmp.Compare(a.Seq, b.Seq) })
	return records, nil
}

// Apply commits all changes in one MULTI/EXEC transaction.
func (r *Redis) Apply(ctx context.Context, changes []store.Change) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ch := range changes {
			switch ch.Action {
			case store.ActionInsert, store.ActionUpdate:
				raw, err := encodeRecord(ch.Kind, *ch.After)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, r.hashKey(ch.Kind), string(ch.Key), raw)
			case store.ActionDelete:
				pipe.HDel(ctx, r.hashKey(ch.Kind), string(ch.Key))
			}
		}
		return nil
	})
	return storageError("apply", "", err)
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func encodeRecord(kind string, rec store.Record) ([]byte, error) {
	rec.Kind = kind
	raw, err := bson.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", kind, rec.Key, err)
	}
	return raw, nil
}

func decodeRecord(raw []byte) (store.Record, error) {
	var rec store.Record
	if err := bson.Unmarshal(raw, &rec); err != nil {
		return store.Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}
