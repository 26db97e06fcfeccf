package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	errx "github.com/Sensemaking-core/server/internal/core/error"
)

// Store reads and writes raw sensor documents by collection and user.
type Store interface {
	// Range returns the documents whose timestamp lies in [from, to], oldest first.
	Range(ctx context.Context, collection, uid string, from, to time.Time) ([]json.RawMessage, error)
	// Put stores documents. Identical documents are stored once.
	Put(ctx context.Context, collection, uid string, docs ...Doc) error
}

// Doc is one raw document and the instant it is indexed by.
type Doc struct {
	At    time.Time
	Value any
}

type RedisStore struct {
	rdb redis.Cmdable
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func recordsKey(collection, uid string) string {
	return fmt.Sprintf("records:%s:%s", collection, uid)
}

func score(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func formatScore(t time.Time) string {
	return strconv.FormatFloat(score(t), 'f', -1, 64)
}

func (s *RedisStore) Range(ctx context.Context, collection, uid string, from, to time.Time) ([]json.RawMessage, error) {
	if collection == "" || uid == "" {
		return nil, fmt.Errorf("%w: collection and uid are required", errx.ErrInvalidArgument)
	}
	if to.Before(from) {
		return nil, nil
	}

	members, err := s.rdb.ZRangeByScore(ctx, recordsKey(collection, uid), &redis.ZRangeBy{
		Min: formatScore(from),
		Max: formatScore(to),
	}).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}

	out := make([]json.RawMessage, 0, len(members))
	for _, m := range members {
		out = append(out, json.RawMessage(m))
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, collection, uid string, docs ...Doc) error {
	if collection == "" || uid == "" {
		return fmt.Errorf("%w: collection and uid are required", errx.ErrInvalidArgument)
	}
	if len(docs) == 0 {
		return nil
	}

	members := make([]redis.Z, 0, len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d.Value)
		if err != nil {
			return fmt.Errorf("marshal %s document: %w", collection, err)
		}
		members = append(members, redis.Z{Score: score(d.At), Member: string(b)})
	}

	if err := s.rdb.ZAdd(ctx, recordsKey(collection, uid), members...).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

// Fetch reads a time range and decodes every document into T.
func Fetch[T any](ctx context.Context, s Store, collection, uid string, from, to time.Time) ([]T, error) {
	raws, err := s.Range(ctx, collection, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}
