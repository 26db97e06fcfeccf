package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sensemaking-core/server/internal/agent/model"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

type RedisSessionRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionRepository(rdb redis.Cmdable, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisSessionRepository) resultKey(sessionID string) string {
	return fmt.Sprintf("session:%s:result", sessionID)
}

func (r *RedisSessionRepository) callsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:calls", sessionID)
}

func (r *RedisSessionRepository) SaveResult(ctx context.Context, result *model.Result) error {
	if result == nil || result.SessionID == "" {
		return fmt.Errorf("%w: result without session id", errx.ErrInvalidArgument)
	}
	b, err := json.Marshal(result)
	if err != nil {
		logx.Error().Err(err).Str("session_id", result.SessionID).Msg("failed to marshal session result")
		return fmt.Errorf("marshal result: %w", err)
	}

	key := r.resultKey(result.SessionID)
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to store session result")
		return errx.WrapRedis(err)
	}

	// the call log is rewritten from the result so both keys agree
	callsKey := r.callsKey(result.SessionID)
	if err := r.rdb.Del(ctx, callsKey).Err(); err != nil {
		logx.Error().Err(err).Str("key", callsKey).Msg("failed to reset function-call log")
		return errx.WrapRedis(err)
	}
	return r.AppendFunctionCalls(ctx, result.SessionID, result.FunctionCalls...)
}

func (r *RedisSessionRepository) LoadResult(ctx context.Context, sessionID string) (*model.Result, error) {
	key := r.resultKey(sessionID)
	s, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logx.Error().Err(err).Str("key", key).Msg("failed to load session result")
		}
		return nil, errx.WrapRedis(err)
	}
	var res model.Result
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to unmarshal session result")
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

func (r *RedisSessionRepository) AppendFunctionCalls(ctx context.Context, sessionID string, records ...model.FunctionCallRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]any, 0, len(records))
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to marshal function call")
			return fmt.Errorf("marshal function call: %w", err)
		}
		rows = append(rows, b)
	}
	key := r.callsKey(sessionID)

	if err := r.rdb.RPush(ctx, key, rows...).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push function calls to redis")
		return errx.WrapRedis(err)
	}
	// extend TTL on touch
	if r.ttl > 0 {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
			return errx.WrapRedis(err)
		} else if !ok {
			logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on function-call key")
		}
	}
	return nil
}

func (r *RedisSessionRepository) LoadFunctionCalls(ctx context.Context, sessionID string) ([]model.FunctionCallRecord, error) {
	key := r.callsKey(sessionID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.FunctionCallRecord{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load function calls from redis")
		return nil, errx.WrapRedis(err)
	}

	out := make([]model.FunctionCallRecord, 0, len(rows))
	for i, s := range rows {
		var rec model.FunctionCallRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Int("index", i).Msg("failed to unmarshal function call")
			return nil, fmt.Errorf("unmarshal function call at index %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisSessionRepository) CountFunctionCalls(ctx context.Context, sessionID string) (int, error) {
	key := r.callsKey(sessionID)
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to count function calls")
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

func (r *RedisSessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	keys := []string{r.resultKey(sessionID), r.callsKey(sessionID)}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.SessionRepository = (*RedisSessionRepository)(nil)
