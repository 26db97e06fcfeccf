package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sensemaking-core/server/internal/agent/model"
	errx "github.com/Sensemaking-core/server/internal/core/error"
)

func newRepo(t *testing.T, ttl time.Duration) (*RedisSessionRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSessionRepository(rdb, ttl), mr
}

func sampleResult() *model.Result {
	return &model.Result{
		SessionID:   "s-1",
		Query:       "where was test004 at noon on 2024-07-09?",
		Answer:      "At home.",
		StepHistory: []string{"START", "ACTION PLAN GENERATION", "END", "PRESENTATION", "FINISH"},
		FunctionCalls: []model.FunctionCallRecord{
			{ID: "LOC5", Name: "get_location_at_time", Params: map[string]any{"user_id": "test004"}, Domain: "location", Result: "{}"},
			{ID: "LOC1", Name: "get_location_data", Domain: "location", Result: "[]"},
		},
	}
}

func TestSaveAndLoadResult(t *testing.T) {
	r, mr := newRepo(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, r.SaveResult(ctx, sampleResult()))

	got, err := r.LoadResult(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "At home.", got.Answer)
	assert.Equal(t, sampleResult().StepHistory, got.StepHistory)

	calls, err := r.LoadFunctionCalls(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "LOC5", calls[0].ID)
	assert.Equal(t, "test004", calls[0].Params["user_id"])

	assert.Equal(t, time.Hour, mr.TTL("session:s-1:result"))
	assert.Equal(t, time.Hour, mr.TTL("session:s-1:calls"))

	// saving again replaces rather than duplicates the log
	require.NoError(t, r.SaveResult(ctx, sampleResult()))
	n, err := r.CountFunctionCalls(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadResultMissing(t *testing.T) {
	r, _ := newRepo(t, 0)
	_, err := r.LoadResult(context.Background(), "nope")
	require.ErrorIs(t, err, errx.ErrNotFound)

	calls, err := r.LoadFunctionCalls(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestSaveResultRequiresID(t *testing.T) {
	r, _ := newRepo(t, 0)
	err := r.SaveResult(context.Background(), &model.Result{})
	assert.ErrorIs(t, err, errx.ErrInvalidArgument)
}

func TestAppendAndDelete(t *testing.T) {
	r, mr := newRepo(t, 0)
	ctx := context.Background()

	require.NoError(t, r.AppendFunctionCalls(ctx, "s-2"))
	require.NoError(t, r.AppendFunctionCalls(ctx, "s-2", model.FunctionCallRecord{ID: "ACT1"}))
	require.NoError(t, r.AppendFunctionCalls(ctx, "s-2", model.FunctionCallRecord{ID: "ACT2"}))

	n, err := r.CountFunctionCalls(ctx, "s-2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.DeleteSession(ctx, "s-2"))
	assert.False(t, mr.Exists("session:s-2:calls"))
}
