package datastore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/Sensemaking-core/server/internal/core/error"
)

func newStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb)
}

type activityDoc struct {
	Timestamp float64  `json:"timestamp"`
	Activity  []string `json:"activity"`
}

func TestRangeIsInclusiveAndOrdered(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Unix(1720541549, 0)

	docs := []Doc{
		{At: base.Add(2 * time.Minute), Value: activityDoc{Timestamp: 1720541669, Activity: []string{"walking"}}},
		{At: base, Value: activityDoc{Timestamp: 1720541549, Activity: []string{"stationary"}}},
		{At: base.Add(time.Minute), Value: activityDoc{Timestamp: 1720541609, Activity: []string{"stationary"}}},
		{At: base.Add(time.Hour), Value: activityDoc{Timestamp: 1720545149, Activity: []string{"automotive"}}},
	}
	require.NoError(t, s.Put(ctx, "ios_activity", "test004", docs...))

	got, err := Fetch[activityDoc](ctx, s, "ios_activity", "test004", base, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"stationary"}, got[0].Activity)
	assert.Equal(t, []string{"walking"}, got[2].Activity)

	// other users and collections are isolated
	other, err := s.Range(ctx, "ios_activity", "test006", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPutDeduplicatesIdenticalDocuments(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Unix(1720541549, 0)
	doc := Doc{At: at, Value: map[string]any{"timestamp": 1720541549, "brightness": 0.5}}

	require.NoError(t, s.Put(ctx, "ios_brightness", "test004", doc, doc))
	got, err := s.Range(ctx, "ios_brightness", "test004", at, at)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRangeValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Range(ctx, "", "test004", time.Now(), time.Now())
	assert.ErrorIs(t, err, errx.ErrInvalidArgument)

	got, err := s.Range(ctx, "ios_wifi", "test004", time.Now(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestImportBatches(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	input := `
- collection: ios_wifi
  uid: test004
  records:
    - {timestamp: 1720757060, ssid: FeelTheConnection}
    - {timestamp: 1720819782.5, ssid: NUwave}
---
collection: ios_steps
uid: test004
time_field: start_timestamp
records:
  - {start_timestamp: 1720757060, end_timestamp: 1720757120, steps: 12, distance: 8.5, floors_ascended: 0, floors_descended: 0}
`
	batches, err := ReadBatches(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batches, 2)

	n, err := Import(ctx, s, batches)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	wifi, err := s.Range(ctx, "ios_wifi", "test004", time.Unix(1720757060, 0), time.Unix(1720819783, 0))
	require.NoError(t, err)
	assert.Len(t, wifi, 2)

	steps, err := s.Range(ctx, "ios_steps", "test004", time.Unix(1720757000, 0), time.Unix(1720758000, 0))
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestImportRejectsMissingTimestamp(t *testing.T) {
	s := newStore(t)
	_, err := Import(context.Background(), s, []Batch{{
		Collection: "ios_wifi",
		UID:        "test004",
		Records:    []map[string]any{{"ssid": "x"}},
	}})
	assert.ErrorIs(t, err, errx.ErrInvalidArgument)
}
