package sensors

import (
	"context"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

const (
	stateLocked   = "locked"
	stateUnlocked = "unlocked"
)

type lockDoc struct {
	Timestamp float64 `json:"timestamp"`
	LockState int     `json:"lock_state"`
}

type LockBlock struct {
	State     string `json:"state"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type LockStateAt struct {
	State     string `json:"state,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (s *Sensors) lockUnlockDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "lock unlock database",
		Info:                   "Contains records of phone lock and unlock times, with functions to extract this information.",
		Device:                 devicePhone,
		AdditionalInstructions: "The lock unlock database tracks when the phone screen is locked or unlocked. This can indicate user interaction patterns and phone usage behavior.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:          "UL1",
			Name:        "get_lock_unlock_blocks",
			Description: "Returns periods of consistent lock state for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("lock/unlock data"),
			Returns:     "A list of blocks, each containing 'state' ('locked' or 'unlocked'), 'start_time' and 'end_time'.",
			Example:     `[{"state": "unlocked", "start_time": "2024-07-10 00:00:00", "end_time": "2024-07-10 00:09:42"}, {"state": "locked", "start_time": "2024-07-10 00:09:43", "end_time": "2024-07-10 00:12:22"}]`,
		}, s.lockBlocksTool),
		bind(registry.FunctionDescriptor{
			ID:          "UL2",
			Name:        "get_total_lock_unlock_duration",
			Description: "Summarizes total time spent in each lock state for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("lock/unlock data"),
			Returns:     "A dictionary containing total hours spent in each state: 'locked' and 'unlocked'.",
			Example:     `{"unlocked": 1.07, "locked": 10.93}`,
		}, s.lockTotals),
		bind(registry.FunctionDescriptor{
			ID:          "UL3",
			Name:        "get_lock_unlock_state_at_given_time",
			Description: "Retrieves the lock/unlock state for a given timestamp for a specific user.",
			Usecases:    both,
			Params:      atParams("lock/unlock data"),
			Returns:     "A dictionary containing the lock state at the specified timestamp and the timestamp itself, or an empty object when unknown.",
			Example:     `{"state": "locked", "timestamp": "2024-07-10 00:00:00"}`,
		}, s.lockStateAt),
		bind(registry.FunctionDescriptor{
			ID:               "UL5",
			Name:             "get_lock_unlock_summary",
			Description:      "Retrieves a summary of lock/unlock phone events for a specific user within a given time range based on instructions provided.",
			CallInstructions: summaryInstructions,
			Usecases:         []registry.Usecase{registry.UsecaseFunctionCalling},
			Params:           summaryParams("lock/unlock data"),
			Returns:          "A summary of phone lock/unlock records based on the provided instructions.",
		}, s.lockSummary),
	), nil
}

func lockLabel(state int) string {
	if state == 1 {
		return stateLocked
	}
	return stateUnlocked
}

type lockSpan struct {
	state      string
	start, end time.Time
}

// lockSpans covers [from, to] with lock state runs. The first run starts at from
// and the last ends at to.
func (s *Sensors) lockSpans(ctx context.Context, uid string, from, to time.Time) ([]lockSpan, error) {
	docs, err := datastore.Fetch[lockDoc](ctx, s.store, CollectionLockUnlock, uid, from, to)
	if err != nil || len(docs) == 0 {
		return nil, err
	}

	first := FromUnix(docs[0].Timestamp)
	spans := []lockSpan{{state: lockLabel(docs[0].LockState), start: from, end: first}}
	state, start := docs[0].LockState, first
	for i := 1; i < len(docs); i++ {
		if docs[i].LockState == docs[i-1].LockState {
			continue
		}
		at := FromUnix(docs[i].Timestamp)
		spans = append(spans, lockSpan{state: lockLabel(state), start: start, end: at})
		state, start = docs[i].LockState, at
	}
	spans = append(spans, lockSpan{state: lockLabel(state), start: start, end: to})
	return spans, nil
}

func (s *Sensors) lockBlocksTool(ctx context.Context, in *RangeInput) ([]LockBlock, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.lockBlocks(ctx, sp.uid, sp.from, sp.to)
}

func (s *Sensors) lockBlocks(ctx context.Context, uid string, from, to time.Time) ([]LockBlock, error) {
	spans, err := s.lockSpans(ctx, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]LockBlock, 0, len(spans))
	for _, b := range spans {
		out = append(out, LockBlock{State: b.state, StartTime: s.format(uid, b.start), EndTime: s.format(uid, b.end)})
	}
	return out, nil
}

func (s *Sensors) lockTotals(ctx context.Context, in *RangeInput) (map[string]float64, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	spans, err := s.lockSpans(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	totals := map[string]float64{}
	for _, b := range spans {
		totals[b.state] += b.end.Sub(b.start).Hours()
	}
	return totals, nil
}

func (s *Sensors) lockStateAt(ctx context.Context, in *AtInput) (*LockStateAt, error) {
	sp, at, err := s.around(*in, 6*time.Hour, 6*time.Hour)
	if err != nil {
		return nil, err
	}
	spans, err := s.lockSpans(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	for _, b := range spans {
		if !at.Before(b.start) && !at.After(b.end) {
			return &LockStateAt{State: b.state, Timestamp: in.GivenTime}, nil
		}
	}
	return &LockStateAt{}, nil
}

func (s *Sensors) lockSummary(ctx context.Context, in *SummaryInput) (string, error) {
	return s.summarize(ctx, *in, "Phone lock and unlock periods", func(ctx context.Context, uid string, from, to time.Time) (any, error) {
		return s.lockBlocks(ctx, uid, from, to)
	})
}
