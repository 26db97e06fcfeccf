package sensors

import (
	"context"
	"slices"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

type activityDoc struct {
	Timestamp float64  `json:"timestamp"`
	Activity  []string `json:"activity"`
}

type ActivityRecord struct {
	Timestamp string   `json:"timestamp"`
	Activity  []string `json:"activity"`
}

type ActivityBlock struct {
	Activity  string  `json:"activity"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	Duration  float64 `json:"duration"` // seconds
}

type ActivityAt struct {
	Activity  []string `json:"activity,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

func (s *Sensors) activityDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "activity database",
		Info:                   "Contains activity data (e.g., 'stationary,' 'automotive,' 'cycling,' 'walking,' 'running') recorded via accelerometer and gyroscope sensors in the phone. If the phone is not carried, the user is assumed inactive.",
		Device:                 devicePhone,
		AdditionalInstructions: "The activity database provides detailed information about user activities detected through phone sensors. Activities include stationary, walking, running, cycling, and automotive.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:               "ACT1",
			Name:             "get_activity_records",
			Description:      "Retrieves activity records for a specific user within a specified time range. Just provides what activity the user was doing at each time. For activity blocks use get_activity_blocks instead.",
			CallInstructions: "Call this only when the time range between start_time and end_time is less than 3 hours.",
			Usecases:         both,
			Params:           rangeParams("activity data"),
			Returns:          "A list of activity records. Possible activities include 'cycling', 'walking', 'running', 'automotive', 'stationary'.",
			Example:          `[{"timestamp": "2024-07-19 00:04:21", "activity": ["stationary"]}]`,
		}, s.activityRecordsTool),
		bind(registry.FunctionDescriptor{
			ID:               "ACT2",
			Name:             "get_activity_summary",
			Description:      "Retrieves a summary of activity for a specific user within a given time range based on provided instructions.",
			CallInstructions: summaryInstructions,
			Usecases:         []registry.Usecase{registry.UsecaseFunctionCalling},
			Params:           summaryParams("activity data"),
			Returns:          "A summary of activity records based on provided instructions.",
		}, s.activitySummary),
		bind(registry.FunctionDescriptor{
			ID:          "ACT3",
			Name:        "get_activity_blocks",
			Description: "Retrieves contiguous blocks of different activities (walking, cycling, stationary, running, automotive) for a specific user within a specified time range, showing the start and end time of each activity block.",
			Usecases:    both,
			Params:      rangeParams("activity data"),
			Returns:     "A list of activity blocks with 'activity', 'start_time', 'end_time' and 'duration' in seconds.",
			Example:     `[{"activity": "stationary", "start_time": "2024-07-19 00:04:21", "end_time": "2024-07-19 15:56:16", "duration": 57115.0}]`,
		}, s.activityBlocksTool),
		bind(registry.FunctionDescriptor{
			ID:          "ACT4",
			Name:        "generate_total_activity",
			Description: "Calculates the total time spent on each activity by a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("activity data"),
			Returns:     "A dictionary with activities as keys and the total time spent on each in minutes as values.",
			Example:     `{"stationary": 1301.53, "walking": 96.65, "automotive": 13.07}`,
		}, s.totalActivity),
		bind(registry.FunctionDescriptor{
			ID:          "ACT5",
			Name:        "get_activity_at_given_time",
			Description: "Retrieves the activity record for a given user at a specific time. Use this function when the query requires the activity at a given time.",
			Usecases:    both,
			Params:      atParams("activity data"),
			Returns:     "A dictionary containing the activity closest to the given time and the given time, or an empty object when nothing was recorded within 5 minutes.",
			Example:     `{"activity": ["stationary"], "timestamp": "2024-07-19 00:00:00"}`,
		}, s.activityAt),
	), nil
}

type timedActivity struct {
	at       time.Time
	activity []string
}

func (s *Sensors) activity(ctx context.Context, uid string, from, to time.Time) ([]timedActivity, error) {
	docs, err := datastore.Fetch[activityDoc](ctx, s.store, CollectionActivity, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]timedActivity, 0, len(docs))
	for _, d := range docs {
		if len(d.Activity) == 0 {
			continue
		}
		out = append(out, timedActivity{at: FromUnix(d.Timestamp), activity: d.Activity})
	}
	return out, nil
}

func (s *Sensors) activityRecords(ctx context.Context, uid string, from, to time.Time) ([]ActivityRecord, error) {
	recs, err := s.activity(ctx, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]ActivityRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, ActivityRecord{Timestamp: s.format(uid, r.at), Activity: r.activity})
	}
	return out, nil
}

func (s *Sensors) activityRecordsTool(ctx context.Context, in *RangeInput) ([]ActivityRecord, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.activityRecords(ctx, sp.uid, sp.from, sp.to)
}

// activityBlocks groups consecutive records with the same activity set. The
// last block ends at the last record.
func (s *Sensors) activityBlocks(ctx context.Context, sp span) ([]ActivityBlock, error) {
	recs, err := s.activity(ctx, sp.uid, sp.from, sp.to)
	if err != nil || len(recs) == 0 {
		return []ActivityBlock{}, err
	}

	var blocks []ActivityBlock
	emit := func(first timedActivity, end time.Time) {
		blocks = append(blocks, ActivityBlock{
			Activity:  first.activity[0],
			StartTime: s.format(sp.uid, first.at),
			EndTime:   s.format(sp.uid, end),
			Duration:  end.Sub(first.at).Seconds(),
		})
	}

	start := recs[0]
	for i := 1; i < len(recs); i++ {
		if !slices.Equal(recs[i].activity, recs[i-1].activity) {
			emit(start, recs[i].at)
			start = recs[i]
		}
	}
	emit(start, recs[len(recs)-1].at)
	return blocks, nil
}

func (s *Sensors) activityBlocksTool(ctx context.Context, in *RangeInput) ([]ActivityBlock, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.activityBlocks(ctx, sp)
}

func (s *Sensors) totalActivity(ctx context.Context, in *RangeInput) (map[string]float64, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	blocks, err := s.activityBlocks(ctx, sp)
	if err != nil {
		return nil, err
	}
	totals := map[string]float64{}
	for _, b := range blocks {
		totals[b.Activity] += b.Duration / 60
	}
	return totals, nil
}

func (s *Sensors) activityAt(ctx context.Context, in *AtInput) (*ActivityAt, error) {
	sp, at, err := s.around(*in, 5*time.Minute, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	recs, err := s.activity(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	i := closest(recs, at, func(r timedActivity) time.Time { return r.at })
	if i < 0 {
		return &ActivityAt{}, nil
	}
	return &ActivityAt{Activity: recs[i].activity, Timestamp: in.GivenTime}, nil
}

func (s *Sensors) activitySummary(ctx context.Context, in *SummaryInput) (string, error) {
	return s.summarize(ctx, *in, "Activity recorded via phone sensors", func(ctx context.Context, uid string, from, to time.Time) (any, error) {
		return s.activityRecords(ctx, uid, from, to)
	})
}
