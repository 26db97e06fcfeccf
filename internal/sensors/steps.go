package sensors

import (
	"context"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

// Phone pedometer records cover an interval.
type phoneStepDoc struct {
	Timestamp       float64 `json:"timestamp"`
	StartTimestamp  float64 `json:"start_timestamp"`
	EndTimestamp    float64 `json:"end_timestamp"`
	Steps           float64 `json:"steps"`
	Distance        float64 `json:"distance"`
	FloorsAscended  float64 `json:"floors_ascended"`
	FloorsDescended float64 `json:"floors_descended"`
}

type PhoneStepRecord struct {
	StartTimestamp  string  `json:"start_timestamp"`
	EndTimestamp    string  `json:"end_timestamp"`
	Steps           float64 `json:"steps"`
	Distance        float64 `json:"distance"`
	FloorsAscended  float64 `json:"floors_ascended"`
	FloorsDescended float64 `json:"floors_descended"`
}

type PhoneStepStats struct {
	TotalSteps           float64 `json:"total_steps"`
	TotalDistance        float64 `json:"total_distance"`
	TotalFloorsAscended  float64 `json:"total_floors_ascended"`
	TotalFloorsDescended float64 `json:"total_floors_descended"`
}

type watchStepDoc struct {
	Timestamp      float64 `json:"timestamp"`
	StartTimestamp float64 `json:"start_timestamp"`
	Steps          float64 `json:"steps"`
	TotalSteps     float64 `json:"total_steps"`
}

type WatchStepRecord struct {
	StartTimestamp string  `json:"start_timestamp"`
	StepsTimestamp string  `json:"steps_timestamp"`
	Steps          float64 `json:"steps"`
	TotalSteps     float64 `json:"total_steps"`
}

type WatchStepTotal struct {
	TotalSteps float64 `json:"total_steps"`
}

var codeOnly = []registry.Usecase{registry.UsecaseCodeGeneration}

func (s *Sensors) phoneStepsDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "phone steps database",
		Info:                   "Contains step counts, walking distance and floors climbed measured by the phone pedometer.",
		Device:                 devicePhone,
		AdditionalInstructions: "The phone steps database is only accurate while the user carries the phone.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:          "PHONESTEP1",
			Name:        "get_phone_step_stats",
			Description: "Calculates the total steps, distance in metres and floors ascended and descended for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("step data"),
			Returns:     "A dictionary with total_steps, total_distance, total_floors_ascended and total_floors_descended.",
			Example:     `{"total_steps": 8214, "total_distance": 6011.4, "total_floors_ascended": 6, "total_floors_descended": 5}`,
		}, s.phoneStepStats),
		bind(registry.FunctionDescriptor{
			ID:          "PHONESTEP2",
			Name:        "get_phone_step_records",
			Description: "Retrieves the raw pedometer intervals recorded by the phone for a user within a specified time range.",
			Usecases:    codeOnly,
			Params:      rangeParams("step data"),
			Returns:     "A list of intervals with start_timestamp, end_timestamp, steps, distance, floors_ascended and floors_descended.",
		}, s.phoneStepRecordsTool),
		bind(registry.FunctionDescriptor{
			ID:               "PHONESTEP4",
			Name:             "get_phone_steps_summary",
			Description:      "Retrieves a summary of phone step data for a specific user within a given time range based on instructions provided.",
			CallInstructions: summaryInstructions,
			Usecases:         []registry.Usecase{registry.UsecaseFunctionCalling},
			Params:           summaryParams("step data"),
			Returns:          "A summary of step records based on the provided instructions.",
		}, s.phoneStepsSummary),
	), nil
}

func (s *Sensors) watchStepsDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "garmin steps database",
		Info:                   "Contains step counts recorded by the Garmin smartwatch.",
		Device:                 deviceWatch,
		AdditionalInstructions: "The garmin steps database records steps while the watch is worn, including when the phone is left behind.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:          "GARMINSTEP1",
			Name:        "get_garmin_total_steps",
			Description: "Calculates the total steps recorded by the Garmin smartwatch for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("step data"),
			Returns:     "A dictionary with total_steps.",
			Example:     `{"total_steps": 9120}`,
		}, s.watchStepTotal),
		bind(registry.FunctionDescriptor{
			ID:          "GARMINSTEP2",
			Name:        "get_garmin_step_records",
			Description: "Retrieves the raw step records from the Garmin smartwatch for a user within a specified time range.",
			Usecases:    codeOnly,
			Params:      rangeParams("step data"),
			Returns:     "A list of records with start_timestamp, steps_timestamp, steps and the running total_steps.",
		}, s.watchStepRecordsTool),
		bind(registry.FunctionDescriptor{
			ID:               "GARMINSTEP4",
			Name:             "get_garmin_steps_summary",
			Description:      "Retrieves a summary of Garmin step data for a specific user within a given time range based on instructions provided.",
			CallInstructions: summaryInstructions,
			Usecases:         []registry.Usecase{registry.UsecaseFunctionCalling},
			Params:           summaryParams("step data"),
			Returns:          "A summary of step records based on the provided instructions.",
		}, s.watchStepsSummary),
	), nil
}

func (s *Sensors) phoneSteps(ctx context.Context, uid string, from, to time.Time) ([]PhoneStepRecord, error) {
	docs, err := datastore.Fetch[phoneStepDoc](ctx, s.store, CollectionPhoneSteps, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]PhoneStepRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, PhoneStepRecord{
			StartTimestamp:  s.format(uid, FromUnix(d.StartTimestamp)),
			EndTimestamp:    s.format(uid, FromUnix(d.EndTimestamp)),
			Steps:           d.Steps,
			Distance:        d.Distance,
			FloorsAscended:  d.FloorsAscended,
			FloorsDescended: d.FloorsDescended,
		})
	}
	return out, nil
}

func (s *Sensors) phoneStepRecordsTool(ctx context.Context, in *RangeInput) ([]PhoneStepRecord, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.phoneSteps(ctx, sp.uid, sp.from, sp.to)
}

func (s *Sensors) phoneStepStats(ctx context.Context, in *RangeInput) (*PhoneStepStats, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	recs, err := s.phoneSteps(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	st := &PhoneStepStats{}
	for _, r := range recs {
		st.TotalSteps += r.Steps
		st.TotalDistance += r.Distance
		st.TotalFloorsAscended += r.FloorsAscended
		st.TotalFloorsDescended += r.FloorsDescended
	}
	st.TotalDistance = round(st.TotalDistance, 2)
	return st, nil
}

func (s *Sensors) phoneStepsSummary(ctx context.Context, in *SummaryInput) (string, error) {
	return s.summarize(ctx, *in, "Step intervals measured by the phone pedometer", func(ctx context.Context, uid string, from, to time.Time) (any, error) {
		return s.phoneSteps(ctx, uid, from, to)
	})
}

func (s *Sensors) watchSteps(ctx context.Context, uid string, from, to time.Time) ([]WatchStepRecord, error) {
	docs, err := datastore.Fetch[watchStepDoc](ctx, s.store, CollectionWatchSteps, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]WatchStepRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, WatchStepRecord{
			StartTimestamp: s.format(uid, FromUnix(d.StartTimestamp)),
			StepsTimestamp: s.format(uid, FromUnix(d.Timestamp)),
			Steps:          d.Steps,
			TotalSteps:     d.TotalSteps,
		})
	}
	return out, nil
}

func (s *Sensors) watchStepRecordsTool(ctx context.Context, in *RangeInput) ([]WatchStepRecord, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.watchSteps(ctx, sp.uid, sp.from, sp.to)
}

func (s *Sensors) watchStepTotal(ctx context.Context, in *RangeInput) (*WatchStepTotal, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	recs, err := s.watchSteps(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	total := &WatchStepTotal{}
	for _, r := range recs {
		total.TotalSteps += r.Steps
	}
	return total, nil
}

func (s *Sensors) watchStepsSummary(ctx context.Context, in *SummaryInput) (string, error) {
	return s.summarize(ctx, *in, "Steps recorded by the Garmin smartwatch", func(ctx context.Context, uid string, from, to time.Time) (any, error) {
		return s.watchSteps(ctx, uid, from, to)
	})
}
