package sensors

import (
	"context"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

type heartRateDoc struct {
	Timestamp float64 `json:"timestamp"`
	HeartRate float64 `json:"heart_rate"`
	Status    string  `json:"status"`
}

type HeartRateRecord struct {
	Timestamp string  `json:"timestamp"`
	HeartRate float64 `json:"heart_rate"`
	Status    string  `json:"status,omitempty"`
}

type HeartRateStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Count  int     `json:"count"`
}

func (s *Sensors) heartRateDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "garmin hr database",
		Info:                   "Contains heart rate data (per 30 seconds) and functions for summarizing heart rate data recorded from the Garmin smartwatch.",
		Device:                 deviceWatch,
		AdditionalInstructions: "The garmin heart rate database provides heart rate measurements every 30 seconds. This data can be used to understand user physiological responses and activity levels.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:               "GARMINHR1",
			Name:             "get_garmin_hr",
			Description:      "Fetches heart rate records from Garmin for a specified user and time range. Heart rate is recorded every 30 seconds.",
			CallInstructions: "Call this only when the time range between start_time and end_time is less than 3 hours.",
			Usecases:         both,
			Params:           rangeParams("heart rate data"),
			Returns:          "A list of heart rate records between the specified timestamps for the given user.",
			Example:          `[{"timestamp": "2024-07-19 17:36:23", "heart_rate": 87.0, "status": "locked"}]`,
		}, s.heartRateTool),
		bind(registry.FunctionDescriptor{
			ID:               "GARMINHR2",
			Name:             "get_hr_summary",
			Description:      "Generates a heart rate summary for a specified user within a given time range. It summarizes windowed data based on instructions and combines the window summaries.",
			CallInstructions: "Call this only when the time range between start_time and end_time is less than 24 hours.",
			Usecases:         []registry.Usecase{registry.UsecaseFunctionCalling},
			Params:           summaryParams("heart rate data"),
			Returns:          "The combined heart rate summary for the specified time range based on instructions.",
		}, s.heartRateSummary),
		bind(registry.FunctionDescriptor{
			ID:          "GARMINHR3",
			Name:        "get_hr_stats",
			Description: "Calculates and returns the mean and standard deviation of heart rate records for a specified user within a given time range.",
			Usecases:    both,
			Params:      rangeParams("heart rate statistics"),
			Returns:     "mean and std_dev of the heart rate in beats per minute, and the number of records used.",
			Example:     `{"mean": 72.4, "std_dev": 8.1, "count": 360}`,
		}, s.heartRateStats),
	), nil
}

// heartRate drops invalid readings (0 and -99) and readings taken while the watch was not worn.
func (s *Sensors) heartRate(ctx context.Context, uid string, from, to time.Time) ([]HeartRateRecord, error) {
	docs, err := datastore.Fetch[heartRateDoc](ctx, s.store, CollectionHeartRate, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]HeartRateRecord, 0, len(docs))
	for _, d := range docs {
		if d.HeartRate <= 0 {
			continue
		}
		if d.Status != "" && d.Status != "locked" {
			continue
		}
		out = append(out, HeartRateRecord{
			Timestamp: s.format(uid, FromUnix(d.Timestamp)),
			HeartRate: d.HeartRate,
			Status:    d.Status,
		})
	}
	return out, nil
}

func (s *Sensors) heartRateTool(ctx context.Context, in *RangeInput) ([]HeartRateRecord, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.heartRate(ctx, sp.uid, sp.from, sp.to)
}

func (s *Sensors) heartRateStats(ctx context.Context, in *RangeInput) (*HeartRateStats, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	recs, err := s.heartRate(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(recs))
	for i, r := range recs {
		values[i] = r.HeartRate
	}
	mean, std := meanStd(values)
	return &HeartRateStats{Mean: round(mean, 2), StdDev: round(std, 2), Count: len(values)}, nil
}

func (s *Sensors) heartRateSummary(ctx context.Context, in *SummaryInput) (string, error) {
	return s.summarize(ctx, *in, "Heart rate recorded every 30 seconds via Garmin smartwatch", func(ctx context.Context, uid string, from, to time.Time) (any, error) {
		return s.heartRate(ctx, uid, from, to)
	})
}
