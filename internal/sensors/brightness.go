package sensors

import (
	"context"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

type brightnessDoc struct {
	Timestamp  float64 `json:"timestamp"`
	Brightness float64 `json:"brightness"`
}

type BrightnessRecord struct {
	Timestamp  string  `json:"timestamp"`
	Brightness float64 `json:"brightness"`
}

type BrightnessAt struct {
	Brightness *float64 `json:"brightness,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

func (s *Sensors) brightnessDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "brightness database",
		Info:                   "Contains the phone screen brightness level over time.",
		Device:                 devicePhone,
		AdditionalInstructions: "The brightness database records the screen brightness between 0 and 1. Low brightness at night can indicate phone use in the dark.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:               "BRIGHTNESS1",
			Name:             "get_brightness_records",
			Description:      "Retrieves screen brightness records for a user within a specified time range.",
			CallInstructions: "Call this only when the time range between start_time and end_time is less than 3 hours.",
			Usecases:         both,
			Params:           rangeParams("brightness data"),
			Returns:          "A list of records with 'timestamp' and 'brightness'.",
			Example:          `[{"timestamp": "2024-07-19 22:14:01", "brightness": 0.21}]`,
		}, s.brightnessRecordsTool),
		bind(registry.FunctionDescriptor{
			ID:          "BRIGHTNESS2",
			Name:        "get_brightness_at_given_time",
			Description: "Retrieves the screen brightness closest to a given time for a user.",
			Usecases:    both,
			Params:      atParams("brightness data"),
			Returns:     "A dictionary with the 'brightness' and the 'timestamp' of the closest record within 10 minutes, or an empty object.",
			Example:     `{"brightness": 0.21, "timestamp": "2024-07-19 22:14:01"}`,
		}, s.brightnessAt),
	), nil
}

func (s *Sensors) brightnessRecords(ctx context.Context, uid string, from, to time.Time) ([]BrightnessRecord, []time.Time, error) {
	docs, err := datastore.Fetch[brightnessDoc](ctx, s.store, CollectionBrightness, uid, from, to)
	if err != nil {
		return nil, nil, err
	}
	out := make([]BrightnessRecord, 0, len(docs))
	times := make([]time.Time, 0, len(docs))
	for _, d := range docs {
		at := FromUnix(d.Timestamp)
		out = append(out, BrightnessRecord{Timestamp: s.format(uid, at), Brightness: d.Brightness})
		times = append(times, at)
	}
	return out, times, nil
}

func (s *Sensors) brightnessRecordsTool(ctx context.Context, in *RangeInput) ([]BrightnessRecord, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	recs, _, err := s.brightnessRecords(ctx, sp.uid, sp.from, sp.to)
	return recs, err
}

func (s *Sensors) brightnessAt(ctx context.Context, in *AtInput) (*BrightnessAt, error) {
	sp, at, err := s.around(*in, 10*time.Minute, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	recs, times, err := s.brightnessRecords(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	i := closest(times, at, func(t time.Time) time.Time { return t })
	if i < 0 {
		return &BrightnessAt{}, nil
	}
	return &BrightnessAt{Brightness: &recs[i].Brightness, Timestamp: recs[i].Timestamp}, nil
}
