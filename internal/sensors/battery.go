package sensors

import (
	"context"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

type batteryDoc struct {
	Timestamp    float64  `json:"timestamp"`
	BatteryLeft  *float64 `json:"battery_left"`
	BatteryState *int     `json:"battery_state"`
}

type BatteryRecord struct {
	Timestamp   string  `json:"timestamp"`
	BatteryLeft float64 `json:"battery_left"`
}

type BatteryBlock struct {
	StartTime    string  `json:"start_time"`
	EndTime      string  `json:"end_time"`
	BatteryState string  `json:"battery_state"`
	Duration     float64 `json:"duration"` // minutes
}

func (s *Sensors) batteryDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "battery database",
		Info:                   "Contains the phone battery level and charging state over time.",
		Device:                 devicePhone,
		AdditionalInstructions: "The battery database records the battery percentage and whether the phone was charging, full or discharging. Charging periods often indicate the user is at home or at a desk.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:               "BATTERY1",
			Name:             "get_battery_records",
			Description:      "Retrieves battery level records for a user within a specified time range.",
			CallInstructions: "Call this only when the time range between start_time and end_time is less than 3 hours.",
			Usecases:         both,
			Params:           rangeParams("battery data"),
			Returns:          "A list of records with 'timestamp' and 'battery_left' as a fraction between 0 and 1.",
			Example:          `[{"timestamp": "2024-07-19 10:00:04", "battery_left": 0.83}]`,
		}, s.batteryRecordsTool),
		bind(registry.FunctionDescriptor{
			ID:          "BATTERY2",
			Name:        "get_battery_state_blocks",
			Description: "Returns contiguous periods of the same battery state (charging, full, discharging) for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("battery data"),
			Returns:     "A list of blocks with 'start_time', 'end_time', 'battery_state' and 'duration' in minutes.",
			Example:     `[{"start_time": "2024-07-19 00:00:00", "end_time": "2024-07-19 07:12:40", "battery_state": "charging", "duration": 432.67}]`,
		}, s.batteryBlocks),
	), nil
}

func batteryLabel(state int) string {
	switch state {
	case 2:
		return "charging"
	case 3:
		return "full"
	default:
		return "discharging"
	}
}

func (s *Sensors) batteryRecordsTool(ctx context.Context, in *RangeInput) ([]BatteryRecord, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	docs, err := datastore.Fetch[batteryDoc](ctx, s.store, CollectionBattery, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	out := make([]BatteryRecord, 0, len(docs))
	for _, d := range docs {
		if d.BatteryLeft == nil {
			continue
		}
		out = append(out, BatteryRecord{Timestamp: s.format(sp.uid, FromUnix(d.Timestamp)), BatteryLeft: *d.BatteryLeft})
	}
	return out, nil
}

// batteryBlocks covers the range with state runs. The first run starts at
// start_time and the last ends at end_time.
func (s *Sensors) batteryBlocks(ctx context.Context, in *RangeInput) ([]BatteryBlock, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	docs, err := datastore.Fetch[batteryDoc](ctx, s.store, CollectionBattery, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}

	out := []BatteryBlock{}
	emit := func(state string, start, end time.Time) {
		out = append(out, BatteryBlock{
			StartTime:    s.format(sp.uid, start),
			EndTime:      s.format(sp.uid, end),
			BatteryState: state,
			Duration:     round(end.Sub(start).Minutes(), 2),
		})
	}

	state, start := "", sp.from
	for _, d := range docs {
		if d.BatteryState == nil {
			continue
		}
		label := batteryLabel(*d.BatteryState)
		if state == "" {
			state = label
			continue
		}
		if label != state {
			at := FromUnix(d.Timestamp)
			emit(state, start, at)
			state, start = label, at
		}
	}
	if state != "" {
		emit(state, start, sp.to)
	}
	return out, nil
}
