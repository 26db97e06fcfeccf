package sensors

import (
	"context"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

const (
	callIncoming     = "Incoming"
	callConnected    = "Connected"
	callDisconnected = "Disconnected"
)

type callDoc struct {
	Timestamp float64 `json:"timestamp"`
	CallID    string  `json:"callId"`
	CallType  string  `json:"callType"`
	Duration  float64 `json:"duration"`
}

type CallEvent struct {
	Timestamp string  `json:"timestamp"`
	CallID    string  `json:"call_id"`
	CallType  string  `json:"call_type"`
	Duration  float64 `json:"duration"`
}

type CallBlock struct {
	CallTime             string  `json:"call_time"`
	Direction            string  `json:"direction"`
	Status               string  `json:"status"`
	CallDuration         float64 `json:"call_duration"`          // seconds
	PhoneRingingDuration float64 `json:"phone_ringing_duration"` // seconds
}

type CallStats struct {
	TotalTime         float64 `json:"total_time"`
	TotalTimeIncoming float64 `json:"total_time_incoming"`
	TotalTimeOutgoing float64 `json:"total_time_outgoing"`
	TotalCalls        int     `json:"total_calls"`
	TotalCallsIn      int     `json:"total_calls_incoming"`
	TotalCallsOut     int     `json:"total_calls_outgoing"`
}

func (s *Sensors) callLogDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "call log database",
		Info:                   "Contains phone call events (incoming, outgoing, connected, disconnected) with their durations.",
		Device:                 devicePhone,
		AdditionalInstructions: "The call log database records the lifecycle of each phone call. Only calls that were both connected and disconnected are reported as calls.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:          "CALLLOG1",
			Name:        "get_call_log_records",
			Description: "Retrieves the raw call events for a user within a specified time range.",
			Params:      rangeParams("call log data"),
			Returns:     "A list of call events with 'timestamp', 'call_id', 'call_type' and 'duration'.",
		}, s.callRecords),
		bind(registry.FunctionDescriptor{
			ID:          "CALLLOG2",
			Name:        "get_call_blocks",
			Description: "Returns the phone calls a user made or received within a specified time range, including direction, status, call duration and ringing duration.",
			Usecases:    both,
			Params:      rangeParams("call log data"),
			Returns:     "A list of calls with 'call_time', 'direction' (incoming/outgoing), 'status' (answered/missed), 'call_duration' and 'phone_ringing_duration' in seconds.",
			Example:     `[{"call_time": "2024-07-19 12:04:10", "direction": "incoming", "status": "answered", "call_duration": 312.0, "phone_ringing_duration": 6.0}]`,
		}, s.callBlocksTool),
		bind(registry.FunctionDescriptor{
			ID:          "CALLLOG3",
			Name:        "get_call_stats",
			Description: "Calculates the total number of calls and the total call time, split by incoming and outgoing, for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("call log data"),
			Returns:     "A dictionary with total_time, total_time_incoming, total_time_outgoing in seconds and total_calls, total_calls_incoming, total_calls_outgoing.",
			Example:     `{"total_time": 840.0, "total_time_incoming": 312.0, "total_time_outgoing": 528.0, "total_calls": 3, "total_calls_incoming": 1, "total_calls_outgoing": 2}`,
		}, s.callStats),
	), nil
}

func (s *Sensors) callRecords(ctx context.Context, in *RangeInput) ([]CallEvent, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	docs, err := datastore.Fetch[callDoc](ctx, s.store, CollectionCallLog, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	out := make([]CallEvent, 0, len(docs))
	for _, d := range docs {
		out = append(out, CallEvent{
			Timestamp: s.format(sp.uid, FromUnix(d.Timestamp)),
			CallID:    d.CallID,
			CallType:  d.CallType,
			Duration:  d.Duration,
		})
	}
	return out, nil
}

// calls folds call events by call id in first-seen order. Calls missing a
// connected or disconnected event are dropped.
func (s *Sensors) calls(ctx context.Context, uid string, from, to time.Time) ([]CallBlock, error) {
	docs, err := datastore.Fetch[callDoc](ctx, s.store, CollectionCallLog, uid, from, to)
	if err != nil {
		return nil, err
	}
	var order []string
	byID := map[string][]callDoc{}
	for _, d := range docs {
		if _, seen := byID[d.CallID]; !seen {
			order = append(order, d.CallID)
		}
		byID[d.CallID] = append(byID[d.CallID], d)
	}

	out := []CallBlock{}
	for _, id := range order {
		var (
			incoming                bool
			connected, disconnected *callDoc
		)
		for i, ev := range byID[id] {
			switch ev.CallType {
			case callIncoming:
				incoming = true
			case callConnected:
				connected = &byID[id][i]
			case callDisconnected:
				disconnected = &byID[id][i]
			}
		}
		if connected == nil || disconnected == nil {
			continue
		}
		b := CallBlock{
			CallTime:             s.format(uid, FromUnix(connected.Timestamp)),
			Direction:            "outgoing",
			Status:               "answered",
			CallDuration:         disconnected.Duration,
			PhoneRingingDuration: connected.Duration,
		}
		if incoming {
			b.Direction = "incoming"
		}
		if disconnected.Duration == 0 {
			b.Status = "missed"
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Sensors) callBlocksTool(ctx context.Context, in *RangeInput) ([]CallBlock, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.calls(ctx, sp.uid, sp.from, sp.to)
}

func (s *Sensors) callStats(ctx context.Context, in *RangeInput) (*CallStats, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	calls, err := s.calls(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	st := &CallStats{TotalCalls: len(calls)}
	for _, c := range calls {
		st.TotalTime += c.CallDuration
		if c.Direction == "incoming" {
			st.TotalCallsIn++
			st.TotalTimeIncoming += c.CallDuration
		} else {
			st.TotalCallsOut++
			st.TotalTimeOutgoing += c.CallDuration
		}
	}
	return st, nil
}
