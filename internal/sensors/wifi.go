package sensors

import (
	"context"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

const notConnected = "not connected"

type wifiDoc struct {
	Timestamp float64 `json:"timestamp"`
	SSID      *string `json:"ssid"`
}

type WifiRecord struct {
	Timestamp string `json:"timestamp"`
	Wifi      string `json:"wifi"`
}

type WifiBlock struct {
	Wifi      string `json:"wifi"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type WifiAt struct {
	Wifi string `json:"wifi"`
}

func (s *Sensors) wifiDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "wifi database",
		Info:                   "Contains the names of the wifi networks the phone was connected to over time.",
		Device:                 devicePhone,
		AdditionalInstructions: "The wifi database records which network the phone was connected to. Network names such as home or office can hint at the user's location.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:               "WIFI0",
			Name:             "get_wifi_records",
			Description:      "Retrieves the raw wifi connection records for a user within a specified time range.",
			CallInstructions: "Call this only when the time range between start_time and end_time is less than 3 hours.",
			Usecases:         both,
			Params:           rangeParams("wifi data"),
			Returns:          "A list of records with 'timestamp' and the connected 'wifi' name, or 'not connected'.",
			Example:          `[{"timestamp": "2024-07-19 08:01:10", "wifi": "HomeNet"}]`,
		}, s.wifiRecordsTool),
		bind(registry.FunctionDescriptor{
			ID:          "WIFI1",
			Name:        "get_wifi_blocks",
			Description: "Returns contiguous periods during which the phone stayed on the same wifi network for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("wifi data"),
			Returns:     "A list of blocks with 'wifi', 'start_time' and 'end_time'.",
			Example:     `[{"wifi": "HomeNet", "start_time": "2024-07-19 00:00:12", "end_time": "2024-07-19 08:40:02"}, {"wifi": "not connected", "start_time": "2024-07-19 08:40:02", "end_time": "2024-07-19 09:10:00"}]`,
		}, s.wifiBlocksTool),
		bind(registry.FunctionDescriptor{
			ID:          "WIFI2",
			Name:        "get_total_wifi_duration",
			Description: "Calculates the total hours spent connected to each wifi network for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("wifi data"),
			Returns:     "A dictionary keyed by wifi name with the total hours as values.",
			Example:     `{"HomeNet": 14.2, "not connected": 3.1}`,
		}, s.wifiTotals),
		bind(registry.FunctionDescriptor{
			ID:               "WIFI3",
			Name:             "get_wifi_summary",
			Description:      "Retrieves a summary of wifi connections for a specific user within a given time range based on instructions provided.",
			CallInstructions: summaryInstructions,
			Usecases:         []registry.Usecase{registry.UsecaseFunctionCalling},
			Params:           summaryParams("wifi data"),
			Returns:          "A summary of wifi connections based on the provided instructions.",
		}, s.wifiSummary),
		bind(registry.FunctionDescriptor{
			ID:          "WIFI5",
			Name:        "get_wifi_at_given_time",
			Description: "Retrieves the wifi network the phone was connected to at a given time.",
			Usecases:    both,
			Params:      atParams("wifi data"),
			Returns:     "A dictionary with the 'wifi' name at the given time, 'not connected' when unknown.",
			Example:     `{"wifi": "HomeNet"}`,
		}, s.wifiAt),
	), nil
}

type timedWifi struct {
	at   time.Time
	name string
}

func (s *Sensors) wifi(ctx context.Context, uid string, from, to time.Time) ([]timedWifi, error) {
	docs, err := datastore.Fetch[wifiDoc](ctx, s.store, CollectionWifi, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]timedWifi, 0, len(docs))
	for _, d := range docs {
		if d.SSID == nil {
			continue
		}
		name := *d.SSID
		if name == "" || name == "nil" {
			name = notConnected
		}
		out = append(out, timedWifi{at: FromUnix(d.Timestamp), name: name})
	}
	return out, nil
}

func (s *Sensors) wifiRecordsTool(ctx context.Context, in *RangeInput) ([]WifiRecord, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	recs, err := s.wifi(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	out := make([]WifiRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, WifiRecord{Timestamp: s.format(sp.uid, r.at), Wifi: r.name})
	}
	return out, nil
}

type wifiSpan struct {
	name       string
	start, end time.Time
}

// wifiSpans groups consecutive records on the same network. The last span ends at to.
func (s *Sensors) wifiSpans(ctx context.Context, uid string, from, to time.Time) ([]wifiSpan, error) {
	recs, err := s.wifi(ctx, uid, from, to)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	var spans []wifiSpan
	cur := wifiSpan{name: recs[0].name, start: recs[0].at}
	for _, r := range recs[1:] {
		if r.name == cur.name {
			continue
		}
		cur.end = r.at
		spans = append(spans, cur)
		cur = wifiSpan{name: r.name, start: r.at}
	}
	cur.end = to
	return append(spans, cur), nil
}

func (s *Sensors) wifiBlocks(ctx context.Context, uid string, from, to time.Time) ([]WifiBlock, error) {
	spans, err := s.wifiSpans(ctx, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]WifiBlock, 0, len(spans))
	for _, b := range spans {
		out = append(out, WifiBlock{Wifi: b.name, StartTime: s.format(uid, b.start), EndTime: s.format(uid, b.end)})
	}
	return out, nil
}

func (s *Sensors) wifiBlocksTool(ctx context.Context, in *RangeInput) ([]WifiBlock, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.wifiBlocks(ctx, sp.uid, sp.from, sp.to)
}

func (s *Sensors) wifiTotals(ctx context.Context, in *RangeInput) (map[string]float64, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	spans, err := s.wifiSpans(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	totals := map[string]float64{}
	for _, b := range spans {
		totals[b.name] += b.end.Sub(b.start).Hours()
	}
	return totals, nil
}

func (s *Sensors) wifiAt(ctx context.Context, in *AtInput) (*WifiAt, error) {
	sp, at, err := s.around(*in, 5*time.Hour, 5*time.Hour)
	if err != nil {
		return nil, err
	}
	spans, err := s.wifiSpans(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	for _, b := range spans {
		if !at.Before(b.start) && at.Before(b.end) {
			return &WifiAt{Wifi: b.name}, nil
		}
	}
	return &WifiAt{Wifi: notConnected}, nil
}

func (s *Sensors) wifiSummary(ctx context.Context, in *SummaryInput) (string, error) {
	return s.summarize(ctx, *in, "Wifi networks the phone was connected to", func(ctx context.Context, uid string, from, to time.Time) (any, error) {
		return s.wifiBlocks(ctx, uid, from, to)
	})
}
