package sensors

import (
	"context"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

const (
	appOpen  = "open"
	appClose = "close"

	recentAppLookBack = 8 * time.Hour
)

type appDoc struct {
	Timestamp float64 `json:"timestamp"`
	AppName   string  `json:"appName"`
	Status    string  `json:"status"`
}

type AppBlock struct {
	App      string  `json:"app"`
	Open     string  `json:"open"`
	Close    string  `json:"close"`
	Duration float64 `json:"duration"` // seconds
}

type AppTotal struct {
	Count         int     `json:"count"`
	TotalDuration float64 `json:"total_duration"` // seconds
}

func (s *Sensors) appUsageDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "app usage database",
		Info:                   "Contains app usage data, including app names, open and close times, and durations.",
		Device:                 devicePhone,
		AdditionalInstructions: "The app usage database provides detailed information about which apps were used, when they were opened and closed, and for how long.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:               "APP1",
			Name:             "get_app_usage_blocks",
			Description:      "Retrieves time blocks of app usage for a given user within a specified time range, including app name, open time, close time, and duration.",
			CallInstructions: "Call this function to get app usage blocks when start_time and end_time are less than 24 hours apart.",
			Usecases:         both,
			Params:           rangeParams("app usage data"),
			Returns:          "A list of app usage blocks with duration in seconds.",
			Example:          `[{"app": "SnapChat", "open": "2024-07-15 17:38:57", "close": "2024-07-15 18:13:32", "duration": 2075.0}]`,
		}, s.appBlocksTool),
		bind(registry.FunctionDescriptor{
			ID:          "APP2",
			Name:        "get_most_recent_app",
			Description: "Gives the app usage block of the most recent app used before the given time, including app name, open time, close time, and duration.",
			Usecases:    both,
			Params:      atParams("app usage data"),
			Returns:     "Most recent app usage block within the previous 8 hours, or null.",
			Example:     `{"app": "SnapChat", "open": "2024-07-15 14:27:39", "close": "2024-07-15 14:27:49", "duration": 10.0}`,
		}, s.mostRecentApp),
		bind(registry.FunctionDescriptor{
			ID:          "APP3",
			Name:        "get_total_app_usage",
			Description: "Counts app sessions and sums the time spent in each app for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("app usage data"),
			Returns:     "A dictionary keyed by app name with 'count' sessions and 'total_duration' in seconds.",
			Example:     `{"SnapChat": {"count": 4, "total_duration": 2301.0}}`,
		}, s.appTotals),
		bind(registry.FunctionDescriptor{
			ID:               "APP4",
			Name:             "get_app_usage_summary",
			Description:      "Retrieves a summary of app usage for a specific user within a given time range based on instructions provided.",
			CallInstructions: summaryInstructions,
			Usecases:         []registry.Usecase{registry.UsecaseFunctionCalling},
			Params:           summaryParams("app usage data"),
			Returns:          "A summary of app usage records based on the provided instructions.",
		}, s.appSummary),
	), nil
}

type appEvent struct {
	at     time.Time
	app    string
	status string
}

// appEvents repairs the raw open/close log so opens and closes pair up. A close
// without a matching open gets an open at the start of its unlocked session, an
// open that interrupts another app closes it, and a dangling open is closed at
// the end of its unlocked session.
func (s *Sensors) appEvents(ctx context.Context, uid string, from, to time.Time) ([]appEvent, error) {
	docs, err := datastore.Fetch[appDoc](ctx, s.store, CollectionAppUsage, uid, from, to)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	locks, err := s.lockSpans(ctx, uid, from, to)
	if err != nil {
		return nil, err
	}
	session := func(t time.Time) (time.Time, time.Time) {
		for _, b := range locks {
			if b.state == stateUnlocked && !t.Before(b.start) && !t.After(b.end) {
				return b.start, b.end
			}
		}
		return from, to
	}

	var out []appEvent
	last := func() (appEvent, bool) {
		if len(out) == 0 {
			return appEvent{}, false
		}
		return out[len(out)-1], true
	}

	for _, d := range docs {
		ev := appEvent{at: FromUnix(d.Timestamp), app: d.AppName, status: d.Status}
		prev, ok := last()
		switch ev.status {
		case appClose:
			if ok && prev.status == appOpen && prev.app == ev.app {
				out = append(out, ev)
				continue
			}
			if ok && prev.status == appOpen {
				out = append(out, appEvent{at: ev.at, app: prev.app, status: appClose})
			}
			openAt, _ := session(ev.at)
			if ok && prev.at.After(openAt) {
				openAt = prev.at
			}
			out = append(out, appEvent{at: openAt, app: ev.app, status: appOpen}, ev)
		case appOpen:
			if ok && prev.status == appOpen {
				out = append(out, appEvent{at: ev.at, app: prev.app, status: appClose})
			}
			out = append(out, ev)
		}
	}
	if prev, ok := last(); ok && prev.status == appOpen {
		_, closeAt := session(prev.at)
		out = append(out, appEvent{at: closeAt, app: prev.app, status: appClose})
	}
	return out, nil
}

func (s *Sensors) appBlocks(ctx context.Context, uid string, from, to time.Time) ([]AppBlock, error) {
	events, err := s.appEvents(ctx, uid, from, to)
	if err != nil {
		return nil, err
	}
	blocks := []AppBlock{}
	for i := 1; i < len(events); i++ {
		open, cl := events[i-1], events[i]
		if open.status != appOpen || cl.status != appClose || open.app != cl.app {
			continue
		}
		blocks = append(blocks, AppBlock{
			App:      open.app,
			Open:     s.format(uid, open.at),
			Close:    s.format(uid, cl.at),
			Duration: cl.at.Sub(open.at).Seconds(),
		})
	}
	return blocks, nil
}

func (s *Sensors) appBlocksTool(ctx context.Context, in *RangeInput) ([]AppBlock, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.appBlocks(ctx, sp.uid, sp.from, sp.to)
}

func (s *Sensors) mostRecentApp(ctx context.Context, in *AtInput) (*AppBlock, error) {
	sp, at, err := s.around(*in, recentAppLookBack, 0)
	if err != nil {
		return nil, err
	}
	blocks, err := s.appBlocks(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	var recent *AppBlock
	for i := range blocks {
		closed, err := s.clock.Parse(sp.uid, blocks[i].Close)
		if err != nil || closed.After(at) {
			break
		}
		recent = &blocks[i]
	}
	return recent, nil
}

func (s *Sensors) appTotals(ctx context.Context, in *RangeInput) (map[string]AppTotal, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	blocks, err := s.appBlocks(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	totals := map[string]AppTotal{}
	for _, b := range blocks {
		t := totals[b.App]
		t.Count++
		t.TotalDuration += b.Duration
		totals[b.App] = t
	}
	return totals, nil
}

func (s *Sensors) appSummary(ctx context.Context, in *SummaryInput) (string, error) {
	return s.summarize(ctx, *in, "App usage sessions on the phone", func(ctx context.Context, uid string, from, to time.Time) (any, error) {
		return s.appBlocks(ctx, uid, from, to)
	})
}
