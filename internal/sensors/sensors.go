package sensors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"github.com/Sensemaking-core/server/internal/agent/model"
	errx "github.com/Sensemaking-core/server/internal/core/error"
	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
	logx "github.com/Sensemaking-core/server/pkg/logger"
)

// Collections in the record store.
const (
	CollectionLocation   = "ios_location"
	CollectionActivity   = "ios_activity"
	CollectionHeartRate  = "garmin_hr"
	CollectionAppUsage   = "app_usage_logs"
	CollectionLockUnlock = "ios_lock_unlock"
	CollectionWifi       = "ios_wifi"
	CollectionBattery    = "ios_battery"
	CollectionCallLog    = "ios_calllog"
	CollectionPhoneSteps = "ios_steps"
	CollectionWatchSteps = "garmin_steps"
	CollectionBrightness = "ios_brightness"
	CollectionStress     = "garmin_stress"
)

const (
	devicePhone = "Phone"
	deviceWatch = "Garmin Smartwatch"
)

// maxSummaryWindows bounds the LLM calls a single summary accessor may make.
const maxSummaryWindows = 16

// Summarizer runs the per-window and combination summary calls.
type Summarizer interface {
	Window(ctx context.Context, in model.SummaryWindow) (string, error)
	Combine(ctx context.Context, in model.SummaryCombination) (string, error)
}

// Sensors is the data access layer. Every accessor reads the record store and
// renders timestamps in the user's zone.
type Sensors struct {
	store       datastore.Store
	clock       *Clock
	summarizer  Summarizer
	windowHours int
}

// New builds the accessors. A nil summarizer makes summary accessors fail.
func New(store datastore.Store, clock *Clock, summarizer Summarizer, windowHours int) *Sensors {
	if windowHours <= 0 {
		windowHours = 3
	}
	return &Sensors{store: store, clock: clock, summarizer: summarizer, windowHours: windowHours}
}

// Sources is the static registration list of every database.
func (s *Sensors) Sources() []registry.Source {
	return []registry.Source{
		{Module: "location", Category: registry.CategoryStream, Load: s.locationDatabase},
		{Module: "activity", Category: registry.CategoryStream, Load: s.activityDatabase},
		{Module: "garmin_hr", Category: registry.CategoryStream, Load: s.heartRateDatabase},
		{Module: "app_usage", Category: registry.CategoryStream, Load: s.appUsageDatabase},
		{Module: "lock_unlock", Category: registry.CategoryStream, Load: s.lockUnlockDatabase},
		{Module: "wifi", Category: registry.CategoryStream, Load: s.wifiDatabase},
		{Module: "battery", Category: registry.CategoryStream, Load: s.batteryDatabase},
		{Module: "call_log", Category: registry.CategoryStream, Load: s.callLogDatabase},
		{Module: "phone_steps", Category: registry.CategoryStream, Load: s.phoneStepsDatabase},
		{Module: "garmin_steps", Category: registry.CategoryStream, Load: s.watchStepsDatabase},
		{Module: "brightness", Category: registry.CategoryStream, Load: s.brightnessDatabase},
		{Module: "stress", Category: registry.CategoryModel, Load: s.stressModel},
	}
}

// ===================================
// Accessor inputs
// ===================================

type RangeInput struct {
	UserID    string `json:"user_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type AtInput struct {
	UserID    string `json:"user_id"`
	GivenTime string `json:"given_time"`
}

type SummaryInput struct {
	RangeInput
	Instructions string `json:"instructions"`
}

type AggregationInput struct {
	RangeInput
	Granularity int `json:"granularity,omitempty"`
}

// span is a parsed accessor time range.
type span struct {
	uid      string
	from, to time.Time
}

func (s *Sensors) span(in RangeInput) (span, error) {
	uid := strings.TrimSpace(in.UserID)
	if uid == "" {
		return span{}, fmt.Errorf("%w: user_id is required", errx.ErrInvalidArgument)
	}
	from, err := s.clock.Parse(uid, in.StartTime)
	if err != nil {
		return span{}, err
	}
	to, err := s.clock.Parse(uid, in.EndTime)
	if err != nil {
		return span{}, err
	}
	if to.Before(from) {
		return span{}, fmt.Errorf("%w: end_time %s is before start_time %s", errx.ErrInvalidArgument, in.EndTime, in.StartTime)
	}
	return span{uid: uid, from: from, to: to}, nil
}

// around parses a given time and returns the window [t-before, t+after].
func (s *Sensors) around(in AtInput, before, after time.Duration) (span, time.Time, error) {
	uid := strings.TrimSpace(in.UserID)
	if uid == "" {
		return span{}, time.Time{}, fmt.Errorf("%w: user_id is required", errx.ErrInvalidArgument)
	}
	at, err := s.clock.Parse(uid, in.GivenTime)
	if err != nil {
		return span{}, time.Time{}, err
	}
	return span{uid: uid, from: at.Add(-before), to: at.Add(after)}, at, nil
}

func (s *Sensors) format(uid string, t time.Time) string {
	return s.clock.Format(uid, t)
}

// ===================================
// Registration helpers
// ===================================

type accessor struct {
	desc registry.FunctionDescriptor
	run  tool.InvokableTool
}

func bind[I, O any](fd registry.FunctionDescriptor, fn func(ctx context.Context, in I) (O, error)) accessor {
	return accessor{desc: fd, run: utils.NewTool[I, O](fd.ToolInfo(), fn)}
}

func definition(db *registry.DatabaseDescriptor, accessors ...accessor) registry.Definition {
	def := registry.Definition{
		Descriptor: db,
		Functions:  make([]registry.FunctionDescriptor, 0, len(accessors)),
		Refs:       make(map[string]tool.InvokableTool, len(accessors)),
	}
	for _, a := range accessors {
		def.Functions = append(def.Functions, a.desc)
		def.Refs[a.desc.Name] = a.run
	}
	return def
}

var both = []registry.Usecase{registry.UsecaseFunctionCalling, registry.UsecaseCodeGeneration}

func userParam(subject string) registry.Param {
	return registry.Param{
		Name:        "user_id",
		Type:        registry.TypeString,
		Description: fmt.Sprintf("The unique identifier for the user whose %s is to be fetched.", subject),
		Required:    true,
	}
}

func rangeParams(subject string) []registry.Param {
	return []registry.Param{
		userParam(subject),
		{Name: "start_time", Type: registry.TypeString, Required: true,
			Description: fmt.Sprintf("The start of the time range for which %s is required, in the format 'YYYY-MM-DD HH:MM:SS'.", subject)},
		{Name: "end_time", Type: registry.TypeString, Required: true,
			Description: fmt.Sprintf("The end of the time range for which %s is required, in the format 'YYYY-MM-DD HH:MM:SS'.", subject)},
	}
}

func atParams(subject string) []registry.Param {
	return []registry.Param{
		userParam(subject),
		{Name: "given_time", Type: registry.TypeString, Required: true,
			Description: "The specific timestamp in 'YYYY-MM-DD HH:MM:SS' format."},
	}
}

func summaryParams(subject string) []registry.Param {
	return append(rangeParams(subject), registry.Param{
		Name: "instructions", Type: registry.TypeString, Required: true,
		Description: "Instructions or requests that need to be considered while generating the summary.",
	})
}

const summaryInstructions = "Use this function for qualitative/subjective requests. Only call this function when other functions can't answer the query. Do not call this function if start_time and end_time are more than 24 hours apart."

// ===================================
// Windowed summaries
// ===================================

type windowFetch func(ctx context.Context, uid string, from, to time.Time) (any, error)

// summarize runs one summary call per window, carrying the previous window's
// summary forward, then combines the window summaries when there is more than one.
func (s *Sensors) summarize(ctx context.Context, in SummaryInput, kind string, fetch windowFetch) (string, error) {
	if s.summarizer == nil {
		return "", errx.Unavailable("summaries are not configured")
	}
	sp, err := s.span(in.RangeInput)
	if err != nil {
		return "", err
	}
	window := time.Duration(s.windowHours) * time.Hour
	if n := int(sp.to.Sub(sp.from)/window) + 1; n > maxSummaryWindows {
		return "", fmt.Errorf("%w: range needs %d summary windows, limit is %d", errx.ErrInvalidArgument, n, maxSummaryWindows)
	}

	var (
		summaries []string
		previous  string
	)
	for cur := sp.from; cur.Before(sp.to); cur = cur.Add(window) {
		next := cur.Add(window)
		values, err := fetch(ctx, sp.uid, cur, next)
		if err != nil {
			return "", err
		}
		summary, err := s.summarizer.Window(ctx, model.SummaryWindow{
			Type:         kind,
			Instructions: in.Instructions,
			WindowHours:  s.windowHours,
			Values:       values,
			Previous:     previous,
		})
		if err != nil {
			return "", fmt.Errorf("summarize window starting %s: %w", s.format(sp.uid, cur), err)
		}
		logx.Debug().Str("type", kind).Str("window", s.format(sp.uid, cur)).Msg("Summarized window")
		summaries = append(summaries, summary)
		previous = summary
	}

	switch len(summaries) {
	case 0:
		return "", nil
	case 1:
		return summaries[0], nil
	}
	return s.summarizer.Combine(ctx, model.SummaryCombination{
		Type:         kind,
		Instructions: in.Instructions,
		WindowHours:  s.windowHours,
		Summaries:    summaries,
	})
}

// closest returns the index of the element whose time is nearest to at, or -1.
func closest[T any](items []T, at time.Time, timeOf func(T) time.Time) int {
	best := -1
	var bestDiff time.Duration
	for i, it := range items {
		d := timeOf(it).Sub(at)
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}
