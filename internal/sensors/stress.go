package sensors

import (
	"context"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

type stressDoc struct {
	Timestamp  float64 `json:"timestamp"`
	ProbStress float64 `json:"prob_stress"`
}

type StressPrediction struct {
	Timestamp         string  `json:"timestamp"`
	StressProbability float64 `json:"stress_probability"`
}

type StressPoint struct {
	Time              string  `json:"time"`
	StressProbability float64 `json:"stress_probability"`
}

type StressAggregation struct {
	AggregatedData []StressPoint `json:"aggregated_data"`
	MeanStress     float64       `json:"mean_stress"`
	StdDevStress   float64       `json:"std_dev_stress"`
}

// stressModel registers predictions from the stress classifier run over
// Garmin inter-beat intervals.
func (s *Sensors) stressModel() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "garmin stress database",
		Info:                   "Contains physiological stress predictions from inter-beat interval data recorded from the Garmin smartwatch. Physiological stress might not always be the same as psychological stress. The predictions are stress probabilities, with values near 1 meaning more stressed.",
		Device:                 deviceWatch,
		AdditionalInstructions: "The garmin stress database provides physiological stress predictions based on heart rate variability. Physiological stress may differ from psychological stress, so treat it as a bodily signal rather than the user's mood.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:          "STRESS1",
			Name:        "get_stress_predictions",
			Description: "Retrieves the per-minute stress probability predicted from Garmin heart rate data for a user within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("stress predictions"),
			Returns:     "A list of predictions with 'timestamp' and 'stress_probability' between 0 and 1.",
			Example:     `[{"timestamp": "2024-07-19 14:01:00", "stress_probability": 0.73}]`,
		}, s.stressPredictionsTool),
		bind(registry.FunctionDescriptor{
			ID:          "STRESS3",
			Name:        "get_stress_aggregation",
			Description: "Averages stress probability over fixed windows of 'granularity' minutes and reports the overall mean and standard deviation for a user within a specified time range.",
			Usecases:    both,
			Params: append(rangeParams("stress predictions"), registry.Param{
				Name: "granularity", Type: registry.TypeInteger,
				Description: "Window size in minutes used to average predictions. Defaults to 1.",
			}),
			Returns: "A dictionary with 'aggregated_data' (time and stress_probability per window), 'mean_stress' and 'std_dev_stress'. Both are -1 when there is no data.",
			Example: `{"aggregated_data": [{"time": "2024-07-19 14:00:00", "stress_probability": 0.61}], "mean_stress": 0.61, "std_dev_stress": 0.0}`,
		}, s.stressAggregation),
	), nil
}

type timedStress struct {
	at   time.Time
	prob float64
}

func (s *Sensors) stress(ctx context.Context, uid string, from, to time.Time) ([]timedStress, error) {
	docs, err := datastore.Fetch[stressDoc](ctx, s.store, CollectionStress, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]timedStress, 0, len(docs))
	for _, d := range docs {
		out = append(out, timedStress{at: FromUnix(d.Timestamp), prob: d.ProbStress})
	}
	return out, nil
}

func (s *Sensors) stressPredictionsTool(ctx context.Context, in *RangeInput) ([]StressPrediction, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	recs, err := s.stress(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	out := make([]StressPrediction, 0, len(recs))
	for _, r := range recs {
		out = append(out, StressPrediction{Timestamp: s.format(sp.uid, r.at), StressProbability: r.prob})
	}
	return out, nil
}

// stressAggregation buckets predictions into windows aligned to start_time.
func (s *Sensors) stressAggregation(ctx context.Context, in *AggregationInput) (*StressAggregation, error) {
	sp, err := s.span(in.RangeInput)
	if err != nil {
		return nil, err
	}
	granularity := in.Granularity
	if granularity <= 0 {
		granularity = 1
	}
	recs, err := s.stress(ctx, sp.uid, sp.from, sp.to)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return &StressAggregation{AggregatedData: []StressPoint{}, MeanStress: -1, StdDevStress: -1}, nil
	}

	step := time.Duration(granularity) * time.Minute
	var (
		points []StressPoint
		bucket = -1
		sum    float64
		n      int
		values = make([]float64, 0, len(recs))
	)
	flush := func() {
		if n == 0 {
			return
		}
		start := sp.from.Add(time.Duration(bucket) * step)
		points = append(points, StressPoint{Time: s.format(sp.uid, start), StressProbability: round(sum/float64(n), 4)})
	}
	for _, r := range recs {
		values = append(values, r.prob)
		b := int(r.at.Sub(sp.from) / step)
		if b != bucket {
			flush()
			bucket, sum, n = b, 0, 0
		}
		sum += r.prob
		n++
	}
	flush()

	mean, std := meanStd(values)
	return &StressAggregation{AggregatedData: points, MeanStress: round(mean, 4), StdDevStress: round(std, 4)}, nil
}
