package sensors

import (
	"context"
	"math"
	"time"

	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/registry"
)

const (
	maxLocationAccuracy = 100.0 // metres
	clusterEpsMeters    = 30.0
	nearCenterMeters    = 50.0
	pathMoveMeters      = 100.0
	pathGap             = 10 * time.Minute
	maxStayGap          = 30 * time.Minute
	trailingStay        = 1000 * time.Second
)

type locationDoc struct {
	Timestamp float64 `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Accuracy  float64 `json:"accuracy"`
}

type LocationRecord struct {
	Timestamp string  `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

type LocationMetrics struct {
	TotalTimeAllCenters       float64 `json:"total_time_all_centers"` // minutes
	MaxDisplacement           float64 `json:"max_displacement"`
	DistanceSum               float64 `json:"distance_sum"`
	NumLocVisited             int     `json:"num_loc_visited"`
	DisplacementSum           float64 `json:"displacement_sum"`
	RadiusOfGyration          float64 `json:"radius_of_gyration"`
	LocationEntropy           float64 `json:"location_entropy"`
	NormalizedLocationEntropy float64 `json:"normalized_location_entropy"`
}

type LocationPath struct {
	StartingPoint LocationRecord `json:"starting_point"`
	EndPoint      LocationRecord `json:"end_point"`
	Duration      float64        `json:"duration"` // seconds
}

func (s *Sensors) locationDatabase() (registry.Definition, error) {
	db := &registry.DatabaseDescriptor{
		Name:                   "location database",
		Info:                   "Contains GPS location data (latitude, longitude, altitude) recorded via the phone.",
		Device:                 devicePhone,
		AdditionalInstructions: "The location database can be used to detect activity related to the location, such as home, work, entertainment, etc. It can also detect speed to identify activity like riding train, bus, cycling. Do all calculation in latitude and longitude values.",
	}
	return definition(db,
		bind(registry.FunctionDescriptor{
			ID:               "LOC1",
			Name:             "get_location_records",
			Description:      "Retrieves raw GPS location records for a specific user within a given time range.",
			CallInstructions: "Call this only when the time range between start_time and end_time is less than 3 hours.",
			Usecases:         both,
			Params:           rangeParams("location trace"),
			Returns:          "A list of GPS records containing latitude, longitude, and altitude.",
			Example:          `[{"timestamp": "2024-07-09 12:12:29", "latitude": 42.329721, "longitude": -71.091918, "altitude": 15.27495}]`,
		}, s.locationRecordsTool),
		bind(registry.FunctionDescriptor{
			ID:          "LOC2",
			Name:        "get_location_statistical_metrics",
			Description: "Calculates various statistical metrics related to the user's GPS location data within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("location metrics"),
			Returns:     "total_time_all_centers (minutes at significant locations), max_displacement (metres between significant locations), distance_sum (metres travelled), num_loc_visited, displacement_sum (metres between successive significant locations), radius_of_gyration, location_entropy and normalized_location_entropy. null when fewer than two records exist.",
			Example:     `{"total_time_all_centers": 720.5, "max_displacement": 3843.7, "distance_sum": 22688.6, "num_loc_visited": 4, "displacement_sum": 5083.1, "radius_of_gyration": 1532.2, "location_entropy": 0.91, "normalized_location_entropy": 0.66}`,
		}, s.locationMetrics),
		bind(registry.FunctionDescriptor{
			ID:          "LOC3",
			Name:        "get_location_paths",
			Description: "Extracts distinct paths taken by a user based on GPS location data within a specified time range.",
			Usecases:    both,
			Params:      rangeParams("location paths"),
			Returns:     "Starting and end point of every path taken with its duration in seconds.",
			Example:     `[{"starting_point": {"timestamp": "2024-07-09 12:12:29", "latitude": 42.329721, "longitude": -71.091918, "altitude": 15.27}, "end_point": {"timestamp": "2024-07-09 12:40:02", "latitude": 42.3401, "longitude": -71.0892, "altitude": 12.1}, "duration": 1653}]`,
		}, s.locationPaths),
		bind(registry.FunctionDescriptor{
			ID:          "LOC5",
			Name:        "get_location_at_given_time",
			Description: "Retrieves the GPS location record closest to a given timestamp for a specific user.",
			Usecases:    both,
			Params:      atParams("location"),
			Returns:     "A dictionary containing the location and the given time, or an empty object when nothing was recorded within 10 minutes.",
			Example:     `{"latitude": 42.329721, "longitude": -71.091918, "altitude": 15.27495, "timestamp": "2024-07-09 12:12:00"}`,
		}, s.locationAt),
		bind(registry.FunctionDescriptor{
			ID:               "LOC7",
			Name:             "get_location_summary",
			Description:      "Retrieves a summary of GPS location records for a specific user within a given time range based on instructions provided.",
			CallInstructions: summaryInstructions,
			Usecases:         []registry.Usecase{registry.UsecaseFunctionCalling},
			Params:           summaryParams("location trace"),
			Returns:          "A summary of location coordinates based on the provided instructions.",
		}, s.locationSummary),
	), nil
}

type fix struct {
	at time.Time
	point
	altitude float64
}

// fixes returns accurate location fixes. perMinute keeps at most one fix per 65 seconds.
func (s *Sensors) fixes(ctx context.Context, uid string, from, to time.Time, perMinute bool) ([]fix, error) {
	docs, err := datastore.Fetch[locationDoc](ctx, s.store, CollectionLocation, uid, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]fix, 0, len(docs))
	var last float64
	for _, d := range docs {
		if d.Accuracy >= maxLocationAccuracy {
			continue
		}
		if perMinute {
			if d.Timestamp-last <= 65 {
				continue
			}
			last = d.Timestamp
		}
		out = append(out, fix{
			at:       FromUnix(d.Timestamp),
			point:    point{lat: d.Latitude, lon: d.Longitude},
			altitude: d.Altitude,
		})
	}
	return out, nil
}

func (s *Sensors) record(uid string, f fix) LocationRecord {
	return LocationRecord{
		Timestamp: s.format(uid, f.at),
		Latitude:  f.lat,
		Longitude: f.lon,
		Altitude:  f.altitude,
	}
}

func (s *Sensors) locationRecords(ctx context.Context, uid string, from, to time.Time) ([]LocationRecord, error) {
	fs, err := s.fixes(ctx, uid, from, to, false)
	if err != nil {
		return nil, err
	}
	out := make([]LocationRecord, 0, len(fs))
	for _, f := range fs {
		out = append(out, s.record(uid, f))
	}
	return out, nil
}

func (s *Sensors) locationRecordsTool(ctx context.Context, in *RangeInput) ([]LocationRecord, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	return s.locationRecords(ctx, sp.uid, sp.from, sp.to)
}

func (s *Sensors) locationAt(ctx context.Context, in *AtInput) (map[string]any, error) {
	sp, at, err := s.around(*in, 10*time.Minute, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	fs, err := s.fixes(ctx, sp.uid, sp.from, sp.to, false)
	if err != nil {
		return nil, err
	}
	i := closest(fs, at, func(f fix) time.Time { return f.at })
	if i < 0 {
		return map[string]any{}, nil
	}
	return map[string]any{
		"latitude":  fs[i].lat,
		"longitude": fs[i].lon,
		"altitude":  fs[i].altitude,
		"timestamp": in.GivenTime,
	}, nil
}

// locationMetrics clusters minute-sampled fixes into significant locations and
// derives mobility features from them.
func (s *Sensors) locationMetrics(ctx context.Context, in *RangeInput) (*LocationMetrics, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	fs, err := s.fixes(ctx, sp.uid, sp.from, sp.to, true)
	if err != nil {
		return nil, err
	}
	if len(fs) < 2 {
		return nil, nil
	}
	return computeMetrics(fs, sp.from, sp.to), nil
}

func computeMetrics(fs []fix, from, to time.Time) *LocationMetrics {
	pts := make([]point, len(fs))
	for i, f := range fs {
		pts[i] = f.point
	}
	labels, k := dbscan(pts, clusterEpsMeters, 2)

	members := make([][]point, k)
	for i, l := range labels {
		if l >= 0 {
			members[l] = append(members[l], pts[i])
		}
	}
	centers := make([]point, k)
	for c := range members {
		centers[c] = centermost(members[c])
	}

	total := fs[len(fs)-1].at.Sub(fs[0].at)
	if window := to.Sub(from); window < total {
		total = window
	}

	m := &LocationMetrics{NumLocVisited: k, TotalTimeAllCenters: total.Minutes()}
	stay := make([]float64, k)
	ratios := make([]float64, k)
	for c, center := range centers {
		if c > 0 {
			d := haversine(centers[c-1], center)
			m.MaxDisplacement = math.Max(m.MaxDisplacement, d)
			m.DisplacementSum += d
		}
		stay[c] = timeNear(fs, center, from, to).Seconds()
		if total > 0 {
			ratios[c] = stay[c] / total.Seconds()
		}
	}

	if k > 0 && total > 0 {
		g := centroid(centers)
		var sum float64
		for c, center := range centers {
			d := haversine(g, center)
			sum += stay[c] * d * d
		}
		m.RadiusOfGyration = math.Sqrt(sum / total.Seconds())
	}
	m.LocationEntropy = entropy(ratios)
	if m.LocationEntropy != 0 && k > 1 {
		m.NormalizedLocationEntropy = m.LocationEntropy / math.Log(float64(k))
	}

	// travelled distance with cluster members snapped to the cluster mean
	snapped := make([]point, len(pts))
	copy(snapped, pts)
	for c := range members {
		mean := centroid(members[c])
		for i, l := range labels {
			if l == c {
				snapped[i] = mean
			}
		}
	}
	for i := 1; i < len(snapped); i++ {
		m.DistanceSum += haversine(snapped[i-1], snapped[i])
	}
	return m
}

// timeNear accumulates time spent within nearCenterMeters of center. Gaps longer
// than maxStayGap are not counted.
func timeNear(fs []fix, center point, from, to time.Time) time.Duration {
	var total time.Duration
	prev := from
	for _, f := range fs {
		if haversine(f.point, center) >= nearCenterMeters {
			continue
		}
		if gap := f.at.Sub(prev); gap < maxStayGap {
			total += gap
		}
		prev = f.at
	}
	if tail := to.Sub(prev); tail < trailingStay {
		total += tail
	}
	return total
}

// locationPaths splits minute-sampled fixes into paths: a fix starts moving when it is
// more than pathMoveMeters from the previous one, and a new path begins after pathGap
// without movement.
func (s *Sensors) locationPaths(ctx context.Context, in *RangeInput) ([]LocationPath, error) {
	sp, err := s.span(*in)
	if err != nil {
		return nil, err
	}
	fs, err := s.fixes(ctx, sp.uid, sp.from, sp.to, true)
	if err != nil {
		return nil, err
	}

	paths := []LocationPath{}
	if len(fs) == 0 {
		return paths, nil
	}

	var current []fix
	lastMoving := fs[0]
	flush := func() {
		if len(current) > 1 {
			first, last := current[0], current[len(current)-1]
			paths = append(paths, LocationPath{
				StartingPoint: s.record(sp.uid, first),
				EndPoint:      s.record(sp.uid, last),
				Duration:      last.at.Sub(first.at).Seconds(),
			})
		}
		current = nil
	}
	for i, f := range fs {
		if i > 0 && haversine(f.point, fs[i-1].point) <= pathMoveMeters {
			continue
		}
		if f.at.Sub(lastMoving.at) >= pathGap {
			flush()
		}
		current = append(current, f)
		lastMoving = f
	}
	flush()
	return paths, nil
}

func (s *Sensors) locationSummary(ctx context.Context, in *SummaryInput) (string, error) {
	return s.summarize(ctx, *in, "GPS location coordinates recorded via phone", func(ctx context.Context, uid string, from, to time.Time) (any, error) {
		return s.locationRecords(ctx, uid, from, to)
	})
}
