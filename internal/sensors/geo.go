package sensors

import (
	"math"
	"sort"

	dbscanlib "github.com/mpraski/clusters"
	"gonum.org/v1/gonum/stat"
)

const earthRadiusMeters = 6371008.8

type point struct {
	lat, lon float64
}

// haversine returns the great-circle distance in metres.
func haversine(a, b point) float64 {
	lat1, lat2 := a.lat*math.Pi/180, b.lat*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.lon - a.lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func centroid(pts []point) point {
	var c point
	for _, p := range pts {
		c.lat += p.lat
		c.lon += p.lon
	}
	n := float64(len(pts))
	return point{lat: c.lat / n, lon: c.lon / n}
}

// centermost returns the member closest to the cluster centroid.
func centermost(pts []point) point {
	c := centroid(pts)
	best := pts[0]
	bestD := haversine(best, c)
	for _, p := range pts[1:] {
		if d := haversine(p, c); d < bestD {
			best, bestD = p, d
		}
	}
	return best
}

// dbscan labels each point with a cluster index, or -1 for noise.
// Clusters are renumbered largest first.
func dbscan(pts []point, epsMeters float64, minPts int) (labels []int, clusters int) {
	labels = make([]int, len(pts))
	for i := range labels {
		labels[i] = -1
	}
	if len(pts) == 0 {
		return labels, 0
	}

	c, err := dbscanlib.DBSCAN(minPts, epsMeters, 1, func(a, b []float64) float64 {
		return haversine(point{a[0], a[1]}, point{b[0], b[1]})
	})
	if err != nil {
		return labels, 0
	}
	data := make([][]float64, len(pts))
	for i, p := range pts {
		data[i] = []float64{p.lat, p.lon}
	}
	if err := c.Learn(data); err != nil {
		return labels, 0
	}

	// library clusters are numbered from 1; anything else is noise
	sizes := map[int]int{}
	guesses := c.Guesses()
	for _, g := range guesses {
		if g > 0 {
			sizes[g]++
		}
	}
	order := make([]int, 0, len(sizes))
	for g := range sizes {
		order = append(order, g)
	}
	sort.Slice(order, func(a, b int) bool {
		if sizes[order[a]] != sizes[order[b]] {
			return sizes[order[a]] > sizes[order[b]]
		}
		return order[a] < order[b]
	})
	rank := make(map[int]int, len(order))
	for r, g := range order {
		rank[g] = r
	}
	for i, g := range guesses {
		if r, ok := rank[g]; ok && i < len(labels) {
			labels[i] = r
		}
	}
	return labels, len(order)
}

// entropy is the Shannon entropy of the given ratios.
func entropy(ratios []float64) float64 {
	return stat.Entropy(ratios)
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(values, nil)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
