package sensors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Boston to New York is roughly 306 km
	d := haversine(point{42.3601, -71.0589}, point{40.7128, -74.0060})
	assert.InDelta(t, 306_000, d, 2_000)
}

func TestHaversineProperties(t *testing.T) {
	gen := rapid.Custom(func(t *rapid.T) point {
		return point{
			lat: rapid.Float64Range(-89, 89).Draw(t, "lat"),
			lon: rapid.Float64Range(-180, 180).Draw(t, "lon"),
		}
	})
	rapid.Check(t, func(t *rapid.T) {
		a, b := gen.Draw(t, "a"), gen.Draw(t, "b")
		ab, ba := haversine(a, b), haversine(b, a)
		if ab < 0 || math.IsNaN(ab) {
			t.Fatalf("distance %v", ab)
		}
		if math.Abs(ab-ba) > 1e-6 {
			t.Fatalf("asymmetric: %v vs %v", ab, ba)
		}
		if haversine(a, a) != 0 {
			t.Fatalf("self distance not zero")
		}
	})
}

func TestDBSCANOrdersClustersBySize(t *testing.T) {
	home := point{42.3297, -71.0919}
	work := point{42.3601, -71.0589}
	pts := []point{
		work, work, work, // smaller cluster seen first
		home, home, home, home,
		{40.7128, -74.0060}, // noise
	}
	labels, k := dbscan(pts, 30, 2)
	assert.Equal(t, 2, k)
	assert.Equal(t, []int{1, 1, 1, 0, 0, 0, 0, -1}, labels)
}

func TestDBSCANEmptyInput(t *testing.T) {
	labels, k := dbscan(nil, 30, 2)
	assert.Zero(t, k)
	assert.Empty(t, labels)
}

func TestDBSCANLabelsAreConsistent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		pts := make([]point, n)
		for i := range pts {
			pts[i] = point{
				lat: 42.33 + rapid.Float64Range(0, 0.002).Draw(t, "dlat"),
				lon: -71.09 + rapid.Float64Range(0, 0.002).Draw(t, "dlon"),
			}
		}
		labels, k := dbscan(pts, 30, 2)
		sizes := make([]int, k)
		for _, l := range labels {
			if l < -1 || l >= k {
				t.Fatalf("label %d out of range for %d clusters", l, k)
			}
			if l >= 0 {
				sizes[l]++
			}
		}
		for c := 1; c < k; c++ {
			if sizes[c] > sizes[c-1] {
				t.Fatalf("cluster %d larger than %d", c, c-1)
			}
		}
	})
}

func TestEntropyAndStats(t *testing.T) {
	assert.Equal(t, 0.0, entropy([]float64{1}))
	assert.InDelta(t, math.Log(2), entropy([]float64{0.5, 0.5}), 1e-12)

	mean, std := meanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-12)
	assert.InDelta(t, 2.0, std, 1e-12)

	mean, std = meanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)
	assert.Equal(t, 0.0, entropy([]float64{1, 0}), "zero ratios contribute nothing")
	assert.Equal(t, 1.23, round(1.2349, 2))
}
