package spatial

import (
	"math"
	"testing"
)

func TestHaversineDistanceSamePointIsZero(t *testing.T) {
	points := []Point{{0, 0}, {90, 0}, {-90, 180}, {39.9042, 116.4074}, {-33.8688, 151.2093}, {51.5, -0.12}}
	for _, p := range points {
		if d := DistanceMeters(p, p); d != 0 {
			t.Errorf("DistanceMeters(%v, %v) = %v, want 0", p, p, d)
		}
	}
}

func TestHaversineDistanceIsSymmetric(t *testing.T) {
	pairs := [][2]Point{
		{{39.9042, 116.4074}, {31.2304, 121.4737}},
		{{-33.8688, 151.2093}, {51.5074, -0.1278}},
		{{0, 179.9}, {0, -179.9}},
		{{89.9, 10}, {-89.9, -170}},
	}
	for _, pair := range pairs {
		ab := DistanceMeters(pair[0], pair[1])
		ba := DistanceMeters(pair[1], pair[0])
		if ab != ba {
			t.Errorf("distance not symmetric: %v vs %v", ab, ba)
		}
		if ab <= 0 {
			t.Errorf("distinct points must have positive distance, got %v", ab)
		}
	}
}

func TestHaversineDistanceKnownValues(t *testing.T) {
	// One degree of latitude on a 6371 km sphere.
	oneDegree := EarthRadiusMeters * math.Pi / 180
	if d := HaversineDistance(0, 0, 1, 0); math.Abs(d-oneDegree) > 1e-6 {
		t.Fatalf("HaversineDistance(0,0,1,0) = %v, want %v", d, oneDegree)
	}

	// Beijing to Shanghai is about 1067 km.
	d := HaversineDistance(39.9042, 116.4074, 31.2304, 121.4737)
	if d < 1_060_000 || d > 1_075_000 {
		t.Fatalf("Beijing-Shanghai = %v m, want ~1067 km", d)
	}
}

func TestPathLength(t *testing.T) {
	if PathLength(nil) != 0 || PathLength([]Point{{1, 1}}) != 0 {
		t.Fatal("paths with fewer than two points have zero length")
	}
	path := []Point{{0, 0}, {1, 0}, {2, 0}}
	want := 2 * HaversineDistance(0, 0, 1, 0)
	if got := PathLength(path); math.Abs(got-want) > 1e-6 {
		t.Fatalf("PathLength = %v, want %v", got, want)
	}
}
