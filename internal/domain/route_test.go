package domain

import (
	"math"
	"testing"
	"time"
)

func sampleAt(lat, lon, accuracy float64, ts time.Time) Sample {
	return Sample{Lat: lat, Lon: lon, AccuracyM: accuracy, Timestamp: ts}
}

func TestAddRejectsLowAccuracy(t *testing.T) {
	agg := NewRouteAggregator(25)
	base := time.Now()

	if reason := agg.Add(sampleAt(35.0, 139.0, 80, base)); reason != RejectAccuracy {
		t.Fatalf("expected accuracy rejection, got %q", reason)
	}
	if len(agg.Samples()) != 0 {
		t.Fatalf("route should be unchanged, has %d samples", len(agg.Samples()))
	}
	accuracy, _ := agg.Rejected()
	if accuracy != 1 {
		t.Fatalf("expected 1 accuracy rejection counted, got %d", accuracy)
	}
}

func TestAddRejectsNonIncreasingTimestamps(t *testing.T) {
	agg := NewRouteAggregator(50)
	base := time.Now()

	if reason := agg.Add(sampleAt(35.0, 139.0, 5, base)); reason != RejectNone {
		t.Fatalf("first sample rejected: %q", reason)
	}
	distance := agg.DistanceMeters()

	// Exact replay and an older fix must both be dropped.
	for _, ts := range []time.Time{base, base.Add(-time.Second)} {
		if reason := agg.Add(sampleAt(35.001, 139.001, 5, ts)); reason != RejectOutOfOrder {
			t.Fatalf("expected out-of-order rejection, got %q", reason)
		}
	}
	if len(agg.Samples()) != 1 {
		t.Fatalf("route should still have 1 sample, has %d", len(agg.Samples()))
	}
	if agg.DistanceMeters() != distance {
		t.Fatal("rejected samples must not change the distance sum")
	}
	_, order := agg.Rejected()
	if order != 2 {
		t.Fatalf("expected 2 order rejections counted, got %d", order)
	}
}

func TestSingleSampleRouteIsValid(t *testing.T) {
	agg := NewRouteAggregator(50)
	if reason := agg.Add(sampleAt(35.0, 139.0, 5, time.Now())); reason != RejectNone {
		t.Fatalf("sample rejected: %q", reason)
	}
	if agg.DistanceMeters() != 0 {
		t.Fatalf("single-sample distance = %f, want 0", agg.DistanceMeters())
	}
}

func TestDistanceMatchesPairwiseHaversine(t *testing.T) {
	agg := NewRouteAggregator(50)
	base := time.Now()

	points := []Sample{
		sampleAt(35.6810, 139.7670, 5, base),
		sampleAt(35.6820, 139.7680, 5, base.Add(10*time.Second)),
		sampleAt(35.6835, 139.7695, 5, base.Add(25*time.Second)),
	}

	var want float64
	for i, p := range points {
		if i > 0 {
			want += HaversineMeters(points[i-1].Lat, points[i-1].Lon, p.Lat, p.Lon)
		}
		prev := agg.DistanceMeters()
		if reason := agg.Add(p); reason != RejectNone {
			t.Fatalf("sample %d rejected: %q", i, reason)
		}
		if agg.DistanceMeters() < prev {
			t.Fatal("distance decreased")
		}
	}

	if math.Abs(agg.DistanceMeters()-want) > 1e-9 {
		t.Fatalf("distance = %f, want %f", agg.DistanceMeters(), want)
	}
}

func TestHaversineTokyoBlock(t *testing.T) {
	// One street-grid step in central Tokyo: about 140 meters.
	d := HaversineMeters(35.681, 139.767, 35.682, 139.768)
	if d < 125 || d > 160 {
		t.Fatalf("distance = %f, want roughly 140m", d)
	}
}

func TestHaversineZeroDistance(t *testing.T) {
	if d := HaversineMeters(35.681, 139.767, 35.681, 139.767); d != 0 {
		t.Fatalf("identical points yield %f, want 0", d)
	}
}
