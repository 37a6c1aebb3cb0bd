package domain

import (
	"math"
	"time"
)

// RejectReason explains why a position sample was not added to the route.
type RejectReason string

const (
	// RejectNone means the sample was accepted.
	RejectNone RejectReason = ""
	// RejectAccuracy means the accuracy radius exceeded the ceiling. Treated
	// as noise and dropped, counted for diagnostics, never an error.
	RejectAccuracy RejectReason = "accuracy_above_ceiling"
	// RejectOutOfOrder means the timestamp was not strictly after the last
	// accepted sample. Replays must not corrupt the distance sum.
	RejectOutOfOrder RejectReason = "timestamp_not_increasing"
)

// DefaultAccuracyCeilingM is the accuracy radius above which fixes are
// treated as noise.
const DefaultAccuracyCeilingM = 50.0

// RouteAggregator filters raw position samples into a monotonically growing
// route and a running distance. Distance is accumulated incrementally, one
// pairwise segment per accepted sample.
type RouteAggregator struct {
	accuracyCeilingM float64
	samples          []Sample
	distanceM        float64
	lastTimestamp    time.Time

	rejectedAccuracy int
	rejectedOrder    int
}

// NewRouteAggregator builds an aggregator with the given accuracy ceiling in
// meters. A non-positive ceiling falls back to the default.
func NewRouteAggregator(accuracyCeilingM float64) *RouteAggregator {
	if accuracyCeilingM <= 0 {
		accuracyCeilingM = DefaultAccuracyCeilingM
	}
	return &RouteAggregator{accuracyCeilingM: accuracyCeilingM}
}

// Add filters one sample. The returned reason is RejectNone when the sample
// was appended to the route.
func (a *RouteAggregator) Add(s Sample) RejectReason {
	if s.AccuracyM > a.accuracyCeilingM {
		a.rejectedAccuracy++
		return RejectAccuracy
	}
	if len(a.samples) > 0 && !s.Timestamp.After(a.lastTimestamp) {
		a.rejectedOrder++
		return RejectOutOfOrder
	}

	if len(a.samples) > 0 {
		prev := a.samples[len(a.samples)-1]
		a.distanceM += HaversineMeters(prev.Lat, prev.Lon, s.Lat, s.Lon)
	}
	a.samples = append(a.samples, s)
	a.lastTimestamp = s.Timestamp
	return RejectNone
}

// Samples returns the accepted route in insertion order.
func (a *RouteAggregator) Samples() []Sample { return a.samples }

// DistanceMeters returns the accumulated route distance. Never decreases.
func (a *RouteAggregator) DistanceMeters() float64 { return a.distanceM }

// Rejected reports how many samples were dropped, by reason.
func (a *RouteAggregator) Rejected() (accuracy, outOfOrder int) {
	return a.rejectedAccuracy, a.rejectedOrder
}

const earthRadiusM = 6371000.0

// HaversineMeters computes the great-circle distance between two points.
// A flat Euclidean approximation drifts noticeably at walking-route
// latitudes once distances exceed a few hundred meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*sinLon*sinLon

	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}
