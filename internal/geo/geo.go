// Package geo accumulates a GPS route and derives distance and pace from it.
package geo

import (
	"math"

	"github.com/fakeyudi/tripsync/internal/trip"
)

// EarthRadiusKm is the mean Earth radius used by HaversineKm.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Sampler is the route accumulator of one recording session. It is not safe
// for concurrent use; the recorder serialises access.
type Sampler struct {
	route      []trip.LocationSample
	distanceKm float64
	paceKmH    float64
}

// NewSampler returns an empty sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

// NewSamplerFrom rebuilds a sampler by replaying a persisted route.
func NewSamplerFrom(route []trip.LocationSample) *Sampler {
	s := NewSampler()
	for _, sample := range route {
		s.AddSample(sample)
	}
	return s
}

// AddSample appends sample. Distance grows only for positive steps and pace
// is recomputed only when both the step and the elapsed time are positive.
// Coordinates are not validated.
func (s *Sampler) AddSample(sample trip.LocationSample) {
	if n := len(s.route); n > 0 {
		last := s.route[n-1]
		d := HaversineKm(last.Latitude, last.Longitude, sample.Latitude, sample.Longitude)
		if d > 0 {
			s.distanceKm += d
			if elapsedMs := sample.TimestampMs - last.TimestampMs; elapsedMs > 0 {
				s.paceKmH = d / (float64(elapsedMs) / 3_600_000)
			}
		}
	}
	s.route = append(s.route, sample)
}

// Reset clears the route and the derived values.
func (s *Sampler) Reset() {
	s.route = nil
	s.distanceKm = 0
	s.paceKmH = 0
}

func (s *Sampler) DistanceKm() float64 { return s.distanceKm }

// PaceKmH is the pace of the most recent positive step.
func (s *Sampler) PaceKmH() float64 { return s.paceKmH }

func (s *Sampler) Len() int { return len(s.route) }

// Route returns a copy of the accumulated samples.
func (s *Sampler) Route() []trip.LocationSample {
	out := make([]trip.LocationSample, len(s.route))
	copy(out, s.route)
	return out
}

// Last returns the newest sample, if any.
func (s *Sampler) Last() (trip.LocationSample, bool) {
	if len(s.route) == 0 {
		return trip.LocationSample{}, false
	}
	return s.route[len(s.route)-1], true
}
