package location

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"
)

type gpxDoc struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name     string       `xml:"name"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat       float64  `xml:"lat,attr"`
	Lon       float64  `xml:"lon,attr"`
	Elevation *float64 `xml:"ele"`
	Time      string   `xml:"time"`
}

// ParseGPX flattens every track segment into positions. Points without a
// time are spaced one second after the previous point.
func ParseGPX(r io.Reader) ([]Position, error) {
	var doc gpxDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}
	var out []Position
	var prev time.Time
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, pt := range seg.Points {
				ts := prev.Add(time.Second)
				if pt.Time != "" {
					parsed, err := time.Parse(time.RFC3339, pt.Time)
					if err != nil {
						return nil, fmt.Errorf("parse gpx time %q: %w", pt.Time, err)
					}
					ts = parsed
				}
				prev = ts
				out = append(out, Position{
					Latitude:  pt.Lat,
					Longitude: pt.Lon,
					Altitude:  pt.Elevation,
					Timestamp: ts,
				})
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("gpx has no track points")
	}
	return out, nil
}

// GPXReplay replays a recorded track as if it were live.
type GPXReplay struct {
	points []Position
	// Speed divides the recorded gaps between points; 0 replays instantly.
	Speed float64

	mu       sync.Mutex
	last     *Position
	watching bool
	done     chan struct{}
}

// OpenGPX loads a replay source from a file.
func OpenGPX(path string, speed float64) (*GPXReplay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	points, err := ParseGPX(f)
	if err != nil {
		return nil, err
	}
	return NewGPXReplay(points, speed), nil
}

// NewGPXReplay replays points.
func NewGPXReplay(points []Position, speed float64) *GPXReplay {
	return &GPXReplay{points: points, Speed: speed, done: make(chan struct{})}
}

func (g *GPXReplay) RequestForegroundPermission(context.Context) (bool, error) {
	return true, nil
}

// CurrentPosition is the last replayed fix, or the first point before replay.
func (g *GPXReplay) CurrentPosition(context.Context) (Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last != nil {
		return *g.last, nil
	}
	return g.points[0], nil
}

// Done is closed once the whole track has been delivered or the watch ended.
func (g *GPXReplay) Done() <-chan struct{} { return g.done }

// WatchPosition delivers points in order on its own goroutine, dropping
// points closer than opts allows to the last delivered one.
func (g *GPXReplay) WatchPosition(ctx context.Context, opts WatchOptions, callback func(Position)) (Subscription, error) {
	g.mu.Lock()
	if g.watching {
		g.mu.Unlock()
		return nil, errors.New("gpx replay already watched")
	}
	g.watching = true
	g.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(g.done)
		var prev *Position
		for i, pt := range g.points {
			if i > 0 && g.Speed > 0 {
				gap := pt.Timestamp.Sub(g.points[i-1].Timestamp)
				if gap > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Duration(float64(gap) / g.Speed)):
					}
				}
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			if prev != nil && !due(*prev, pt, opts) {
				continue
			}
			p := pt
			prev = &p
			g.mu.Lock()
			g.last = &p
			g.mu.Unlock()
			callback(pt)
		}
	}()
	return subscriptionFunc(cancel), nil
}

// due reports whether next is far enough from prev in time and space.
func due(prev, next Position, opts WatchOptions) bool {
	if opts.TimeInterval > 0 && next.Timestamp.Sub(prev.Timestamp) < opts.TimeInterval {
		return false
	}
	if opts.MinDistanceMeters > 0 && metersBetween(prev, next) < opts.MinDistanceMeters {
		return false
	}
	return true
}

// metersBetween is an equirectangular approximation, adequate for the few
// meters the delivery filter compares against.
func metersBetween(a, b Position) float64 {
	const earthRadiusM = 6371000.0
	rad := math.Pi / 180
	x := (b.Longitude - a.Longitude) * rad * math.Cos((a.Latitude+b.Latitude)/2*rad)
	y := (b.Latitude - a.Latitude) * rad
	return math.Hypot(x, y) * earthRadiusM
}
