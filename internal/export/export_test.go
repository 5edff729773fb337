package export_test

import (
	"encoding/base64"
	"reflect"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/tripsync/internal/export"
	"github.com/fakeyudi/tripsync/internal/trip"
)

// generateTime produces an arbitrary time.Time value truncated to second
// precision.
func generateTime(t *rapid.T, label string) time.Time {
	sec := rapid.Int64Range(1_000_000_000, 1_700_000_000).Draw(t, label+"_unix_sec")
	return time.Unix(sec, 0).UTC()
}

var text = rapid.StringMatching(`[a-zA-Z0-9 ._|-]{1,20}`)

func generateEntry(t *rapid.T) trip.PendingEntry {
	route := make([]trip.Coordinate, rapid.IntRange(2, 6).Draw(t, "route_len"))
	for i := range route {
		route[i] = trip.Coordinate{
			Latitude:  rapid.Float64Range(-90, 90).Draw(t, "lat"),
			Longitude: rapid.Float64Range(-180, 180).Draw(t, "lon"),
		}
	}
	photos := make([]trip.PhotoCapture, rapid.IntRange(0, 3).Draw(t, "photos"))
	for i := range photos {
		photos[i] = trip.PhotoCapture{
			LocalURI: "/photos/" + text.Draw(t, "uri"),
			Uploaded: rapid.Bool().Draw(t, "uploaded"),
		}
	}
	title := text.Draw(t, "title")
	return trip.PendingEntry{
		TripData: trip.Record{
			UserID:          text.Draw(t, "user"),
			StartedAt:       generateTime(t, "start"),
			EndedAt:         generateTime(t, "end"),
			DistanceKm:      rapid.Float64Range(0, 100).Draw(t, "km"),
			DurationSeconds: rapid.IntRange(0, 86400).Draw(t, "secs"),
			Route:           route,
			Activity:        rapid.SampledFrom(trip.ActivityTypes).Draw(t, "activity"),
			Title:           &title,
		},
		Photos:        photos,
		RemoteTripID:  rapid.SampledFrom([]string{"", "trip-1", "42"}).Draw(t, "remote"),
		TransactionID: text.Draw(t, "txid"),
		QueuedAt:      generateTime(t, "queued"),
		Attempts:      rapid.IntRange(0, 5).Draw(t, "attempts"),
		LastError:     rapid.SampledFrom([]string{"", "create trip: 500"}).Draw(t, "last_error"),
	}
}

func generateArchive(t *rapid.T) *export.Archive {
	entries := make([]trip.PendingEntry, rapid.IntRange(0, 4).Draw(t, "entries"))
	for i := range entries {
		entries[i] = generateEntry(t)
	}
	return export.New(entries, generateTime(t, "exported"))
}

// Feature: tripsync, Property 12: Export round-trip is lossless
func TestExportRoundTrip(t *testing.T) {
	pairs := map[string]struct {
		r export.Renderer
		p export.Parser
	}{
		"json":     {&export.JSONRenderer{}, &export.JSONParser{}},
		"markdown": {&export.MarkdownRenderer{}, &export.MarkdownParser{}},
	}
	for name, pair := range pairs {
		t.Run(name, func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				want := generateArchive(rt)
				data, err := pair.r.Render(want)
				if err != nil {
					rt.Fatalf("Render: %v", err)
				}
				got, err := pair.p.Parse(data)
				if err != nil {
					rt.Fatalf("Parse: %v", err)
				}
				if !reflect.DeepEqual(want, got) {
					rt.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
				}
			})
		})
	}
}

func TestMarkdownReport(t *testing.T) {
	title := "Morning | loop"
	a := export.New([]trip.PendingEntry{{
		TransactionID: "tx-1",
		QueuedAt:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Attempts:      2,
		LastError:     "upload photo: 502",
		Photos:        []trip.PhotoCapture{{LocalURI: "a"}, {LocalURI: "b", Uploaded: true}},
		TripData: trip.Record{
			Activity:        trip.Running,
			DistanceKm:      5,
			DurationSeconds: 1800,
			Title:           &title,
		},
	}}, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))

	data, err := (&export.MarkdownRenderer{}).Render(a)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		"<!-- tripsync-export-version: 1 -->",
		"- Trips: 1",
		"- Photos waiting: 1",
		"| 5.00 km | 30m0s | 1/2 | _not created_ | Morning \\| loop |",
		"## Failures",
		"`tx-1` after 2 attempt(s): upload photo: 502",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestGPXRenderer(t *testing.T) {
	title := "Ridge"
	a := export.New([]trip.PendingEntry{{
		TripData: trip.Record{
			Activity: trip.Hiking,
			Title:    &title,
			Route:    []trip.Coordinate{{Latitude: 46.5, Longitude: 8.1}, {Latitude: 46.6, Longitude: 8.2}},
		},
	}}, time.Now())

	data, err := (&export.GPXRenderer{}).Render(a)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{`<?xml version="1.0"`, `<gpx version="1.1" creator="tripsync"`, "<name>Ridge</name>", "<type>hiking</type>", `<trkpt lat="46.6" lon="8.2"></trkpt>`} {
		if !strings.Contains(out, want) {
			t.Errorf("gpx missing %q:\n%s", want, out)
		}
	}
}

func TestMarkdownParserErrors(t *testing.T) {
	cases := map[string]string{
		"no sentinel": "# Some Document\n\nJust markdown.\n",
		"no payload":  "<!-- tripsync-export-version: 1 -->\n\n# Pending trips\n",
		"bad base64":  "<!-- tripsync-export-version: 1 -->\n<!-- tripsync-data: !!!not-base64!!! -->\n",
		"bad json": "<!-- tripsync-export-version: 1 -->\n<!-- tripsync-data: " +
			base64.StdEncoding.EncodeToString([]byte("{not json")) + " -->\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&export.MarkdownParser{}).Parse([]byte(input))
			if err == nil || !strings.Contains(err.Error(), "not a valid tripsync export") {
				t.Fatalf("expected invalid export error, got %v", err)
			}
		})
	}
}

func TestParserRejectsOtherVersions(t *testing.T) {
	if _, err := (&export.JSONParser{}).Parse([]byte(`{"version":2,"entries":[]}`)); err == nil {
		t.Fatal("expected version error")
	}
}

func TestFormatLookup(t *testing.T) {
	if _, err := export.RendererFor("MD"); err != nil {
		t.Errorf("md alias: %v", err)
	}
	if _, err := export.RendererFor("csv"); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := export.ParserFor("queue.gpx"); err == nil {
		t.Error("gpx must not be importable")
	}
	if p, err := export.ParserFor("queue.json"); err != nil {
		t.Error(err)
	} else if _, ok := p.(*export.JSONParser); !ok {
		t.Errorf("want JSON parser, got %T", p)
	}
}

func TestMergeSkipsKnownTransactions(t *testing.T) {
	queue := []trip.PendingEntry{{TransactionID: "a"}, {TransactionID: "b"}}
	incoming := []trip.PendingEntry{{TransactionID: "b"}, {TransactionID: "c"}, {TransactionID: "c"}, {}}
	merged, added := export.Merge(queue, incoming)
	if added != 1 || len(merged) != 3 || merged[2].TransactionID != "c" {
		t.Fatalf("added %d, merged %+v", added, merged)
	}
}
