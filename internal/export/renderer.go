package export

import (
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/fakeyudi/tripsync/internal/trip"
)

// Renderer serializes an Archive to bytes.
type Renderer interface {
	Render(a *Archive) ([]byte, error)
}

// JSONRenderer renders an Archive as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(a *Archive) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

const (
	versionSentinel = "<!-- tripsync-export-version: 1 -->"
	dataPrefix      = "<!-- tripsync-data: "
	dataSuffix      = " -->"
)

// MarkdownRenderer renders an Archive as a human-readable report with an
// embedded base64 JSON payload for lossless import.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(a *Archive) ([]byte, error) {
	jsonBytes, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal archive: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, encoded, dataSuffix)

	fmt.Fprintf(&sb, "# Pending trips — %s\n\n", a.ExportedAt.Format("2006-01-02 15:04:05 MST"))

	// ## Summary
	var km float64
	waiting := 0
	for i := range a.Entries {
		km += a.Entries[i].TripData.DistanceKm
		waiting += a.Entries[i].PendingPhotos()
	}
	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Trips: %d\n", len(a.Entries))
	fmt.Fprintf(&sb, "- Distance: %.2f km\n", km)
	fmt.Fprintf(&sb, "- Photos waiting: %d\n", waiting)
	sb.WriteString("\n")

	// ## Trips
	sb.WriteString("## Trips\n\n")
	if len(a.Entries) == 0 {
		sb.WriteString("_Nothing waiting to sync._\n\n")
		return []byte(sb.String()), nil
	}
	sb.WriteString("| Queued | Activity | Distance | Duration | Photos | Remote trip | Title |\n")
	sb.WriteString("|--------|----------|----------|----------|--------|-------------|-------|\n")
	for i := range a.Entries {
		e := &a.Entries[i]
		remote := e.RemoteTripID
		if remote == "" {
			remote = "_not created_"
		}
		fmt.Fprintf(&sb, "| %s | %s | %.2f km | %s | %d/%d | %s | %s |\n",
			e.QueuedAt.Format("2006-01-02 15:04:05"),
			e.TripData.Activity,
			e.TripData.DistanceKm,
			time.Duration(e.TripData.DurationSeconds)*time.Second,
			len(e.Photos)-e.PendingPhotos(), len(e.Photos),
			remote,
			cell(e.TripData.Title),
		)
	}
	sb.WriteString("\n")

	// ## Failures
	var failed []*trip.PendingEntry
	for i := range a.Entries {
		if a.Entries[i].LastError != "" {
			failed = append(failed, &a.Entries[i])
		}
	}
	if len(failed) > 0 {
		sb.WriteString("## Failures\n\n")
		for _, e := range failed {
			fmt.Fprintf(&sb, "- `%s` after %d attempt(s): %s\n", e.TransactionID, e.Attempts, e.LastError)
		}
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

func cell(s *string) string {
	if s == nil || *s == "" {
		return ""
	}
	return strings.ReplaceAll(*s, "|", `\|`)
}

// GPXRenderer writes each queued trip as a GPX track. Timestamps are not
// kept in the queue, so track points carry none.
type GPXRenderer struct{}

type gpxOut struct {
	XMLName xml.Name   `xml:"gpx"`
	Version string     `xml:"version,attr"`
	Creator string     `xml:"creator,attr"`
	XMLNS   string     `xml:"xmlns,attr"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name     string     `xml:"name,omitempty"`
	Desc     string     `xml:"desc,omitempty"`
	Type     string     `xml:"type,omitempty"`
	Segments []gpxTrkSeg `xml:"trkseg"`
}

type gpxTrkSeg struct {
	Points []gpxTrkPt `xml:"trkpt"`
}

type gpxTrkPt struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
}

func (r *GPXRenderer) Render(a *Archive) ([]byte, error) {
	doc := gpxOut{Version: "1.1", Creator: "tripsync", XMLNS: "http://www.topografix.com/GPX/1/1"}
	for _, e := range a.Entries {
		seg := gpxTrkSeg{Points: make([]gpxTrkPt, len(e.TripData.Route))}
		for i, c := range e.TripData.Route {
			seg.Points[i] = gpxTrkPt{Lat: c.Latitude, Lon: c.Longitude}
		}
		name := ""
		if e.TripData.Title != nil {
			name = *e.TripData.Title
		}
		if name == "" {
			name = e.TripData.StartedAt.Format("2006-01-02 15:04") + " " + string(e.TripData.Activity)
		}
		desc := ""
		if e.TripData.Description != nil {
			desc = *e.TripData.Description
		}
		doc.Tracks = append(doc.Tracks, gpxTrack{
			Name:     name,
			Desc:     desc,
			Type:     string(e.TripData.Activity),
			Segments: []gpxTrkSeg{seg},
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal gpx: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
