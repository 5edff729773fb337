// Package export writes the pending queue out as a portable archive and reads
// it back, so queued trips can move between machines or storage backends.
package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fakeyudi/tripsync/internal/trip"
)

// Version is the archive format version.
const Version = 1

// Archive is a snapshot of the pending queue.
type Archive struct {
	Version    int                 `json:"version"`
	ExportedAt time.Time           `json:"exported_at"`
	Entries    []trip.PendingEntry `json:"entries"`
}

// New wraps entries in an archive stamped with now.
func New(entries []trip.PendingEntry, now time.Time) *Archive {
	if entries == nil {
		entries = []trip.PendingEntry{}
	}
	return &Archive{Version: Version, ExportedAt: now.UTC(), Entries: entries}
}

// Formats accepted by RendererFor.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatGPX      = "gpx"
)

// RendererFor returns the renderer for a format name.
func RendererFor(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return &JSONRenderer{}, nil
	case FormatMarkdown, "md":
		return &MarkdownRenderer{}, nil
	case FormatGPX:
		return &GPXRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// ParserFor picks a parser from the file extension. GPX is write-only.
func ParserFor(path string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return &JSONParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".gpx":
		return nil, fmt.Errorf("gpx exports cannot be imported: %s", path)
	default:
		return &MarkdownParser{}, nil
	}
}

// Merge appends the archive entries whose transaction id is not already in
// queue. It returns the merged queue and how many entries were added.
func Merge(queue, incoming []trip.PendingEntry) ([]trip.PendingEntry, int) {
	seen := make(map[string]bool, len(queue))
	for _, e := range queue {
		seen[e.TransactionID] = true
	}
	added := 0
	for _, e := range incoming {
		if e.TransactionID == "" || seen[e.TransactionID] {
			continue
		}
		seen[e.TransactionID] = true
		queue = append(queue, e)
		added++
	}
	return queue, added
}
