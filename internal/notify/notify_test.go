package notify

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterNotify(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Notify(Notice{Level: Success, Title: "Trip saved"})
	w.Notify(Notice{Level: Error, Title: "Sync failed", Message: "offline"})

	out := buf.String()
	if !strings.Contains(out, "Trip saved\n") {
		t.Errorf("missing title line: %q", out)
	}
	if !strings.Contains(out, "Sync failed: offline") {
		t.Errorf("missing message: %q", out)
	}
}

func TestFuncAndDiscard(t *testing.T) {
	var got []Notice
	Func(func(n Notice) { got = append(got, n) }).Notify(Notice{Title: "x"})
	Discard.Notify(Notice{Title: "y"})
	if len(got) != 1 || got[0].Title != "x" {
		t.Fatalf("got %+v", got)
	}
}
