package export

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Parser deserializes an export file back into an Archive.
type Parser interface {
	Parse(data []byte) (*Archive, error)
}

// JSONParser parses a JSON-encoded Archive.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*Archive, error) {
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse JSON export: %w", err)
	}
	return checkVersion(&a)
}

// MarkdownParser parses a Markdown export by extracting the embedded base64
// JSON payload from the sentinel comments.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Archive, error) {
	content := string(data)

	if !strings.Contains(content, versionSentinel) {
		return nil, fmt.Errorf("not a valid tripsync export: missing version sentinel")
	}

	start := strings.Index(content, dataPrefix)
	if start == -1 {
		return nil, fmt.Errorf("not a valid tripsync export: missing data payload")
	}
	start += len(dataPrefix)
	end := strings.Index(content[start:], dataSuffix)
	if end == -1 {
		return nil, fmt.Errorf("not a valid tripsync export: malformed data payload")
	}
	encoded := content[start : start+end]

	jsonBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("not a valid tripsync export: corrupted base64 payload: %w", err)
	}

	var a Archive
	if err := json.Unmarshal(jsonBytes, &a); err != nil {
		return nil, fmt.Errorf("not a valid tripsync export: failed to parse embedded JSON: %w", err)
	}
	return checkVersion(&a)
}

func checkVersion(a *Archive) (*Archive, error) {
	if a.Version != Version {
		return nil, fmt.Errorf("unsupported export version %d", a.Version)
	}
	return a, nil
}
