// Package knowledge loads the static campus location dataset. Records are
// opaque: they are kept as JSON and handed to the model verbatim.
package knowledge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNotAList = errors.New("knowledge dataset must be a list of records")

type Base struct {
	records []json.RawMessage
	compact json.RawMessage
}

// Load reads a JSON array, or a YAML sequence when the file ends in .yaml or .yml.
func Load(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

func ParseJSON(data []byte) (*Base, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotAList
	}
	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("decode knowledge: %w", err)
	}
	return newBase(records)
}

func ParseYAML(data []byte) (*Base, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode knowledge: %w", err)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, ErrNotAList
	}
	records := make([]json.RawMessage, 0, len(items))
	for i, item := range items {
		b, err := json.Marshal(normalize(item))
		if err != nil {
			return nil, fmt.Errorf("knowledge record %d: %w", i, err)
		}
		records = append(records, b)
	}
	return newBase(records)
}

func newBase(records []json.RawMessage) (*Base, error) {
	compacted := make([]json.RawMessage, 0, len(records))
	for i, r := range records {
		var buf bytes.Buffer
		if err := json.Compact(&buf, r); err != nil {
			return nil, fmt.Errorf("knowledge record %d: %w", i, err)
		}
		compacted = append(compacted, buf.Bytes())
	}
	all, err := json.Marshal(compacted)
	if err != nil {
		return nil, fmt.Errorf("encode knowledge: %w", err)
	}
	return &Base{records: compacted, compact: all}, nil
}

func (b *Base) Records() []json.RawMessage {
	out := make([]json.RawMessage, len(b.records))
	copy(out, b.records)
	return out
}

// JSON is the whole dataset as one compact array.
func (b *Base) JSON() json.RawMessage {
	return b.compact
}

func (b *Base) Len() int {
	return len(b.records)
}

// yaml decodes mappings with non-string keys as map[any]any, which
// encoding/json refuses.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
