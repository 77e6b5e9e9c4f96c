package schema

import (
	"encoding/json"
	"fmt"
)

// OutputValue is a typed agent output. Exactly one concrete type exists per OutputType.
type OutputValue interface {
	Kind() OutputType
	Raw() any
}

type (
	TextValue     string
	HTMLValue     string
	MarkdownValue string
	JSONValue     struct{ Value any }
	ImageValue    struct{ URL string }
	FileValue     struct {
		Name string
		URL  string
	}
)

func (v TextValue) Kind() OutputType     { return OutputTypeText }
func (v TextValue) Raw() any             { return string(v) }
func (v HTMLValue) Kind() OutputType     { return OutputTypeHTML }
func (v HTMLValue) Raw() any             { return string(v) }
func (v MarkdownValue) Kind() OutputType { return OutputTypeMarkdown }
func (v MarkdownValue) Raw() any         { return string(v) }
func (v JSONValue) Kind() OutputType     { return OutputTypeJSON }
func (v JSONValue) Raw() any             { return v.Value }
func (v ImageValue) Kind() OutputType    { return OutputTypeImage }
func (v ImageValue) Raw() any            { return v.URL }
func (v FileValue) Kind() OutputType     { return OutputTypeFile }

func (v FileValue) Raw() any {
	if v.Name == "" {
		return v.URL
	}
	return map[string]any{"name": v.Name, "url": v.URL}
}

// NewOutputValue wraps raw as the concrete value for t.
// Textual types stringify non-string input; unknown types are treated as text.
func NewOutputValue(t OutputType, raw any) OutputValue {
	switch t {
	case OutputTypeJSON:
		return JSONValue{Value: raw}
	case OutputTypeHTML:
		return HTMLValue(Stringify(raw))
	case OutputTypeMarkdown:
		return MarkdownValue(Stringify(raw))
	case OutputTypeImage:
		if m, ok := raw.(map[string]any); ok {
			if u, ok := m["url"].(string); ok {
				return ImageValue{URL: u}
			}
		}
		return ImageValue{URL: Stringify(raw)}
	case OutputTypeFile:
		if m, ok := raw.(map[string]any); ok {
			name, _ := m["name"].(string)
			u, _ := m["url"].(string)
			return FileValue{Name: name, URL: u}
		}
		return FileValue{URL: Stringify(raw)}
	default:
		return TextValue(Stringify(raw))
	}
}

// IsPresent reports whether v counts as a supplied value. Nil and the empty
// string are absent; every other value, including false and 0, is present.
func IsPresent(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	}
	return true
}

// Stringify renders a value for string-level substitution.
// Strings pass through; nil is empty; objects and arrays are JSON-encoded.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64, float32, int, int64, int32, json.Number:
		return fmt.Sprintf("%v", val)
	case OutputValue:
		return Stringify(val.Raw())
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// DecodeStatus tags the outcome of best-effort structured decoding.
type DecodeStatus string

const (
	DecodeOK                 DecodeStatus = "ok"
	DecodePartiallyRecovered DecodeStatus = "partially_recovered"
	DecodeUnparseable        DecodeStatus = "unparseable"
)

// DecodeResult is Ok(value), PartiallyRecovered(value) or Unparseable(raw).
type DecodeResult struct {
	Status DecodeStatus `json:"status"`
	Value  any          `json:"value,omitempty"`
	Raw    string       `json:"raw,omitempty"`
}

func Ok(v any) DecodeResult { return DecodeResult{Status: DecodeOK, Value: v} }

func PartiallyRecovered(v any, raw string) DecodeResult {
	return DecodeResult{Status: DecodePartiallyRecovered, Value: v, Raw: raw}
}

func Unparseable(raw string) DecodeResult { return DecodeResult{Status: DecodeUnparseable, Raw: raw} }

// Recovered reports whether a value was produced.
func (r DecodeResult) Recovered() bool { return r.Status != DecodeUnparseable }
