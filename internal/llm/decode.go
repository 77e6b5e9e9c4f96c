package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rendis/agentgraph/pkg/schema"
)

var (
	fencedBlock   = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// DecodeJSON extracts a JSON value from a possibly noisy model response.
// It tries the whole text, fenced code blocks, the outermost brace and bracket
// spans, then each of those after light repair. A value decoded from anything
// but the whole text is reported as PartiallyRecovered.
func DecodeJSON(text string) schema.DecodeResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return schema.Unparseable(text)
	}
	if v, ok := parse(trimmed); ok {
		return schema.Ok(v)
	}

	candidates := jsonCandidates(trimmed)
	for _, c := range candidates {
		if v, ok := parse(c); ok {
			return schema.PartiallyRecovered(v, text)
		}
	}
	for _, c := range append([]string{trimmed}, candidates...) {
		if v, ok := parse(repair(c)); ok {
			return schema.PartiallyRecovered(v, text)
		}
	}
	return schema.Unparseable(text)
}

func parse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// jsonCandidates lists substrings that may hold the payload, most specific first.
func jsonCandidates(s string) []string {
	var out []string
	for _, m := range fencedBlock.FindAllStringSubmatch(s, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			out = append(out, body)
		}
	}
	if i := strings.IndexByte(s, '{'); i >= 0 {
		if j := strings.LastIndexByte(s, '}'); j > i {
			out = append(out, s[i:j+1])
		} else {
			out = append(out, s[i:])
		}
	}
	if i := strings.IndexByte(s, '['); i >= 0 {
		if j := strings.LastIndexByte(s, ']'); j > i {
			out = append(out, s[i:j+1])
		}
	}
	return out
}

// repair fixes the near-misses models commonly produce: single-quoted strings,
// trailing commas and unclosed braces or brackets.
func repair(s string) string {
	if !strings.Contains(s, `"`) && strings.Contains(s, "'") {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	s = trailingComma.ReplaceAllString(s, "$1")
	return closeOpen(s)
}

// closeOpen appends the closers missing from s, ignoring brackets inside strings.
func closeOpen(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case (c == '}' || c == ']') && len(stack) > 0 && stack[len(stack)-1] == c:
			stack = stack[:len(stack)-1]
		}
	}
	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, " \t\r\n,")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
