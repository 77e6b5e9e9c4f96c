package expressions

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/rendis/agentgraph/pkg/schema"
)

// ResolutionSource identifies which layer supplied a placeholder value.
type ResolutionSource string

const (
	SourceInputs   ResolutionSource = "inputs"
	SourceContext  ResolutionSource = "context"
	SourceDefault  ResolutionSource = "default"
	SourceFallback ResolutionSource = "fallback"
)

// Warning reports a placeholder that was filled from a default or fallback
// rather than from inputs or context.
type Warning struct {
	Placeholder string           `json:"placeholder"`
	Source      ResolutionSource `json:"source"`
	Value       string           `json:"value"`
}

// Scope holds the layers available to one resolution, in priority order.
type Scope struct {
	Inputs   map[string]any
	Context  map[string]any
	Specs    []schema.InputSpec
	Category schema.Category
}

// categoryFallbacks fill placeholders nothing else could resolve.
var categoryFallbacks = map[schema.Category]string{
	schema.CategorySetup:       "não informado",
	schema.CategoryCopywriting: "tom profissional e persuasivo",
	schema.CategoryInfoproduct: "linguagem clara e didática",
	schema.CategorySEO:         "palavras-chave relevantes ao produto",
	schema.CategoryDocument:    "tom formal e objetivo",
	schema.CategorySales:       "tom confiante e direto",
}

const defaultFallback = "não informado"

// CategoryFallback returns the substitution used for an unresolvable placeholder.
func CategoryFallback(c schema.Category) string {
	if v, ok := categoryFallbacks[c]; ok {
		return v
	}
	return defaultFallback
}

// Interpolator resolves {{name}} and {name} placeholders in prompt templates
// and raw string inputs.
type Interpolator struct {
	logger *slog.Logger
}

// NewInterpolator creates an Interpolator that reports fallbacks to logger.
func NewInterpolator(logger *slog.Logger) *Interpolator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpolator{logger: logger}
}

// Resolve substitutes every placeholder in template. Lookup order is
// scope.Inputs, scope.Context, the matching InputSpec default, then the
// category fallback; no placeholder survives.
func (ip *Interpolator) Resolve(ctx context.Context, template string, scope Scope) (string, []Warning) {
	var warnings []Warning
	out := scan(template, func(name string) string {
		val, src := lookup(name, scope)
		if src == SourceDefault || src == SourceFallback {
			warnings = append(warnings, Warning{Placeholder: name, Source: src, Value: val})
		}
		return val
	})
	ip.report(ctx, warnings)
	return out, warnings
}

// ResolveInputs resolves placeholders inside raw string inputs against the
// outputs and inputs of the directly upstream nodes, then defaults and the
// category fallback. Non-string values are copied unchanged.
func (ip *Interpolator) ResolveInputs(ctx context.Context, inputs, upstream map[string]any, specs []schema.InputSpec, category schema.Category) (map[string]any, []Warning) {
	out := make(map[string]any, len(inputs))
	var warnings []Warning
	scope := Scope{Inputs: upstream, Specs: specs, Category: category}
	for k, v := range inputs {
		s, ok := v.(string)
		if !ok || !HasPlaceholders(s) {
			out[k] = v
			continue
		}
		resolved, w := ip.Resolve(ctx, s, scope)
		out[k] = resolved
		warnings = append(warnings, w...)
	}
	return out, warnings
}

func (ip *Interpolator) report(ctx context.Context, warnings []Warning) {
	for _, w := range warnings {
		ip.logger.WarnContext(ctx, "template placeholder unresolved",
			slog.String("code", schema.ErrCodeTemplateResolution),
			slog.String("placeholder", w.Placeholder),
			slog.String("source", string(w.Source)),
		)
	}
}

// lookup walks the resolution layers for name.
func lookup(name string, scope Scope) (string, ResolutionSource) {
	if v, ok := fromMap(scope.Inputs, name); ok {
		return schema.Stringify(v), SourceInputs
	}
	if v, ok := fromMap(scope.Context, name); ok {
		return schema.Stringify(v), SourceContext
	}
	for _, spec := range scope.Specs {
		if spec.ID == name && schema.IsPresent(spec.DefaultValue) {
			return schema.Stringify(spec.DefaultValue), SourceDefault
		}
	}
	return CategoryFallback(scope.Category), SourceFallback
}

// fromMap looks up name directly, then as a dot-delimited path into nested maps.
// Nil and empty-string values count as absent.
func fromMap(data map[string]any, name string) (any, bool) {
	if data == nil {
		return nil, false
	}
	if v, ok := data[name]; ok {
		return v, schema.IsPresent(v)
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var current any = data
	for _, seg := range strings.Split(name, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return current, schema.IsPresent(current)
}

// scan rewrites every placeholder in input using resolve. Braces that do not
// enclose a valid placeholder name (JSON, prose) are copied through.
func scan(input string, resolve func(name string) string) string {
	var b strings.Builder
	b.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.IndexByte(input[i:], '{')
		if idx == -1 {
			b.WriteString(input[i:])
			break
		}
		b.WriteString(input[i : i+idx])
		start := i + idx

		if name, end, ok := placeholderAt(input, start); ok {
			b.WriteString(resolve(name))
			i = end
			continue
		}
		b.WriteByte('{')
		i = start + 1
	}
	return b.String()
}

// placeholderAt parses a {{name}} or {name} token beginning at start.
// It returns the trimmed name and the index just past the token.
func placeholderAt(s string, start int) (string, int, bool) {
	if strings.HasPrefix(s[start:], "{{") {
		closeIdx := strings.Index(s[start+2:], "}}")
		if closeIdx != -1 {
			name := strings.TrimSpace(s[start+2 : start+2+closeIdx])
			if validName(name) {
				return name, start + 2 + closeIdx + 2, true
			}
		}
		return "", 0, false
	}
	closeIdx := strings.IndexByte(s[start+1:], '}')
	if closeIdx == -1 {
		return "", 0, false
	}
	name := strings.TrimSpace(s[start+1 : start+1+closeIdx])
	if !validName(name) {
		return "", 0, false
	}
	return name, start + 1 + closeIdx + 1, true
}

// validName accepts a letter or underscore followed by letters, digits, '_', '.' or '-'.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '.' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// HasPlaceholders reports whether s contains at least one placeholder.
func HasPlaceholders(s string) bool {
	return len(Placeholders(s)) > 0
}

// Placeholders returns the placeholder names in s in order of appearance, deduplicated.
func Placeholders(s string) []string {
	var names []string
	seen := make(map[string]bool)
	scan(s, func(name string) string {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return ""
	})
	return names
}
