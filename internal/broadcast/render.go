package broadcast

import (
	"regexp"
	"strings"
)

var (
	positionalPattern = regexp.MustCompile(`\{(\d+)\}`)
	namedPattern      = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
)

// RenderTemplate substitutes positional {1} and named {{name}} placeholders
// from the supplied variables. Unbound placeholders are replaced with the
// empty string.
func RenderTemplate(template string, vars map[string]string) string {
	// Named placeholders first: {{1}} would otherwise be half-consumed by
	// the positional pass.
	out := namedPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := namedPattern.FindStringSubmatch(match)[1]
		return vars[name]
	})
	out = positionalPattern.ReplaceAllStringFunc(out, func(match string) string {
		idx := positionalPattern.FindStringSubmatch(match)[1]
		return vars[idx]
	})
	return out
}

// HasPlaceholders reports whether the template references any variables.
// Templates without placeholders can be sent as one identical bulk body.
func HasPlaceholders(template string) bool {
	return strings.Contains(template, "{") &&
		(positionalPattern.MatchString(template) || namedPattern.MatchString(template))
}
