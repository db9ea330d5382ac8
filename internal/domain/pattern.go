package domain

import (
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// FormatPattern replaces every {name} in pattern with vars[name]. A
// placeholder without a value is a ConfigurationError.
func FormatPattern(pattern string, vars map[string]string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(pattern, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", Configf("pattern %q has no value for %s", pattern, strings.Join(missing, ", "))
	}
	return out, nil
}

// PatternFields lists the placeholder names used in pattern, in order of
// first appearance.
func PatternFields(pattern string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(pattern, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
