// Package template renders per-contact message text from a template with
// {field} placeholders.
package template

import (
	"regexp"
	"strings"
)

// tokenPattern matches a placeholder: an opening brace followed by one or
// more characters up to the next closing brace. Tokens do not nest.
var tokenPattern = regexp.MustCompile(`\{([^}]+)\}`)

// Render replaces every {field} token in tmpl with row[field]. The field name
// is trimmed before lookup, so "{ name }" and "{name}" are equivalent.
// Tokens whose field is not present in row are left untouched so unbound
// placeholders stay visible in the output. There is no escape for literal
// braces.
func Render(tmpl string, row map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		field := strings.TrimSpace(token[1 : len(token)-1])
		if value, ok := row[field]; ok {
			return value
		}
		return token
	})
}

// Fields returns the distinct field names referenced by tmpl, in order of
// first appearance.
func Fields(tmpl string) []string {
	var fields []string
	seen := make(map[string]bool)
	for _, m := range tokenPattern.FindAllStringSubmatch(tmpl, -1) {
		field := strings.TrimSpace(m[1])
		if seen[field] {
			continue
		}
		seen[field] = true
		fields = append(fields, field)
	}
	return fields
}

// Unbound returns the fields referenced by tmpl that row does not provide.
func Unbound(tmpl string, row map[string]string) []string {
	var missing []string
	for _, f := range Fields(tmpl) {
		if _, ok := row[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}
