// Package render fills per-recipient placeholders in a message template.
package render

import (
	"regexp"

	"github.com/kursadbilgin/dispatch-queue/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{([\p{L}\p{N}_.\-]+)\}`)

// Render replaces every {name} token in template with the matching value from
// fields. Unknown names render as an empty string; text outside tokens is
// copied untouched.
func Render(template string, fields domain.Fields) string {
	if template == "" {
		return ""
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		return fields.Get(name)
	})
}
