package security

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	htmlTagPattern   = regexp.MustCompile(`(?i)<[^>]*>`)
	scriptTagPattern = regexp.MustCompile(`(?is)<script.*?</script>`)
	sqlPattern       = regexp.MustCompile(`(?i)(\bunion\b.*\bselect\b|\bselect\b.*\bfrom\b|\bdrop\b\s+\btable\b|--|;\s*drop\b|'\s*or\s*'1'\s*=\s*'1)`)
)

// SanitizeOptions configures string-field sanitization.
type SanitizeOptions struct {
	Trim      bool
	Lowercase bool
}

// SanitizeResult reports what sanitization changed or blocked, field by
// field, for audit logging (spec.md §4.8.3: "Each action is logged").
type SanitizeResult struct {
	Output  map[string]interface{}
	Actions []string
	Blocked []string
}

// Sanitize strips HTML/script tags, escapes special characters, and blocks
// fields matching a SQL-injection pattern. Non-string fields pass through
// unchanged.
func Sanitize(input map[string]interface{}, opts SanitizeOptions) SanitizeResult {
	result := SanitizeResult{Output: make(map[string]interface{}, len(input))}
	for key, value := range input {
		s, ok := value.(string)
		if !ok {
			result.Output[key] = value
			continue
		}

		if sqlPattern.MatchString(s) {
			result.Blocked = append(result.Blocked, key)
			result.Actions = append(result.Actions, fmt.Sprintf("%s: blocked, matched SQL-injection pattern", key))
			continue
		}

		original := s
		if scriptTagPattern.MatchString(s) {
			s = scriptTagPattern.ReplaceAllString(s, "")
			result.Actions = append(result.Actions, fmt.Sprintf("%s: stripped script tags", key))
		}
		if htmlTagPattern.MatchString(s) {
			s = htmlTagPattern.ReplaceAllString(s, "")
			result.Actions = append(result.Actions, fmt.Sprintf("%s: stripped HTML tags", key))
		}
		s = html.EscapeString(s)

		if opts.Trim {
			s = strings.TrimSpace(s)
		}
		if opts.Lowercase {
			s = strings.ToLower(s)
		}
		if s != original {
			result.Actions = append(result.Actions, fmt.Sprintf("%s: escaped special characters", key))
		}
		result.Output[key] = s
	}
	return result
}
