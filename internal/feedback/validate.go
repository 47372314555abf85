// validate.go - Field rules for incoming submissions.
package feedback

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLength = 100
	MaxTextLength = 5000
)

var telegramPattern = regexp.MustCompile(`^@?[A-Za-z0-9_]{5,32}$`)

// ValidationError carries the ordered validator messages for a rejected payload.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// longTextRules lists the optional free-text fields with a length cap, in
// the order their messages are reported.
var longTextRules = []struct {
	field   string
	message string
}{
	{"ideas", "Ideas field too long"},
	{"skills", "Skills field too long"},
	{"problemDetails", "Problem details too long"},
	{"otherComments", "Comments too long"},
}

// Validate checks a raw payload and returns human-readable errors in a
// fixed order. An empty result means the payload is acceptable.
func Validate(payload map[string]any) []string {
	errs := []string{}

	if name, ok := requiredString(payload, "fullName"); !ok {
		errs = append(errs, "Full name is required")
	} else if utf8.RuneCountInString(name) > MaxNameLength {
		errs = append(errs, "Full name too long")
	}

	if dept, ok := requiredString(payload, "department"); !ok {
		errs = append(errs, "Department is required")
	} else if utf8.RuneCountInString(dept) > MaxNameLength {
		errs = append(errs, "Department name too long")
	}

	if handle, ok := requiredString(payload, "telegram"); !ok {
		errs = append(errs, "Telegram username is required")
	} else if !ValidTelegram(handle) {
		errs = append(errs, "Invalid Telegram username format")
	}

	for _, rule := range longTextRules {
		if s, ok := payload[rule.field].(string); ok && utf8.RuneCountInString(s) > MaxTextLength {
			errs = append(errs, rule.message)
		}
	}

	return errs
}

// ValidTelegram reports whether handle looks like a Telegram username,
// optionally prefixed with '@'.
func ValidTelegram(handle string) bool {
	return telegramPattern.MatchString(handle)
}

// requiredString returns the field when it is a string that still has
// content after control characters are stripped.
func requiredString(payload map[string]any, key string) (string, bool) {
	s, ok := payload[key].(string)
	if !ok || stripLow(s) == "" {
		return "", false
	}
	return s, true
}
