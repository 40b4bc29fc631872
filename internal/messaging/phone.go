package messaging

import (
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	digits := sanitizePhone(strings.TrimSpace(value))
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// RecipientID converts a phone number to the digits-only form the Cloud API
// uses for wa_id and "to".
func RecipientID(value string) string {
	digits := sanitizePhone(value)
	return strings.TrimPrefix(digits, "00")
}

func sanitizePhone(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(phoneDigitsRe.FindAllString(value, -1), "")
}
