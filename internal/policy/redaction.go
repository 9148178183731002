package policy

import (
	"regexp"

	"go.uber.org/zap"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// maxLoggedChars bounds chat text copied into log lines.
const maxLoggedChars = 240

// RedactPII masks emails, card numbers and phone numbers. Cards run before phones so long
// digit runs are not reported as phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{emailPattern, "[REDACTED_EMAIL]"},
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := r.re.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogText returns a zap field with user or model text redacted and truncated.
func LogText(key, text string) zap.Field {
	out, _ := RedactPII(text)
	if runes := []rune(out); len(runes) > maxLoggedChars {
		out = string(runes[:maxLoggedChars]) + "…"
	}
	return zap.String(key, out)
}
