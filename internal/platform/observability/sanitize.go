package observability

import (
	"strings"
	"unicode"
)

// scrub strips control characters so attacker-supplied values cannot forge
// log lines, and truncates to max runes.
func scrub(value string, max int) string {
	if max <= 0 {
		max = 256
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	runes := []rune(cleaned)
	if len(runes) > max {
		return string(runes[:max])
	}
	return cleaned
}

// SanitizeRoute bounds route patterns logged per request.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, 180)
}

// SanitizeMethod bounds HTTP method names.
func SanitizeMethod(method string) string {
	return scrub(method, 10)
}

// SanitizeUserID bounds caller identifiers before they reach logs.
func SanitizeUserID(uid string) string {
	return scrub(uid, 64)
}

// SanitizeOrderID bounds order identifiers taken from the request path.
// Orders carry a short prefixed ULID, so anything longer is suspect.
func SanitizeOrderID(id string) string {
	return scrub(id, 40)
}
