package ratelimit

import "strings"

// IsRateLimited implements the §4.4.1 classification rule: only
// rate-limited responses trigger backoff; every other failure is
// proxy-blamed instead.
func IsRateLimited(statusCode int, body string, errText string) bool {
	if statusCode == 429 || statusCode == 418 {
		return true
	}
	lowerBody := strings.ToLower(body)
	if statusCode == 403 && (strings.Contains(lowerBody, "rate") || strings.Contains(lowerBody, "limit")) {
		return true
	}
	if strings.Contains(body, "-1015") { // Binance: "Too many new orders"
		return true
	}
	if strings.Contains(body, "50011") { // OKX: "Too many requests"
		return true
	}
	lowerErr := strings.ToLower(errText)
	for _, needle := range []string{"rate", "limit", "too many", "429"} {
		if strings.Contains(lowerErr, needle) {
			return true
		}
	}
	return false
}
