package logger

import "strings"

var secretKeyHints = []string{"token", "secret", "password", "authorization", "api_key", "apikey"}

// RedactToken masks a credential for safe logging, keeping just enough of
// the prefix to correlate entries: "sk_live_abcdef123456" → "sk_l***".
// Values of 4 characters or fewer are fully masked.
func RedactToken(tok string) string {
	if tok == "" {
		return ""
	}
	if len(tok) <= 4 {
		return "***"
	}
	return tok[:4] + "***"
}

func redactSecretValue(key, val string) string {
	lower := strings.ToLower(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(lower, hint) {
			return RedactToken(strings.TrimPrefix(val, "Bearer "))
		}
	}
	return val
}
