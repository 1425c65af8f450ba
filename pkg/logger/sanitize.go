package logger

import "strings"

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com").
// Non-email identifiers are returned as-is.
func SanitizedEmail(identifier string) string {
	parts := strings.Split(identifier, "@")
	if len(parts) != 2 {
		return identifier
	}

	username := parts[0]
	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	domainParts := strings.Split(parts[1], ".")
	for i := 0; i < len(domainParts)-1; i++ {
		domainParts[i] = strings.Repeat("*", len(domainParts[i]))
	}

	return username + "@" + strings.Join(domainParts, ".")
}

// SanitizeQueryString reports whether a raw query string carries sensitive
// parameters and should be redacted wholesale from request logs.
func SanitizeQueryString(rawQuery string) bool {
	sensitive := []string{
		"password", "token", "secret", "code", "otp",
		"api_key", "apikey", "auth", "csrf", "email", "session",
	}
	query := strings.ToLower(rawQuery)
	for _, param := range sensitive {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
