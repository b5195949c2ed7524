package utils

import (
	"net/url"
	"strings"
)

// redacted matches what url.URL.Redacted puts in place of a password.
const redacted = "xxxxx"

// urlSchemes are parsed as URLs so only the password is redacted.
var urlSchemes = []string{
	"redis://", "rediss://",
	"mongodb://", "mongodb+srv://",
	"mysql://",
	"postgres://", "postgresql://",
	"http://", "https://",
}

// SanitizeConnectionString removes credentials from a store, pubsub or RPC
// URL so it can be logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	for _, scheme := range urlSchemes {
		if !strings.HasPrefix(connStr, scheme) {
			continue
		}
		parsedURL, err := url.Parse(connStr)
		if err != nil {
			return strings.TrimSuffix(scheme, "://") + "://" + redacted
		}
		return parsedURL.Redacted()
	}

	// Anything else: redact between the last ':' and '@' of the user part.
	if at := strings.LastIndex(connStr, "@"); at != -1 {
		userPart := connStr[:at]
		if colonIdx := strings.LastIndex(userPart, ":"); colonIdx != -1 && !strings.HasSuffix(userPart[:colonIdx+1], "://") {
			return userPart[:colonIdx+1] + redacted + connStr[at:]
		}
	}
	return connStr
}
