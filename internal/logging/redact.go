package logging

import "strings"

// Redact masks a secret for log output, keeping just enough of the tail to
// correlate with the credential file by eye.
func Redact(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// RedactBearer masks the token part of an Authorization header value.
func RedactBearer(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return prefix + Redact(header[len(prefix):])
	}
	return Redact(header)
}
