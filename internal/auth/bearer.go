package auth

import "strings"

// BearerPrefix is the authorization scheme prefix accepted on every credential.
const BearerPrefix = "Bearer "

// HasBearerPrefix reports whether the header value uses the bearer scheme.
func HasBearerPrefix(value string) bool {
	return strings.HasPrefix(value, BearerPrefix)
}

// StripBearer removes a single leading bearer prefix. Values without the
// prefix are returned unchanged.
func StripBearer(value string) string {
	return strings.TrimPrefix(value, BearerPrefix)
}
