package server

import "strings"

// containsFold reports whether header contains token as a case-insensitive
// substring, tolerant of header values combining multiple comma-separated
// tokens (e.g. "Connection: keep-alive, Upgrade").
func containsFold(header, token string) bool {
	return strings.Contains(strings.ToLower(header), strings.ToLower(token))
}

// equalFoldTrim reports whether header equals token case-insensitively once
// surrounding whitespace is trimmed.
func equalFoldTrim(header, token string) bool {
	return strings.EqualFold(strings.TrimSpace(header), token)
}
