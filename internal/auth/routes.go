package auth

import "strings"

var publicRoutes = map[string]bool{
	"/":                        true,
	"/login":                   true,
	"/signup":                  true,
	"/reset-password":          true,
	"/verify":                  true,
	"/api/auth/signin":         true,
	"/api/auth/signup":         true,
	"/api/auth/reset-password": true,
	"/chat":                    true,
	"/health":                  true,
}

var (
	publicPrefixes = []string{"/_next/", "/images/", "/fonts/", "/favicon", "/api/auth/"}
	publicSuffixes = []string{".svg", ".png", ".jpg", ".ico", ".js", ".css"}
	// Identity provider action links carry these in the path.
	publicMarkers = []string{"oobCode=", "mode=", "apiKey=", "continueUrl="}
)

// IsPublicRoute reports whether path skips the edge session check. extra
// adds exact paths from configuration.
func IsPublicRoute(path string, extra ...string) bool {
	if publicRoutes[path] {
		return true
	}
	for _, p := range extra {
		if p == path {
			return true
		}
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, s := range publicSuffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	for _, m := range publicMarkers {
		if strings.Contains(path, m) {
			return true
		}
	}
	return false
}

// Rate classes used by the edge limiter.
const (
	ClassAuth    = "auth"
	ClassAPI     = "api"
	ClassDefault = "default"
)

// RateClass buckets a path for edge rate limiting.
func RateClass(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/auth/"):
		return ClassAuth
	case strings.HasPrefix(path, "/api/"):
		return ClassAPI
	default:
		return ClassDefault
	}
}
