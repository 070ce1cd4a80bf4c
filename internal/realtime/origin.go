package realtime

import (
	"net/http"
	"net/url"
	"os"
	"strings"
)

// CheckOrigin allows same-host connections plus any origin listed in the
// ALLOWED_ORIGINS env var (comma separated). An empty Origin header is
// accepted so non-browser clients can connect.
func CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	allowed := os.Getenv("ALLOWED_ORIGINS")
	if allowed == "" {
		return false
	}
	for _, a := range strings.Split(allowed, ",") {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
