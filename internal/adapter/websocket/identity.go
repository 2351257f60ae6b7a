package websocket

import (
	"net/http"
	"strings"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

// Headers set by the authenticating gateway in front of the service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTimezone = "X-Timezone"
)

// IdentityFromRequest reads the caller identity asserted by the gateway. With
// allowQuery the user_id, tz and locale query parameters fill in missing headers,
// for local testing without a gateway.
func IdentityFromRequest(r *http.Request, allowQuery bool) domain.Identity {
	id := domain.Identity{
		UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Timezone: strings.TrimSpace(r.Header.Get(HeaderTimezone)),
		Locale:   primaryLanguage(r.Header.Get("Accept-Language")),
	}

	if allowQuery {
		q := r.URL.Query()
		if id.UserID == "" {
			id.UserID = strings.TrimSpace(q.Get("user_id"))
		}
		if id.Timezone == "" {
			id.Timezone = strings.TrimSpace(q.Get("tz"))
		}
		if id.Locale == "" {
			id.Locale = strings.TrimSpace(q.Get("locale"))
		}
	}

	if id.Locale == "" {
		id.Locale = "en"
	}
	return id
}

// primaryLanguage returns the first tag of an Accept-Language header, without weight.
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}

// ClientIP returns the caller address. The first X-Forwarded-For hop wins when present.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
