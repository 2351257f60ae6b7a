package websocket

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

func TestIdentityFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		headers    map[string]string
		allowQuery bool
		want       domain.Identity
	}{
		{
			name:    "gateway headers",
			target:  "/ws",
			headers: map[string]string{HeaderUserID: " user-1 ", HeaderTimezone: "Africa/Lagos", "Accept-Language": "fr-FR,fr;q=0.9,en;q=0.8"},
			want:    domain.Identity{UserID: "user-1", Timezone: "Africa/Lagos", Locale: "fr-FR"},
		},
		{
			name:   "query ignored outside development",
			target: "/ws?user_id=user-2&tz=Asia/Tokyo",
			want:   domain.Identity{Locale: "en"},
		},
		{
			name:       "query fills missing headers",
			target:     "/ws?user_id=user-2&tz=Asia/Tokyo&locale=ja",
			allowQuery: true,
			want:       domain.Identity{UserID: "user-2", Timezone: "Asia/Tokyo", Locale: "ja"},
		},
		{
			name:       "headers win over query",
			target:     "/ws?user_id=user-2",
			headers:    map[string]string{HeaderUserID: "user-1"},
			allowQuery: true,
			want:       domain.Identity{UserID: "user-1", Locale: "en"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, IdentityFromRequest(r, tt.allowQuery))
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.0.2.1:5555", nil, "192.0.2.1"},
		{"ipv6 remote addr", "[2001:db8::1]:5555", nil, "2001:db8::1"},
		{"forwarded for", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "203.0.113.9"},
		{"real ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
