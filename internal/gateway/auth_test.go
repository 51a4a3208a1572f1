package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/parley/internal/config"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "wrong"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.False(t, safeEqual("secret", ""))
}

func TestResolveAuth(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.GatewayAuth
		want string
	}{
		{"explicit token", config.GatewayAuth{Mode: "token", Token: "t"}, AuthModeToken},
		{"token implies token mode", config.GatewayAuth{Token: "t"}, AuthModeToken},
		{"nothing configured", config.GatewayAuth{}, AuthModeNone},
		{"explicit none keeps token unused", config.GatewayAuth{Mode: "none", Token: "t"}, AuthModeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveAuth(tt.cfg).Mode)
		})
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name   string
		server ResolvedAuth
		token  string
		ok     bool
		reason string
	}{
		{"none mode", ResolvedAuth{Mode: AuthModeNone}, "", true, ""},
		{"matching token", ResolvedAuth{Mode: AuthModeToken, Token: "abc"}, "abc", true, ""},
		{"wrong token", ResolvedAuth{Mode: AuthModeToken, Token: "abc"}, "abd", false, "token_mismatch"},
		{"missing token", ResolvedAuth{Mode: AuthModeToken, Token: "abc"}, "", false, "token required"},
		{"server without token", ResolvedAuth{Mode: AuthModeToken}, "abc", false, "server token not configured"},
		{"unknown mode", ResolvedAuth{Mode: "password"}, "abc", false, "unknown auth mode: password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Authorize(tt.server, tt.token)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, bearerToken(r), "header %q", tt.header)
	}
}
