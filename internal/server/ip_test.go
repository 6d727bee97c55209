package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{"first public from xff", "10.0.0.1, 54.240.197.1, 54.240.197.2", "10.0.1.24:3456", "54.240.197.1"},
		{"only private xff falls back to remote", "10.0.0.1, 192.168.0.3", "10.0.1.24:3456", "10.0.1.24"},
		{"no xff", "", "72.21.217.5:443", "72.21.217.5"},
		{"garbage xff", "not-an-ip", "127.0.0.1:80", "127.0.0.1"},
		{"remote without port", "", "203.0.113.9", "203.0.113.9"},
		{"nothing usable", "", "pipe", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/sns", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}
