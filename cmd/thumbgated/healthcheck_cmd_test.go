// SPDX-License-Identifier: MIT

package main

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProbeBaseURL(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{":8080", "http://localhost:8080"},
		{"0.0.0.0:9090", "http://localhost:9090"},
		{"[::]:8080", "http://localhost:8080"},
		{"127.0.0.1:8081", "http://127.0.0.1:8081"},
		{"cache.internal:80", "http://cache.internal:80"},
		{"not-an-addr", "http://not-an-addr"},
	}

	for _, tt := range tests {
		t.Run(tt.listen, func(t *testing.T) {
			if got := probeBaseURL(tt.listen); got != tt.want {
				t.Errorf("probeBaseURL(%q) = %q, want %q", tt.listen, got, tt.want)
			}
		})
	}
}

// listenHostPort strips the scheme from an httptest server URL so it can be
// used as a listen address in a config file.
func listenHostPort(t *testing.T, serverURL string) string {
	t.Helper()
	return strings.TrimPrefix(serverURL, "http://")
}

func TestRunHealthcheck(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/readyz" {
				http.NotFound(w, r)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		cfgPath := writeConfig(t, "listen: \""+listenHostPort(t, ts.URL)+"\"\norigin:\n  base_url: \"http://origin.internal\"\n")
		if got := runHealthcheck(cfgPath); got != 0 {
			t.Fatalf("runHealthcheck = %d, want 0", got)
		}
	})

	t.Run("not ready", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		cfgPath := writeConfig(t, "listen: \""+listenHostPort(t, ts.URL)+"\"\norigin:\n  base_url: \"http://origin.internal\"\n")
		if got := runHealthcheck(cfgPath); got != 1 {
			t.Fatalf("runHealthcheck = %d, want 1", got)
		}
	})

	t.Run("daemon not running", func(t *testing.T) {
		// Reserve a port and close it again so nothing listens there.
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		addr := ln.Addr().String()
		_ = ln.Close()

		cfgPath := writeConfig(t, "listen: \""+addr+"\"\norigin:\n  base_url: \"http://origin.internal\"\n")
		if got := runHealthcheck(cfgPath); got != 1 {
			t.Fatalf("runHealthcheck = %d, want 1", got)
		}
	})

	t.Run("broken config", func(t *testing.T) {
		if got := runHealthcheck("/nonexistent/thumbgate.yaml"); got != 1 {
			t.Fatalf("runHealthcheck = %d, want 1", got)
		}
	})
}
