// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/thumbgate/thumbgate/internal/config"
)

const probeTimeout = 5 * time.Second

// runHealthcheck probes the running daemon's /readyz over loopback, using
// the configured listen address. Meant for container HEALTHCHECK use.
func runHealthcheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Healthcheck failed (config): %v\n", err)
		return 1
	}

	client := http.Client{Timeout: probeTimeout}
	resp, err := client.Get(probeBaseURL(cfg.Listen) + "/readyz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Healthcheck failed (network): %v\n", err)
		return 1
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Healthcheck failed (status): %d %s\n", resp.StatusCode, resp.Status)
		return 1
	}

	fmt.Println("Healthcheck successful")
	return 0
}

// probeBaseURL turns a listen address into a loopback base URL. Wildcard
// and empty hosts probe localhost.
func probeBaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
