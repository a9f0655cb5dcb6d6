// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/thumbgate/thumbgate/internal/config"
)

// runStatus fetches the running daemon's status document and prints it as-is.
// The read token from the effective config authenticates the request when
// the admin surface is not open.
func runStatus(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed (config): %v\n", err)
		return 1
	}

	req, err := http.NewRequest(http.MethodGet, probeBaseURL(cfg.Listen)+"/api/v1/status", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed (request): %v\n", err)
		return 1
	}
	token := cfg.API.ReadToken
	if token == "" {
		token = cfg.API.Token
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := http.Client{Timeout: probeTimeout}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed (network): %v\n", err)
		return 1
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Status query failed (status): %d %s\n", resp.StatusCode, resp.Status)
		return 1
	}

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed (read): %v\n", err)
		return 1
	}
	fmt.Println()
	return 0
}
