// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thumbgate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// what it printed alongside its exit code.
func captureStdout(t *testing.T, fn func() int) (string, int) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	code := fn()
	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("read captured stdout: %v", err)
	}
	return buf.String(), code
}

func TestRunConfigCLI(t *testing.T) {
	valid := writeConfig(t, "origin:\n  base_url: \"http://origin.internal:8080\"\n")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no args prints usage", nil, 0},
		{"help flag", []string{"--help"}, 0},
		{"unknown subcommand", []string{"frobnicate"}, 2},
		{"validate ok", []string{"validate", "--file", valid}, 0},
		{"validate shorthand flag", []string{"validate", "-f", valid}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runConfigCLI(tt.args); got != tt.want {
				t.Fatalf("runConfigCLI(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}

func TestRunConfigValidate_Errors(t *testing.T) {
	t.Setenv("THUMBGATE_CONFIG", "")
	t.Setenv("THUMBGATE_DATA_DIR", t.TempDir())

	unknownKey := writeConfig(t, "no_such_key: true\n")
	badMode := writeConfig(t, "origin:\n  base_url: \"http://origin.internal\"\ncache:\n  mode: maybe\n")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown key fails", []string{"--file", unknownKey}, 1},
		{"invalid cache mode fails", []string{"--file", badMode}, 1},
		{"nonexistent file fails", []string{"--file", filepath.Join(t.TempDir(), "nope.yaml")}, 1},
		{"no file and no default", nil, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runConfigValidate(tt.args); got != tt.want {
				t.Fatalf("runConfigValidate(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}

func TestRunConfigDump(t *testing.T) {
	valid := writeConfig(t, strings.Join([]string{
		`origin:`,
		`  base_url: "http://origin.internal"`,
		`cache:`,
		`  override_ttl: "24h"`,
		`  mode: force`,
		`api:`,
		`  token: "rw-secret"`,
		``,
	}, "\n"))

	t.Run("requires effective flag", func(t *testing.T) {
		if got := runConfigDump([]string{"--file", valid}); got != 2 {
			t.Fatalf("dump without --effective = %d, want 2", got)
		}
	})

	t.Run("yaml output", func(t *testing.T) {
		out, code := captureStdout(t, func() int {
			return runConfigDump([]string{"--effective", "--file", valid})
		})
		if code != 0 {
			t.Fatalf("dump = %d, want 0", code)
		}
		if !strings.Contains(out, "override_ttl: 24h0m0s") {
			t.Errorf("durations should render as strings, got:\n%s", out)
		}
		if !strings.Contains(out, "base_url: http://origin.internal") {
			t.Errorf("missing origin base_url, got:\n%s", out)
		}
		if strings.Contains(out, "rw-secret") {
			t.Errorf("dump leaked the API token:\n%s", out)
		}
		if !strings.Contains(out, "redacted") {
			t.Errorf("configured token should show as redacted, got:\n%s", out)
		}
	})

	t.Run("json output", func(t *testing.T) {
		out, code := captureStdout(t, func() int {
			return runConfigDump([]string{"--effective", "--file", valid, "--format", "json"})
		})
		if code != 0 {
			t.Fatalf("dump = %d, want 0", code)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(out), &doc); err != nil {
			t.Fatalf("dump emitted invalid JSON: %v\n%s", err, out)
		}
		for _, section := range []string{"cache", "origin", "index", "telemetry"} {
			if _, ok := doc[section]; !ok {
				t.Errorf("dump missing %q section", section)
			}
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		if got := runConfigDump([]string{"--effective", "--file", valid, "--format", "toml"}); got != 2 {
			t.Fatalf("dump --format=toml = %d, want 2", got)
		}
	})

	t.Run("no file dumps defaults plus env", func(t *testing.T) {
		t.Setenv("THUMBGATE_CONFIG", "")
		t.Setenv("THUMBGATE_DATA_DIR", t.TempDir())
		t.Setenv("THUMBGATE_LISTEN", ":9191")

		out, code := captureStdout(t, func() int {
			return runConfigDump([]string{"--effective"})
		})
		if code != 0 {
			t.Fatalf("dump = %d, want 0", code)
		}
		if !strings.Contains(out, "listen: :9191") {
			t.Errorf("env override missing from effective dump, got:\n%s", out)
		}
	})
}

// TestRunConfigDump_Golden pins the whole effective YAML rendering, so
// field renames, reordered sections, or a change in duration formatting
// show up as a diff instead of slipping into operator tooling unnoticed.
func TestRunConfigDump_Golden(t *testing.T) {
	valid := writeConfig(t, strings.Join([]string{
		`listen: "127.0.0.1:8080"`,
		`metrics_listen: "127.0.0.1:9090"`,
		`data_dir: /var/lib/thumbgate`,
		`cache:`,
		`  override_ttl: "24h"`,
		`origin:`,
		`  base_url: "http://origin.internal:8080"`,
		`  rate_rps: 12.5`,
		`api:`,
		`  token: "rw-secret"`,
		`  read_token: "ro-secret"`,
		`  rate_rps: 7.5`,
		`telemetry:`,
		`  sampling_rate: 0.25`,
		``,
	}, "\n"))

	out, code := captureStdout(t, func() int {
		return runConfigDump([]string{"--effective", "--file", valid})
	})
	if code != 0 {
		t.Fatalf("dump = %d, want 0", code)
	}

	goldenPath := filepath.Join("testdata", "dump_effective.golden.yaml")
	if os.Getenv("UPDATE_GOLDEN") == "1" {
		if err := os.WriteFile(goldenPath, []byte(out), 0o644); err != nil {
			t.Fatalf("update golden: %v", err)
		}
		return
	}

	want, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Fatalf("read golden (set UPDATE_GOLDEN=1 to generate): %v", err)
	}
	if diff := cmp.Diff(string(want), out); diff != "" {
		t.Fatalf("effective dump drifted (-want +got):\n%s", diff)
	}
}
