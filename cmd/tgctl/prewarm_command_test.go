// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestPrewarmCommand(t *testing.T) {
	manifest := filepath.Join(t.TempDir(), "warm.txt")
	content := "# covers\nhttps://img.example/1.jpg\n\nhttps://img.example/2.jpg\n"
	if err := os.WriteFile(manifest, []byte(content), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/prewarm" {
			http.NotFound(w, r)
			return
		}
		var body prewarmBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.URLs) != 3 {
			t.Errorf("got %d URLs, want 3: %v", len(body.URLs), body.URLs)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(prewarmDoc{Accepted: 3})
	}))
	defer ts.Close()

	out, _, err := runCLI(t, ts.URL, "prewarm", "https://img.example/3.jpg", "--manifest", manifest)
	if err != nil {
		t.Fatalf("prewarm: %v", err)
	}
	requireContains(t, out, "Queued 3 of 3 URLs")
}

func TestPrewarmCommand_QueueFull(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(prewarmDoc{Accepted: 1, Dropped: 2})
	}))
	defer ts.Close()

	out, _, err := runCLI(t, ts.URL, "prewarm", "a", "b", "c")
	if err != nil {
		t.Fatalf("prewarm: %v", err)
	}
	requireContains(t, out, "Queued 1 of 3 URLs")
	requireContains(t, out, "2 dropped (queue full)")
}

func TestPrewarmCommand_NoURLs(t *testing.T) {
	_, _, err := runCLI(t, "", "prewarm")
	if err == nil {
		t.Fatal("expected an error")
	}
	requireContains(t, err.Error(), "pass URLs or --manifest")
}
