// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPurgeCommand_URL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/purge" {
			http.NotFound(w, r)
			return
		}
		var body purgeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.URL != "https://img.example/a.jpg" || body.All {
			t.Errorf("unexpected body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(purgeDoc{Purged: 1, URL: body.URL})
	}))
	defer ts.Close()

	out, _, err := runCLI(t, ts.URL, "purge", "https://img.example/a.jpg")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	requireContains(t, out, "Purged https://img.example/a.jpg")
}

func TestPurgeCommand_All(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body purgeBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.All || body.URL != "" {
			t.Errorf("unexpected body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(purgeDoc{Purged: 7})
	}))
	defer ts.Close()

	out, _, err := runCLI(t, ts.URL, "purge", "--all")
	if err != nil {
		t.Fatalf("purge --all: %v", err)
	}
	requireContains(t, out, "Purged 7 entries")
}

func TestPurgeCommand_ArgValidation(t *testing.T) {
	for _, args := range [][]string{
		{"purge"},
		{"purge", "--all", "https://img.example/a.jpg"},
	} {
		_, _, err := runCLI(t, "", args...)
		if err == nil {
			t.Fatalf("%v: expected an error", args)
		}
		requireContains(t, err.Error(), "exactly one")
	}
}
