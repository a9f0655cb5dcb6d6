// SPDX-License-Identifier: MIT

package httpcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// recordMagic is the first line of every metadata file. Bump the suffix
// when the record layout changes incompatibly.
const recordMagic = "thumbgate/1"

// ErrBadRecord is returned when a metadata record cannot be decoded.
// The gateway treats affected entries as misses and drops them.
var ErrBadRecord = errors.New("httpcache: malformed metadata record")

// Record is the metadata stored alongside a cached body. On disk it is
// preceded by the magic line and the canonical URL, so an entry can be
// identified with head(1) alone.
type Record struct {
	URL          string        `json:"-"`
	Status       int           `json:"status"`
	Proto        string        `json:"proto"`
	Header       http.Header   `json:"header"`
	ReqVary      http.Header   `json:"req_vary,omitempty"`
	StoredAt     time.Time     `json:"stored_at"`
	TTL          time.Duration `json:"ttl"`
	ETag         string        `json:"etag,omitempty"`
	LastModified string        `json:"last_modified,omitempty"`
	BodySize     int64         `json:"body_size"`
	BodySHA256   string        `json:"body_sha256,omitempty"`
}

// EncodeRecord serializes a record for the metadata stream.
func EncodeRecord(rec *Record) ([]byte, error) {
	if rec.URL == "" {
		return nil, fmt.Errorf("encode record: empty url")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	var b bytes.Buffer
	b.Grow(len(recordMagic) + len(rec.URL) + len(payload) + 3)
	b.WriteString(recordMagic)
	b.WriteByte('\n')
	b.WriteString(rec.URL)
	b.WriteByte('\n')
	b.Write(payload)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// DecodeRecord parses a metadata stream produced by EncodeRecord.
func DecodeRecord(raw []byte) (*Record, error) {
	magic, rest, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok || string(magic) != recordMagic {
		return nil, ErrBadRecord
	}
	urlLine, payload, ok := bytes.Cut(rest, []byte{'\n'})
	if !ok {
		return nil, ErrBadRecord
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	if rec.Status == 0 {
		return nil, ErrBadRecord
	}
	rec.URL = string(urlLine)
	return &rec, nil
}

// Age returns the entry's current age per the shared-cache age
// calculation: the larger of apparent age and the origin Age header,
// plus resident time.
func (r *Record) Age(now time.Time) time.Duration {
	var initial time.Duration
	if date, err := http.ParseTime(r.Header.Get("Date")); err == nil {
		if a := r.StoredAt.Sub(date); a > 0 {
			initial = a
		}
	}
	if secs, err := strconv.ParseInt(r.Header.Get("Age"), 10, 64); err == nil && secs > 0 {
		if hdr := time.Duration(secs) * time.Second; hdr > initial {
			initial = hdr
		}
	}

	resident := now.Sub(r.StoredAt)
	if resident < 0 {
		resident = 0
	}
	return initial + resident
}

// VaryFields returns the canonicalized header names listed in the
// stored Vary header.
func (r *Record) VaryFields() []string {
	return varyFields(r.Header)
}

// VaryMatches reports whether reqHeader selects the stored variant. A
// stored "Vary: *" never matches.
func (r *Record) VaryMatches(reqHeader http.Header) bool {
	for _, field := range r.VaryFields() {
		if field == "*" {
			return false
		}
		if varyValue(reqHeader, field) != varyValue(r.ReqVary, field) {
			return false
		}
	}
	return true
}

func varyFields(h http.Header) []string {
	var fields []string
	seen := make(map[string]struct{})
	for _, line := range h.Values("Vary") {
		for _, f := range strings.Split(line, ",") {
			f = http.CanonicalHeaderKey(strings.TrimSpace(f))
			if f == "" {
				continue
			}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			fields = append(fields, f)
		}
	}
	return fields
}

// capturedVary copies the request values named by the response Vary
// fields, for later variant matching.
func capturedVary(fields []string, reqHeader http.Header) http.Header {
	if len(fields) == 0 {
		return nil
	}
	captured := make(http.Header, len(fields))
	for _, f := range fields {
		if f == "*" {
			continue
		}
		for _, v := range reqHeader.Values(f) {
			captured.Add(f, v)
		}
	}
	return captured
}

func varyValue(h http.Header, field string) string {
	if h == nil {
		return ""
	}
	vals := h.Values(field)
	trimmed := make([]string, len(vals))
	for i, v := range vals {
		trimmed[i] = strings.TrimSpace(v)
	}
	return strings.Join(trimmed, ", ")
}
