// SPDX-License-Identifier: MIT

package api

import (
	_ "embed"
	"net/http"
)

// openapiSpec is the API contract. A parity test keeps it honest against
// the mounted routes, so it ships inside the binary rather than drifting
// in a docs tree.
//
//go:embed openapi.yaml
var openapiSpec []byte

func handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(openapiSpec)
}
