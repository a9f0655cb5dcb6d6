// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/oapi-codegen/v2/pkg/codegen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thumbgate/thumbgate/internal/resilience"
	"github.com/thumbgate/thumbgate/internal/verify"
)

func loadAPIDoc(t *testing.T) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

func forEachOperation(t *testing.T, doc *openapi3.T, fn func(method, path string, op *openapi3.Operation)) {
	t.Helper()
	for path, item := range doc.Paths.Map() {
		if item == nil {
			continue
		}
		for method, op := range item.Operations() {
			if op == nil {
				continue
			}
			fn(method, path, op)
		}
	}
}

// fullyWiredServer stubs every optional subsystem so documented routes
// answer something other than "not mounted".
func fullyWiredServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServer(t, func(d *Deps) {
		d.Pool = &stubPool{accept: -1}
		d.Origin = stubBreaker{state: resilience.StateClosed}
		d.Verifier = &stubVerifier{report: sampleReport("run-7")}
		d.History = &stubHistory{
			latest: sampleReport("run-7"),
			byID:   map[string]*verify.Report{"run-7": sampleReport("run-7")},
			runs:   []verify.Report{*sampleReport("run-7")},
		}
	})
}

func sampleTarget(path string) string {
	return strings.NewReplacer(
		"{path}", "img/sample.jpg",
		"{runID}", "run-7",
	).Replace(path)
}

func TestRouterMountsEveryDocumentedOperation(t *testing.T) {
	doc := loadAPIDoc(t)
	ts := fullyWiredServer(t)

	forEachOperation(t, doc, func(method, path string, op *openapi3.Operation) {
		rec := ts.request(t, method, sampleTarget(path), testRWToken, nil)
		assert.NotEqual(t, http.StatusNotFound, rec.Code, "route not mounted: %s %s", method, path)
		assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code, "route not mounted: %s %s", method, path)
	})
}

func TestEveryMountedRouteIsDocumented(t *testing.T) {
	doc := loadAPIDoc(t)
	ts := newTestServer(t, nil)

	router, ok := ts.Handler().(chi.Routes)
	require.True(t, ok)

	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		docPath := route
		if docPath == "/o/*" {
			docPath = "/o/{path}"
		}
		item := doc.Paths.Find(docPath)
		require.NotNilf(t, item, "route %s %s missing from openapi.yaml", method, route)
		require.NotNilf(t, item.GetOperation(method), "operation %s %s missing from openapi.yaml", method, route)
		return nil
	})
	require.NoError(t, err)
}

func TestDocumentedScopePolicy(t *testing.T) {
	doc := loadAPIDoc(t)

	forEachOperation(t, doc, func(method, path string, op *openapi3.Operation) {
		if !strings.HasPrefix(path, "/api/v1/") {
			return
		}

		require.NotNilf(t, op.Security, "%s %s must declare bearerAuth", method, path)
		hasBearer := false
		for _, req := range *op.Security {
			if _, ok := req["bearerAuth"]; ok {
				hasBearer = true
			}
		}
		assert.Truef(t, hasBearer, "%s %s must declare bearerAuth", method, path)

		scope, _ := op.Extensions["x-scope"].(string)
		switch method {
		case http.MethodGet:
			assert.Equalf(t, "ro", scope, "%s %s", method, path)
		case http.MethodPost:
			assert.Equalf(t, "rw", scope, "%s %s", method, path)
		default:
			t.Fatalf("undocumented method class %s %s", method, path)
		}
	})
}

// TestScopeEnforcementMatchesDocument drives the real router with each
// token class and checks the answers line up with the documented scopes.
func TestScopeEnforcementMatchesDocument(t *testing.T) {
	doc := loadAPIDoc(t)
	ts := fullyWiredServer(t)

	forEachOperation(t, doc, func(method, path string, op *openapi3.Operation) {
		if !strings.HasPrefix(path, "/api/v1/") {
			return
		}
		target := sampleTarget(path)

		rec := ts.request(t, method, target, "", nil)
		assert.Equalf(t, http.StatusUnauthorized, rec.Code, "no token: %s %s", method, target)

		scope, _ := op.Extensions["x-scope"].(string)
		rec = ts.request(t, method, target, testROToken, nil)
		if scope == "rw" {
			assert.Equalf(t, http.StatusForbidden, rec.Code, "ro token on rw op: %s %s", method, target)
		} else {
			assert.NotEqualf(t, http.StatusUnauthorized, rec.Code, "ro token rejected: %s %s", method, target)
			assert.NotEqualf(t, http.StatusForbidden, rec.Code, "ro token rejected: %s %s", method, target)
		}

		rec = ts.request(t, method, target, testRWToken, nil)
		assert.NotEqualf(t, http.StatusUnauthorized, rec.Code, "rw token rejected: %s %s", method, target)
		assert.NotEqualf(t, http.StatusForbidden, rec.Code, "rw token rejected: %s %s", method, target)
	})
}

// Operation IDs must survive the generator's identifier normalization
// without colliding, or generated clients get ambiguous method names.
func TestOperationIDsSurviveCodegen(t *testing.T) {
	doc := loadAPIDoc(t)
	seen := map[string]string{}

	forEachOperation(t, doc, func(method, path string, op *openapi3.Operation) {
		require.NotEmptyf(t, op.OperationID, "%s %s has no operationId", method, path)
		normalized := codegen.ToCamelCase(op.OperationID)
		require.NotEmptyf(t, normalized, "%s %s operationId normalizes to nothing", method, path)
		if prev, dup := seen[normalized]; dup {
			t.Fatalf("operation ids collide after normalization: %q used by %s and %s %s",
				normalized, prev, method, path)
		}
		seen[normalized] = method + " " + path
	})
}
