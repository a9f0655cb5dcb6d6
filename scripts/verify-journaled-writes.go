//go:build ignore

// SPDX-License-Identifier: MIT

// Command verify-journaled-writes enforces the cache write discipline:
// entry files and the journal are only ever created, renamed, or removed
// by internal/diskcache. Any other package reaching for the os write APIs
// or renameio is a bypass that the journal cannot account for.
// internal/fsutil is exempt for its writability probe.
//
// Run from the repository root:
//
//	go run scripts/verify-journaled-writes.go
package main

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"
)

// forbiddenOSFuncs are the os functions that create, replace, or delete
// files. Read-side helpers (os.Open, os.Stat, os.ReadDir) stay allowed.
var forbiddenOSFuncs = map[string]struct{}{
	"Create":     {},
	"CreateTemp": {},
	"OpenFile":   {},
	"WriteFile":  {},
	"Rename":     {},
	"Remove":     {},
	"RemoveAll":  {},
	"Truncate":   {},
}

const renameioModule = "github.com/google/renameio"

func main() {
	patterns := []string{"./internal/...", "./cmd/..."}
	if len(os.Args) > 1 {
		patterns = os.Args[1:]
	}

	violations, err := Analyze(patterns...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "❌ unjournaled cache writes found:")
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, v)
		}
		os.Exit(1)
	}
}

// Analyze loads the given package patterns and reports every file write
// outside the exempt packages.
func Analyze(patterns ...string) ([]string, error) {
	cfg := &packages.Config{
		Mode: packages.NeedSyntax | packages.NeedFiles | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedName,
		Dir:  ".",
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		for i, file := range pkg.Syntax {
			filename := ""
			if i < len(pkg.CompiledGoFiles) {
				filename = pkg.CompiledGoFiles[i]
			} else if i < len(pkg.GoFiles) {
				filename = pkg.GoFiles[i]
			}
			if filename == "" || strings.HasSuffix(filename, "_test.go") {
				continue
			}
			if inExemptPackage(filename) {
				continue
			}

			for _, imp := range file.Imports {
				path, _ := strconv.Unquote(imp.Path.Value)
				if strings.HasPrefix(path, renameioModule) {
					violations = append(violations, formatViolation(pkg.Fset, filename, imp.Pos(), "renameio import outside internal/diskcache (use the store editors)"))
				}
			}

			ast.Inspect(file, func(n ast.Node) bool {
				sel, ok := n.(*ast.SelectorExpr)
				if !ok {
					return true
				}
				name, ok := forbiddenOSWrite(sel, pkg.TypesInfo)
				if !ok {
					return true
				}
				violations = append(violations, formatViolation(pkg.Fset, filename, sel.Pos(), fmt.Sprintf("os.%s outside internal/diskcache (use the store editors)", name)))
				return true
			})
		}
	}
	return violations, nil
}

func inExemptPackage(filename string) bool {
	for _, dir := range []string{
		filepath.Join("internal", "diskcache"),
		filepath.Join("internal", "fsutil"),
	} {
		if strings.Contains(filename, dir+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

func forbiddenOSWrite(sel *ast.SelectorExpr, info *types.Info) (string, bool) {
	obj := info.ObjectOf(sel.Sel)
	if obj == nil || obj.Pkg() == nil || obj.Pkg().Path() != "os" {
		return "", false
	}
	_, forbidden := forbiddenOSFuncs[obj.Name()]
	return obj.Name(), forbidden
}

func formatViolation(fset *token.FileSet, filename string, pos token.Pos, msg string) string {
	line := 0
	if fset != nil {
		line = fset.Position(pos).Line
	}
	if rel, err := filepath.Rel(".", filename); err == nil {
		filename = rel
	}
	return fmt.Sprintf("%s:%d: %s", filename, line, msg)
}
