package core_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const modulePath = "github.com/leapstack-labs/weft"

// imports returns the import paths of the non-test Go files in dir.
func imports(t *testing.T, dir string) map[string][]string {
	t.Helper()
	fset := token.NewFileSet()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", dir, err)
	}

	out := make(map[string][]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") || strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Errorf("Failed to parse %s: %v", path, err)
			continue
		}
		for _, imp := range f.Imports {
			out[path] = append(out[path], strings.Trim(imp.Path.Value, `"`))
		}
	}
	return out
}

// TestCoreImportsOnlyStdlib verifies pkg/core only imports the standard library.
func TestCoreImportsOnlyStdlib(t *testing.T) {
	for file, paths := range imports(t, ".") {
		for _, importPath := range paths {
			// stdlib paths have no dot in the first element
			if strings.Contains(strings.Split(importPath, "/")[0], ".") {
				t.Errorf("%s imports forbidden package: %s", file, importPath)
			}
		}
	}
}

// TestPublicPackagesAvoidInternal verifies pkg/adapter and the adapters
// never reach into internal/.
func TestPublicPackagesAvoidInternal(t *testing.T) {
	dirs := []string{
		"../adapter",
		"../adapters/duckdb",
		"../adapters/postgres",
		"../adapters/sqlite",
	}
	for _, dir := range dirs {
		for file, paths := range imports(t, dir) {
			for _, importPath := range paths {
				if strings.HasPrefix(importPath, modulePath+"/internal/") {
					t.Errorf("%s imports internal package: %s", file, importPath)
				}
			}
		}
	}
}

// TestTemplateLayering verifies the template engine does not depend on the
// packages that drive it.
func TestTemplateLayering(t *testing.T) {
	forbidden := []string{
		modulePath + "/internal/engine",
		modulePath + "/internal/cli",
		modulePath + "/internal/state",
		modulePath + "/pkg/adapter",
	}
	for _, dir := range []string{"../../internal/template", "../../internal/starlark", "../../internal/macro"} {
		for file, paths := range imports(t, dir) {
			for _, importPath := range paths {
				for _, f := range forbidden {
					if importPath == f || strings.HasPrefix(importPath, f+"/") {
						t.Errorf("%s imports %s", file, importPath)
					}
				}
			}
		}
	}
}
