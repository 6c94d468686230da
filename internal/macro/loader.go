// Package macro loads macro files and resolves macros across packages.
// Every *.sql file under a package's macros directory is a macro file;
// each top-level macro or materialization in it becomes a registry entry.
package macro

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SourceFile is a macro file read from disk or from an embedded package.
type SourceFile struct {
	// Package is the package the file belongs to
	Package string

	// Path identifies the file in errors and node records
	Path string

	// Source is the template text
	Source string
}

// Loader scans a directory tree for macro files of one package.
type Loader struct {
	fsys fs.FS
	root string
	pkg  string
}

// NewLoader creates a loader for the macros directory dir of package pkg.
func NewLoader(dir, pkg string) *Loader {
	return &Loader{fsys: os.DirFS(dir), root: dir, pkg: pkg}
}

// NewFSLoader creates a loader over fsys. root prefixes reported paths.
func NewFSLoader(fsys fs.FS, root, pkg string) *Loader {
	return &Loader{fsys: fsys, root: root, pkg: pkg}
}

// Load returns all *.sql files in lexical path order.
// A missing directory yields no files and no error.
func (l *Loader) Load() ([]*SourceFile, error) {
	info, err := fs.Stat(l.fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access macros directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("macros path is not a directory: %s", l.root)
	}

	var files []*SourceFile
	err = fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".sql" {
			return nil
		}

		content, err := fs.ReadFile(l.fsys, p)
		if err != nil {
			return &LoadError{File: l.display(p), Message: fmt.Sprintf("failed to read file: %v", err)}
		}
		files = append(files, &SourceFile{
			Package: l.pkg,
			Path:    l.display(p),
			Source:  string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (l *Loader) display(p string) string {
	if l.root == "" {
		return p
	}
	return filepath.Join(l.root, filepath.FromSlash(p))
}

// validatePackageName checks that name can be used as a namespace in templates.
func validatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}

	for i, r := range name {
		if i == 0 {
			if !isLetter(r) && r != '_' {
				return fmt.Errorf("package name must start with letter or underscore: %s", name)
			}
		} else if !isLetter(r) && !isDigit(r) && r != '_' {
			return fmt.Errorf("package name contains invalid character: %s", name)
		}
	}

	return nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// LoadError represents an error loading a macro file.
type LoadError struct {
	File    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", filepath.ToSlash(e.File), strings.TrimSpace(e.Message))
}

func (e *LoadError) Unwrap() error { return e.Err }
