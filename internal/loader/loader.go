package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/leapstack-labs/weft/pkg/core"
)

// Loader reads the models of one package from a directory tree.
type Loader struct {
	projectDir string
	modelsDir  string
	pkg        string
	logger     *slog.Logger
}

// NewLoader creates a loader for modelsDir. Node paths are recorded
// relative to projectDir.
func NewLoader(projectDir, modelsDir, pkg string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{projectDir: projectDir, modelsDir: modelsDir, pkg: pkg, logger: logger}
}

// Load returns one model node per *.sql file, sorted by unique ID.
// A missing models directory yields no models.
func (l *Loader) Load() ([]*core.Node, error) {
	if _, err := os.Stat(l.modelsDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access models directory: %w", err)
	}

	var nodes []*core.Node
	seen := make(map[string]string)

	err := filepath.WalkDir(l.modelsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}

		node, err := l.loadFile(path)
		if err != nil {
			return err
		}
		if other, ok := seen[node.UniqueID]; ok {
			return &DuplicateModelError{Name: node.Name, Paths: []string{other, node.Path}}
		}
		seen[node.UniqueID] = node.Path
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].UniqueID < nodes[j].UniqueID })
	l.logger.Debug("models loaded", "dir", l.modelsDir, "count", len(nodes))
	return nodes, nil
}

func (l *Loader) loadFile(path string) (*core.Node, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from WalkDir within the models directory
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	rel := path
	if r, err := filepath.Rel(l.projectDir, path); err == nil {
		rel = filepath.ToSlash(r)
	}

	fm, err := ExtractFrontmatter(string(content))
	if err != nil {
		var parseErr *FrontmatterParseError
		var fieldErr *UnknownFieldError
		switch {
		case errors.As(err, &parseErr):
			parseErr.File = rel
		case errors.As(err, &fieldErr):
			fieldErr.File = rel
		}
		return nil, err
	}
	fm.Config.ApplyDefaults(filepath.Base(path))

	node := core.NewNode(core.ResourceModel, l.pkg, fm.Config.Name, rel)
	node.RawSQL = fm.SQL
	node.Description = fm.Config.Description
	node.Config = fm.Config.NodeConfig()
	return node, nil
}

// DuplicateModelError is returned when two files define the same model.
type DuplicateModelError struct {
	Name  string
	Paths []string
}

func (e *DuplicateModelError) Error() string {
	return fmt.Sprintf("model %q is defined in both %s and %s", e.Name, e.Paths[0], e.Paths[1])
}
