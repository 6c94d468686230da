package macro

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"

	starctx "github.com/leapstack-labs/weft/internal/starlark"
	"github.com/leapstack-labs/weft/internal/template"
	"github.com/leapstack-labs/weft/pkg/core"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Macro is a compiled macro with its dependency record.
type Macro struct {
	// Node is the macro's node; DependsOn.Macros holds the macros it calls
	Node *core.Node

	// Value is the callable bound into templates
	Value *template.MacroValue
}

// ID returns the qualified identifier macro.<package>.<name>.
func (m *Macro) ID() string { return m.Node.UniqueID }

// Name returns the macro name.
func (m *Macro) Name() string { return m.Node.Name }

// Package returns the package defining the macro.
func (m *Macro) Package() string { return m.Node.PackageName }

// IsMaterialization reports whether the macro was declared with a materialization block.
func (m *Macro) IsMaterialization() bool { return m.Value.Block().Materialization != nil }

// Registry holds the macros of the builtin package, local packages and the
// root project. It is built once per parse and read concurrently afterwards.
type Registry struct {
	root     string
	logger   *slog.Logger
	macros   map[string]*Macro
	packages map[string][]*Macro
}

// NewRegistry creates an empty registry for the root package root.
func NewRegistry(root string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		root:     root,
		logger:   logger,
		macros:   make(map[string]*Macro),
		packages: make(map[string][]*Macro),
	}
}

// Paths locates the macro sources of a project.
type Paths struct {
	// MacrosDir holds the root package's macros
	MacrosDir string

	// PackagesDir holds one directory per local package, each with a macros/ subdirectory
	PackagesDir string
}

// Load builds a registry from the builtin macros, every local package and
// the root package.
func Load(ctx context.Context, root string, paths Paths, logger *slog.Logger) (*Registry, error) {
	if root == BuiltinPackage {
		return nil, &RegistryError{Package: root, Message: "project name is reserved"}
	}
	r := NewRegistry(root, logger)

	if err := r.LoadFrom(ctx, BuiltinLoader()); err != nil {
		return nil, err
	}

	pkgs, err := listPackages(paths.PackagesDir)
	if err != nil {
		return nil, err
	}
	for _, pkg := range pkgs {
		if pkg == root || pkg == BuiltinPackage {
			return nil, &RegistryError{Package: pkg, Message: "package name is reserved"}
		}
		dir := filepath.Join(paths.PackagesDir, pkg, "macros")
		if err := r.LoadFrom(ctx, NewLoader(dir, pkg)); err != nil {
			return nil, err
		}
	}

	if paths.MacrosDir != "" {
		if err := r.LoadFrom(ctx, NewLoader(paths.MacrosDir, root)); err != nil {
			return nil, err
		}
	}

	r.logger.Debug("macros loaded", "root", root, "macros", len(r.macros), "packages", len(r.packages))
	return r, nil
}

func listPackages(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read packages directory: %w", err)
	}

	var pkgs []string
	for _, e := range entries {
		if e.IsDir() {
			pkgs = append(pkgs, e.Name())
		}
	}
	return pkgs, nil
}

// LoadFrom compiles and registers every file returned by l.
func (r *Registry) LoadFrom(ctx context.Context, l *Loader) error {
	files, err := l.Load()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := r.AddFile(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// AddFile compiles a macro file and registers its top-level macros. Calls
// to ref() and var() are rejected, and every macro's dependencies are
// captured into its node.
func (r *Registry) AddFile(ctx context.Context, f *SourceFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePackageName(f.Package); err != nil {
		return &LoadError{File: f.Path, Message: err.Error(), Err: err}
	}

	fileNode := core.NewNode(core.ResourceMacro, f.Package, filepath.Base(f.Path), f.Path)
	compiled, err := template.Compile(f.Source, f.Path, fileNode, nil, template.Options{
		CaptureDependencies:     true,
		ValidateMacroReferences: true,
		Logger:                  r.logger,
	})
	if err != nil {
		return err
	}

	for _, mv := range compiled.Macros() {
		if starctx.IsBuiltinName(mv.Name()) {
			return &RegistryError{Package: f.Package, Macro: mv.Name(), Message: "macro name conflicts with builtin"}
		}
		if existing, ok := r.macros[mv.ID()]; ok {
			return &RegistryError{
				Package: f.Package,
				Macro:   mv.Name(),
				Message: fmt.Sprintf("defined in both %s and %s", existing.Node.Path, f.Path),
			}
		}

		node := core.NewNode(core.ResourceMacro, f.Package, mv.Name(), f.Path)
		node.RawSQL = f.Source
		if err := compiled.CaptureMacro(nil, mv, node); err != nil {
			return err
		}

		m := &Macro{Node: node, Value: mv}
		r.macros[m.ID()] = m
		r.packages[f.Package] = append(r.packages[f.Package], m)
		r.logger.Debug("registered macro", "id", m.ID(), "depends_on", node.DependsOn.Macros)
	}
	return nil
}

// Lookup returns the macro with the qualified identifier id.
func (r *Registry) Lookup(id string) (*Macro, bool) {
	m, ok := r.macros[id]
	return m, ok
}

// Len returns the number of registered macros.
func (r *Registry) Len() int { return len(r.macros) }

// Macros returns all macros sorted by identifier.
func (r *Registry) Macros() []*Macro {
	out := make([]*Macro, 0, len(r.macros))
	for _, m := range r.macros {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Packages returns the names of all packages with macros, sorted.
func (r *Registry) Packages() []string {
	names := make([]string, 0, len(r.packages))
	for name := range r.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// searchOrder returns packages by precedence: root, local packages, builtin.
func (r *Registry) searchOrder() []string {
	order := []string{r.root}
	for _, pkg := range r.Packages() {
		if pkg != r.root && pkg != BuiltinPackage {
			order = append(order, pkg)
		}
	}
	return append(order, BuiltinPackage)
}

// Namespaces returns the macro bindings for templates. Builtin and root
// macros are bound by bare name, root winning; every package is also bound
// as a namespace struct, so utils.star() and weft.create_table_as() work.
func (r *Registry) Namespaces() starlark.StringDict {
	out := make(starlark.StringDict)

	for _, pkg := range []string{BuiltinPackage, r.root} {
		for _, m := range r.packages[pkg] {
			if !m.IsMaterialization() {
				out[m.Name()] = m.Value
			}
		}
	}

	for pkg, macros := range r.packages {
		members := make(starlark.StringDict, len(macros))
		for _, m := range macros {
			members[m.Name()] = m.Value
		}
		out[pkg] = starlarkstruct.FromStringDict(starlark.String(pkg), members)
	}
	return out
}

// FindMaterialization returns the macro implementing strategy for adapter.
// Adapter-specific implementations win over default ones; within each, the
// root package wins over local packages, which win over the builtin package.
func (r *Registry) FindMaterialization(strategy, adapter string) (*Macro, error) {
	candidates := []string{core.MaterializationMacroName(strategy, adapter)}
	if adapter != "" && adapter != core.DefaultAdapterName {
		candidates = append(candidates, core.MaterializationMacroName(strategy, core.DefaultAdapterName))
	}

	for _, name := range candidates {
		for _, pkg := range r.searchOrder() {
			if m, ok := r.macros[core.MacroID(pkg, name)]; ok && m.IsMaterialization() {
				return m, nil
			}
		}
	}
	return nil, &MaterializationNotFoundError{Strategy: strategy, Adapter: adapter}
}

// Dependencies returns the transitive macro dependencies of the given
// macro identifiers, excluding identifiers that are not registered.
func (r *Registry) Dependencies(ids []string) []string {
	var out []string
	seen := make(map[string]bool)
	queue := slices.Clone(ids)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		m, ok := r.macros[id]
		if !ok {
			continue
		}
		out = append(out, id)
		queue = append(queue, m.Node.DependsOn.Macros...)
	}
	return out
}

// RegistryError reports a macro that cannot be registered.
type RegistryError struct {
	Package string
	Macro   string
	Message string
}

func (e *RegistryError) Error() string {
	if e.Macro == "" {
		return fmt.Sprintf("package %q: %s", e.Package, e.Message)
	}
	return fmt.Sprintf("macro %s.%s: %s", e.Package, e.Macro, e.Message)
}

// MaterializationNotFoundError is returned when no macro implements a materialization.
type MaterializationNotFoundError struct {
	Strategy string
	Adapter  string
}

func (e *MaterializationNotFoundError) Error() string {
	return fmt.Sprintf("no materialization %q found for adapter %q", e.Strategy, e.Adapter)
}
