package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/weft/internal/dag"
	"github.com/leapstack-labs/weft/internal/loader"
	"github.com/leapstack-labs/weft/internal/macro"
	starctx "github.com/leapstack-labs/weft/internal/starlark"
	"github.com/leapstack-labs/weft/internal/template"
	"github.com/leapstack-labs/weft/pkg/core"
	"go.starlark.net/starlark"
)

// Manifest is the parsed project: macros, models with their dependency
// records, and the model graph.
type Manifest struct {
	Macros *macro.Registry
	Graph  *dag.Graph

	// Nodes are the models sorted by unique ID
	Nodes []*core.Node

	// Levels are the waves of independent models in execution order
	Levels [][]string

	byName map[string]*core.Node
}

// Node returns the model named name, or with unique ID name.
func (m *Manifest) Node(name string) (*core.Node, bool) {
	if n, ok := m.Graph.Node(name); ok {
		return n, true
	}
	n, ok := m.byName[name]
	return n, ok
}

// ModelNotFoundError is returned when a model name does not resolve.
type ModelNotFoundError struct {
	Name string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not found", e.Name)
}

// Parse loads macros and models, records every model's macro and model
// dependencies, builds the graph and saves the manifest to the state
// store. Compilation errors of all models are reported together.
func (e *Engine) Parse(ctx context.Context) (*Manifest, error) {
	start := time.Now()

	macros, err := macro.Load(ctx, e.cfg.Package, macro.Paths{
		MacrosDir:   e.cfg.MacrosDir,
		PackagesDir: e.cfg.PackagesDir,
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load macros: %w", err)
	}

	nodes, err := loader.NewLoader(e.cfg.ProjectDir, e.cfg.ModelsDir, e.cfg.Package, e.logger).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	byName := make(map[string]*core.Node, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
	}

	namespaces := macros.Namespaces()
	var errs []error
	for _, n := range nodes {
		if err := e.parseNode(ctx, n, macros, namespaces, byName); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	graph, err := dag.Build(nodes)
	if err != nil {
		return nil, err
	}
	levels, err := graph.Levels()
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveManifest(ctx, nodes); err != nil {
		return nil, err
	}

	m := &Manifest{
		Macros: macros,
		Graph:  graph,
		Nodes:  nodes,
		Levels: levels,
		byName: byName,
	}

	e.manifestMu.Lock()
	e.manifest = m
	e.manifestMu.Unlock()

	e.logger.Info("project parsed",
		"models", len(nodes),
		"macros", macros.Len(),
		"levels", len(levels),
		"duration", time.Since(start).Round(time.Millisecond))
	return m, nil
}

// parseNode renders n in capture mode. ref() records model dependencies
// and config() updates the node config; macro calls are recorded by the
// compiler. The materialization macro the node will run with is recorded
// as a dependency as well.
func (e *Engine) parseNode(ctx context.Context, n *core.Node, macros *macro.Registry, namespaces starlark.StringDict, byName map[string]*core.Node) error {
	n.DependsOn = core.DependsOn{}

	ec := starctx.NewContext(
		starctx.BuildConfigDict(n.Name, n.Config),
		e.cfg.TargetName,
		e.target,
		e.thisFor(n),
		starctx.WithExecute(false),
		starctx.WithAdapter(starctx.NewDryRunExecutorFor(e.cfg.Adapter.Type)),
		starctx.WithVars(e.cfg.Vars),
		starctx.WithRef(func(pkg, name string) (starlark.Value, error) {
			if pkg == "" {
				pkg = n.PackageName
			}
			n.DependsOn.AddNode(core.UniqueID(core.ResourceModel, pkg, name))
			if dep, ok := byName[name]; ok && dep.PackageName == pkg {
				return e.relationFor(dep), nil
			}
			return &starctx.Relation{Schema: e.target.Schema, Identifier: name}, nil
		}),
		starctx.WithConfigHook(func(updates map[string]any) error {
			return applyConfig(&n.Config, updates)
		}),
		starctx.WithLogger(e.logger.With("node", n.UniqueID)),
	)
	if err := ec.AddMacros(namespaces); err != nil {
		return err
	}

	compiled, err := template.Compile(n.RawSQL, n.Path, n, ec, template.Options{
		CaptureDependencies: true,
		Logger:              e.logger,
	})
	if err != nil {
		return err
	}
	if _, err := compiled.Render(ctx, ec); err != nil {
		return err
	}

	mat, err := macros.FindMaterialization(n.Materialized(), e.cfg.Adapter.Type)
	if err != nil {
		return fmt.Errorf("%s: %w", n.UniqueID, err)
	}
	n.DependsOn.AddMacro(mat.ID())

	e.logger.Debug("parsed model",
		"node", n.UniqueID,
		"materialized", n.Materialized(),
		"macros", n.DependsOn.Macros,
		"refs", n.DependsOn.Nodes)
	return nil
}

// applyConfig merges the keyword arguments of a config() call into cfg.
// Unknown keys are rejected.
func applyConfig(cfg *core.NodeConfig, updates map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "yaml",
		ErrorUnused: true,
		Result:      cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(updates)
}

// thisFor returns the relation a node materializes into.
func (e *Engine) thisFor(n *core.Node) *starctx.ThisInfo {
	return &starctx.ThisInfo{
		Name:     n.Name,
		Schema:   e.schemaFor(n),
		Database: e.databaseFor(),
	}
}

func (e *Engine) relationFor(n *core.Node) *starctx.Relation {
	return &starctx.Relation{
		Database:   e.databaseFor(),
		Schema:     e.schemaFor(n),
		Identifier: n.Name,
	}
}

func (e *Engine) schemaFor(n *core.Node) string {
	if n.Config.Schema != "" {
		return n.Config.Schema
	}
	return e.target.Schema
}

// databaseFor returns the catalog qualifier of relations. File-based
// adapters have a single catalog and leave it empty.
func (e *Engine) databaseFor() string {
	switch e.cfg.Adapter.Type {
	case "duckdb", "sqlite":
		return ""
	}
	return e.cfg.Adapter.Database
}
