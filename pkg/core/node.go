package core

import (
	"slices"
	"strings"
)

// ResourceType identifies what kind of project object a Node represents.
type ResourceType string

// Resource type constants.
const (
	ResourceModel ResourceType = "model"
	ResourceMacro ResourceType = "macro"
)

// UniqueID builds the fully-qualified identifier of a resource,
// e.g. model.analytics.orders or macro.weft.create_table_as.
func UniqueID(rt ResourceType, pkg, name string) string {
	return string(rt) + "." + pkg + "." + name
}

// MacroID returns the qualified identifier of a macro.
func MacroID(pkg, name string) string {
	return UniqueID(ResourceMacro, pkg, name)
}

// SplitUniqueID splits an identifier built by UniqueID into its parts.
// ok is false when id does not have exactly three dot-separated parts.
func SplitUniqueID(id string) (rt ResourceType, pkg, name string, ok bool) {
	parts := strings.SplitN(id, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return ResourceType(parts[0]), parts[1], parts[2], true
}

// NodeConfig holds the per-node settings set by frontmatter or config().
type NodeConfig struct {
	// Materialized defines how the model is stored: table, view, incremental
	Materialized string `yaml:"materialized" json:"materialized,omitempty"`
	// Schema is the database schema for this model
	Schema string `yaml:"schema" json:"schema,omitempty"`
	// UniqueKey for incremental models
	UniqueKey string `yaml:"unique_key" json:"unique_key,omitempty"`
	// Tags are metadata labels for filtering/organizing models
	Tags []string `yaml:"tags" json:"tags,omitempty"`
	// Meta contains custom extension fields
	Meta map[string]any `yaml:"meta" json:"meta,omitempty"`
}

// DependsOn is the dependency record of a node. Both lists are ordered by
// first insertion and never hold duplicates.
type DependsOn struct {
	Macros []string `json:"macros"`
	Nodes  []string `json:"nodes"`
}

// AddMacro appends a qualified macro identifier unless already present.
// It reports whether the identifier was added.
func (d *DependsOn) AddMacro(id string) bool {
	if slices.Contains(d.Macros, id) {
		return false
	}
	d.Macros = append(d.Macros, id)
	return true
}

// AddNode appends a node identifier unless already present.
func (d *DependsOn) AddNode(id string) bool {
	if slices.Contains(d.Nodes, id) {
		return false
	}
	d.Nodes = append(d.Nodes, id)
	return true
}

// Node is a compilable project resource: a model or a macro.
type Node struct {
	// UniqueID is the fully-qualified identifier (model.<package>.<name>)
	UniqueID string `json:"unique_id"`
	// Name is the resource name (file base name for models)
	Name string `json:"name"`
	// PackageName is the package that defines the resource
	PackageName string `json:"package_name"`
	// ResourceType is model or macro
	ResourceType ResourceType `json:"resource_type"`
	// Path is the source file path relative to the project root
	Path string `json:"path"`
	// Description is free text from frontmatter
	Description string `json:"description,omitempty"`
	// RawSQL is the template source (excluding frontmatter)
	RawSQL string `json:"raw_sql"`
	// Config holds materialization and metadata settings
	Config NodeConfig `json:"config"`
	// DependsOn is the dependency record filled during parsing
	DependsOn DependsOn `json:"depends_on"`
}

// NewNode creates a node with its UniqueID derived from type, package and name.
func NewNode(rt ResourceType, pkg, name, path string) *Node {
	return &Node{
		UniqueID:     UniqueID(rt, pkg, name),
		Name:         name,
		PackageName:  pkg,
		ResourceType: rt,
		Path:         path,
	}
}

// Materialized returns the configured materialization, defaulting to view.
func (n *Node) Materialized() string {
	if n.Config.Materialized == "" {
		return MaterializationView
	}
	return n.Config.Materialized
}
