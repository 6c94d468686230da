// Package core defines the shared language of the weft system.
//
// This package contains:
//   - Domain entities (Node, DependsOn, Run, NodeRun)
//   - Compilation errors shared by the template engine and its callers
//   - Adapter configuration and statement cursor types
//
// The Golden Rule: pkg/core imports ONLY the standard library.
// All other packages depend on core, not the reverse.
package core
