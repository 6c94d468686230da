package core

import "fmt"

// Materialization constants for model types.
const (
	MaterializationTable       = "table"
	MaterializationView        = "view"
	MaterializationIncremental = "incremental"
)

// DefaultAdapterName is the adapter a materialization applies to when the
// directive does not name one.
const DefaultAdapterName = "default"

// MaterializationMacroName returns the macro name a materialization directive
// is registered under, e.g. materialization_view_default.
func MaterializationMacroName(strategy, adapterName string) string {
	if adapterName == "" {
		adapterName = DefaultAdapterName
	}
	return fmt.Sprintf("materialization_%s_%s", strategy, adapterName)
}
