package commands

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/weft/internal/cli/output"
	"github.com/leapstack-labs/weft/internal/engine"
	"github.com/leapstack-labs/weft/internal/state"
	"github.com/spf13/cobra"
)

// ModelInfo is the JSON form of one listed model.
type ModelInfo struct {
	UniqueID     string   `json:"unique_id"`
	Name         string   `json:"name"`
	Package      string   `json:"package"`
	Path         string   `json:"path"`
	Materialized string   `json:"materialized"`
	Schema       string   `json:"schema,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
	LastStatus   string   `json:"last_status,omitempty"`
}

// NewListCommand creates the ls command.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List models in execution order",
		Long: `List every model in execution order with its materialization, the
models it depends on and the status of its last run.`,
		Example: `  # List all models
  weft ls

  # List models as JSON
  weft ls --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			m, err := cc.Engine.Parse(cmd.Context())
			if err != nil {
				return err
			}
			models := listModels(cmd.Context(), m, cc.Engine.Store())

			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(models)
			}
			renderListText(r, models)
			return nil
		},
	}
}

// listModels returns the models ordered by level, then unique ID.
func listModels(ctx context.Context, m *engine.Manifest, store *state.Store) []ModelInfo {
	last := lastStatuses(ctx, store)

	models := make([]ModelInfo, 0, len(m.Nodes))
	for _, level := range m.Levels {
		for _, id := range level {
			n, ok := m.Graph.Node(id)
			if !ok {
				continue
			}
			models = append(models, ModelInfo{
				UniqueID:     n.UniqueID,
				Name:         n.Name,
				Package:      n.PackageName,
				Path:         n.Path,
				Materialized: n.Materialized(),
				Schema:       n.Config.Schema,
				Tags:         n.Config.Tags,
				Dependencies: m.Graph.Parents(id),
				Dependents:   m.Graph.Children(id),
				LastStatus:   last[id],
			})
		}
	}
	return models
}

// lastStatuses maps node IDs to their status in the latest run.
func lastStatuses(ctx context.Context, store *state.Store) map[string]string {
	out := make(map[string]string)
	run, err := store.LatestRun(ctx)
	if err != nil || run == nil {
		return out
	}
	nodeRuns, err := store.ListNodeRuns(ctx, run.ID)
	if err != nil {
		return out
	}
	for _, nr := range nodeRuns {
		out[nr.NodeID] = string(nr.Status)
	}
	return out
}

func renderListText(r *output.Renderer, models []ModelInfo) {
	styles := r.Styles()
	r.Header(fmt.Sprintf("Models (%d total)", len(models)))

	rows := make([][]string, 0, len(models))
	for i, mi := range models {
		status := "-"
		if mi.LastStatus != "" {
			status = styles.Status(mi.LastStatus)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			mi.Name,
			mi.Materialized,
			output.JoinOrDash(mi.Dependencies),
			status,
			mi.Path,
		})
	}
	r.Table([]string{"#", "model", "materialized", "depends on", "last run", "path"}, rows)
}
