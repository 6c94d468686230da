package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/weft/internal/cli/output"
	"github.com/leapstack-labs/weft/internal/engine"
	"github.com/leapstack-labs/weft/pkg/core"
	"github.com/spf13/cobra"
)

// ParseOutput is the JSON form of a parsed project.
type ParseOutput struct {
	Package string       `json:"package"`
	Models  []*core.Node `json:"models"`
	Levels  [][]string   `json:"levels"`
	Macros  int          `json:"macros"`
}

// NewParseCommand creates the parse command.
func NewParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse",
		Short: "Parse the project and record model dependencies",
		Long: `Load macros and models, render every model in capture mode and record
the macros and models it depends on. The dependency records are saved to
the state database.

Compilation errors of all models are reported together.`,
		Example: `  # Parse and show dependency records
  weft parse

  # Dependency records as JSON
  weft parse -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			start := time.Now()
			m, err := cc.Engine.Parse(cmd.Context())
			if err != nil {
				return err
			}

			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(ParseOutput{
					Package: cc.Cfg.Name,
					Models:  m.Nodes,
					Levels:  m.Levels,
					Macros:  m.Macros.Len(),
				})
			}
			renderParseText(r, m, time.Since(start))
			return nil
		},
	}
}

func renderParseText(r *output.Renderer, m *engine.Manifest, elapsed time.Duration) {
	r.Header(fmt.Sprintf("Parsed %d models, %d macros", len(m.Nodes), m.Macros.Len()))

	rows := make([][]string, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		rows = append(rows, []string{
			n.UniqueID,
			n.Materialized(),
			output.JoinOrDash(n.DependsOn.Nodes),
			output.JoinOrDash(n.DependsOn.Macros),
		})
	}
	r.Table([]string{"model", "materialized", "refs", "macros"}, rows)
	r.Muted(fmt.Sprintf("%d levels, done in %s", len(m.Levels), elapsed.Round(time.Millisecond)))
}
