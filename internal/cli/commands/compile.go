package commands

import (
	"github.com/leapstack-labs/weft/internal/cli/output"
	"github.com/spf13/cobra"
)

// CompileOutput is the JSON form of a compiled model.
type CompileOutput struct {
	Model string `json:"model"`
	SQL   string `json:"sql"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <model>",
		Short: "Render a model to SQL",
		Long: `Render a model's template to SQL without touching the database.
ref() resolves against the parsed project and statement blocks are not run.`,
		Example: `  # Print the SQL of a model
  weft compile orders

  # Use the unique ID
  weft compile model.shop.orders -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sql, err := cc.Engine.Compile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(CompileOutput{Model: args[0], SQL: sql})
			}
			r.Println(sql)
			return nil
		},
	}
}
