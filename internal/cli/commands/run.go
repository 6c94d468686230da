package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/weft/internal/cli/output"
	"github.com/leapstack-labs/weft/internal/engine"
	"github.com/leapstack-labs/weft/pkg/core"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Select      []string
	Downstream  bool
	FullRefresh bool
}

// RunOutput is the JSON form of a finished run.
type RunOutput struct {
	RunID   string          `json:"run_id"`
	Target  string          `json:"target"`
	Status  core.RunStatus  `json:"status"`
	Error   string          `json:"error,omitempty"`
	TotalMS int64           `json:"total_ms"`
	Models  []RunModelEvent `json:"models"`
}

// RunModelEvent is the outcome of one model in RunOutput.
type RunModelEvent struct {
	Model       string             `json:"model"`
	Status      core.NodeRunStatus `json:"status"`
	Message     string             `json:"message,omitempty"`
	Error       string             `json:"error,omitempty"`
	ExecutionMS int64              `json:"execution_ms"`
}

// ErrRunFailed is returned when at least one model failed.
var ErrRunFailed = errors.New("run failed")

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all models or specific models",
		Long: `Execute SQL models in dependency order.

By default, runs all models. Use --select to run specific models and
--downstream to also run the models that depend on them. Independent
models run concurrently up to --threads. When a model fails its
descendants are skipped.`,
		Example: `  # Run all models
  weft run

  # Run specific models
  weft run --select stg_customers,stg_orders

  # Run a model and its downstream dependents
  weft run --select stg_customers --downstream

  # Rebuild incremental models from scratch
  weft run --full-refresh`,
		Aliases: []string{"build"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Comma-separated list of models to run")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "Include downstream dependents when using --select")
	cmd.Flags().BoolVar(&opts.FullRefresh, "full-refresh", false, "Rebuild incremental models from scratch")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	start := time.Now()
	result, runErr := cc.Engine.Run(cmd.Context(), engine.RunOptions{
		Select:      opts.Select,
		Downstream:  opts.Downstream,
		FullRefresh: opts.FullRefresh,
	})
	if result == nil {
		return runErr
	}
	if runErr != nil {
		cc.Logger.Debug("run errors", "error", runErr)
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(newRunOutput(result, time.Since(start))); err != nil {
			return err
		}
	} else {
		renderRunText(r, result, time.Since(start))
	}

	if result.Run.Status == core.RunStatusCancelled {
		return runErr
	}
	if result.Run.Status == core.RunStatusFailed {
		return fmt.Errorf("%w: %s", ErrRunFailed, result.Run.Error)
	}
	return nil
}

func newRunOutput(result *engine.RunResult, elapsed time.Duration) RunOutput {
	out := RunOutput{
		RunID:   result.Run.ID,
		Target:  result.Run.Target,
		Status:  result.Run.Status,
		Error:   result.Run.Error,
		TotalMS: elapsed.Milliseconds(),
		Models:  make([]RunModelEvent, 0, len(result.Nodes)),
	}
	for _, nr := range result.Nodes {
		out.Models = append(out.Models, RunModelEvent{
			Model:       nr.NodeID,
			Status:      nr.Status,
			Message:     nr.Message,
			Error:       nr.Error,
			ExecutionMS: nr.ExecutionMS,
		})
	}
	return out
}

func renderRunText(r *output.Renderer, result *engine.RunResult, elapsed time.Duration) {
	styles := r.Styles()
	r.Header(fmt.Sprintf("Run %s (%s)", result.Run.ID, result.Run.Target))

	rows := make([][]string, 0, len(result.Nodes))
	for _, nr := range result.Nodes {
		detail := nr.Message
		if nr.Error != "" {
			detail = nr.Error
		}
		rows = append(rows, []string{
			nr.NodeID,
			styles.Status(string(nr.Status)),
			detail,
			fmt.Sprintf("%dms", nr.ExecutionMS),
		})
	}
	r.Table([]string{"model", "status", "result", "time"}, rows)

	counts := result.Counts()
	r.Printf("%s: %d succeeded, %d failed, %d skipped in %s\n",
		styles.Status(string(result.Run.Status)),
		counts[core.NodeRunStatusSuccess],
		counts[core.NodeRunStatusFailed],
		counts[core.NodeRunStatusSkipped],
		elapsed.Round(time.Millisecond))
}
