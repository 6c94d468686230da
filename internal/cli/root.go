// Package cli provides the command-line interface for weft.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/weft/internal/cli/commands"
	"github.com/leapstack-labs/weft/internal/cli/output"
	"github.com/leapstack-labs/weft/internal/config"
	"github.com/spf13/cobra"

	// Register the warehouse adapters.
	_ "github.com/leapstack-labs/weft/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/weft/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/weft/pkg/adapters/sqlite"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var (
		cfgFile    string
		projectDir string
	)

	rootCmd := &cobra.Command{
		Use:   "weft",
		Short: "weft - SQL models with Starlark templates",
		Long: `weft compiles SQL models written with Starlark-powered templates and
runs them against a warehouse in dependency order.

Models reference each other with ref(), share macros from the project,
its packages and the builtin weft namespace, and are materialized as
views, tables or incremental tables.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for commands that do not need it
			switch cmd.Name() {
			case "help", "completion", "__complete", "version":
				return nil
			}

			cfg, err := config.Load(config.Options{
				File:       cfgFile,
				ProjectDir: projectDir,
				Flags:      cmd.Flags(),
			})
			if err != nil {
				return err
			}

			logger := NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
			if cfg.File != "" {
				logger.Debug("using config file", "path", cfg.File)
			}
			logger.Debug("using target", "name", cfg.Target.Name, "type", cfg.Target.Type)

			cmd.SetContext(commands.WithCommandContext(cmd.Context(), &commands.CommandContext{
				Cfg:      cfg,
				Logger:   logger,
				Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
			}))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set version template
	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: weft.yaml in the project directory)")
	flags.StringVar(&projectDir, "project-dir", "", "Project directory (default: search upwards from the working directory)")
	flags.String("models-dir", "", "Path to models directory")
	flags.String("macros-dir", "", "Path to macros directory")
	flags.String("packages-dir", "", "Path to packages directory")
	flags.String("state", "", "Path to state database")
	flags.Int("threads", 0, "Models run concurrently")
	flags.StringP("target", "t", "", "Target name exposed to templates (e.g., dev, prod)")
	flags.String("target-type", "", "Warehouse adapter (duckdb, postgres, sqlite)")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.StringP("output", "o", "", "Output format (auto|text|json)")

	// Register completion for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return output.Modes(), cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewParseCommand())
	rootCmd.AddCommand(commands.NewCompileCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewListCommand())
	rootCmd.AddCommand(commands.NewWatchCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// NewLogger builds the CLI logger: text on w, debug level when verbose.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for weft.

To load completions:

Bash:
  $ source <(weft completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ weft completion bash > /etc/bash_completion.d/weft
  # macOS:
  $ weft completion bash > $(brew --prefix)/etc/bash_completion.d/weft

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ weft completion zsh > "${fpath[1]}/_weft"

Fish:
  $ weft completion fish | source

PowerShell:
  PS> weft completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
