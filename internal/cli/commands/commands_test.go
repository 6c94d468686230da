package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParseCommand(t *testing.T) {
	cmd := NewParseCommand()

	assert.Equal(t, "parse", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")
}

func TestNewCompileCommand(t *testing.T) {
	cmd := NewCompileCommand()

	assert.Equal(t, "compile <model>", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.Error(t, cmd.Args(cmd, nil), "a model argument is required")
	assert.NoError(t, cmd.Args(cmd, []string{"orders"}))
}

func TestNewListCommand(t *testing.T) {
	cmd := NewListCommand()

	assert.Equal(t, "ls", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.Contains(t, cmd.Aliases, "list")

	// Note: --output flag is a global persistent flag on root command, not local to ls
}

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	assert.Equal(t, "run", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")

	// Verify flags exist
	flags := []string{"select", "downstream", "full-refresh"}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}

	// Verify alias exists
	assert.NotEmpty(t, cmd.Aliases, "run command should have aliases")
	assert.Equal(t, "build", cmd.Aliases[0], "run command should have 'build' alias")
}

func TestRunCommand_SelectParsesList(t *testing.T) {
	cmd := NewRunCommand()

	require.NoError(t, cmd.ParseFlags([]string{"--select", "orders,customers", "-s", "revenue"}))
	got, err := cmd.Flags().GetStringSlice("select")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "customers", "revenue"}, got)
}

func TestNewWatchCommand(t *testing.T) {
	cmd := NewWatchCommand()

	assert.Equal(t, "watch", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")

	flag := cmd.Flags().Lookup("debounce")
	if assert.NotNil(t, flag) {
		assert.Equal(t, defaultDebounce.String(), flag.DefValue)
	}
}

func TestNewCommandContext_RequiresConfig(t *testing.T) {
	cmd := NewParseCommand()
	cmd.SetContext(t.Context())

	_, _, err := NewCommandContext(cmd)
	assert.ErrorContains(t, err, "configuration not loaded")
}
