package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout, stderr and
// the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "sqlbridge", cmd.Use)
	assert.Contains(t, cmd.Long, "hooks")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"exec", "shell", "journal", "scenario", "stress"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	config := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "", config.DefValue)
}

func TestSubcommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	find := func(name string) *cobra.Command {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		return sub
	}

	exec := find("exec")
	for _, f := range []string{"file", "encoding", "watch", "journal"} {
		assert.NotNil(t, exec.Flags().Lookup(f), "exec --%s", f)
	}
	assert.Equal(t, "utf8", exec.Flags().Lookup("encoding").DefValue)

	assert.Equal(t, "20", find("journal").Flags().Lookup("limit").DefValue)
	assert.NotNil(t, find("scenario").Flags().Lookup("update"))
	assert.Equal(t, "8", find("stress").Flags().Lookup("connections").DefValue)
	assert.NotNil(t, find("shell").Flags().Lookup("history"))
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "xml", "stress")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}
