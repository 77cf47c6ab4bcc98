package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "runwatch", cmd.Use)
	assert.Contains(t, cmd.Long, "exactly once")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"watch"},
		{"poll"},
		{"cursor"},
		{"cursor", "list"},
		{"cursor", "show"},
		{"cursor", "reset"},
		{"validate"},
		{"test"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	logFormatFlag := cmd.PersistentFlags().Lookup("log-format")
	require.NotNil(t, logFormatFlag)
	assert.Equal(t, "auto", logFormatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{"repo", "r", "[]"},
		{"token", "t", ""},
		{"poll-seconds", "", "10"},
		{"request-timeout-ms", "", "10000"},
		{"state-dir", "", ".runwatch"},
		{"store", "", "sqlite"},
		{"database-url", "", ""},
		{"safety-delay", "", "5m0s"},
		{"overlap", "", "2m0s"},
		{"dedupe-retention", "", "30m0s"},
		{"open-run-ttl", "", "0s"},
		{"listen", "", ""},
		{"color", "", "auto"},
		{"base-url", "", "https://api.github.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := watchCmd.Flags().Lookup(tt.name)
			require.NotNil(t, flag)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
			assert.Equal(t, tt.defValue, flag.DefValue)
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{"format", []string{"--format", "yaml", "validate"}, `invalid format "yaml"`},
		{"log format", []string{"--log-format", "xml", "validate"}, `invalid log format "xml"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCommand()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}
