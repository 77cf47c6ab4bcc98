package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runValidateCommand(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	clearEnv(t)
	out := &bytes.Buffer{}
	cmd := NewValidateCommand(opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const validConfig = `
repos: [octo/hello, octo/world]
token: ghp_secret_value
store: file
state_dir: /tmp/runwatch
poll_interval: 30s
`

func TestValidate_Valid(t *testing.T) {
	path := writeConfig(t, validConfig)

	out, err := runValidateCommand(t, &RootOptions{Format: "text"}, path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration valid")
	assert.Contains(t, out, "Repos: [octo/hello octo/world]")
	assert.Contains(t, out, "Store: file")
	assert.Contains(t, out, "Poll interval: 30s")
}

func TestValidate_ConfigFlag(t *testing.T) {
	path := writeConfig(t, validConfig)

	out, err := runValidateCommand(t, &RootOptions{Format: "text", ConfigPath: path})
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration valid")
}

func TestValidate_VerboseRedactsSecrets(t *testing.T) {
	path := writeConfig(t, validConfig)

	out, err := runValidateCommand(t, &RootOptions{Format: "text", Verbose: true}, path)
	require.NoError(t, err)
	assert.Contains(t, out, "***")
	assert.Contains(t, out, "state_dir: /tmp/runwatch")
	assert.NotContains(t, out, "ghp_secret_value")
}

func TestValidate_JSON(t *testing.T) {
	path := writeConfig(t, validConfig)

	out, err := runValidateCommand(t, &RootOptions{Format: "json"}, path)
	require.NoError(t, err)
	assert.NotContains(t, out, "ghp_secret_value")

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.NotNil(t, resp.Data.Config)
	assert.True(t, resp.Data.Config.TokenSet)
	assert.Equal(t, "30s", resp.Data.Config.PollInterval)
	assert.Equal(t, "/tmp/runwatch", resp.Data.Config.StateDir)
}

func TestValidate_Invalid(t *testing.T) {
	path := writeConfig(t, `
repos: [octo/hello]
poll_interval: 0s
`)

	out, err := runValidateCommand(t, &RootOptions{Format: "text"}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_CONFIG_INVALID]")
	assert.Contains(t, out, "token is required")
	assert.Contains(t, out, "poll_interval must be > 0s")
}

func TestValidate_InvalidJSON(t *testing.T) {
	path := writeConfig(t, "repos: [octo]\ntoken: x\n")

	out, err := runValidateCommand(t, &RootOptions{Format: "json"}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfigInvalid, resp.Error.Code)
}

func TestValidate_LoadErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(t.TempDir(), "absent.yaml")},
		{name: "unknown field", path: writeConfig(t, "repos: [octo/hello]\npoll_intervall: 5s\n")},
		{name: "malformed yaml", path: writeConfig(t, "repos: [octo/hello\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runValidateCommand(t, &RootOptions{Format: "text"}, tt.path)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E_CONFIG_LOAD]")
		})
	}
}

func TestValidate_EnvironmentFillsToken(t *testing.T) {
	path := writeConfig(t, "repos: [octo/hello]\nstore: memory\n")
	clearEnv(t)

	out := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(out)
	cmd.SetArgs([]string{path})
	t.Setenv("GITHUB_TOKEN", "ghp_env")

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Store: memory")
}
