package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandLogger_JSONWhenNotATerminal(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewCommandLogger(&RootOptions{LogFormat: "auto"}, buf)

	logger.Info("watch starting", "repo", "octo/hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "watch starting", record["msg"])
	assert.Equal(t, "octo/hello", record["repo"])
}

func TestNewCommandLogger_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewCommandLogger(&RootOptions{LogFormat: "text"}, buf)

	logger.Info("watch starting", "repo", "octo/hello")
	assert.Contains(t, buf.String(), `msg="watch starting" repo=octo/hello`)
}

func TestNewCommandLogger_VerboseEnablesDebug(t *testing.T) {
	quiet := &bytes.Buffer{}
	NewCommandLogger(&RootOptions{LogFormat: "text"}, quiet).Debug("cycle complete")
	assert.Empty(t, quiet.String())

	verbose := &bytes.Buffer{}
	NewCommandLogger(&RootOptions{LogFormat: "text", Verbose: true}, verbose).Debug("cycle complete")
	assert.Contains(t, verbose.String(), "cycle complete")
}
