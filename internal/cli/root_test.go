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
	assert.Equal(t, "fieldsync", cmd.Use)
	assert.Contains(t, cmd.Long, "offline")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"init"}, {"login"}, {"logout"}, {"capture"}, {"status"}, {"sync"},
		{"queue", "list"}, {"queue", "requeue"}, {"geofence"}, {"run"}, {"test"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
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

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestCaptureCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	captureCmd, _, err := cmd.Find([]string{"capture"})
	require.NoError(t, err)

	for _, name := range []string{"kind", "unit", "lat", "lng", "photo", "signature", "notes", "reading", "action", "reason", "status", "override", "override-reason"} {
		assert.NotNil(t, captureCmd.Flags().Lookup(name), "missing flag --%s", name)
	}
	assert.Equal(t, "delivery", captureCmd.Flags().Lookup("kind").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute([]string{"--format", "xml", "status"}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, errOut.String(), `invalid format "xml"`)
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
}
