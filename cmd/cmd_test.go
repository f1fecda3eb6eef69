package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)

	assert.Contains(t, out, "Roadkit")
	assert.Contains(t, out, "Build Time:")
	assert.Contains(t, out, "Git Commit:")
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, cmd := range []string{"serve", "worker", "drain", "migrate", "purge", "version"} {
		assert.Contains(t, out, cmd)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "nonsense")
	assert.Error(t, err)
}
