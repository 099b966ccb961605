package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparsevcs/mirror/internal/env"
)

func TestRootCmdRequiresAURL(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd(env.NewFromKVList(nil))
	cmd.SetArgs([]string{})
	require.Error(t, cmd.Execute())
}

func TestRootCmdFlagsDefaultEmpty(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd(env.NewFromKVList(nil))
	branch, err := cmd.Flags().GetString("branch")
	require.NoError(t, err)
	assert.Empty(t, branch, "an unset --branch should leave config.Load's layering in charge of the default")
}
