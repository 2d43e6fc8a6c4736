package sandbox_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/sandbox"
)

func TestGuardMintsIndependentSessions(t *testing.T) {
	t.Parallel()

	guard := &sandbox.Guard{
		PluginID: "demo",
		Budget:   sandbox.DefaultBudget(),
		Denials:  &sandbox.NopDenialHandler{},
	}

	first := guard.NewSession()
	second := guard.NewSession()
	assert.NotEqual(t, first.ID(), second.ID())

	require.NoError(t, first.Run(context.Background(), func(context.Context) error { return nil }))
	// Consuming one session leaves the other usable.
	require.NoError(t, second.Run(context.Background(), func(context.Context) error { return nil }))
}

func TestGuardChecks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	guard := &sandbox.Guard{
		PluginID: "demo",
		Imports:  sandbox.ImportPolicy{Allow: []string{"string"}},
		Paths:    sandbox.PathPolicy{Roots: []string{root}},
		Env:      sandbox.EnvPolicy{Allow: []string{"LANG"}},
		Denials:  &sandbox.NopDenialHandler{},
	}

	require.NoError(t, guard.CheckImport("string"))
	require.ErrorIs(t, guard.CheckImport("os"), sandbox.ErrImportBlocked)

	_, err := guard.CheckPath(root + "/data.txt")
	require.NoError(t, err)
	_, err = guard.CheckPath("/etc/passwd")
	require.ErrorIs(t, err, sandbox.ErrFileAccessDenied)

	require.NoError(t, guard.CheckEnv("LANG"))
	require.ErrorIs(t, guard.CheckEnv("AWS_SECRET_ACCESS_KEY"), sandbox.ErrEnvAccessDenied)
}
