package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/engine"
	luaengine "github.com/cutpoint/pluginhost/engine/lua"
	"github.com/cutpoint/pluginhost/engine/wasm"
)

func TestRegistryRouting(t *testing.T) {
	t.Parallel()

	reg := engine.NewRegistry(wasm.NewEngine(), luaengine.NewEngine())

	e, err := reg.For(discovery.UnitWASM)
	require.NoError(t, err)
	assert.Equal(t, discovery.UnitWASM, e.Kind())

	e, err = reg.For(discovery.UnitLua)
	require.NoError(t, err)
	assert.Equal(t, discovery.UnitLua, e.Kind())

	_, err = reg.For(discovery.UnitKind("jar"))
	require.ErrorIs(t, err, engine.ErrUnsupportedUnit)
}
