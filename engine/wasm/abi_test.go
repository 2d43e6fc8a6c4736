package wasm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/discovery"
	"github.com/cutpoint/pluginhost/engine/wasm"
	"github.com/cutpoint/pluginhost/sandbox"
)

func TestPackUnpackPtrLen(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ptr, length uint32
	}{
		{0, 0},
		{1, 1},
		{0xDEADBEEF, 0x1234},
		{^uint32(0), ^uint32(0)},
	}
	for _, tc := range cases {
		packed := wasm.PackPtrLen(tc.ptr, tc.length)
		ptr, length := wasm.UnpackPtrLen(packed)
		assert.Equal(t, tc.ptr, ptr)
		assert.Equal(t, tc.length, length)
	}
}

func TestEngineKind(t *testing.T) {
	t.Parallel()
	assert.Equal(t, discovery.UnitWASM, wasm.NewEngine().Kind())
}

func TestLoadMissingModule(t *testing.T) {
	t.Parallel()

	eng := wasm.NewEngine()
	unit := discovery.CandidateUnit{ID: "ghost", Kind: discovery.UnitWASM, SourcePath: "/does/not/exist.wasm"}
	_, err := eng.Load(context.Background(), unit, &sandbox.Guard{PluginID: "ghost"})
	require.Error(t, err)
}
