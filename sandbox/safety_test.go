package sandbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutpoint/pluginhost/sandbox"
)

func TestCheckSource(t *testing.T) {
	t.Parallel()

	t.Run("benign source is safe", func(t *testing.T) {
		report := sandbox.CheckSource(`
local threshold = 0.4
local function score(a, b) return math.abs(a - b) end
return score
`)
		assert.True(t, report.IsSafe)
		assert.Equal(t, sandbox.RiskNone, report.Level)
		assert.Empty(t, report.Warnings)
	})

	t.Run("dynamic evaluation is critical", func(t *testing.T) {
		report := sandbox.CheckSource(`local f = load("return 1")`)
		assert.False(t, report.IsSafe)
		assert.Equal(t, sandbox.RiskCritical, report.Level)
		require.NotEmpty(t, report.Warnings)
		assert.Contains(t, report.Warnings[0], "dynamic code evaluation")
	})

	t.Run("process spawning is critical", func(t *testing.T) {
		report := sandbox.CheckSource(`os.execute("rm -rf /")`)
		assert.False(t, report.IsSafe)
		assert.Equal(t, sandbox.RiskCritical, report.Level)
	})

	t.Run("raw file io alone stays loadable", func(t *testing.T) {
		report := sandbox.CheckSource(`local f = io.open("results.csv", "w")`)
		assert.True(t, report.IsSafe)
		assert.Equal(t, sandbox.RiskMedium, report.Level)
		assert.NotEmpty(t, report.Warnings)
	})

	t.Run("accumulated findings raise the level", func(t *testing.T) {
		report := sandbox.CheckSource(`
local f = io.open("a")
os.remove("b")
os.exit(1)
`)
		assert.False(t, report.IsSafe)
		assert.Equal(t, sandbox.RiskCritical, report.Level)
		assert.Len(t, report.Warnings, 3)
	})

	t.Run("network require is high", func(t *testing.T) {
		report := sandbox.CheckSource(`local socket = require("socket")`)
		assert.False(t, report.IsSafe)
		assert.Equal(t, sandbox.RiskHigh, report.Level)
	})

	t.Run("word boundaries avoid false positives", func(t *testing.T) {
		report := sandbox.CheckSource(`local payload = download("x")`)
		assert.True(t, report.IsSafe)
	})
}
