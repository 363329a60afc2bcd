package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestInitReplacesGlobal(t *testing.T) {
	before := zap.L()
	undo := Init(true)
	assert.NotSame(t, before, zap.L())
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))
	undo()
	assert.Same(t, before, zap.L())
}

func TestProductionSkipsDebug(t *testing.T) {
	undo := Init(false)
	defer undo()
	assert.False(t, zap.L().Core().Enabled(zap.DebugLevel))
	assert.True(t, zap.L().Core().Enabled(zap.InfoLevel))
}

func TestQuiet(t *testing.T) {
	undo := Quiet()
	defer undo()
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))
	assert.True(t, zap.L().Core().Enabled(zap.WarnLevel))
}
