package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	dev, err := New(true)
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))

	quiet, err := New(false)
	require.NoError(t, err)
	assert.False(t, quiet.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, quiet.Core().Enabled(zapcore.WarnLevel))

	service, err := New(false, zapcore.InfoLevel)
	require.NoError(t, err)
	assert.True(t, service.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, service.Core().Enabled(zapcore.DebugLevel))
}
