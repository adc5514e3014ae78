package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		debug     bool
		wantDebug bool
	}{
		{debug: true, wantDebug: true},
		{debug: false, wantDebug: false},
	}
	for _, tt := range tests {
		logger, err := NewLogger(tt.debug)
		require.NoError(t, err)
		assert.Equal(t, tt.wantDebug, logger.Core().Enabled(zapcore.DebugLevel), "debug=%v", tt.debug)
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		_ = logger.Sync()
	}
}

func TestOrNop(t *testing.T) {
	nop := OrNop(nil)
	require.NotNil(t, nop)
	assert.False(t, nop.Core().Enabled(zapcore.ErrorLevel))

	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
