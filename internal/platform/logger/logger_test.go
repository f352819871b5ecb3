package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/conjure-api/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"DEBUG", slog.LevelDebug, false},
		{"Info", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSetupReturnsLogger(t *testing.T) {
	logger, err := Setup(config.ServerConfig{Port: 8080, LogLevel: "info"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = Setup(config.ServerConfig{Port: 8080, LogLevel: "nope"})
	assert.Error(t, err)
}

func TestLoggerContextRoundTrip(t *testing.T) {
	t.Parallel()

	base := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := WithLogger(context.Background(), base)

	assert.Same(t, base, FromContext(ctx))
	assert.Same(t, base, FromContextOrDefault(ctx, nil))
}

func TestFromContextFallbacks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	assert.NotNil(t, FromContext(ctx))

	def := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Same(t, def, FromContextOrDefault(ctx, def))

	assert.NotNil(t, FromContextOrDefault(ctx, nil))
}
