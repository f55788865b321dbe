package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "WARN", "bogus"} {
		logger, err := Setup(config.ServerConfig{LogLevel: level})
		require.NoError(t, err, "level %q", level)
		assert.NotNil(t, logger, "level %q", level)
	}
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	base := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	assert.Nil(t, FromContext(ctx))
	assert.Equal(t, base, FromContextOrDefault(ctx, base))

	scoped := base.With("record_id", "abc")
	ctx = WithLogger(ctx, scoped)

	assert.Equal(t, scoped, FromContext(ctx))
	assert.Equal(t, scoped, FromContextOrDefault(ctx, base))
}
