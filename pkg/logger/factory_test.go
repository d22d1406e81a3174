package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywall/pkg/environment"
	"github.com/dmitrymomot/paywall/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Info("purchase started", logger.ProductID("sub_monthly"))

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "purchase started", entry["msg"])
		assert.Equal(t, "sub_monthly", entry["product_id"])
	})

	t.Run("text format", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithFormat(logger.FormatText))
		log.Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})

	t.Run("level filters records", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithLevel(slog.LevelWarn))
		log.Info("dropped")
		assert.Empty(t, buf.String())
	})

	t.Run("static attrs", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithAttr(logger.Component("engine")))
		log.Info("x")
		assert.Equal(t, "engine", decode(t, buf)["component"])
	})

	t.Run("context extractor", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(logger.PurchaseAttemptExtractor(), nil),
		)
		ctx := logger.WithPurchaseAttempt(context.Background(), "a-1")
		log.InfoContext(ctx, "polling")
		assert.Equal(t, "a-1", decode(t, buf)["purchase_attempt"])
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf), logger.WithEnvironment(environment.Production, "paywall"))
	log.Debug("hidden")
	log.Info("shown")

	entry := decode(t, buf)
	assert.Equal(t, "paywall", entry["service"])
	assert.Equal(t, "production", entry["env"])
	assert.Equal(t, "shown", entry["msg"])
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("overrides", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log, err := logger.FromConfig(logger.Config{
			Service: "svc",
			Env:     "development",
			Level:   "warn",
			Format:  "json",
		}, logger.WithOutput(buf))
		require.NoError(t, err)

		log.Info("hidden")
		assert.Empty(t, buf.String())
		log.Warn("shown")
		assert.Equal(t, "development", decode(t, buf)["env"])
	})

	t.Run("bad level", func(t *testing.T) {
		t.Parallel()
		_, err := logger.FromConfig(logger.Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		t.Parallel()
		_, err := logger.FromConfig(logger.Config{Format: "xml"})
		assert.Error(t, err)
	})
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := logger.Discard()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
}
