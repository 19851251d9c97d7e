package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogServiceLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	log := NewSlogServiceLogger(base)

	log.Info("outbox message published", LogFields{"message_id": "m-1", "topic": "orders"})

	out := buf.String()
	assert.Contains(t, out, "outbox message published")
	assert.Contains(t, out, "m-1")
	assert.Contains(t, out, "orders")
}

func TestSlogServiceLoggerError(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	log := NewSlogServiceLogger(base)

	log.Error("publish failed", errors.New("broker down"), LogFields{"topic": "orders"})

	out := buf.String()
	assert.Contains(t, out, "publish failed")
	assert.Contains(t, out, "broker down")
}

func TestWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	log := NewSlogServiceLogger(base).With(LogFields{"component": "outbox"})

	log.Info("tick", nil)
	assert.Contains(t, buf.String(), "outbox")
}

func TestNopDiscardsEverything(t *testing.T) {
	log := Nop()
	require.NotNil(t, log)

	// Must not panic.
	log.Debug("d", nil)
	log.Info("i", LogFields{"k": "v"})
	log.Error("e", errors.New("x"), nil)
	log.Trace("t", nil)
	log.With(LogFields{"k": "v"}).Info("chained", nil)
}

func TestNilLoggerPanics(t *testing.T) {
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}
