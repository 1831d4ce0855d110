package slogx

import (
	"bytes"
	"github.com/stretchr/testify/assert"
	"log/slog"
	"testing"
)

func TestTeeHandler(t *testing.T) {
	var info, errs bytes.Buffer
	log := slog.New(NewTeeHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		nil,
		slog.NewJSONHandler(&errs, &slog.HandlerOptions{Level: slog.LevelError}),
	)).With("component", "test")

	log.Debug("Hidden")
	log.Info("Shown once")
	log.Error("Shown twice")
	assert.NotContains(t, info.String(), "Hidden")
	assert.Contains(t, info.String(), "Shown once")
	assert.Contains(t, info.String(), "component=test")
	assert.NotContains(t, errs.String(), "Shown once")
	assert.Contains(t, errs.String(), `"msg":"Shown twice"`)
	assert.Contains(t, errs.String(), `"component":"test"`)
}

func TestNewTeeHandler_Simplified(t *testing.T) {
	h := slog.NewTextHandler(new(bytes.Buffer), nil)
	assert.Same(t, h, NewTeeHandler(nil, h))
	assert.Equal(t, slog.DiscardHandler, NewTeeHandler())
}
