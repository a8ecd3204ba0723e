package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithOutput_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("codetwin", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown", "file", "a.py")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "file=a.py")
	assert.Contains(t, out, "codetwin")
}

func TestNewWithOutput_UnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("codetwin", "chatty", &buf)

	logger.Debug("debug line")
	logger.Info("info line")

	assert.NotContains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "info line")
}

func TestOrNull(t *testing.T) {
	assert.NotNil(t, OrNull(nil))
}
