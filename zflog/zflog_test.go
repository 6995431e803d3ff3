package zflog

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileLoggerWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Filename = filepath.Join(dir, "zerofs.log")

	logger := New(cfg)
	require.NotNil(t, logger)
	logger.Info("engine started", "component", "zflog_test")
}

func TestNopDiscardsOutput(t *testing.T) {
	logger := Nop()
	logger.Error("should not appear anywhere observable")
	assert.NotNil(t, logger)
}

func TestSlogJSONHandlerOutputHasMsgField(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(h)
	logger.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
