package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AirQualityDashboard/src/config"
)

func newTestLogger(t *testing.T, opts ...Option) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := NewLogger(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func TestLogWritesEntry(t *testing.T) {
	logger, path := newTestLogger(t)
	logger.Info("渲染完成")
	logger.Warning("站点缺少坐标")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "] INFO: 渲染完成")
	assert.Contains(t, lines[1], "] WARNING: 站点缺少坐标")
}

func TestConsoleMirror(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := newTestLogger(t, WithConsole(&buf, INFO))
	logger.Debug("hidden")
	logger.Error("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestSubscribe(t *testing.T) {
	logger, _ := newTestLogger(t)
	ch := logger.Subscribe()

	logger.Info("hello")
	select {
	case entry := <-ch:
		assert.Contains(t, entry, "INFO: hello")
	case <-time.After(time.Second):
		t.Fatal("no entry delivered")
	}

	logger.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
	logger.Info("after unsubscribe")
}

func TestCheckRotate(t *testing.T) {
	logger, path := newTestLogger(t)
	cfg := &config.Config{LogMaxSize: "1 * 64"}

	require.NoError(t, logger.CheckRotate(cfg))
	for i := 0; i < 5; i++ {
		logger.Info("0123456789abcdef")
	}
	require.NoError(t, logger.CheckRotate(cfg))

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "app.*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	assert.Error(t, logger.CheckRotate(&config.Config{LogMaxSize: "ten"}))
}

func TestReopen(t *testing.T) {
	logger, path := newTestLogger(t)
	logger.Info("before")

	moved := path + ".1"
	require.NoError(t, os.Rename(path, moved))
	require.NoError(t, logger.Reopen(""))
	logger.Info("after")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "after")
	assert.NotContains(t, string(data), "before")
}

func TestEval(t *testing.T) {
	n, err := eval("10 * 1024 * 1024")
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024*1024), n)

	n, err = eval("4096")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), n)
}

func TestRotatedName(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "logs/app.20240102030405.log", rotatedName("logs/app.log", ts))
	assert.Equal(t, "logs.d/app.20240102030405", rotatedName("logs.d/app", ts))
}
