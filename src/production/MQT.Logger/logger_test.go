package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Config"
)

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "app_log.log")

	l, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	l.WithComponent("storage").Info("database setup complete")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"storage"`)
	assert.Contains(t, string(data), "database setup complete")
}

func TestNewLogger_UnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := NewLogger(&config.LoggingConfig{Output: filepath.Join(blocker, "sub", "x.log")})
	assert.Error(t, err)
}

func TestPahoWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	w := pahoWriter{logger: l.WithComponent("paho"), level: zerolog.WarnLevel}
	w.Printf("[%s] ping timeout", "net")

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "[net] ping timeout")
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	root := NewWriterLogger(&buf)

	root.WithService("mqt-recorder").WithComponent("broker").WithField("attempt", 2).
		ErrorWithError(errors.New("connection refused"), "Reconnect attempt failed")

	out := buf.String()
	assert.Contains(t, out, `"service":"mqt-recorder"`)
	assert.Contains(t, out, `"component":"broker"`)
	assert.Contains(t, out, `"attempt":2`)
	assert.Contains(t, out, `"error":"connection refused"`)
	assert.Contains(t, out, `"level":"error"`)

	buf.Reset()
	root.Info("plain")
	assert.NotContains(t, buf.String(), "component", "parent logger is not modified by children")
}
