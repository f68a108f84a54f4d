package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	config "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Config"
)

// Logger wraps zerolog.Logger with additional functionality
type Logger struct {
	*zerolog.Logger
}

// NewLogger creates a new logger based on configuration. Output may be
// stdout, stderr or a file path; log files are appended to and their parent
// directory is created on demand.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	// Set log level
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	if cfg.Format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    out != os.Stdout && out != os.Stderr,
		}).With().Timestamp().Logger()
	}

	if cfg.EnableCaller {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	return &Logger{&log.Logger}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	l := zerolog.Nop()
	return &Logger{&l}
}

// NewWriterLogger returns a JSON logger writing to w. Used by tests that
// assert on log output.
func NewWriterLogger(w io.Writer) *Logger {
	l := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{&l}
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", output, err)
	}
	return f, nil
}

func (l *Logger) with(ctx zerolog.Context) *Logger {
	child := ctx.Logger()
	return &Logger{&child}
}

// WithField returns a child logger carrying key=value on every entry.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(l.Logger.With().Interface(key, value))
}

// WithService tags entries with the binary that produced them.
func (l *Logger) WithService(service string) *Logger {
	return l.with(l.Logger.With().Str("service", service))
}

// WithComponent tags entries with the subsystem that produced them.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(l.Logger.With().Str("component", component))
}

func (l *Logger) Error(msg string) { l.Logger.Error().Msg(msg) }

// ErrorWithError logs msg at error level with err attached.
func (l *Logger) ErrorWithError(err error, msg string) { l.Logger.Error().Err(err).Msg(msg) }

func (l *Logger) Warn(msg string)  { l.Logger.Warn().Msg(msg) }
func (l *Logger) Info(msg string)  { l.Logger.Info().Msg(msg) }
func (l *Logger) Debug(msg string) { l.Logger.Debug().Msg(msg) }
