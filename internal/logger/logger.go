// Package logger provides structured logging for vaultfs.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with vaultfs-specific functionality.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration. cmd/vaultfs fills Level from the
// VAULTFS_LOG environment variable and sets Pretty when stderr is a
// terminal.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for interactive use
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "vaultfs").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Error logs an error message.
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// StoreLogger returns a logger scoped to one store-stack layer.
func (l *Logger) StoreLogger(layer string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", layer).
			Logger(),
	}
}

// LogFtpCommand logs one completed FTP command with structured fields.
func (l *Logger) LogFtpCommand(command, path string, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "ftpd").
		Str("command", command).
		Str("path", path).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Warn().
			Str("component", "ftpd").
			Str("command", command).
			Str("path", path).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("ftp command completed")
}

// LogServerStart logs server startup.
func (l *Logger) LogServerStart(addr, dataDir string) {
	l.zlog.Info().
		Str("event", "server_start").
		Str("addr", addr).
		Str("data_dir", dataDir).
		Msg("vaultfs server starting")
}

// LogServerReady logs when the server is ready to accept connections.
func (l *Logger) LogServerReady(addr string) {
	l.zlog.Info().
		Str("event", "server_ready").
		Str("addr", addr).
		Msg("vaultfs server ready to accept connections")
}

// LogServerShutdown logs server shutdown.
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("vaultfs server shutting down")
}
