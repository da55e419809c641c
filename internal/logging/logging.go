package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config describes one logging setup.
type Config struct {
	// Level is the minimum level logged: debug, info, warn, or error.
	Level string
	// FilePath is the log file location.
	FilePath string
	// MaxSizeMB bounds the file size before rotation.
	MaxSizeMB int
	// MaxFiles bounds how many rotated files are kept.
	MaxFiles int
	// WriteToStderr mirrors every line to stderr. Terminal commands
	// turn this off so their output stays clean.
	WriteToStderr bool
}

// DefaultConfig logs info and above to the service log and stderr,
// rotating at 10 MB with 5 files kept.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig at debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup builds a JSON slog.Logger writing per cfg. The returned cleanup
// flushes and closes the log file; call it when the command ends. The
// caller decides whether the logger becomes the slog default.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = writer
	if cfg.WriteToStderr {
		out = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return slog.New(handler), cleanup, nil
}

// SetupStdioMode installs file-only logging for the MCP stdio
// transport and makes it the slog default. Stdout carries JSON-RPC
// exclusively in that mode; any stray write to stdout or stderr
// corrupts the protocol stream.
func SetupStdioMode(level string) (func(), error) {
	if level == "" {
		level = "info"
	}
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	slog.Info("stdio mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString converts a level name to its slog.Level. The viewer
// uses it to compare entry levels against its filter.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
