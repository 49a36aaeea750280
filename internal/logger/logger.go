package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/jwebster45206/gamemaster/internal/config"
)

// Setup builds the process logger from the configuration and installs it as
// the slog default.
func Setup(cfg *config.Config) *slog.Logger {
	logger := New(os.Stdout, cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)
	return logger
}

// New writes JSON in production and text everywhere else.
func New(w io.Writer, environment string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WithRequestID adds request ID to logger context
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// WithSave scopes a logger to one save of a user.
func WithSave(logger *slog.Logger, user, saveID string) *slog.Logger {
	return logger.With("user", user, "save", saveID)
}

// WithError adds error to logger context
func WithError(logger *slog.Logger, err error) *slog.Logger {
	return logger.With("error", err.Error())
}
