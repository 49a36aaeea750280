package services

import (
	"context"
	"log/slog"
)

// DefaultAttempts is how many times a generator call is tried.
const DefaultAttempts = 2

type retryText struct {
	next     TextGenerator
	attempts int
	logger   *slog.Logger
}

// WithRetry wraps gen so that failed calls are retried. Context errors stop
// retrying at once.
func WithRetry(gen TextGenerator, attempts int, logger *slog.Logger) TextGenerator {
	if attempts < 1 {
		attempts = 1
	}
	return &retryText{next: gen, attempts: attempts, logger: logger}
}

func (r *retryText) GenerateJSON(ctx context.Context, system, user string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.next.GenerateJSON(ctx, system, user)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if attempt < r.attempts {
			r.logger.Warn("text generation failed, retrying", "attempt", attempt, "max_attempts", r.attempts, "error", err)
		}
	}
	r.logger.Error("text generation failed after all retries", "attempts", r.attempts, "error", lastErr)
	return nil, lastErr
}

type retryImage struct {
	next     ImageGenerator
	attempts int
	logger   *slog.Logger
}

// WithImageRetry is WithRetry for image generators.
func WithImageRetry(gen ImageGenerator, attempts int, logger *slog.Logger) ImageGenerator {
	if attempts < 1 {
		attempts = 1
	}
	return &retryImage{next: gen, attempts: attempts, logger: logger}
}

func (r *retryImage) Generate(ctx context.Context, prompt string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.next.Generate(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if attempt < r.attempts {
			r.logger.Warn("image generation failed, retrying", "attempt", attempt, "max_attempts", r.attempts, "error", err)
		}
	}
	r.logger.Error("image generation failed after all retries", "attempts", r.attempts, "error", lastErr)
	return nil, lastErr
}
