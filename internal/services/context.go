package services

import "context"

type contextKey string

const (
	episodeKeyKey contextKey = "episode_key"
	serialIDKey   contextKey = "serial_id"
	runIDKey      contextKey = "run_id"
)

// WithEpisodeKey annotates context with the episode being processed.
func WithEpisodeKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, episodeKeyKey, key)
}

// EpisodeKeyFromContext extracts the episode key if present.
func EpisodeKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(episodeKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSerialID annotates context with the serial being processed.
func WithSerialID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, serialIDKey, id)
}

// SerialIDFromContext extracts the serial id if present.
func SerialIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(serialIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRunID annotates context with a correlation identifier for one
// orchestrator run.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the correlation identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
