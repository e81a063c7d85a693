// Package envutil reads typed values from environment variables.
package envutil

import (
	"log/slog"
	"os"
	"strconv"
)

// Bool returns the boolean value of the environment variable, or def when
// it is unset or unparsable.
func Bool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Failed to parse environment variable", "key", key, "value", v, "error", err)
		return def
	}
	return b
}

// Int64 returns the integer value of the environment variable, or def.
func Int64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("Failed to parse environment variable", "key", key, "value", v, "error", err)
		return def
	}
	return i
}

// String returns the value of the environment variable, or def.
func String(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
