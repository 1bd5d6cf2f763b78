package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// tokenPrefixLen is how much of a raw token may appear in logs.
const tokenPrefixLen = 12

// NewLogger builds a zap logger. format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	case "", "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// TokenPrefix returns a truncated token suitable for correlation in logs.
func TokenPrefix(token string) string {
	n := tokenPrefixLen
	if len(token) < 2*n {
		n = len(token) / 2
	}
	return token[:n] + "…"
}

// TokenField logs a token by its truncated prefix only.
func TokenField(token string) zap.Field {
	return zap.String("token_prefix", TokenPrefix(token))
}
