package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"darkarts.ai/internal/persistence/r2s3"
)

// buildMirror returns nil when DARKARTS_R2_MIRROR is off.
func buildMirror(dataDir string, logger *slog.Logger) (*r2s3.Mirror, error) {
	if !envBool("DARKARTS_R2_MIRROR", false) {
		return nil, nil
	}
	cfg, prefix := r2s3.ConfigFromEnv()
	client, err := r2s3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("DARKARTS_R2_MIRROR=true: %w", err)
	}
	return r2s3.NewMirror(client, dataDir, r2s3.MirrorOptions{
		Prefix:  prefix,
		Workers: envInt("DARKARTS_R2_UPLOAD_WORKERS", 2),
		Logger:  logger,
	}), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
