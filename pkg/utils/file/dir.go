package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/flant/news-operator/pkg/app"
)

// EnsureTempDirectory returns an absolute path of a writable directory for run working
// directories and lock files. An empty path means a new directory in the system temp dir.
func EnsureTempDirectory(inDir string) (string, error) {
	if inDir == "" {
		tmpPath := app.AppName + "-*"
		dir, err := os.MkdirTemp("", tmpPath)
		if err != nil {
			return "", fmt.Errorf("create tmp dir in '%s': %w", tmpPath, err)
		}
		return dir, nil
	}

	dir, err := filepath.Abs(inDir)
	if err != nil {
		return "", fmt.Errorf("get absolute path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create tmp dir '%s': %w", dir, err)
	}

	// Lock files are created here, so fail early on a read-only mount.
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return "", fmt.Errorf("tmp dir '%s' is not writable: %w", dir, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	return dir, nil
}
