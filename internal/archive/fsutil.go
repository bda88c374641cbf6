package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func EnsureDirectoryExist(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dirPath, err)
	}
	return nil
}

// RecreateDirectory removes dirPath with everything in it and creates it
// again empty. Leftovers of a crashed run are erased this way.
func RecreateDirectory(dirPath string) error {
	if err := os.RemoveAll(dirPath); err != nil {
		return fmt.Errorf("failed to clear directory %q: %w", dirPath, err)
	}
	return EnsureDirectoryExist(dirPath)
}

// ResolvePath resolves a relative path against rootDir.
func ResolvePath(rootDir, path string) string {
	if filepath.IsAbs(path) || rootDir == "" {
		return path
	}
	return filepath.Join(rootDir, path)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
