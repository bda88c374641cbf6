package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Extract unpacks the zip file at zipPath into dest, creating directories as
// needed. Entries that would land outside dest are rejected.
func Extract(zipPath, dest string) error {
	r, err := openZip(zipPath)
	if err != nil {
		return &FormatError{Path: zipPath, Err: err}
	}
	defer r.Close()

	if err := EnsureDirectoryExist(dest); err != nil {
		return err
	}

	for _, f := range r.File {
		target, err := entryTarget(dest, f.Name)
		if err != nil {
			return &FormatError{Path: zipPath, Err: err}
		}
		if f.FileInfo().IsDir() {
			if err := EnsureDirectoryExist(target); err != nil {
				return err
			}
			continue
		}
		if err := EnsureDirectoryExist(filepath.Dir(target)); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return &FormatError{Path: zipPath, Err: fmt.Errorf("extract %s: %w", f.Name, err)}
		}
	}
	return nil
}

// entryTarget maps an entry name to its location under dest.
func entryTarget(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the extraction directory", name)
	}
	return filepath.Join(dest, clean), nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return nil
}
