package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kebairia/cloudbackup/internal/config"
)

// LocalBackend stores backups in a directory on the local filesystem, such
// as a mounted USB drive or network share.
type LocalBackend struct {
	Root string
}

// NewLocalBackend returns a backend rooted at cfg.Path.
func NewLocalBackend(cfg config.LocalBackendConfig) (*LocalBackend, error) {
	b := &LocalBackend{Root: cfg.Path}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the backend name.
func (b *LocalBackend) Name() string {
	return config.BackendLocal
}

// Validate checks if the configuration is valid.
func (b *LocalBackend) Validate() error {
	if b.Root == "" {
		return fmt.Errorf("%w: local backend: path is required", ErrInvalidConfig)
	}
	return nil
}

// Authenticate checks that the root directory is usable. Local storage has no
// credentials, so login and password are ignored.
func (b *LocalBackend) Authenticate(ctx context.Context, login, password string) error {
	if err := os.MkdirAll(b.Root, 0o755); err != nil {
		return &AuthError{Backend: b.Name(), Err: err}
	}
	return nil
}

// resolve maps a remote path to a location under Root. Rooting the path
// before cleaning it keeps ".." elements from climbing out of Root.
func (b *LocalBackend) resolve(remotePath string) string {
	clean := path.Clean("/" + filepath.ToSlash(remotePath))
	return filepath.Join(b.Root, filepath.FromSlash(clean))
}

func (b *LocalBackend) folder(remotePath string) *RemoteFolder {
	p := path.Clean(filepath.ToSlash(remotePath))
	return &RemoteFolder{Name: path.Base(p), Path: p, ID: p}
}

func (b *LocalBackend) file(remotePath, fullPath string) *RemoteFile {
	p := path.Clean(filepath.ToSlash(remotePath))
	return &RemoteFile{
		Name:   path.Base(p),
		Path:   p,
		ID:     p,
		Parent: b.folder(path.Dir(p)),
		Token:  fullPath,
	}
}

// Locate returns the regular file at remotePath.
func (b *LocalBackend) Locate(ctx context.Context, remotePath string) (*RemoteFile, bool, error) {
	full := b.resolve(remotePath)
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &IOError{Op: "locate", Path: remotePath, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, false, nil
	}
	return b.file(remotePath, full), true, nil
}

// CreateFolderIfAbsent creates remotePath and any missing parents.
func (b *LocalBackend) CreateFolderIfAbsent(ctx context.Context, remotePath string) (*RemoteFolder, error) {
	full := b.resolve(remotePath)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, &IOError{Op: "create folder", Path: remotePath, Err: err}
	}
	return b.folder(remotePath), nil
}

// Upload copies localFilePath into remoteDirPath. The data is written to a
// temporary name first, so the destination name only appears once the copy
// is complete.
func (b *LocalBackend) Upload(ctx context.Context, localFilePath, remoteDirPath string) (*RemoteFile, error) {
	remotePath := path.Join(filepath.ToSlash(remoteDirPath), filepath.Base(localFilePath))
	dir := b.resolve(remoteDirPath)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &IOError{Op: "upload", Path: remotePath, Err: err}
	}
	if !info.IsDir() {
		return nil, &IOError{Op: "upload", Path: remotePath, Err: fmt.Errorf("%s is not a directory", remoteDirPath)}
	}

	dst := filepath.Join(dir, filepath.Base(localFilePath))
	if err := copyFileAtomic(ctx, localFilePath, dst); err != nil {
		return nil, &IOError{Op: "upload", Path: remotePath, Err: err}
	}
	return b.file(remotePath, dst), nil
}

// Rename renames file within its directory. An existing entry with the new
// name is replaced.
func (b *LocalBackend) Rename(ctx context.Context, file *RemoteFile, newName string) error {
	if strings.ContainsAny(newName, `/\`) {
		return &IOError{Op: "rename", Path: file.Path, Err: fmt.Errorf("invalid name %q", newName)}
	}
	src, ok := file.Token.(string)
	if !ok {
		return &IOError{Op: "rename", Path: file.Path, Err: errors.New("file handle does not belong to the local backend")}
	}
	target := renamed(file, newName)
	dst := filepath.Join(filepath.Dir(src), newName)
	if err := os.Rename(src, dst); err != nil {
		return &IOError{Op: "rename", Path: file.Path, Err: err}
	}
	*file = *b.file(target, dst)
	return nil
}

// Remove deletes file.
func (b *LocalBackend) Remove(ctx context.Context, file *RemoteFile) error {
	src, ok := file.Token.(string)
	if !ok {
		return &IOError{Op: "remove", Path: file.Path, Err: errors.New("file handle does not belong to the local backend")}
	}
	if err := os.Remove(src); err != nil {
		return &IOError{Op: "remove", Path: file.Path, Err: err}
	}
	return nil
}

// Download copies file into localOutputDir.
func (b *LocalBackend) Download(ctx context.Context, file *RemoteFile, localOutputDir string) error {
	src, ok := file.Token.(string)
	if !ok {
		return &IOError{Op: "download", Path: file.Path, Err: errors.New("file handle does not belong to the local backend")}
	}
	if err := os.MkdirAll(localOutputDir, 0o755); err != nil {
		return &IOError{Op: "download", Path: file.Path, Err: err}
	}
	if err := copyFileAtomic(ctx, src, filepath.Join(localOutputDir, file.Name)); err != nil {
		return &IOError{Op: "download", Path: file.Path, Err: err}
	}
	return nil
}

// copyFileAtomic copies src to dst through dst.part.
func copyFileAtomic(ctx context.Context, src, dst string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(part)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(part, dst)
}
