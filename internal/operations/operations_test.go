package operations

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kebairia/cloudbackup/internal/config"
	"github.com/kebairia/cloudbackup/internal/logger"
	"github.com/kebairia/cloudbackup/internal/storage"
)

const remoteDir = "laptop/backups"

// faultyBackend wraps a LocalBackend and fails chosen operations.
type faultyBackend struct {
	*storage.LocalBackend

	uploadErr   error
	removeErr   error
	downloadErr error
	// renameErrs is consumed one entry per Rename call; nil entries pass.
	renameErrs []error
	calls      []string
}

func (b *faultyBackend) Locate(ctx context.Context, remotePath string) (*storage.RemoteFile, bool, error) {
	b.calls = append(b.calls, "locate")
	return b.LocalBackend.Locate(ctx, remotePath)
}

func (b *faultyBackend) CreateFolderIfAbsent(ctx context.Context, remotePath string) (*storage.RemoteFolder, error) {
	b.calls = append(b.calls, "create folder")
	return b.LocalBackend.CreateFolderIfAbsent(ctx, remotePath)
}

func (b *faultyBackend) Upload(ctx context.Context, localFilePath, remoteDirPath string) (*storage.RemoteFile, error) {
	b.calls = append(b.calls, "upload")
	if b.uploadErr != nil {
		return nil, &storage.IOError{Op: "upload", Path: remoteDirPath, Err: b.uploadErr}
	}
	return b.LocalBackend.Upload(ctx, localFilePath, remoteDirPath)
}

func (b *faultyBackend) Rename(ctx context.Context, file *storage.RemoteFile, newName string) error {
	b.calls = append(b.calls, "rename")
	if len(b.renameErrs) > 0 {
		err := b.renameErrs[0]
		b.renameErrs = b.renameErrs[1:]
		if err != nil {
			return &storage.IOError{Op: "rename", Path: file.Path, Err: err}
		}
	}
	return b.LocalBackend.Rename(ctx, file, newName)
}

func (b *faultyBackend) Remove(ctx context.Context, file *storage.RemoteFile) error {
	b.calls = append(b.calls, "remove")
	if b.removeErr != nil {
		return &storage.IOError{Op: "remove", Path: file.Path, Err: b.removeErr}
	}
	return b.LocalBackend.Remove(ctx, file)
}

func (b *faultyBackend) Download(ctx context.Context, file *storage.RemoteFile, localOutputDir string) error {
	b.calls = append(b.calls, "download")
	if b.downloadErr != nil {
		return &storage.IOError{Op: "download", Path: file.Path, Err: b.downloadErr}
	}
	return b.LocalBackend.Download(ctx, file, localOutputDir)
}

type env struct {
	backend *faultyBackend
	// remote is the on-disk directory behind remoteDir.
	remote string
	data   string
	tmp    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	local, err := storage.NewLocalBackend(config.LocalBackendConfig{Path: filepath.Join(root, "remote")})
	require.NoError(t, err)
	require.NoError(t, local.Authenticate(context.Background(), "", ""))

	e := &env{
		backend: &faultyBackend{LocalBackend: local},
		remote:  filepath.Join(root, "remote", filepath.FromSlash(remoteDir)),
		data:    filepath.Join(root, "data"),
		tmp:     filepath.Join(root, "tmp"),
	}
	writeFile(t, filepath.Join(e.data, "notes.txt"), "remember the milk")
	writeFile(t, filepath.Join(e.data, "photos", "a.jpg"), "jpeg-a")
	writeFile(t, filepath.Join(e.data, "photos", "b.jpg"), "jpeg-b")
	writeFile(t, filepath.Join(e.data, "photos", "2024", "c.jpg"), "jpeg-c")
	return e
}

func (e *env) operator(t *testing.T, policy string) *Operator {
	t.Helper()
	op, err := NewOperator(Options{
		Backend:       e.backend,
		RootCloudDir:  remoteDir,
		PathsToBackup: []string{filepath.Join(e.data, "notes.txt"), filepath.Join(e.data, "photos")},
		TmpDir:        e.tmp,
		ErrorPolicy:   policy,
	}, logger.Nop())
	require.NoError(t, err)
	return op
}

// seed places a remote file directly on disk.
func (e *env) seed(t *testing.T, name, content string) {
	t.Helper()
	writeFile(t, filepath.Join(e.remote, name), content)
}

func (e *env) remoteContent(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.remote, name))
	require.NoError(t, err)
	return string(data)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewOperator(t *testing.T) {
	_, err := NewOperator(Options{}, nil)
	require.Error(t, err)

	e := newEnv(t)
	op, err := NewOperator(Options{Backend: e.backend, RootCloudDir: remoteDir}, nil)
	require.NoError(t, err)
	require.Equal(t, defaultTmpDir, op.opts.TmpDir)
	require.Equal(t, config.ErrorPolicyLocal, op.opts.ErrorPolicy)
	require.Equal(t, "laptop/backups/backup.zip", op.RemoteBackupPath())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Config{Backup: config.BackupConfig{
		RootCloudDir: "r",
		Paths:        []string{"a", "b"},
		TmpDir:       "t",
		RootDir:      "/root",
		Compression:  config.CompressionZstd,
		ErrorPolicy:  config.ErrorPolicyAlways,
	}}
	e := newEnv(t)
	opts := OptionsFromConfig(cfg, e.backend)
	require.Equal(t, Options{
		Backend:       e.backend,
		RootCloudDir:  "r",
		PathsToBackup: []string{"a", "b"},
		TmpDir:        "t",
		RootDir:       "/root",
		Compression:   config.CompressionZstd,
		ErrorPolicy:   config.ErrorPolicyAlways,
	}, opts)
}
