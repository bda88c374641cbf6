package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/cloudbackup/internal/config"
)

func newLocal(t *testing.T) (*LocalBackend, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "remote")
	b, err := NewLocalBackend(config.LocalBackendConfig{Path: root})
	require.NoError(t, err)
	require.NoError(t, b.Authenticate(context.Background(), "", ""))
	return b, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocalBackend_Validate(t *testing.T) {
	_, err := NewLocalBackend(config.LocalBackendConfig{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLocalBackend_LocateMissing(t *testing.T) {
	b, _ := newLocal(t)
	ctx := context.Background()

	file, found, err := b.Locate(ctx, "laptop/backup.zip")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, file)
}

func TestLocalBackend_CreateFolderIsIdempotent(t *testing.T) {
	b, root := newLocal(t)
	ctx := context.Background()

	first, err := b.CreateFolderIfAbsent(ctx, "laptop/daily")
	require.NoError(t, err)
	second, err := b.CreateFolderIfAbsent(ctx, "laptop/daily")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "daily", first.Name)
	assert.DirExists(t, filepath.Join(root, "laptop", "daily"))
}

func TestLocalBackend_UploadRenameDownloadRemove(t *testing.T) {
	b, root := newLocal(t)
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "backup.zip")
	writeFile(t, local, "archive-bytes")

	_, err := b.CreateFolderIfAbsent(ctx, "laptop")
	require.NoError(t, err)

	uploaded, err := b.Upload(ctx, local, "laptop")
	require.NoError(t, err)
	assert.Equal(t, "laptop/backup.zip", uploaded.Path)
	assert.Equal(t, "laptop", uploaded.Parent.Path)
	assert.NoFileExists(t, filepath.Join(root, "laptop", "backup.zip.part"))

	located, found, err := b.Locate(ctx, "laptop/backup.zip")
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, b.Rename(ctx, located, "_old_backup.zip"))
	assert.Equal(t, "laptop/_old_backup.zip", located.Path)
	assert.Equal(t, "_old_backup.zip", located.Name)
	assert.NoFileExists(t, filepath.Join(root, "laptop", "backup.zip"))

	out := t.TempDir()
	require.NoError(t, b.Download(ctx, located, out))
	data, err := os.ReadFile(filepath.Join(out, "_old_backup.zip"))
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(data))

	require.NoError(t, b.Remove(ctx, located))
	_, found, err = b.Locate(ctx, "laptop/_old_backup.zip")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocalBackend_UploadNeedsExistingFolder(t *testing.T) {
	b, _ := newLocal(t)
	local := filepath.Join(t.TempDir(), "backup.zip")
	writeFile(t, local, "x")

	_, err := b.Upload(context.Background(), local, "missing")
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "upload", ioErr.Op)
}

func TestLocalBackend_PathsStayUnderRoot(t *testing.T) {
	b, root := newLocal(t)
	_, err := b.CreateFolderIfAbsent(context.Background(), "../../escape")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, "escape"))
}

func TestLocalBackend_RejectsForeignHandle(t *testing.T) {
	b, _ := newLocal(t)
	err := b.Remove(context.Background(), &RemoteFile{Path: "x", Token: s3Object{Key: "x"}})
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
}
