package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/cloudbackup/internal/archive"
	"github.com/kebairia/cloudbackup/internal/storage"
)

const extractedDirName = "downloaded_backup"

// RestoreSummary reports what RunRestore did.
type RestoreSummary struct {
	// NothingToRestore is set when no backup exists at RemotePath.
	NothingToRestore bool
	RemotePath       string
	// CreatedAt is the backup creation time in local time.
	CreatedAt time.Time
	// Paths are the original paths restored, in backup order.
	Paths []string
}

// RestoreError reports a restore that failed after a backup was found. The
// backup at RemotePath can still be fetched and unpacked by hand.
type RestoreError struct {
	RemotePath string
	Err        error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore from %q failed: %v", e.RemotePath, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// RunRestore downloads the canonical backup and unpacks every member into its
// extract path. A missing backup is not an error.
func (o *Operator) RunRestore(ctx context.Context) (*RestoreSummary, error) {
	tmpDir := o.opts.TmpDir
	remotePath := o.RemoteBackupPath()
	summary := &RestoreSummary{RemotePath: remotePath}

	if err := archive.RecreateDirectory(tmpDir); err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			o.log.Warn("could not remove temporary directory", "path", tmpDir, "error", err.Error())
		}
	}()

	file, found, err := o.opts.Backend.Locate(ctx, remotePath)
	if err != nil {
		return nil, fmt.Errorf("locate backup %q: %w", remotePath, err)
	}
	if !found {
		o.log.Warn("no backup to restore", "remote_path", remotePath)
		summary.NothingToRestore = true
		return summary, nil
	}

	meta, err := o.unpack(ctx, file)
	if err != nil {
		return nil, &RestoreError{RemotePath: remotePath, Err: err}
	}

	summary.CreatedAt = meta.CreatedAt().Local()
	summary.Paths = meta.Paths()
	o.log.Info("restore finished",
		"remote_path", remotePath,
		"backup_date", summary.CreatedAt.Format(time.DateTime),
		"paths", len(summary.Paths),
	)
	return summary, nil
}

// unpack downloads the archive into the temporary directory and replays each
// member in backup order.
func (o *Operator) unpack(ctx context.Context, file *storage.RemoteFile) (*archive.Metadata, error) {
	tmpDir := o.opts.TmpDir
	if err := o.opts.Backend.Download(ctx, file, tmpDir); err != nil {
		return nil, fmt.Errorf("download backup: %w", err)
	}

	extracted := filepath.Join(tmpDir, extractedDirName)
	if err := archive.Extract(filepath.Join(tmpDir, file.Name), extracted); err != nil {
		return nil, err
	}
	meta, err := archive.ReadMetadata(extracted)
	if err != nil {
		return nil, err
	}

	for _, member := range meta.Members() {
		pm := meta.PathsMapping[member]
		target := archive.ResolvePath(o.opts.RootDir, pm.ExtractPath)
		if err := archive.Extract(filepath.Join(extracted, member), target); err != nil {
			return nil, fmt.Errorf("restore %q: %w", pm.Path, err)
		}
		o.log.Debug("path restored", "path", pm.Path, "target", target)
	}
	return meta, nil
}
