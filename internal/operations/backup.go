package operations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/kebairia/cloudbackup/internal/archive"
	"github.com/kebairia/cloudbackup/internal/config"
	"github.com/kebairia/cloudbackup/internal/logger"
	"github.com/kebairia/cloudbackup/internal/storage"
)

// State is a step of the backup rotation.
type State string

const (
	StateValidating State = "validating"
	StateBuilding   State = "building"
	StateLocating   State = "locating"
	StateSwapping   State = "swapping"
	StateUploading  State = "uploading"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Result describes one backup run.
type Result struct {
	// State is StateDone or StateFailed.
	State State
	// FailedAt is the step that failed, empty on success.
	FailedAt State
	Err      error
	// Replaced reports whether a previous remote backup existed.
	Replaced    bool
	ArchiveSize int64
	StartedAt   time.Time
	Duration    time.Duration
}

// OK reports whether the run stored a new backup.
func (r *Result) OK() bool {
	return r.State == StateDone
}

// RollbackError reports an upload failure whose rollback also failed. The
// previous backup is left under OldBackupFilename and must be renamed by hand.
type RollbackError struct {
	Path        string
	UploadErr   error
	RollbackErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("upload failed (%v) and previous backup %q could not be renamed back (%v)",
		e.UploadErr, e.Path, e.RollbackErr)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.UploadErr, e.RollbackErr}
}

// RunBackup builds a fresh archive and rotates it in as the canonical remote
// backup. Whether a failure is also returned as an error depends on the
// configured error policy; the Result always carries it.
func (o *Operator) RunBackup(ctx context.Context) (*Result, error) {
	res := &Result{StartedAt: o.now()}
	o.log.Info("starting backup",
		"paths", len(o.opts.PathsToBackup),
		"remote_dir", o.opts.RootCloudDir,
	)

	err := o.rotate(ctx, res)
	res.Duration = o.now().Sub(res.StartedAt)
	if err != nil {
		res.FailedAt, res.State, res.Err = res.State, StateFailed, err
		o.log.Error("backup failed",
			"step", string(res.FailedAt),
			"error", err.Error(),
		)
		return res, o.surface(res)
	}

	res.State = StateDone
	o.log.Info("backup finished",
		"remote_path", o.RemoteBackupPath(),
		"size_bytes", res.ArchiveSize,
		"replaced", res.Replaced,
		"duration", res.Duration,
	)
	return res, nil
}

// surface applies the error policy to a failed run.
func (o *Operator) surface(res *Result) error {
	switch o.opts.ErrorPolicy {
	case config.ErrorPolicyNever:
		return nil
	case config.ErrorPolicyAlways:
		return res.Err
	default:
		if res.FailedAt == StateValidating || res.FailedAt == StateBuilding {
			return res.Err
		}
		return nil
	}
}

func (o *Operator) rotate(ctx context.Context, res *Result) error {
	backend := o.opts.Backend
	remoteDir := o.opts.RootCloudDir

	res.State = StateValidating
	if err := archive.Validate(o.opts.PathsToBackup, o.opts.RootDir); err != nil {
		return err
	}

	res.State = StateBuilding
	archivePath, _, err := archive.Build(archive.Options{
		Paths:       o.opts.PathsToBackup,
		RootDir:     o.opts.RootDir,
		TmpDir:      o.opts.TmpDir,
		Compression: o.opts.Compression,
		Validated:   true,
		Now:         o.now,
		Log:         o.log,
	})
	if err != nil {
		return fmt.Errorf("build archive: %w", err)
	}
	defer removeLocalArchive(archivePath, o.log)
	if info, err := os.Stat(archivePath); err == nil {
		res.ArchiveSize = info.Size()
	}
	o.log.Debug("archive built", "path", archivePath, "size_bytes", res.ArchiveSize)

	res.State = StateLocating
	if _, err := backend.CreateFolderIfAbsent(ctx, remoteDir); err != nil {
		return fmt.Errorf("create remote folder %q: %w", remoteDir, err)
	}
	current, err := o.locateCurrent(ctx)
	if err != nil {
		return err
	}

	res.State = StateSwapping
	var old *storage.RemoteFile
	if current != nil {
		if err := backend.Rename(ctx, current, OldBackupFilename); err != nil {
			return fmt.Errorf("move previous backup aside: %w", err)
		}
		old = current
		res.Replaced = true
		o.log.Debug("previous backup moved aside", "path", old.Path)
	}

	res.State = StateUploading
	_, uploadErr := backend.Upload(ctx, archivePath, remoteDir)
	removeLocalArchive(archivePath, o.log)
	if uploadErr != nil {
		if old != nil {
			if err := backend.Rename(ctx, old, BackupFilename); err != nil {
				return &RollbackError{Path: old.Path, UploadErr: uploadErr, RollbackErr: err}
			}
			o.log.Warn("upload failed, previous backup restored", "path", old.Path)
		}
		return fmt.Errorf("upload backup: %w", uploadErr)
	}

	res.State = StateFinalizing
	if old != nil {
		if err := backend.Remove(ctx, old); err != nil {
			return fmt.Errorf("new backup stored, but removing previous backup %q failed: %w", old.Path, err)
		}
	}
	return nil
}

// locateCurrent returns the canonical backup, or nil on a first run. It
// repairs what an interrupted rotation leaves behind: a sentinel next to a
// canonical backup is stale and removed, a sentinel alone is the only
// complete backup and is renamed back.
func (o *Operator) locateCurrent(ctx context.Context) (*storage.RemoteFile, error) {
	backend := o.opts.Backend

	current, found, err := backend.Locate(ctx, o.RemoteBackupPath())
	if err != nil {
		return nil, fmt.Errorf("locate current backup: %w", err)
	}
	sentinel, sentinelFound, err := backend.Locate(ctx, storage.JoinPath(o.opts.RootCloudDir, OldBackupFilename))
	if err != nil {
		return nil, fmt.Errorf("locate previous backup: %w", err)
	}

	switch {
	case found && sentinelFound:
		o.log.Warn("removing stale previous backup left by an interrupted run", "path", sentinel.Path)
		if err := backend.Remove(ctx, sentinel); err != nil {
			return nil, fmt.Errorf("remove stale previous backup: %w", err)
		}
	case sentinelFound:
		o.log.Warn("recovering previous backup left by an interrupted run", "path", sentinel.Path)
		if err := backend.Rename(ctx, sentinel, BackupFilename); err != nil {
			return nil, fmt.Errorf("recover previous backup: %w", err)
		}
		return sentinel, nil
	}
	if !found {
		return nil, nil
	}
	return current, nil
}

func removeLocalArchive(path string, log logger.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("could not remove local archive", "path", path, "error", err.Error())
	}
}
