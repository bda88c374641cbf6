// Package operations runs the backup rotation and restore protocols against
// a storage backend.
package operations

import (
	"errors"
	"time"

	"github.com/kebairia/cloudbackup/internal/archive"
	"github.com/kebairia/cloudbackup/internal/config"
	"github.com/kebairia/cloudbackup/internal/logger"
	"github.com/kebairia/cloudbackup/internal/storage"
)

const (
	// BackupFilename is the canonical name of the current remote backup.
	BackupFilename = archive.ArchiveName
	// OldBackupFilename holds the previous backup while a new one uploads.
	OldBackupFilename = "_old_backup.zip"
)

const defaultTmpDir = "./tmp"

// Options is everything a run needs to know.
type Options struct {
	Backend       storage.Backend
	RootCloudDir  string
	PathsToBackup []string
	TmpDir        string
	RootDir       string
	Compression   string
	ErrorPolicy   string
}

// OptionsFromConfig maps the backup section of cfg onto Options.
func OptionsFromConfig(cfg config.Config, backend storage.Backend) Options {
	return Options{
		Backend:       backend,
		RootCloudDir:  cfg.Backup.RootCloudDir,
		PathsToBackup: cfg.Backup.Paths,
		TmpDir:        cfg.Backup.TmpDir,
		RootDir:       cfg.Backup.RootDir,
		Compression:   cfg.Backup.Compression,
		ErrorPolicy:   cfg.Backup.ErrorPolicy,
	}
}

// Operator manages the backup and restore operations.
type Operator struct {
	opts Options
	log  logger.Logger
	now  func() time.Time
}

// NewOperator returns an Operator for an authenticated backend.
func NewOperator(opts Options, log logger.Logger) (*Operator, error) {
	if opts.Backend == nil {
		return nil, errors.New("operations: backend is required")
	}
	if opts.TmpDir == "" {
		opts.TmpDir = defaultTmpDir
	}
	if opts.ErrorPolicy == "" {
		opts.ErrorPolicy = config.ErrorPolicyLocal
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Operator{
		opts: opts,
		log:  log.With("backend", opts.Backend.Name()),
		now:  time.Now,
	}, nil
}

// RemoteBackupPath is where the canonical backup lives.
func (o *Operator) RemoteBackupPath() string {
	return storage.JoinPath(o.opts.RootCloudDir, BackupFilename)
}
