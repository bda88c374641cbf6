// Package storage defines the remote storage contract used by the backup
// rotation and restore protocols, and the backends implementing it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
)

// ErrInvalidConfig indicates that a backend was configured incorrectly.
var ErrInvalidConfig = errors.New("invalid backend configuration")

// Token is an opaque, backend-owned handle carried by a RemoteFile. Only the
// backend that produced it may inspect it.
type Token any

// RemoteFolder is a directory in the remote backend.
type RemoteFolder struct {
	Name string
	Path string
	ID   string
}

// RemoteFile is a file in the remote backend. Parent is a back-reference to
// the directory holding the file.
type RemoteFile struct {
	Name   string
	Path   string
	ID     string
	Parent *RemoteFolder
	Token  Token
}

// Backend is the capability set a remote storage provider must implement.
//
// A backend is constructed unauthenticated; callers run Authenticate before
// any other operation.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Authenticate establishes a session. It returns *AuthError when the
	// credentials are rejected and *IOError when the backend could not be
	// reached. Any later operation returns *AuthError once the session's
	// credentials stop being accepted.
	Authenticate(ctx context.Context, login, password string) error

	// Locate returns the file at an exact remote path. A missing file is
	// reported with found == false and a nil error.
	Locate(ctx context.Context, remotePath string) (file *RemoteFile, found bool, err error)

	// CreateFolderIfAbsent creates the folder at remotePath. It is a no-op
	// when the folder already exists.
	CreateFolderIfAbsent(ctx context.Context, remotePath string) (*RemoteFolder, error)

	// Upload copies a local file into an existing remote directory, keeping
	// its base name.
	Upload(ctx context.Context, localFilePath, remoteDirPath string) (*RemoteFile, error)

	// Rename changes the name of file within its parent directory and
	// updates file to describe the renamed entry.
	Rename(ctx context.Context, file *RemoteFile, newName string) error

	// Remove deletes file. It cannot be undone.
	Remove(ctx context.Context, file *RemoteFile) error

	// Download writes file into localOutputDir under its remote name.
	Download(ctx context.Context, file *RemoteFile, localOutputDir string) error
}

// AuthError reports rejected credentials.
type AuthError struct {
	Backend string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Backend, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IOError reports a failed backend operation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// JoinPath joins remote path elements with forward slashes.
func JoinPath(elem ...string) string {
	return path.Join(elem...)
}

// renamed returns a copy of file's path with the final element replaced.
func renamed(file *RemoteFile, newName string) string {
	return path.Join(path.Dir(file.Path), newName)
}
