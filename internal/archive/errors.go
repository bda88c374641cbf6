package archive

import (
	"fmt"
	"strings"
)

// ValidationError lists every configured path that does not exist locally.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("paths specified for backup do not exist: [%s]", strings.Join(e.Missing, ", "))
}

// FormatError reports a malformed archive or metadata file.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed backup archive %q: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
