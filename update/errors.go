package update

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoUpdate is returned by PrepareUpdate when the remote only ships
// required files and none of them changed.
var ErrNoUpdate = errors.New("no files to update, set 'required_only' to false for a forced update")

// ConnectionError is returned when the remote url cannot be reached.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SummaryError wraps failures comparing the local and cloud hash databases.
type SummaryError struct{ Err error }

func (e *SummaryError) Error() string { return "cannot summarise hash databases: " + e.Err.Error() }

func (e *SummaryError) Unwrap() error { return e.Err }

// FilesError wraps failures listing the cloud files.
type FilesError struct{ Err error }

func (e *FilesError) Error() string { return "cannot get files: " + e.Err.Error() }

func (e *FilesError) Unwrap() error { return e.Err }

// DownloadError wraps failures downloading the cloud files.
type DownloadError struct{ Err error }

func (e *DownloadError) Error() string { return "cannot download files: " + e.Err.Error() }

func (e *DownloadError) Unwrap() error { return e.Err }
