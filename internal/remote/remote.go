// Package remote implements the RemoteSession capability: a uniform file-transfer contract over either FTP or
// SSH/SFTP, selected at construction time by protocol tag.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Protocol selects the underlying transport a Session is built on.
type Protocol string

const (
	ProtocolFTP Protocol = "ftp"
	ProtocolSCP Protocol = "scp"
)

// EntryType discriminates a listing Entry.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "directory"
)

// Entry is one item returned by a ListRemote call.
type Entry struct {
	Name  string
	Path  string
	Type  EntryType
	Size  int64
	MTime time.Time
}

// Sentinel errors for callers using errors.Is. ErrPerm is reachable through every PermError the FTP and SCP sessions
// return; neither session returns ErrNotFound.
var (
	ErrNotFound = errors.New("remote: path not found")
	ErrPerm     = errors.New("remote: permission denied")
)

// ConnectError wraps a failure to open or authenticate the underlying transport.
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("remote: connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransferError wraps a failure during an upload, download, or delete operation.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("remote: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// PermError wraps a permission failure on a specific remote path.
type PermError struct {
	Path string
	Err  error
}

func (e *PermError) Error() string {
	return fmt.Sprintf("remote: permission denied on %s: %v", e.Path, e.Err)
}

func (e *PermError) Unwrap() error { return errors.Join(ErrPerm, e.Err) }

// Session is the capability set a PeripheralWorker holds an opaque handle to. FTP and SCP sessions implement it
// identically; there is no inheritance hierarchy, only a tagged variant chosen at construction time.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect()

	UploadFile(ctx context.Context, local, remote string) error
	DownloadFile(ctx context.Context, remote, local string) error
	UploadDirectory(ctx context.Context, localDir, remoteDir string) *BulkResult
	DownloadDirectory(ctx context.Context, remoteDir, localDir string) *BulkResult

	ListRemote(ctx context.Context, remoteDir string, includeHidden bool) ([]Entry, error)

	DeleteFile(ctx context.Context, remote string) error
	DeletePath(ctx context.Context, remote string) error

	// EnsureRemoteDir creates remoteDir and any missing parent segments, best-effort. It lets a caller drive a
	// directory upload file-by-file (for progress reporting) without losing the directory-creation behavior that
	// UploadDirectory otherwise provides implicitly.
	EnsureRemoteDir(ctx context.Context, remoteDir string) error
}

// BulkResult aggregates the outcome of a directory-wide transfer: per-file failures are collected rather than
// aborting the whole operation, and the final status reflects whether any failures occurred.
type BulkResult struct {
	FilesTransferred int
	BytesTransferred int64
	Errors           []error
}

// Ok reports whether the bulk operation completed with no per-file errors.
func (r *BulkResult) Ok() bool {
	return r != nil && len(r.Errors) == 0
}

func (r *BulkResult) addError(op, path string, err error) {
	r.Errors = append(r.Errors, &TransferError{Op: op, Path: path, Err: err})
}

// ConnectionParams describes how to reach a peripheral, decoded from a Peripheral's connection_params JSONB column.
type ConnectionParams struct {
	Host      string
	Port      int
	User      string
	Password  string
	Protocol  Protocol
	Timeout   time.Duration
	Passive   bool
	LocalPath string
}

// NewSession builds a Session for the protocol named in params, failing closed on an unrecognized protocol.
func NewSession(params ConnectionParams) (Session, error) {
	switch params.Protocol {
	case ProtocolFTP:
		return newFTPSession(params), nil
	case ProtocolSCP:
		return newSCPSession(params), nil
	default:
		return nil, fmt.Errorf("remote: unsupported protocol %q", params.Protocol)
	}
}
