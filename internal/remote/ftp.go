package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/jlaffaye/ftp"
)

// ftpSession implements Session over an FTP (optionally FTPS) control connection.
type ftpSession struct {
	params ConnectionParams

	mu   sync.Mutex
	conn *ftp.ServerConn
}

func newFTPSession(params ConnectionParams) *ftpSession {
	return &ftpSession{params: params}
}

func (s *ftpSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.params.Host, s.params.Port)
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if s.params.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(s.params.Timeout))
	}
	if !s.params.Passive {
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return &ConnectError{Host: addr, Err: err}
	}
	if err := conn.Login(s.params.User, s.params.Password); err != nil {
		_ = conn.Quit()
		return &ConnectError{Host: addr, Err: fmt.Errorf("login: %w", err)}
	}

	s.conn = conn
	return nil
}

// Disconnect is idempotent; releasing a transport that was never opened or already closed is a no-op.
func (s *ftpSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return
	}
	_ = s.conn.Quit()
	s.conn = nil
}

func (s *ftpSession) UploadFile(ctx context.Context, local, remote string) error {
	remote = Normalize(remote)

	f, err := os.Open(local)
	if err != nil {
		return &TransferError{Op: "upload", Path: local, Err: err}
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.Stor(remote, f); err != nil {
		// Retry once via change-working-directory + basename STOR, matching the RemoteSession contract.
		dir, base := path.Split(remote)
		if dir == "" {
			return &TransferError{Op: "upload", Path: remote, Err: err}
		}
		if cdErr := s.conn.ChangeDir(dir); cdErr != nil {
			return &TransferError{Op: "upload", Path: remote, Err: err}
		}
		if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
			return &TransferError{Op: "upload", Path: remote, Err: err}
		}
		if retryErr := s.conn.Stor(base, f); retryErr != nil {
			return &TransferError{Op: "upload", Path: remote, Err: retryErr}
		}
	}
	return nil
}

func (s *ftpSession) DownloadFile(ctx context.Context, remote, local string) error {
	remote = Normalize(remote)

	if dir := path.Dir(local); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &TransferError{Op: "download", Path: local, Err: err}
		}
	}

	s.mu.Lock()
	resp, err := s.conn.Retr(remote)
	s.mu.Unlock()
	if err != nil {
		return &TransferError{Op: "download", Path: remote, Err: err}
	}
	defer resp.Close()

	f, err := os.Create(local)
	if err != nil {
		return &TransferError{Op: "download", Path: local, Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, resp); err != nil {
		return &TransferError{Op: "download", Path: local, Err: err}
	}
	return nil
}

func (s *ftpSession) UploadDirectory(ctx context.Context, localDir, remoteDir string) *BulkResult {
	result := &BulkResult{}
	remoteDir = Normalize(remoteDir)
	s.ensureRemoteDirs(remoteDir)

	err := walkLocalDir(localDir, func(relPath string, isDir bool, size int64) {
		if isDir {
			return
		}
		remoteFile := Join(remoteDir, relPath)
		s.ensureRemoteDirs(path.Dir(remoteFile))
		localFile := path.Join(localDir, relPath)
		if err := s.UploadFile(ctx, localFile, remoteFile); err != nil {
			result.addError("upload", remoteFile, err)
			return
		}
		result.FilesTransferred++
		result.BytesTransferred += size
	})
	if err != nil {
		result.addError("walk", localDir, err)
	}
	return result
}

func (s *ftpSession) DownloadDirectory(ctx context.Context, remoteDir, localDir string) *BulkResult {
	result := &BulkResult{}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		result.addError("mkdir", localDir, err)
		return result
	}
	s.downloadRecursive(ctx, Normalize(remoteDir), localDir, result)
	return result
}

func (s *ftpSession) downloadRecursive(ctx context.Context, remoteDir, localDir string, result *BulkResult) {
	entries, err := s.ListRemote(ctx, remoteDir, false)
	if err != nil {
		result.addError("list", remoteDir, err)
		return
	}
	for _, entry := range entries {
		remotePath := Join(remoteDir, entry.Name)
		localPath := path.Join(localDir, entry.Name)
		if entry.Type == EntryDir {
			if err := os.MkdirAll(localPath, 0o755); err != nil {
				result.addError("mkdir", localPath, err)
				continue
			}
			s.downloadRecursive(ctx, remotePath, localPath, result)
			continue
		}
		if err := s.DownloadFile(ctx, remotePath, localPath); err != nil {
			result.addError("download", remotePath, err)
			continue
		}
		result.FilesTransferred++
		result.BytesTransferred += entry.Size
	}
}

// ensureRemoteDirs creates missing path segments best-effort; failures are swallowed since a segment that already
// exists is indistinguishable from one the server refuses to report on, matching _create_remote_dirs.
func (s *ftpSession) ensureRemoteDirs(remotePath string) {
	remotePath = Normalize(remotePath)
	if remotePath == "" || remotePath == "/" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := ""
	for _, seg := range splitPath(remotePath) {
		current += "/" + seg
		_ = s.conn.MakeDir(current)
	}
}

func (s *ftpSession) EnsureRemoteDir(ctx context.Context, remoteDir string) error {
	s.ensureRemoteDirs(remoteDir)
	return nil
}

func (s *ftpSession) ListRemote(ctx context.Context, remoteDir string, includeHidden bool) ([]Entry, error) {
	remoteDir = Normalize(remoteDir)
	if remoteDir == "" {
		remoteDir = "."
	}

	s.mu.Lock()
	raw, err := s.conn.List(remoteDir)
	s.mu.Unlock()
	if err != nil {
		return nil, &TransferError{Op: "list", Path: remoteDir, Err: err}
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if !includeHidden && len(e.Name) > 0 && e.Name[0] == '.' {
			continue
		}
		if e.Name == "." || e.Name == ".." {
			continue
		}
		typ := EntryFile
		if e.Type == ftp.EntryTypeFolder {
			typ = EntryDir
		}
		entries = append(entries, Entry{
			Name:  e.Name,
			Path:  Join(remoteDir, e.Name),
			Type:  typ,
			Size:  int64(e.Size),
			MTime: e.Time,
		})
	}
	return entries, nil
}

func (s *ftpSession) DeleteFile(ctx context.Context, remote string) error {
	remote = Normalize(remote)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.Delete(remote); err != nil {
		return &TransferError{Op: "delete", Path: remote, Err: err}
	}
	return nil
}

// DeletePath removes a directory tree: per-file deletion first, then rmd on the emptied directory. Attempts continue
// on partial failure; the caller inspects the returned error to learn whether everything was removed.
func (s *ftpSession) DeletePath(ctx context.Context, remote string) error {
	remote = Normalize(remote)

	entries, err := s.ListRemote(ctx, remote, true)
	if err != nil {
		return &PermError{Path: remote, Err: err}
	}

	var firstErr error
	for _, entry := range entries {
		childPath := Join(remote, entry.Name)
		if entry.Type == EntryDir {
			if err := s.DeletePath(ctx, childPath); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.DeleteFile(ctx, childPath); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.mu.Lock()
	rmErr := s.conn.RemoveDir(remote)
	s.mu.Unlock()
	if rmErr != nil && firstErr == nil {
		firstErr = rmErr
	}
	if firstErr != nil {
		return &PermError{Path: remote, Err: firstErr}
	}
	return nil
}

