package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// scpSession implements Session over an SSH connection using SFTP as the file transfer subsystem.
type scpSession struct {
	params ConnectionParams

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
}

func newSCPSession(params ConnectionParams) *scpSession {
	return &scpSession{params: params}
}

func (s *scpSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.params.Host, s.params.Port)
	timeout := s.params.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// HostKeyCallback is intentionally permissive, matching the original implementation's AutoAddPolicy: this
	// gateway connects to operator-configured peripherals on a trusted edge network, not arbitrary hosts.
	cfg := &ssh.ClientConfig{
		User:            s.params.User,
		Auth:            []ssh.AuthMethod{ssh.Password(s.params.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return &ConnectError{Host: addr, Err: err}
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return &ConnectError{Host: addr, Err: fmt.Errorf("open sftp subsystem: %w", err)}
	}

	s.client = client
	s.sftp = sftpClient
	return nil
}

// Disconnect closes the SFTP and SSH layers in order, swallowing errors from an already-broken transport; it is safe
// to call on a session that was never connected.
func (s *scpSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sftp != nil {
		_ = s.sftp.Close()
		s.sftp = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
}

func (s *scpSession) UploadFile(ctx context.Context, local, remote string) error {
	remote = Normalize(remote)
	if dir := path.Dir(remote); dir != "" && dir != "." {
		s.ensureRemoteDirs(dir)
	}

	f, err := os.Open(local)
	if err != nil {
		return &TransferError{Op: "upload", Path: local, Err: err}
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	dst, err := s.sftp.Create(remote)
	if err != nil {
		// Retry once: re-ensure the parent directory exists, then create again.
		s.ensureRemoteDirsLocked(path.Dir(remote))
		dst, err = s.sftp.Create(remote)
		if err != nil {
			return &TransferError{Op: "upload", Path: remote, Err: err}
		}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, f); err != nil {
		return &TransferError{Op: "upload", Path: remote, Err: err}
	}
	return nil
}

func (s *scpSession) DownloadFile(ctx context.Context, remote, local string) error {
	remote = Normalize(remote)
	if dir := path.Dir(local); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &TransferError{Op: "download", Path: local, Err: err}
		}
	}

	s.mu.Lock()
	src, err := s.sftp.Open(remote)
	s.mu.Unlock()
	if err != nil {
		return &TransferError{Op: "download", Path: remote, Err: err}
	}
	defer src.Close()

	f, err := os.Create(local)
	if err != nil {
		return &TransferError{Op: "download", Path: local, Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		return &TransferError{Op: "download", Path: local, Err: err}
	}
	return nil
}

func (s *scpSession) UploadDirectory(ctx context.Context, localDir, remoteDir string) *BulkResult {
	result := &BulkResult{}
	remoteDir = Normalize(remoteDir)

	err := walkLocalDir(localDir, func(relPath string, isDir bool, size int64) {
		if isDir {
			return
		}
		remoteFile := Join(remoteDir, relPath)
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

func (s *scpSession) DownloadDirectory(ctx context.Context, remoteDir, localDir string) *BulkResult {
	result := &BulkResult{}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		result.addError("mkdir", localDir, err)
		return result
	}
	s.downloadRecursive(ctx, Normalize(remoteDir), localDir, result)
	return result
}

func (s *scpSession) downloadRecursive(ctx context.Context, remoteDir, localDir string, result *BulkResult) {
	s.mu.Lock()
	attrs, err := s.sftp.ReadDir(remoteDir)
	s.mu.Unlock()
	if err != nil {
		result.addError("list", remoteDir, err)
		return
	}

	for _, attr := range attrs {
		name := attr.Name()
		if name == "." || name == ".." {
			continue
		}
		remotePath := Join(remoteDir, name)
		localPath := path.Join(localDir, name)

		if isDirEntry(attr) {
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
		result.BytesTransferred += attr.Size()
	}
}

// ensureRemoteDirs creates each missing path segment in turn. An mkdir failure on a segment that already exists is
// resolved with a stat check before giving up on that segment, mirroring _mkdir_remote_recursive's IOError fallback.
func (s *scpSession) ensureRemoteDirs(remotePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureRemoteDirsLocked(remotePath)
}

func (s *scpSession) ensureRemoteDirsLocked(remotePath string) {
	remotePath = Normalize(remotePath)
	if remotePath == "" || remotePath == "/" {
		return
	}

	current := ""
	for _, seg := range splitPath(remotePath) {
		current += "/" + seg
		if err := s.sftp.Mkdir(current); err != nil {
			if _, statErr := s.sftp.Stat(current); statErr != nil {
				continue
			}
		}
	}
}

func (s *scpSession) EnsureRemoteDir(ctx context.Context, remoteDir string) error {
	s.ensureRemoteDirs(remoteDir)
	return nil
}

func (s *scpSession) ListRemote(ctx context.Context, remoteDir string, includeHidden bool) ([]Entry, error) {
	remoteDir = Normalize(remoteDir)
	if remoteDir == "" {
		remoteDir = "."
	}

	s.mu.Lock()
	attrs, err := s.sftp.ReadDir(remoteDir)
	s.mu.Unlock()
	if err != nil {
		return nil, &TransferError{Op: "list", Path: remoteDir, Err: err}
	}

	entries := make([]Entry, 0, len(attrs))
	for _, attr := range attrs {
		name := attr.Name()
		if name == "." || name == ".." {
			continue
		}
		if !includeHidden && len(name) > 0 && name[0] == '.' {
			continue
		}
		typ := EntryFile
		if isDirEntry(attr) {
			typ = EntryDir
		}
		entries = append(entries, Entry{
			Name:  name,
			Path:  Join(remoteDir, name),
			Type:  typ,
			Size:  attr.Size(),
			MTime: attr.ModTime(),
		})
	}
	return entries, nil
}

func (s *scpSession) DeleteFile(ctx context.Context, remote string) error {
	remote = Normalize(remote)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sftp.Remove(remote); err != nil {
		return &TransferError{Op: "delete", Path: remote, Err: err}
	}
	return nil
}

// DeletePath removes a directory tree: per-file deletion first, then rmdir on the emptied directory, continuing on
// partial failure per the RemoteSession contract.
func (s *scpSession) DeletePath(ctx context.Context, remote string) error {
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
	rmErr := s.sftp.RemoveDirectory(remote)
	s.mu.Unlock()
	if rmErr != nil && firstErr == nil {
		firstErr = rmErr
	}
	if firstErr != nil {
		return &PermError{Path: remote, Err: firstErr}
	}
	return nil
}

// isDirEntry reports whether an os.FileInfo returned by the SFTP client describes a directory, using the POSIX mode
// bits carried in its Mode(), the same check performed by stat_is_dir via S_ISDIR.
func isDirEntry(attr os.FileInfo) bool {
	return attr.Mode().IsDir()
}
