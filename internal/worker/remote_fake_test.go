package worker

import (
	"context"
	"errors"

	"github.com/leandro2vieira/teep-arq-flow/internal/remote"
)

// errBoom is a shared sentinel error used across this package's tests to simulate a transport failure.
var errBoom = errors.New("boom")

// fakeSession is an in-memory remote.Session used to test the worker package's command handlers and directory
// transfer helpers without a real FTP or SSH server.
type fakeSession struct {
	connectErr error
	connected  bool

	uploaded     map[string][]byte
	ensuredDirs  []string
	listing      map[string][]remote.Entry
	uploadErr    map[string]error
	downloadErr  map[string]error
	deleteErr    error
	deletePaths  []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		uploaded: make(map[string][]byte),
		listing:  make(map[string][]remote.Entry),
	}
}

func (f *fakeSession) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSession) Disconnect() { f.connected = false }

func (f *fakeSession) UploadFile(ctx context.Context, local, remotePath string) error {
	if err, ok := f.uploadErr[remotePath]; ok {
		return err
	}
	f.uploaded[remotePath] = []byte(local)
	return nil
}

func (f *fakeSession) DownloadFile(ctx context.Context, remotePath, local string) error {
	if err, ok := f.downloadErr[remotePath]; ok {
		return err
	}
	return nil
}

func (f *fakeSession) UploadDirectory(ctx context.Context, localDir, remoteDir string) *remote.BulkResult {
	return &remote.BulkResult{}
}

func (f *fakeSession) DownloadDirectory(ctx context.Context, remoteDir, localDir string) *remote.BulkResult {
	return &remote.BulkResult{}
}

func (f *fakeSession) ListRemote(ctx context.Context, remoteDir string, includeHidden bool) ([]remote.Entry, error) {
	return f.listing[remoteDir], nil
}

func (f *fakeSession) DeleteFile(ctx context.Context, remotePath string) error {
	f.deletePaths = append(f.deletePaths, remotePath)
	return f.deleteErr
}

func (f *fakeSession) DeletePath(ctx context.Context, remotePath string) error {
	f.deletePaths = append(f.deletePaths, remotePath)
	return f.deleteErr
}

func (f *fakeSession) EnsureRemoteDir(ctx context.Context, remoteDir string) error {
	f.ensuredDirs = append(f.ensuredDirs, remoteDir)
	return nil
}
