package worker

import (
	"context"
	"os"
	"path/filepath"

	"github.com/leandro2vieira/teep-arq-flow/internal/remote"
)

type localFile struct {
	relPath string
	size    int64
}

// collectLocalFiles walks localDir and returns every regular file beneath it, relative to localDir with
// forward-slash separators so the paths are ready for remote.Join.
func collectLocalFiles(localDir string) ([]localFile, int64, error) {
	var files []localFile
	var totalBytes int64

	err := filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		files = append(files, localFile{relPath: rel, size: info.Size()})
		totalBytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return files, totalBytes, nil
}

// uploadDirectoryWithProgress uploads localDir to remoteDir file-by-file, invoking progressFn once before the first
// file, after every file that uploads successfully, and once at the end.
// Session.UploadDirectory has no progress hook, so the walk and the percent computation both happen here: progress
// is driven by the worker, never by the transport.
func uploadDirectoryWithProgress(ctx context.Context, sess remote.Session, localDir, remoteDir string, progressFn func(map[string]any)) *remote.BulkResult {
	result := &remote.BulkResult{}

	files, totalBytes, err := collectLocalFiles(localDir)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result
	}

	name := filepath.Base(localDir)
	progressFn(progressPayload(name, 0, totalBytes, 0))

	if err := sess.EnsureRemoteDir(ctx, remoteDir); err != nil {
		result.Errors = append(result.Errors, err)
	}

	var sent int64
	for i, f := range files {
		local := filepath.Join(localDir, filepath.FromSlash(f.relPath))
		remoteFile := remote.Join(remoteDir, f.relPath)

		if dir := remote.Join(remoteDir, filepath.ToSlash(filepath.Dir(f.relPath))); dir != remoteDir {
			_ = sess.EnsureRemoteDir(ctx, dir)
		}

		if err := sess.UploadFile(ctx, local, remoteFile); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.FilesTransferred++
		result.BytesTransferred += f.size
		sent += f.size

		percent := progressPercent(sent, totalBytes, i+1, len(files))
		progressFn(progressPayload(f.relPath, sent, totalBytes, percent))
	}

	progressFn(progressPayload(name, sent, totalBytes, 100))
	return result
}

// progressPercent reports completion over bytes when the total is known, falling back to a file count when every
// file was empty (and the byte total is therefore uninformative).
func progressPercent(sentBytes, totalBytes int64, filesDone, totalFiles int) int {
	if totalBytes > 0 {
		return int(sentBytes * 100 / totalBytes)
	}
	if totalFiles > 0 {
		return filesDone * 100 / totalFiles
	}
	return 100
}
