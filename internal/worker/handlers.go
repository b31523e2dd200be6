package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/leandro2vieira/teep-arq-flow/internal/message"
	"github.com/leandro2vieira/teep-arq-flow/internal/remote"
)

// localJoin joins a peripheral's local path root with a request-supplied path segment using operating-system path
// joining, per the worker's path-joining contract: remote.Join is reserved for remote paths.
func localJoin(base, part string) string {
	return filepath.Join(base, part)
}

// argString extracts a string field from a command's decoded JSON args, defaulting to "" when absent or of the
// wrong type, matching the original implementation's permissive dict.get(key, '') reads.
func argString(args any, key string) string {
	m, ok := args.(map[string]any)
	if !ok {
		return ""
	}
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (w *Worker) handleGetServerFileTree(ctx context.Context, msg message.Message) (bool, error) {
	localPath := argString(msg.Args, "local_path")
	full := localJoin(w.serverSidePath, localPath)

	entries, err := listLocalTree(full, false, defaultTreeDepth)
	if err != nil {
		w.publishError(ctx, err)
		w.logOperation(ctx, string(message.ActionServerFileTree), "error", err.Error())
		return true, nil
	}
	w.publish(ctx, message.ActionServerFileTree, entries)
	w.logOperation(ctx, string(message.ActionServerFileTree), "ok", entries)
	return true, nil
}

func (w *Worker) handleGetRemoteFileTree(ctx context.Context, msg message.Message) (bool, error) {
	remotePath := argString(msg.Args, "remote_path")
	full := remote.Join(w.remoteSidePath, remotePath)

	return w.withSession(ctx, func(sess remote.Session) bool {
		entries, err := sess.ListRemote(ctx, full, false)
		if err != nil {
			w.publishError(ctx, err)
			w.logOperation(ctx, string(message.ActionClientFileTree), "error", err.Error())
			return true
		}
		w.publish(ctx, message.ActionClientFileTree, entries)
		w.logOperation(ctx, string(message.ActionClientFileTree), "ok", entries)
		return true
	})
}

func (w *Worker) handleStreamFile(ctx context.Context, msg message.Message) (bool, error) {
	localPath := argString(msg.Args, "local_path")
	remotePath := argString(msg.Args, "remote_path")

	return w.withSession(ctx, func(sess remote.Session) bool {
		w.publish(ctx, message.ActionStartStreamFile, nil)

		localFile := localJoin(w.serverSidePath, localPath)
		filename := baseName(localFile)
		remoteDir := remote.Join(w.remoteSidePath, remotePath)
		remoteFile := remote.Join(remoteDir, filename)

		totalBytes := fileSize(localFile)
		w.publish(ctx, message.ActionProgressSendFile, progressPayload(filename, 0, totalBytes, 0))

		err := sess.UploadFile(ctx, localFile, remoteFile)

		w.publish(ctx, message.ActionProgressSendFile, progressPayload(filename, totalBytes, totalBytes, 100))
		w.publish(ctx, message.ActionFinishStreamFile, uploadResult(err))

		status := "ok"
		if err != nil {
			status = "error"
		}
		w.logOperation(ctx, "Upload File", status, remoteFile)
		return true
	})
}

func (w *Worker) handleStreamDirectory(ctx context.Context, msg message.Message) (bool, error) {
	localPath := argString(msg.Args, "local_path")
	remotePath := argString(msg.Args, "remote_path")

	return w.withSession(ctx, func(sess remote.Session) bool {
		w.publish(ctx, message.ActionStartStreamFile, map[string]any{"status": "start"})

		localDir := localJoin(w.serverSidePath, localPath)
		remoteDir := remote.Join(remote.Join(w.remoteSidePath, remotePath), localPath)

		result := uploadDirectoryWithProgress(ctx, sess, localDir, remoteDir, func(payload map[string]any) {
			w.publish(ctx, message.ActionProgressSendFile, payload)
		})

		verification := verifyDirectoryUpload(ctx, sess, localDir, remoteDir, result)
		finish := uploadResult(firstErr(result.Errors))
		finish["verification"] = verification
		w.publish(ctx, message.ActionFinishStreamFile, finish)

		w.logOperation(ctx, "Upload Directory", statusOf(verification.Success), verification)
		return true
	})
}

func (w *Worker) handleDownloadFile(ctx context.Context, msg message.Message) (bool, error) {
	localPath := argString(msg.Args, "local_path")
	remotePath := argString(msg.Args, "remote_path")

	return w.withSession(ctx, func(sess remote.Session) bool {
		w.publish(ctx, message.ActionStartDownloadFile, nil)

		remoteFile := remote.Join(w.remoteSidePath, remotePath)
		localFile := localJoin(w.serverSidePath, localPath)

		err := sess.DownloadFile(ctx, remoteFile, localFile)
		w.publish(ctx, message.ActionFinishDownloadFile, uploadResult(err))

		status := "ok"
		if err != nil {
			status = "error"
		}
		w.logOperation(ctx, "Download File", status, localFile)
		return true
	})
}

func (w *Worker) handleDownloadDirectory(ctx context.Context, msg message.Message) (bool, error) {
	localPath := argString(msg.Args, "local_path")
	remotePath := argString(msg.Args, "remote_path")

	return w.withSession(ctx, func(sess remote.Session) bool {
		w.publish(ctx, message.ActionStartDownloadFile, nil)

		remoteDir := remote.Join(w.remoteSidePath, remotePath)
		timestamp := time.Now().Format("150405_02012006")
		localDir := localJoin(w.serverSidePath, fmt.Sprintf("%s_download_%s", localPath, timestamp))

		result := sess.DownloadDirectory(ctx, remoteDir, localDir)
		w.publish(ctx, message.ActionFinishDownloadFile, uploadResult(firstErr(result.Errors)))

		verification := verifyDirectoryDownload(ctx, sess, remoteDir, localDir)
		w.logOperation(ctx, "Download Directory", statusOf(verification.Success), verification)
		return true
	})
}

func (w *Worker) handleDeleteRemoteFile(ctx context.Context, msg message.Message) (bool, error) {
	remotePath := remote.Join(w.remoteSidePath, argString(msg.Args, "remote_path"))

	return w.withSession(ctx, func(sess remote.Session) bool {
		err := sess.DeleteFile(ctx, remotePath)
		w.publish(ctx, message.ActionDeleteRemoteFile, deleteResult(err))
		status := "ok"
		if err != nil {
			status = "error"
		}
		w.logOperation(ctx, "Delete Remote File", status, remotePath)
		return true
	})
}

func (w *Worker) handleDeleteRemoteDirectory(ctx context.Context, msg message.Message) (bool, error) {
	remotePath := remote.Join(w.remoteSidePath, argString(msg.Args, "remote_path"))

	return w.withSession(ctx, func(sess remote.Session) bool {
		err := sess.DeletePath(ctx, remotePath)
		w.publish(ctx, message.ActionDeleteRemoteDir, deleteResult(err))
		status := "ok"
		if err != nil {
			status = "error"
		}
		w.logOperation(ctx, "Delete Remote Directory", status, remotePath)
		return true
	})
}

func uploadResult(err error) map[string]any {
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return map[string]any{"success": true}
}

func deleteResult(err error) map[string]any {
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return map[string]any{"success": true}
}

func statusOf(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func firstErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

func progressPayload(file string, bytesSent, totalBytes int64, percent int) map[string]any {
	return map[string]any{
		"file":        file,
		"bytes_sent":  bytesSent,
		"total_bytes": totalBytes,
		"percent":     percent,
	}
}
