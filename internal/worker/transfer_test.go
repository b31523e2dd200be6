package worker

import (
	"context"
	"path/filepath"
	"testing"
)

func TestUploadDirectoryWithProgress(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "sub"))
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello")
	mustWriteFile(t, filepath.Join(root, "sub", "b.txt"), "worldly")

	sess := newFakeSession()
	var payloads []map[string]any
	result := uploadDirectoryWithProgress(context.Background(), sess, root, "/remote/dest", func(p map[string]any) {
		payloads = append(payloads, p)
	})

	if !result.Ok() {
		t.Fatalf("result.Ok() = false, errors = %v", result.Errors)
	}
	if result.FilesTransferred != 2 {
		t.Fatalf("FilesTransferred = %d, want 2", result.FilesTransferred)
	}
	if len(sess.uploaded) != 2 {
		t.Fatalf("len(uploaded) = %d, want 2", len(sess.uploaded))
	}
	if _, ok := sess.uploaded["/remote/dest/a.txt"]; !ok {
		t.Error("expected a.txt uploaded to /remote/dest/a.txt")
	}
	if _, ok := sess.uploaded["/remote/dest/sub/b.txt"]; !ok {
		t.Error("expected sub/b.txt uploaded to /remote/dest/sub/b.txt")
	}

	if len(payloads) < 2 {
		t.Fatalf("expected at least a 0%% and a 100%% progress event, got %d", len(payloads))
	}
	if payloads[0]["percent"] != 0 {
		t.Errorf("first progress event percent = %v, want 0", payloads[0]["percent"])
	}
	last := payloads[len(payloads)-1]
	if last["percent"] != 100 {
		t.Errorf("last progress event percent = %v, want 100", last["percent"])
	}
}

func TestUploadDirectoryWithProgress_PartialFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello")
	mustWriteFile(t, filepath.Join(root, "b.txt"), "world")

	sess := newFakeSession()
	sess.uploadErr = map[string]error{"/dest/a.txt": errBoom}

	result := uploadDirectoryWithProgress(context.Background(), sess, root, "/dest", func(map[string]any) {})

	if result.Ok() {
		t.Fatal("result.Ok() = true, want false after a per-file failure")
	}
	if result.FilesTransferred != 1 {
		t.Fatalf("FilesTransferred = %d, want 1 (one of two files failed)", result.FilesTransferred)
	}
}
