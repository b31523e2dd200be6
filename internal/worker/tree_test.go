package worker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListLocalTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "sub"))
	mustWriteFile(t, filepath.Join(root, "a.txt"), "hello")
	mustWriteFile(t, filepath.Join(root, "sub", "b.txt"), "world!")
	mustWriteFile(t, filepath.Join(root, ".hidden"), "nope")

	tree, err := listLocalTree(root, false, defaultTreeDepth)
	if err != nil {
		t.Fatalf("listLocalTree() error = %v", err)
	}
	if tree.Type != "directory" {
		t.Fatalf("tree.Type = %q, want directory", tree.Type)
	}
	if len(tree.Children) != 2 {
		t.Fatalf("len(tree.Children) = %d, want 2 (hidden entry excluded)", len(tree.Children))
	}

	// directories sort before files.
	if tree.Children[0].Name != "sub" || tree.Children[0].Type != "directory" {
		t.Fatalf("Children[0] = %+v, want sub directory first", tree.Children[0])
	}
	if len(tree.Children[0].Children) != 1 {
		t.Fatalf("sub directory should list one child, got %d", len(tree.Children[0].Children))
	}

	fileNode := tree.Children[1]
	if fileNode.Name != "a.txt" || fileNode.Size == nil || *fileNode.Size != 5 {
		t.Fatalf("a.txt node = %+v, want size 5", fileNode)
	}
}

func TestListLocalTree_MaxDepth(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "sub"))
	mustWriteFile(t, filepath.Join(root, "sub", "deep.txt"), "x")

	tree, err := listLocalTree(root, false, 0)
	if err != nil {
		t.Fatalf("listLocalTree() error = %v", err)
	}
	if len(tree.Children) != 0 {
		t.Fatalf("depth 0 should not descend, got %d children", len(tree.Children))
	}
}

func mustMkdir(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatalf("MkdirAll(%q) error = %v", p, err)
	}
}

func mustWriteFile(t *testing.T, p, contents string) {
	t.Helper()
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%q) error = %v", p, err)
	}
}
