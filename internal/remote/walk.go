package remote

import (
	"os"
	"path"
)

// splitPath breaks a normalized absolute or relative path into its non-empty segments.
func splitPath(p string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				segs = append(segs, p[start:i])
			}
			start = i + 1
		}
	}
	return segs
}

// walkLocalDir walks localDir in pre-order, invoking fn with the path relative to localDir and the file size (0 for
// directories). Shared by both the FTP and SCP session implementations for directory uploads.
func walkLocalDir(localDir string, fn func(relPath string, isDir bool, size int64)) error {
	return walkDir(localDir, localDir, fn)
}

func walkDir(root, dir string, fn func(relPath string, isDir bool, size int64)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		full := path.Join(dir, entry.Name())
		rel := relPath(root, full)
		if entry.IsDir() {
			fn(rel, true, 0)
			if err := walkDir(root, full, fn); err != nil {
				return err
			}
			continue
		}
		info, err := entry.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		fn(rel, false, size)
	}
	return nil
}

func relPath(root, full string) string {
	if len(full) < len(root) {
		return full
	}
	rel := full[len(root):]
	for len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	return rel
}
