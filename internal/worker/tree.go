package worker

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// defaultTreeDepth bounds the recursion of a local tree listing, matching get_file_tree's max_depth guard so a
// pathological directory structure cannot hang GET_SERVER_FILE_TREE.
const defaultTreeDepth = 10

// TreeEntry is one node of a local filesystem subtree, returned for GET_SERVER_FILE_TREE. The shape (directories
// sorted before files, both case-insensitively alphabetical) is carried over from ftp_manager.py's get_file_tree even
// though the broker-facing contract only requires a flat listing for remote trees.
type TreeEntry struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     string      `json:"type"`
	Size     *int64      `json:"size,omitempty"`
	MTime    string      `json:"mtime,omitempty"`
	Children []TreeEntry `json:"children,omitempty"`
}

// listLocalTree scans root recursively up to maxDepth, returning the root node. depth 0 still reports the root
// file/directory but does not descend into it.
func listLocalTree(root string, includeHidden bool, maxDepth int) (TreeEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return TreeEntry{}, err
	}
	return scanTree(root, info, maxDepth, includeHidden), nil
}

func scanTree(p string, info os.FileInfo, depth int, includeHidden bool) TreeEntry {
	node := TreeEntry{
		Name: filepath.Base(p),
		Path: p,
		Type: "file",
	}
	if info.IsDir() {
		node.Type = "directory"
	} else {
		size := info.Size()
		node.Size = &size
	}
	node.MTime = info.ModTime().Format(time.RFC3339)

	if node.Type != "directory" || depth <= 0 {
		return node
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return node
	}

	var children []TreeEntry
	for _, entry := range entries {
		if !includeHidden && strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		childPath := path.Join(p, entry.Name())
		childInfo, err := entry.Info()
		if err != nil {
			continue
		}
		children = append(children, scanTree(childPath, childInfo, depth-1, includeHidden))
	}

	sort.Slice(children, func(i, j int) bool {
		iDir := children[i].Type == "directory"
		jDir := children[j].Type == "directory"
		if iDir != jDir {
			return iDir
		}
		return strings.ToLower(children[i].Name) < strings.ToLower(children[j].Name)
	})
	node.Children = children
	return node
}

func baseName(p string) string {
	return path.Base(p)
}

func fileSize(p string) int64 {
	info, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return info.Size()
}
