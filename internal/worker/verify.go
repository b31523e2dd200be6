package worker

import (
	"context"

	"github.com/leandro2vieira/teep-arq-flow/internal/remote"
)

// VerificationResult reports whether a bulk transfer's destination matches its source: every relative path present
// on both sides with equal size. It is computed by diffing two relative-path-to-size maps, never by re-reading file
// contents.
type VerificationResult struct {
	Success        bool     `json:"success"`
	Missing        []string `json:"missing,omitempty"`
	Extra          []string `json:"extra,omitempty"`
	SizeMismatches []string `json:"size_mismatches,omitempty"`
}

// verifyDirectoryUpload checks that every local file under localDir landed on the remote side under remoteDir with
// a matching size. It still runs even when the upload itself reported per-file errors, so the reply carries the
// concrete list of what is missing rather than just a generic failure.
func verifyDirectoryUpload(ctx context.Context, sess remote.Session, localDir, remoteDir string, upload *remote.BulkResult) VerificationResult {
	localFiles, _, err := collectLocalFiles(localDir)
	if err != nil {
		return VerificationResult{Success: false, Missing: []string{localDir}}
	}
	localSizes := make(map[string]int64, len(localFiles))
	for _, f := range localFiles {
		localSizes[f.relPath] = f.size
	}

	remoteSizes, err := remoteTreeSizes(ctx, sess, remoteDir)
	if err != nil {
		return VerificationResult{Success: false, Missing: allKeys(localSizes)}
	}

	return diffSizes(localSizes, remoteSizes)
}

// verifyDirectoryDownload checks that every remote file under remoteDir landed locally under localDir with a
// matching size.
func verifyDirectoryDownload(ctx context.Context, sess remote.Session, remoteDir, localDir string) VerificationResult {
	remoteSizes, err := remoteTreeSizes(ctx, sess, remoteDir)
	if err != nil {
		return VerificationResult{Success: false}
	}

	localFiles, _, err := collectLocalFiles(localDir)
	if err != nil {
		return VerificationResult{Success: false, Missing: allKeys(remoteSizes)}
	}
	localSizes := make(map[string]int64, len(localFiles))
	for _, f := range localFiles {
		localSizes[f.relPath] = f.size
	}

	return diffSizes(remoteSizes, localSizes)
}

// remoteTreeSizes recursively lists remoteDir and returns a map of path (relative to remoteDir) to size for every
// file found. Directories are descended into but not themselves recorded.
func remoteTreeSizes(ctx context.Context, sess remote.Session, remoteDir string) (map[string]int64, error) {
	sizes := make(map[string]int64)
	if err := walkRemoteSizes(ctx, sess, remoteDir, "", sizes); err != nil {
		return nil, err
	}
	return sizes, nil
}

func walkRemoteSizes(ctx context.Context, sess remote.Session, remoteDir, relPrefix string, sizes map[string]int64) error {
	entries, err := sess.ListRemote(ctx, remoteDir, false)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		rel := entry.Name
		if relPrefix != "" {
			rel = relPrefix + "/" + entry.Name
		}
		if entry.Type == remote.EntryDir {
			if err := walkRemoteSizes(ctx, sess, remote.Join(remoteDir, entry.Name), rel, sizes); err != nil {
				return err
			}
			continue
		}
		sizes[rel] = entry.Size
	}
	return nil
}

// diffSizes reports every path present in want but missing (or size-mismatched) in got, and every path present in
// got but not wanted.
func diffSizes(want, got map[string]int64) VerificationResult {
	result := VerificationResult{Success: true}

	for p, wantSize := range want {
		gotSize, ok := got[p]
		if !ok {
			result.Missing = append(result.Missing, p)
			continue
		}
		if gotSize != wantSize {
			result.SizeMismatches = append(result.SizeMismatches, p)
		}
	}
	for p := range got {
		if _, ok := want[p]; !ok {
			result.Extra = append(result.Extra, p)
		}
	}

	if len(result.Missing) > 0 || len(result.Extra) > 0 || len(result.SizeMismatches) > 0 {
		result.Success = false
	}
	return result
}

func allKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
