// Package manifest builds and persists the deterministic file manifest that
// accompanies every built artifact (spec.md §4.2). The manifest is a sorted,
// lstat-based record of an install tree: enough to drive conflict detection,
// verification, and uninstall without re-walking the filesystem.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// EntryType discriminates the Entry tagged union.
type EntryType string

const (
	TypeFile    EntryType = "file"
	TypeDir     EntryType = "dir"
	TypeSymlink EntryType = "symlink"
	TypeSpecial EntryType = "special"
)

// Entry is one path's record in a Manifest. Only the fields relevant to its
// Type are populated: SHA256 for files, Target for symlinks.
type Entry struct {
	Type   EntryType `json:"type"`
	SHA256 string    `json:"sha256,omitempty"`
	Target string    `json:"target,omitempty"`
	Mode   uint32    `json:"mode"`
}

func (e Entry) validate() error {
	switch e.Type {
	case TypeFile:
		if e.SHA256 == "" {
			return fmt.Errorf("file entry missing sha256")
		}
	case TypeSymlink:
		if e.Target == "" {
			return fmt.Errorf("symlink entry missing target")
		}
	case TypeDir, TypeSpecial:
	default:
		return fmt.Errorf("invalid entry type %q", e.Type)
	}
	return nil
}

// Manifest maps a slash-separated relative path to its Entry. Paths are
// always relative to the tree root and never begin with "/".
type Manifest map[string]Entry

// Paths returns the manifest's paths in deterministic byte-wise sorted
// order: a directory's own path sorts before every one of its descendants,
// though not necessarily immediately before them (a sibling such as
// "a-b" sorts between "a" and "a/x"), so the order is not depth-first.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// MarshalJSON round-trips as a plain object; UnmarshalJSON validates every
// entry's tag so a malformed manifest on disk fails loudly rather than
// silently treating an unknown type as a no-op.
func (m Manifest) MarshalJSON() ([]byte, error) {
	type alias Manifest
	return json.Marshal(alias(m))
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	type alias Manifest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	for path, e := range a {
		if err := e.validate(); err != nil {
			return xerrors.Errorf("manifest entry %q: %w", path, err)
		}
	}
	*m = Manifest(a)
	return nil
}

// Build walks destDir and produces a Manifest of every entry beneath it,
// relative to destDir. Directory entries are lstat-based: symlinks are
// recorded by their verbatim target, never followed. File hashing happens
// concurrently via errgroup, since SHA256 is the dominant cost for a large
// install tree.
func Build(ctx context.Context, destDir string) (Manifest, error) {
	var paths []string
	err := filepath.Walk(destDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == destDir {
			return nil
		}
		rel, err := filepath.Rel(destDir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("walk %s: %w", destDir, err)
	}
	sort.Strings(paths)

	entries := make([]Entry, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, rel := range paths {
		i, rel := i, rel
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := buildEntry(destDir, rel)
			if err != nil {
				return xerrors.Errorf("manifest entry %s: %w", rel, err)
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := make(Manifest, len(paths))
	for i, rel := range paths {
		m[rel] = entries[i]
	}
	return m, nil
}

func buildEntry(destDir, rel string) (Entry, error) {
	full := filepath.Join(destDir, rel)
	fi, err := os.Lstat(full)
	if err != nil {
		return Entry{}, err
	}
	mode := uint32(fi.Mode().Perm())

	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(full)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Type: TypeSymlink, Target: target, Mode: mode}, nil
	case fi.IsDir():
		return Entry{Type: TypeDir, Mode: mode}, nil
	case fi.Mode().IsRegular():
		sum, err := hashFile(full)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Type: TypeFile, SHA256: sum, Mode: mode}, nil
	default:
		return Entry{Type: TypeSpecial, Mode: mode}, nil
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Save writes m as pretty-printed JSON to path atomically: the JSON goes to
// a temp file beside path, which is then renamed over it.
func Save(path string, m Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp.srcpkg"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads a Manifest previously written by Save.
func Load(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, xerrors.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// IsUnsafePath reports whether rel escapes its root via ".." components or
// is rooted.
func IsUnsafePath(rel string) bool {
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "/") {
		return true
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
