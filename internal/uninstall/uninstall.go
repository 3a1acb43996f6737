// Package uninstall implements package removal (spec.md §4.8): files are
// removed in descending path-depth order so directories empty out before
// their own removal is attempted, ownership is checked before anything is
// deleted, and a file whose on-disk hash no longer matches its manifest
// entry is preserved and reported rather than silently destroyed.
package uninstall

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/srcpkg/srcpkg"
	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/manifest"
)

// Report summarizes a completed (or dry-run) uninstall.
type Report struct {
	Removed      []string // paths actually removed (or that would be, if dryRun)
	KeptModified []string // files preserved because their content diverged from the manifest
}

// Uninstall removes full's files from root and updates d, unless dryRun is
// set, in which case no filesystem or database mutation happens.
func Uninstall(full, root string, d *db.DB, dryRun bool) (*Report, error) {
	rec, ok := d.Installed[full]
	if !ok {
		return nil, srcpkg.New(srcpkg.KindNotFound, "%s is not installed", full)
	}

	paths := descendingDepthOrder(rec.Manifest)
	report := &Report{}

	for _, rel := range paths {
		e := rec.Manifest[rel]
		owner, owned := d.Owners[rel]
		if owned && owner != full {
			// Another package has since taken ownership (e.g. a reinstall
			// raced this uninstall); never remove what we don't own.
			continue
		}
		if !owned && e.Type != manifest.TypeDir {
			continue // directories are never owned; a file or link without an owner isn't ours
		}

		target := filepath.Join(root, rel)

		switch e.Type {
		case manifest.TypeDir:
			if dryRun {
				report.Removed = append(report.Removed, rel)
				continue
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				// Best-effort: a non-empty directory (because unrelated
				// files landed inside it) is left in place.
				continue
			}
			report.Removed = append(report.Removed, rel)

		case manifest.TypeFile:
			diverged, err := hashDiverged(target, e.SHA256)
			if err != nil && !os.IsNotExist(err) {
				return nil, err
			}
			if diverged {
				report.KeptModified = append(report.KeptModified, rel)
				continue
			}
			if dryRun {
				report.Removed = append(report.Removed, rel)
				continue
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return nil, err
			}
			report.Removed = append(report.Removed, rel)

		default: // symlink, special
			if dryRun {
				report.Removed = append(report.Removed, rel)
				continue
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return nil, err
			}
			report.Removed = append(report.Removed, rel)
		}
	}

	if dryRun {
		return report, nil
	}

	for _, rel := range paths {
		if d.Owners[rel] == full {
			delete(d.Owners, rel)
		}
	}
	delete(d.Installed, full)
	sort.Strings(report.Removed)
	sort.Strings(report.KeptModified)
	return report, nil
}

func hashDiverged(path, want string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	got := hex.EncodeToString(h.Sum(nil))
	return !strings.EqualFold(got, want), nil
}

// descendingDepthOrder sorts a manifest's paths so the deepest entries come
// first: files and nested directories before their parents, guaranteeing a
// directory is only rmdir'd after everything it used to contain is gone.
func descendingDepthOrder(m manifest.Manifest) []string {
	paths := m.Paths()
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di > dj
		}
		return paths[i] > paths[j]
	})
	return paths
}
