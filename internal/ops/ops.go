// Package ops implements the maintenance operations layered on top of the
// database and installer (spec.md §4.9): rollback to a package's previous
// install, autoremove of orphaned dependencies, manifest verification, and
// a doctor check for database/content-store inconsistencies. Each mirrors
// the corresponding function in the original prototype (rollback(),
// autoremove(), verify(), doctor()).
package ops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/srcpkg/srcpkg"
	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/install"
	"github.com/srcpkg/srcpkg/internal/manifest"
	"github.com/srcpkg/srcpkg/internal/store"
	"github.com/srcpkg/srcpkg/internal/uninstall"
)

// Rollback reverts full to its most recent history entry, pushing the
// current install onto history in its place (so rollback itself can be
// undone by rolling back again). The artifact is the path stored in the
// history record, falling back to the conventional "<id>-<version>.tar.zst"
// path in the binary cache when that's missing. When dryRun is set, no
// filesystem or database mutation happens: the history pop is never
// persisted by the caller, and the reinstall itself stops after reporting.
func Rollback(ctx context.Context, cfg *srcpkg.Config, d *db.DB, full, root string, dryRun bool) error {
	prior, ok := d.PopHistory(full)
	if !ok {
		return srcpkg.New(srcpkg.KindNotFound, "no rollback history for %s", full)
	}

	artifactPath := prior.Artifact
	if _, err := os.Stat(artifactPath); artifactPath == "" || err != nil {
		artifactPath = store.FallbackArtifact(cfg.BinDir(), prior.ID, prior.Version)
		if _, statErr := os.Stat(artifactPath); statErr != nil {
			return srcpkg.Wrap(srcpkg.KindNotFound, statErr, "rollback artifact for %s not found", full)
		}
	}

	// Install itself pushes the record being replaced (the version
	// we're rolling back from) onto history, so a rollback is itself
	// reversible by rolling back again; no separate push is needed here.
	opts := install.Opts{Explicit: prior.Explicit, Root: root, HistoryDepth: cfg.HistoryDepth, DryRun: dryRun}
	report, err := install.Install(ctx, full, prior.Version, prior.ID, artifactPath, prior.Depends, prior.Manifest, d, opts)
	if err != nil {
		return xerrors.Errorf("rollback %s: %w", full, err)
	}
	if dryRun {
		log.Printf("would roll back %s to %s: %d paths", full, prior.Version, len(report.Installed))
	}
	return nil
}

// Autoremove deletes every installed package that isn't explicit and isn't
// required (directly or transitively) by an explicit package. Candidates
// are computed against a snapshot of the database taken before any removal,
// so removing one orphan never changes whether a sibling orphan looked
// required; they're then uninstalled in sorted name order, the same order
// the original prototype's autoremove() uses.
func Autoremove(d *db.DB, root string, dryRun bool) ([]string, error) {
	required := map[string]bool{}
	var walk func(full string)
	walk = func(full string) {
		if required[full] {
			return
		}
		required[full] = true
		rec, ok := d.Installed[full]
		if !ok {
			return
		}
		for _, dep := range rec.Depends {
			walk(dep)
		}
	}
	for _, full := range d.ExplicitNames() {
		walk(full)
	}

	var candidates []string
	for full := range d.Installed {
		if !required[full] {
			candidates = append(candidates, full)
		}
	}
	sort.Strings(candidates)

	var removed []string
	for _, full := range candidates {
		if _, err := uninstall.Uninstall(full, root, d, dryRun); err != nil {
			return removed, xerrors.Errorf("autoremove %s: %w", full, err)
		}
		removed = append(removed, full)
	}
	return removed, nil
}

// Problem is one inconsistency found by Verify or Doctor.
type Problem struct {
	Package string
	Path    string
	Issue   string
}

// Verify checks every installed file (or, if full is non-empty, just that
// package's files) against its recorded manifest entry: existence, type,
// and content hash for regular files, or target for symlinks.
func Verify(d *db.DB, root string, full string) ([]Problem, error) {
	names := d.SortedInstalled()
	if full != "" {
		if _, ok := d.Installed[full]; !ok {
			return nil, srcpkg.New(srcpkg.KindNotFound, "%s is not installed", full)
		}
		names = []string{full}
	}

	var problems []Problem
	for _, name := range names {
		rec := d.Installed[name]
		for _, rel := range rec.Manifest.Paths() {
			e := rec.Manifest[rel]
			target := join(root, rel)
			fi, err := os.Lstat(target)
			if os.IsNotExist(err) {
				problems = append(problems, Problem{Package: name, Path: rel, Issue: "missing"})
				continue
			}
			if err != nil {
				problems = append(problems, Problem{Package: name, Path: rel, Issue: "stat error: " + err.Error()})
				continue
			}

			switch e.Type {
			case manifest.TypeDir:
				if !fi.IsDir() {
					problems = append(problems, Problem{Package: name, Path: rel, Issue: "expected directory"})
				}
			case manifest.TypeSymlink:
				if fi.Mode()&os.ModeSymlink == 0 {
					problems = append(problems, Problem{Package: name, Path: rel, Issue: "expected symlink"})
					continue
				}
				got, err := os.Readlink(target)
				if err != nil || got != e.Target {
					problems = append(problems, Problem{Package: name, Path: rel, Issue: "symlink target mismatch"})
				}
			case manifest.TypeFile:
				if !fi.Mode().IsRegular() {
					problems = append(problems, Problem{Package: name, Path: rel, Issue: "expected regular file"})
					continue
				}
				diverged, err := fileHashDiverged(target, e.SHA256)
				if err != nil {
					problems = append(problems, Problem{Package: name, Path: rel, Issue: "hash error: " + err.Error()})
					continue
				}
				if diverged {
					problems = append(problems, Problem{Package: name, Path: rel, Issue: "content hash mismatch"})
				}
			}
		}
	}
	return problems, nil
}

// Doctor checks database-level consistency independent of any single
// package's files: artifacts missing from the binary cache, manifests that
// are empty or absent, owners entries pointing at packages no longer
// installed, and history entries whose artifact has disappeared.
func Doctor(cfg *srcpkg.Config, d *db.DB) ([]Problem, error) {
	var problems []Problem

	for full, rec := range d.Installed {
		paths := store.ArtifactPaths(cfg.BinDir(), rec.ID, rec.Version)
		if _, err := os.Stat(paths.Artifact); err != nil {
			problems = append(problems, Problem{Package: full, Issue: "artifact missing from binary cache"})
		}
		if len(rec.Manifest) == 0 {
			problems = append(problems, Problem{Package: full, Issue: "manifest is empty"})
		}
	}

	for path, owner := range d.Owners {
		if _, ok := d.Installed[owner]; !ok {
			problems = append(problems, Problem{Package: owner, Path: path, Issue: "owner entry has no corresponding installed package"})
		}
	}

	for full, hist := range d.History {
		for _, rec := range hist {
			paths := store.ArtifactPaths(cfg.BinDir(), rec.ID, rec.Version)
			if _, err := os.Stat(paths.Artifact); err != nil {
				problems = append(problems, Problem{Package: full, Issue: "history entry " + rec.Version + " has no artifact"})
			}
		}
	}

	sort.Slice(problems, func(i, j int) bool {
		if problems[i].Package != problems[j].Package {
			return problems[i].Package < problems[j].Package
		}
		return problems[i].Issue < problems[j].Issue
	})
	return problems, nil
}

func fileHashDiverged(path, want string) (bool, error) {
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

func join(root, rel string) string {
	if root == "" || root == "/" {
		return "/" + rel
	}
	return root + "/" + rel
}
