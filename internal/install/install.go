// Package install implements the staged, transactional installer (spec.md
// §4.7): conflict detection, history tracking, an atomic filesystem apply
// with per-file backups, and local rollback-from-backup when the apply
// fails partway through. No database mutation happens until the apply
// phase has fully succeeded. The phase structure follows install_binary()
// in the original prototype; the atomic-rename-based file replacement and
// directory-then-file ordering follow _copy_tree_atomic().
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/xerrors"

	"github.com/srcpkg/srcpkg"
	"github.com/srcpkg/srcpkg/internal/archive"
	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/manifest"
)

// Opts controls one Install call.
type Opts struct {
	Force        bool // overwrite existing files no package owns; paths owned by another package still fail
	Explicit     bool // record this install as user-requested, not a dependency pull-in
	KeepPerms    bool // preserve archived file modes instead of normalizing them
	NoStaging    bool // extract directly to root instead of via a staging tree (discouraged, no rollback safety)
	DryRun       bool // report what would happen after Phase 1, without staging, applying, or touching the DB
	Root         string
	HistoryDepth int // bounds history[full] after an upgrade's history push (spec.md §3, "History"); <=0 means unbounded
}

// Report summarizes a completed install.
type Report struct {
	Installed []string // paths written
	Conflicts []string // unowned paths that already existed on disk (only non-empty when Force overwrote them)
}

// Install extracts artifactPath's contents into opts.Root according to the
// phases in spec.md §4.7, mutating d only after every filesystem write has
// succeeded.
func Install(ctx context.Context, full, version, id, artifactPath string, deps []string, m manifest.Manifest, d *db.DB, opts Opts) (*Report, error) {
	root := opts.Root
	if root == "" {
		root = "/"
	}

	// Phase 1: conflict detection. No filesystem or DB mutation yet.
	conflicts, err := detectConflicts(full, root, m, d)
	if err != nil {
		return nil, err
	}
	for _, p := range conflicts {
		if owner, ok := d.Owners[p]; ok {
			return nil, srcpkg.New(srcpkg.KindConflict, "install of %s: %s is owned by %s", full, p, owner)
		}
	}
	if len(conflicts) > 0 && !opts.Force {
		return nil, srcpkg.New(srcpkg.KindConflict, "install of %s conflicts with existing owners: %v", full, conflicts)
	}

	if opts.DryRun {
		return &Report{Installed: m.Paths(), Conflicts: conflicts}, nil
	}

	// Phase 3: staging. Extract the artifact into a temp tree so phase 4
	// never reads from a partially-written root.
	stage, err := os.MkdirTemp(filepath.Dir(root), ".srcpkg-stage-")
	if err != nil {
		return nil, xerrors.Errorf("create stage dir: %w", err)
	}
	defer os.RemoveAll(stage)

	if !opts.NoStaging {
		af, err := os.Open(artifactPath)
		if err != nil {
			return nil, xerrors.Errorf("open artifact %s: %w", artifactPath, err)
		}
		err = archive.ExtractArtifact(ctx, af, stage, opts.KeepPerms)
		af.Close()
		if err != nil {
			return nil, xerrors.Errorf("stage artifact: %w", err)
		}
	} else {
		af, err := os.Open(artifactPath)
		if err != nil {
			return nil, xerrors.Errorf("open artifact %s: %w", artifactPath, err)
		}
		err = archive.ExtractArtifact(ctx, af, root, opts.KeepPerms)
		af.Close()
		if err != nil {
			return nil, xerrors.Errorf("extract artifact into %s: %w", root, err)
		}
	}

	// Phase 4: atomic apply with per-file backup, local rollback on failure.
	backupDir, err := os.MkdirTemp(filepath.Dir(root), ".srcpkg-backup-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(backupDir)

	applied, applyErr := m.Paths(), error(nil)
	if !opts.NoStaging {
		applied, applyErr = applyTree(ctx, stage, root, backupDir, m, opts)
	}
	if applyErr != nil {
		if rbErr := rollbackFromBackups(applied, backupDir, root); rbErr != nil {
			return nil, srcpkg.Wrap(srcpkg.KindTransaction, rbErr, "apply %s failed (%v) and rollback failed", full, applyErr)
		}
		return nil, srcpkg.Wrap(srcpkg.KindTransaction, applyErr, "apply %s", full)
	}

	// Phase 5: DB commit. The replaced record is pushed onto history here
	// too, so a failed apply leaves d untouched.
	if prior, ok := d.Installed[full]; ok {
		d.PushHistory(full, prior, opts.HistoryDepth)
	}
	rec := db.InstalledRecord{
		Version:  version,
		ID:       id,
		Depends:  deps,
		Manifest: m,
		Explicit: opts.Explicit,
		Artifact: artifactPath,
	}
	if existing, ok := d.Installed[full]; ok && !opts.Explicit {
		rec.Explicit = existing.Explicit
	}
	d.Installed[full] = rec
	for _, path := range m.Paths() {
		if m[path].Type == manifest.TypeDir {
			continue
		}
		d.Owners[path] = full
	}

	return &Report{Installed: applied, Conflicts: conflicts}, nil
}

// detectConflicts reports a path as conflicting either when another package
// already owns it in the database, or when it exists on disk under root
// with no owner at all (spec.md §4.7 Phase 1 Rule 2): a file left behind by
// something outside srcpkg's bookkeeping, matching install_binary()'s
// pre-existing-file check in the original prototype.
func detectConflicts(full, root string, m manifest.Manifest, d *db.DB) ([]string, error) {
	var conflicts []string
	for path, e := range m {
		if e.Type == manifest.TypeDir {
			continue
		}
		if owner, ok := d.Owners[path]; ok {
			if owner != full {
				conflicts = append(conflicts, path)
			}
			continue
		}
		if _, err := os.Lstat(filepath.Join(root, path)); err == nil {
			conflicts = append(conflicts, path)
		} else if !os.IsNotExist(err) {
			return nil, xerrors.Errorf("stat %s: %w", path, err)
		}
	}
	sort.Strings(conflicts)
	return conflicts, nil
}

// applyTree copies stage's tree into root, directories first (so file
// writes never race a missing parent), backing up whatever previously
// occupied each path into backupDir before overwriting it. It returns the
// root-relative paths it successfully wrote, in application order, so a
// failure partway through can be unwound precisely.
func applyTree(ctx context.Context, stage, root, backupDir string, m manifest.Manifest, opts Opts) ([]string, error) {
	paths := m.Paths()

	var dirs, rest []string
	for _, p := range paths {
		if m[p].Type == manifest.TypeDir {
			dirs = append(dirs, p)
		} else {
			rest = append(rest, p)
		}
	}

	var applied []string
	for _, rel := range dirs {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		target := filepath.Join(root, rel)
		if fi, err := os.Lstat(target); err == nil && fi.IsDir() {
			continue // already present: nothing written, nothing to undo
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return applied, err
		}
		applied = append(applied, rel)
	}

	for _, rel := range rest {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := applyOne(stage, root, backupDir, rel, m[rel]); err != nil {
			return applied, xerrors.Errorf("%s: %w", rel, err)
		}
		applied = append(applied, rel)
	}
	return applied, nil
}

func applyOne(stage, root, backupDir, rel string, e manifest.Entry) error {
	target := filepath.Join(root, rel)
	src := filepath.Join(stage, rel)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := backupExisting(target, backupDir, rel); err != nil {
		return err
	}

	switch e.Type {
	case manifest.TypeSymlink:
		target2 := e.Target
		os.Remove(target)
		return os.Symlink(target2, target)

	default:
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		tmp := target + ".tmp.srcpkg"
		mode := os.FileMode(e.Mode)
		if mode == 0 {
			mode = 0o644
		}
		out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return err
		}
		if _, err := copyAll(out, in); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
		if err := out.Close(); err != nil {
			os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, target)
	}
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	return dst.ReadFrom(src)
}

// backupExisting preserves whatever currently occupies target, so a later
// rollback can restore it exactly. Symlinks are recorded via a ".symlink"
// sidecar file holding the link target text, matching the original
// prototype's backup encoding.
func backupExisting(target, backupDir, rel string) error {
	fi, err := os.Lstat(target)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	backupPath := filepath.Join(backupDir, rel)
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return err
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		linkTarget, err := os.Readlink(target)
		if err != nil {
			return err
		}
		return os.WriteFile(backupPath+".symlink", []byte(linkTarget), 0o644)
	}
	if fi.IsDir() {
		return nil
	}

	in, err := os.Open(target)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = copyAll(out, in)
	return err
}

// rollbackFromBackups restores every path in applied from backupDir,
// walking in reverse order so files are undone before their now-possibly-
// orphaned parent directories.
func rollbackFromBackups(applied []string, backupDir, root string) error {
	for i := len(applied) - 1; i >= 0; i-- {
		rel := applied[i]
		target := filepath.Join(root, rel)
		backupPath := filepath.Join(backupDir, rel)

		if linkTarget, err := os.ReadFile(backupPath + ".symlink"); err == nil {
			os.Remove(target)
			if err := os.Symlink(string(linkTarget), target); err != nil {
				return fmt.Errorf("restore symlink %s: %w", rel, err)
			}
			continue
		}

		if _, err := os.Stat(backupPath); err == nil {
			in, err := os.Open(backupPath)
			if err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				in.Close()
				return err
			}
			_, cerr := copyAll(out, in)
			in.Close()
			out.Close()
			if cerr != nil {
				return fmt.Errorf("restore %s: %w", rel, cerr)
			}
			continue
		}

		// No backup exists: this path didn't previously exist, so undo
		// means removing what we wrote.
		os.Remove(target)
	}
	return nil
}
