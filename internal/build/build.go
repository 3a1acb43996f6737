// Package build implements the build runner (spec.md §4.4): given a
// resolved recipe, it fetches source, applies patches, dispatches to the
// recipe's build backend, and packages the resulting DESTDIR into a
// versioned artifact. The Ctx type and its env-var substitution follow the
// shape of the teacher's build.Ctx, generalized from a chroot/squashfs
// hermetic builder to a plain-filesystem DESTDIR builder per this
// project's scope.
package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/srcpkg/srcpkg"
	"github.com/srcpkg/srcpkg/internal/archive"
	"github.com/srcpkg/srcpkg/internal/manifest"
	"github.com/srcpkg/srcpkg/internal/recipe"
	"github.com/srcpkg/srcpkg/internal/store"
)

// Ctx holds everything one build invocation needs: the package being
// built, its recipe directory, and the content-store paths it reads from
// and writes to.
type Ctx struct {
	Cfg      *srcpkg.Config
	Meta     recipe.Meta
	PkgDir   string // recipe directory: patches/, files/
	SrcDir   string // extracted/checked-out upstream source
	BuildDir string // working copy the build runs in
	DestDir  string // DESTDIR staging tree

	// Fetch performs source acquisition: given the recipe's SourceInfo, it
	// populates SrcDir directly, for SourceTar and SourceGit alike, and
	// returns only an error. Fetchers are an external
	// collaborator (recipe.SourceInfo describes what to fetch, not how);
	// callers inject a concrete implementation.
	Fetch SourceFetcher

	// Log receives combined build-step output; the caller typically wires
	// this to a per-package log file under Cfg.LogDir().
	Log io.Writer
}

// SourceFetcher acquires a package's upstream source into SrcDir.
type SourceFetcher interface {
	Fetch(ctx context.Context, c *Ctx) error
}

// NewCtx derives the working directories for meta from cfg, without
// creating them.
func NewCtx(cfg *srcpkg.Config, meta recipe.Meta, pkgDir string, fetch SourceFetcher, log io.Writer) *Ctx {
	id := meta.ID()
	return &Ctx{
		Cfg:      cfg,
		Meta:     meta,
		PkgDir:   pkgDir,
		SrcDir:   filepath.Join(cfg.BuildDir(), id, "src"),
		BuildDir: filepath.Join(cfg.BuildDir(), id, "build"),
		DestDir:  filepath.Join(cfg.BuildDir(), id, "dest"),
		Fetch:    fetch,
		Log:      log,
	}
}

// Paths returns this build's artifact/manifest/latest-symlink locations.
func (c *Ctx) Paths() store.Paths {
	return store.ArtifactPaths(c.Cfg.BinDir(), c.Meta.ID(), c.Meta.Version)
}

// Result is what a successful Build returns.
type Result struct {
	Paths    store.Paths
	Manifest manifest.Manifest
}

// Build runs the full build pipeline for c, honoring the cache-hit rule:
// if both the artifact and its manifest already exist, the build is
// skipped and the latest symlink is refreshed, matching build_package()'s
// reuse branch in the original prototype.
func Build(ctx context.Context, c *Ctx) (*Result, error) {
	paths := c.Paths()
	if paths.Exists() {
		if err := paths.RefreshLatest(); err != nil {
			return nil, err
		}
		m, err := manifest.Load(paths.Manifest)
		if err != nil {
			return nil, err
		}
		return &Result{Paths: paths, Manifest: m}, nil
	}

	if err := os.RemoveAll(filepath.Join(c.Cfg.BuildDir(), c.Meta.ID())); err != nil {
		return nil, xerrors.Errorf("clean workdir: %w", err)
	}
	for _, d := range []string{c.SrcDir, c.BuildDir, c.DestDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}

	if c.Fetch == nil {
		return nil, srcpkg.New(srcpkg.KindSource, "no source fetcher configured for %s", c.Meta.FullName())
	}
	if err := c.Fetch.Fetch(ctx, c); err != nil {
		return nil, srcpkg.Wrap(srcpkg.KindSource, err, "fetch source for %s", c.Meta.FullName())
	}

	if err := applyPatches(ctx, c); err != nil {
		return nil, srcpkg.Wrap(srcpkg.KindBuild, err, "apply patches for %s", c.Meta.FullName())
	}

	if err := dispatch(ctx, c); err != nil {
		return nil, srcpkg.Wrap(srcpkg.KindBuild, err, "build %s", c.Meta.FullName())
	}

	empty, err := destDirEmpty(c.DestDir)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, srcpkg.New(srcpkg.KindBuild, "build of %s produced an empty DESTDIR", c.Meta.FullName())
	}

	m, err := manifest.Build(ctx, c.DestDir)
	if err != nil {
		return nil, srcpkg.Wrap(srcpkg.KindBuild, err, "build manifest for %s", c.Meta.FullName())
	}
	if err := manifest.Save(paths.Manifest, m); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(c.Cfg.BinDir(), 0o755); err != nil {
		return nil, err
	}
	if err := packageArtifact(ctx, c, paths.Artifact); err != nil {
		return nil, err
	}
	if err := paths.RefreshLatest(); err != nil {
		return nil, err
	}

	return &Result{Paths: paths, Manifest: m}, nil
}

func packageArtifact(ctx context.Context, c *Ctx, artifactPath string) error {
	tmp := artifactPath + ".tmp.srcpkg"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := archive.WriteTarZst(ctx, f, c.DestDir); err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("package artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, artifactPath)
}

func destDirEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

func applyPatches(ctx context.Context, c *Ctx) error {
	patchDir := filepath.Join(c.PkgDir, "patches")
	entries, err := os.ReadDir(patchDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".patch" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		patchPath := filepath.Join(patchDir, name)
		f, err := os.Open(patchPath)
		if err != nil {
			return err
		}
		err = runStep(ctx, c, c.SrcDir, nil, f, "patch", "-p1")
		f.Close()
		if err != nil {
			return xerrors.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// env constructs the variable set every backend substitutes and inherits:
// PREFIX/DESTDIR/MAKEFLAGS/PKG_CONFIG_PATH plus whatever os.Environ()
// already carries, mirroring env()/runtimeEnv() in the teacher's build
// package. PKG_CONFIG_PATH points at prefix's own pkgconfig directories so a
// configure/cmake/meson step can find a sibling package's .pc file, matching
// _env_base() in the original prototype.
func (c *Ctx) env() []string {
	e := append([]string(nil), os.Environ()...)
	e = append(e,
		"PREFIX="+c.Cfg.Prefix,
		"DESTDIR="+c.DestDir,
		"MAKEFLAGS=-j"+strconv.Itoa(c.Cfg.Jobs),
		"PKG_CONFIG_PATH="+filepath.Join(c.Cfg.Prefix, "lib/pkgconfig")+":"+filepath.Join(c.Cfg.Prefix, "share/pkgconfig"),
	)
	return e
}

func runStep(ctx context.Context, c *Ctx, dir string, extraEnv []string, stdin io.Reader, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(c.env(), extraEnv...)
	cmd.Stdin = stdin
	if c.Log != nil {
		fmt.Fprintf(c.Log, "+ %s %v\n", name, args)
		cmd.Stdout = c.Log
		cmd.Stderr = c.Log
	}
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

func dispatch(ctx context.Context, c *Ctx) error {
	switch c.Meta.Build.System {
	case "autotools":
		return buildAutotools(ctx, c)
	case "cmake":
		return buildCMake(ctx, c)
	case "make":
		return buildMake(ctx, c)
	case "meson":
		return buildMeson(ctx, c)
	case "cargo":
		return buildCargo(ctx, c)
	case "go":
		return buildGo(ctx, c)
	case "python":
		return buildPython(ctx, c)
	case "custom":
		return buildCustom(ctx, c)
	default:
		return srcpkg.New(srcpkg.KindBuild, "unknown build system %q", c.Meta.Build.System)
	}
}
