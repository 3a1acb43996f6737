// Package pipeline wires the recipe loader, dependency resolver, build
// runner, and installer together into the handful of multi-package
// operations the CLI exposes directly: build, install, rebuild-all, and
// upgrade-changed. Each follows the corresponding orchestration function in
// the original prototype (resolve_and_build, resolve_and_install,
// rebuild_all, upgrade_changed).
package pipeline

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/srcpkg/srcpkg"
	"github.com/srcpkg/srcpkg/internal/build"
	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/depgraph"
	"github.com/srcpkg/srcpkg/internal/install"
	"github.com/srcpkg/srcpkg/internal/lock"
	"github.com/srcpkg/srcpkg/internal/recipe"
)

// Options carries the CLI's global flags into the pipeline.
type Options struct {
	Force     bool
	KeepPerms bool
	NoStaging bool
	DryRun    bool
	Root      string
}

func openLog(cfg *srcpkg.Config, id string) (*os.File, error) {
	if err := os.MkdirAll(cfg.LogDir(), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(cfg.LogDir(), id+".log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

// buildOne builds a single resolved package, holding its per-id build lock
// for the duration, matching build_package()'s locking in the original
// prototype.
func buildOne(ctx context.Context, cfg *srcpkg.Config, m recipe.Meta, pkgDir string) (*build.Result, error) {
	id := m.ID()
	if err := os.MkdirAll(cfg.LocksDir(), 0o755); err != nil {
		return nil, err
	}
	unlock, err := lock.Acquire(filepath.Join(cfg.LocksDir(), id+".lock"))
	if err != nil {
		return nil, err
	}
	defer unlock()

	logFile, err := openLog(cfg, id)
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	bctx := build.NewCtx(cfg, m, pkgDir, &build.DefaultFetcher{}, logFile)
	return build.Build(ctx, bctx)
}

// ResolveAndBuild builds root and every package it transitively depends on.
// Packages are grouped into dependency levels (depgraph.Levels); every
// package within a level only depends on earlier levels, so a level's
// packages are built concurrently, bounded by cfg.Jobs-many at a time, and
// the next level starts only once the current one finishes. This is the
// same level-by-level parallel scheduling the teacher's batch package built
// around a gonum directed graph, adapted here from whole-tree rebuilds to a
// single root's dependency closure.
func ResolveAndBuild(ctx context.Context, cfg *srcpkg.Config, root string) error {
	g, order, err := depgraph.ResolveAndOrder(ctx, cfg.Tree, []string{root})
	if err != nil {
		return err
	}
	levels, err := g.Levels(order)
	if err != nil {
		return err
	}

	workers := cfg.Jobs
	if workers < 1 {
		workers = 1
	}

	for _, batch := range levels {
		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(workers)
		for _, full := range batch {
			full := full
			eg.Go(func() error {
				m := g.Metas[full]
				_, pkgDir, err := recipe.Load(cfg.Tree, full)
				if err != nil {
					return err
				}
				if _, err := buildOne(egctx, cfg, m, pkgDir); err != nil {
					return xerrors.Errorf("build %s: %w", full, err)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// ResolveAndInstall builds (as needed) and installs rootFull plus its full
// transitive dependency set, in dependency order. Only rootFull is marked
// explicit; everything else is recorded as a dependency pull-in, unless it
// was already explicit.
func ResolveAndInstall(ctx context.Context, cfg *srcpkg.Config, rootFull string, opts Options) error {
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	unlockDB, err := lock.Acquire(cfg.DBLockPath())
	if err != nil {
		return err
	}
	defer unlockDB()

	database, err := db.Load(cfg.DBPath())
	if err != nil {
		return err
	}

	g, order, err := depgraph.ResolveAndOrder(ctx, cfg.Tree, []string{rootFull})
	if err != nil {
		return err
	}

	for _, full := range order {
		m := g.Metas[full]
		_, pkgDir, err := recipe.Load(cfg.Tree, full)
		if err != nil {
			return err
		}
		res, err := buildOne(ctx, cfg, m, pkgDir)
		if err != nil {
			return xerrors.Errorf("build %s: %w", full, err)
		}

		iopts := install.Opts{
			Force:        opts.Force,
			Explicit:     full == rootFull,
			KeepPerms:    opts.KeepPerms,
			NoStaging:    opts.NoStaging,
			DryRun:       opts.DryRun,
			Root:         opts.Root,
			HistoryDepth: cfg.HistoryDepth,
		}
		report, err := install.Install(ctx, full, m.Version, m.ID(), res.Paths.Artifact, m.Depends, res.Manifest, database, iopts)
		if err != nil {
			return xerrors.Errorf("install %s: %w", full, err)
		}
		if opts.DryRun {
			log.Printf("would install %s: %d paths", full, len(report.Installed))
			continue
		}

		if err := db.Save(cfg.DBPath(), database); err != nil {
			return err
		}
	}
	return nil
}

// RebuildAll rebuilds every currently installed package from its recipe, in
// dependency order, reinstalling each as it completes.
func RebuildAll(ctx context.Context, cfg *srcpkg.Config, opts Options) error {
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	unlockDB, err := lock.Acquire(cfg.DBLockPath())
	if err != nil {
		return err
	}
	defer unlockDB()

	database, err := db.Load(cfg.DBPath())
	if err != nil {
		return err
	}
	if len(database.Installed) == 0 {
		return nil
	}

	roots := database.SortedInstalled()
	g, err := depgraph.Resolve(ctx, cfg.Tree, roots)
	if err != nil {
		return err
	}
	order, err := g.TopoSort(roots)
	if err != nil {
		return err
	}

	for _, full := range order {
		m := g.Metas[full]
		if _, installed := database.Installed[full]; !installed {
			continue // pulled in only as a dependency of an installed package, not itself installed
		}
		_, pkgDir, err := recipe.Load(cfg.Tree, full)
		if err != nil {
			return err
		}
		res, err := buildOne(ctx, cfg, m, pkgDir)
		if err != nil {
			return xerrors.Errorf("rebuild %s: %w", full, err)
		}

		wasExplicit := database.Installed[full].Explicit
		iopts := install.Opts{
			Force:        true,
			Explicit:     wasExplicit,
			KeepPerms:    opts.KeepPerms,
			NoStaging:    opts.NoStaging,
			DryRun:       opts.DryRun,
			Root:         opts.Root,
			HistoryDepth: cfg.HistoryDepth,
		}
		report, err := install.Install(ctx, full, m.Version, m.ID(), res.Paths.Artifact, m.Depends, res.Manifest, database, iopts)
		if err != nil {
			return xerrors.Errorf("reinstall %s: %w", full, err)
		}
		if opts.DryRun {
			log.Printf("would reinstall %s: %d paths", full, len(report.Installed))
			continue
		}
		if err := db.Save(cfg.DBPath(), database); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeChanged rebuilds and reinstalls only the installed packages whose
// recipe version no longer matches the installed version.
func UpgradeChanged(ctx context.Context, cfg *srcpkg.Config, opts Options) ([]string, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	unlockDB, err := lock.Acquire(cfg.DBLockPath())
	if err != nil {
		return nil, err
	}
	defer unlockDB()

	database, err := db.Load(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if len(database.Installed) == 0 {
		return nil, nil
	}

	var changed []string
	for full, rec := range database.Installed {
		m, _, err := recipe.Load(cfg.Tree, full)
		if err != nil {
			return nil, err
		}
		if m.Version != rec.Version {
			changed = append(changed, full)
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}

	g, err := depgraph.Resolve(ctx, cfg.Tree, changed)
	if err != nil {
		return nil, err
	}
	order, err := g.TopoSort(changed)
	if err != nil {
		return nil, err
	}

	changedSet := map[string]bool{}
	for _, c := range changed {
		changedSet[c] = true
	}

	var upgraded []string
	for _, full := range order {
		if !changedSet[full] {
			continue
		}
		m := g.Metas[full]
		_, pkgDir, err := recipe.Load(cfg.Tree, full)
		if err != nil {
			return upgraded, err
		}
		res, err := buildOne(ctx, cfg, m, pkgDir)
		if err != nil {
			return upgraded, xerrors.Errorf("upgrade %s: %w", full, err)
		}
		wasExplicit := database.Installed[full].Explicit
		iopts := install.Opts{
			Force:        true,
			Explicit:     wasExplicit,
			KeepPerms:    opts.KeepPerms,
			NoStaging:    opts.NoStaging,
			DryRun:       opts.DryRun,
			Root:         opts.Root,
			HistoryDepth: cfg.HistoryDepth,
		}
		report, err := install.Install(ctx, full, m.Version, m.ID(), res.Paths.Artifact, m.Depends, res.Manifest, database, iopts)
		if err != nil {
			return upgraded, xerrors.Errorf("reinstall %s: %w", full, err)
		}
		if opts.DryRun {
			log.Printf("would upgrade %s: %d paths", full, len(report.Installed))
			upgraded = append(upgraded, full)
			continue
		}
		if err := db.Save(cfg.DBPath(), database); err != nil {
			return upgraded, err
		}
		upgraded = append(upgraded, full)
	}
	return upgraded, nil
}

