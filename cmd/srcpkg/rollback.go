package main

import (
	"context"
	"flag"

	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/lock"
	"github.com/srcpkg/srcpkg/internal/ops"
)

const rollbackHelp = `srcpkg rollback [-flags] <category/name>

Revert <category/name> to the version it was at before its most recent
install, using the binary cache; the version being replaced is itself
pushed onto the rollback history.
`

func cmdRollback(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("rollback", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, rollbackHelp)
	fset.Parse(args)

	full, err := requireArg(fset, "rollback")
	if err != nil {
		return err
	}

	cfg := g.config()
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	unlock, err := lock.Acquire(cfg.DBLockPath())
	if err != nil {
		return err
	}
	defer unlock()

	database, err := db.Load(cfg.DBPath())
	if err != nil {
		return err
	}
	if err := ops.Rollback(ctx, cfg, database, full, *g.root, *g.dryRun); err != nil {
		return err
	}
	if *g.dryRun {
		return nil
	}
	return db.Save(cfg.DBPath(), database)
}
