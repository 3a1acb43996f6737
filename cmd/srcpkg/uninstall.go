package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/lock"
	"github.com/srcpkg/srcpkg/internal/uninstall"
)

const uninstallHelp = `srcpkg uninstall [-flags] <category/name>

Remove an installed package's files and drop it from the database. Files
whose content has diverged from the recorded manifest are left in place
and reported rather than deleted.
`

func cmdUninstall(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("uninstall", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, uninstallHelp)
	fset.Parse(args)

	full, err := requireArg(fset, "uninstall")
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

	report, err := uninstall.Uninstall(full, *g.root, database, *g.dryRun)
	if err != nil {
		return err
	}
	for _, kept := range report.KeptModified {
		fmt.Printf("kept (modified): %s\n", kept)
	}
	if *g.dryRun {
		for _, rel := range report.Removed {
			fmt.Printf("would remove: %s\n", rel)
		}
		return nil
	}
	return db.Save(cfg.DBPath(), database)
}
