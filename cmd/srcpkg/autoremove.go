package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/lock"
	"github.com/srcpkg/srcpkg/internal/ops"
)

const autoremoveHelp = `srcpkg autoremove [-flags]

Remove every installed package that isn't explicitly installed and isn't
required, directly or transitively, by one that is.
`

func cmdAutoremove(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("autoremove", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, autoremoveHelp)
	fset.Parse(args)

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

	removed, err := ops.Autoremove(database, *g.root, *g.dryRun)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Println("nothing to autoremove")
		return nil
	}
	verb := "removed"
	if *g.dryRun {
		verb = "would remove"
	}
	for _, full := range removed {
		fmt.Printf("%s: %s\n", verb, full)
	}
	if *g.dryRun {
		return nil
	}
	return db.Save(cfg.DBPath(), database)
}
