package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/srcpkg/srcpkg/internal/pipeline"
)

const rebuildAllHelp = `srcpkg rebuild-all [-flags]

Rebuild every installed package from its recipe, in dependency order, and
reinstall each as it completes.
`

func cmdRebuildAll(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("rebuild-all", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, rebuildAllHelp)
	fset.Parse(args)

	opts := pipeline.Options{
		KeepPerms: *g.keepPerms,
		NoStaging: *g.noStaging,
		DryRun:    *g.dryRun,
		Root:      *g.root,
	}
	return pipeline.RebuildAll(ctx, g.config(), opts)
}

const upgradeHelp = `srcpkg upgrade [-flags]

Rebuild and reinstall only the installed packages whose recipe version no
longer matches the installed version.
`

func cmdUpgrade(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("upgrade", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, upgradeHelp)
	fset.Parse(args)

	opts := pipeline.Options{
		KeepPerms: *g.keepPerms,
		NoStaging: *g.noStaging,
		DryRun:    *g.dryRun,
		Root:      *g.root,
	}
	upgraded, err := pipeline.UpgradeChanged(ctx, g.config(), opts)
	if err != nil {
		return err
	}
	if len(upgraded) == 0 {
		fmt.Println("nothing to upgrade")
		return nil
	}
	for _, full := range upgraded {
		fmt.Println(full)
	}
	return nil
}
