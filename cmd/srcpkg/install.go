package main

import (
	"context"
	"flag"

	"github.com/srcpkg/srcpkg/internal/pipeline"
)

const installHelp = `srcpkg install [-flags] <category/name>

Resolve, build, and install <category/name> and its transitive
dependencies. <category/name> is recorded as explicitly installed;
dependencies pulled in along with it are not, unless already explicit.
`

func cmdInstall(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("install", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, installHelp)
	fset.Parse(args)

	full, err := requireArg(fset, "install")
	if err != nil {
		return err
	}
	opts := pipeline.Options{
		Force:     *g.force,
		KeepPerms: *g.keepPerms,
		NoStaging: *g.noStaging,
		DryRun:    *g.dryRun,
		Root:      *g.root,
	}
	return pipeline.ResolveAndInstall(ctx, g.config(), full, opts)
}
