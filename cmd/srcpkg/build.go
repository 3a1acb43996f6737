package main

import (
	"context"
	"flag"

	"github.com/srcpkg/srcpkg/internal/pipeline"
)

const buildHelp = `srcpkg build [-flags] <category/name>

Resolve <category/name>'s transitive dependencies, build any of them whose
artifact isn't already cached, and leave the results in the binary cache.
Does not install anything.
`

func cmdBuild(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("build", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, buildHelp)
	fset.Parse(args)

	full, err := requireArg(fset, "build")
	if err != nil {
		return err
	}
	return pipeline.ResolveAndBuild(ctx, g.config(), full)
}
