package main

import (
	"context"
	"flag"

	"github.com/srcpkg/srcpkg/internal/ops"
)

const syncHelp = `srcpkg sync [-flags]

Update the recipe tree with 'git pull --rebase'. With -push, also run
'git push' afterward.
`

func cmdSync(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("sync", flag.ExitOnError)
	g := addGlobalFlags(fset)
	push := fset.Bool("push", false, "push local commits after pulling")
	fset.Usage = usage(fset, syncHelp)
	fset.Parse(args)

	return ops.Sync(ctx, g.config().Tree, *push)
}
