package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/ops"
)

const verifyHelp = `srcpkg verify [-flags] [category/name]

Check installed files against their recorded manifest entries: existence,
type, and content hash (or symlink target). Checks every installed package
if none is named.
`

func cmdVerify(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("verify", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, verifyHelp)
	fset.Parse(args)

	var full string
	if fset.NArg() == 1 {
		full = fset.Arg(0)
	} else if fset.NArg() > 1 {
		fset.Usage()
		return fmt.Errorf("verify: expected at most one argument")
	}

	cfg := g.config()
	database, err := db.Load(cfg.DBPath())
	if err != nil {
		return err
	}
	problems, err := ops.Verify(database, *g.root, full)
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		fmt.Println("ok")
		return nil
	}
	for _, p := range problems {
		fmt.Printf("%s: %s: %s\n", p.Package, p.Path, p.Issue)
	}
	return fmt.Errorf("verify: %d problem(s) found", len(problems))
}
