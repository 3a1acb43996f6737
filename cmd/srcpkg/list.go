package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/srcpkg/srcpkg/internal/db"
)

const listHelp = `srcpkg list [-flags]

List every installed package and its version.
`

func cmdList(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("list", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, listHelp)
	fset.Parse(args)

	cfg := g.config()
	database, err := db.Load(cfg.DBPath())
	if err != nil {
		return err
	}
	names := database.SortedInstalled()
	if len(names) == 0 {
		fmt.Println("(none installed)")
		return nil
	}
	for _, full := range names {
		rec := database.Installed[full]
		explicit := ""
		if rec.Explicit {
			explicit = " (explicit)"
		}
		fmt.Printf("%s %s%s\n", full, rec.Version, explicit)
	}
	return nil
}
