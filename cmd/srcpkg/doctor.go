package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/ops"
)

const doctorHelp = `srcpkg doctor [-flags]

Check the database and binary cache for inconsistencies: missing
artifacts, empty manifests, dangling ownership entries, and rollback
history whose artifact has disappeared.
`

func cmdDoctor(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("doctor", flag.ExitOnError)
	g := addGlobalFlags(fset)
	fset.Usage = usage(fset, doctorHelp)
	fset.Parse(args)

	cfg := g.config()
	database, err := db.Load(cfg.DBPath())
	if err != nil {
		return err
	}
	problems, err := ops.Doctor(cfg, database)
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		fmt.Println("ok")
		return nil
	}
	for _, p := range problems {
		if p.Path != "" {
			fmt.Printf("%s: %s: %s\n", p.Package, p.Path, p.Issue)
		} else {
			fmt.Printf("%s: %s\n", p.Package, p.Issue)
		}
	}
	return fmt.Errorf("doctor: %d problem(s) found", len(problems))
}
