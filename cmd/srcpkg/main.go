// Command srcpkg builds, installs, and maintains packages from declarative
// recipes. See the per-verb help text (srcpkg <verb> -h) for usage.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/srcpkg/srcpkg"
)

const rootHelp = `srcpkg <command> [-flags] <args>

Commands:
  b, build          resolve and build a package (and its dependencies)
  i, install        resolve, build, and install a package
  rb, rebuild-all    rebuild and reinstall every installed package
  upgrade           rebuild and reinstall packages whose recipe version changed
  rollback          revert a package to its previous installed version
  uninstall         remove an installed package
  autoremove        remove packages that are no longer required
  l, list           list installed packages
  verify            check installed files against their manifests
  doctor            check the database and binary cache for inconsistencies
  sync              update the recipe tree (git pull --rebase, optionally --push)

Run 'srcpkg <command> -h' for command-specific flags.
`

type cmd func(ctx context.Context, args []string) error

var verbs = map[string]cmd{
	"b":           cmdBuild,
	"build":       cmdBuild,
	"i":           cmdInstall,
	"install":     cmdInstall,
	"rb":          cmdRebuildAll,
	"rebuild-all": cmdRebuildAll,
	"upgrade":     cmdUpgrade,
	"rollback":    cmdRollback,
	"uninstall":   cmdUninstall,
	"autoremove":  cmdAutoremove,
	"l":           cmdList,
	"list":        cmdList,
	"verify":      cmdVerify,
	"doctor":      cmdDoctor,
	"sync":        cmdSync,
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, rootHelp)
		return 2
	}

	verb := os.Args[1]
	fn, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "srcpkg: unknown command %q\n\n", verb)
		fmt.Fprint(os.Stderr, rootHelp)
		return 2
	}

	ctx, canc := srcpkg.InterruptibleContext()
	defer canc()

	if err := fn(ctx, os.Args[2:]); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "srcpkg: interrupted")
			return 130
		}
		fmt.Fprintf(os.Stderr, "srcpkg: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags holds the flags every verb that touches the content store
// accepts, per spec.md §6.
type globalFlags struct {
	tree      *string
	prefix    *string
	jobs      *int
	dryRun    *bool
	verbose   *bool
	force     *bool
	noStaging *bool
	keepPerms *bool
	root      *string
}

func addGlobalFlags(fset *flag.FlagSet) globalFlags {
	return globalFlags{
		tree:      fset.String("tree", "", "recipe tree root (default $SRCPKG_TREE or $PWD/packages)"),
		prefix:    fset.String("prefix", "", "installation prefix (default $SRCPKG_PREFIX or /usr/local)"),
		jobs:      fset.Int("j", 0, "build parallelism (default $SRCPKG_JOBS or 1)"),
		dryRun:    fset.Bool("dry-run", false, "report what would happen without changing anything"),
		verbose:   fset.Bool("v", false, "verbose output"),
		force:     fset.Bool("force", false, "overwrite existing files that no package owns"),
		noStaging: fset.Bool("no-staging", false, "extract directly to root instead of staging first (discouraged)"),
		keepPerms: fset.Bool("keep-perms", false, "preserve archived file modes instead of normalizing them"),
		root:      fset.String("root", "/", "filesystem root to install into"),
	}
}

func (g globalFlags) config() *srcpkg.Config {
	cfg := srcpkg.DefaultConfig()
	if *g.tree != "" {
		cfg.Tree = *g.tree
	}
	if *g.prefix != "" {
		cfg.Prefix = *g.prefix
	}
	if *g.jobs > 0 {
		cfg.Jobs = *g.jobs
	}
	return cfg
}

func requireArg(fset *flag.FlagSet, name string) (string, error) {
	if fset.NArg() != 1 {
		fset.Usage()
		return "", xerrors.Errorf("%s: expected exactly one argument", name)
	}
	return fset.Arg(0), nil
}
