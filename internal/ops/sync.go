package ops

import (
	"context"
	"os/exec"

	"golang.org/x/xerrors"
)

// Sync updates the recipe tree in place via `git pull --rebase`, optionally
// pushing afterward, matching sync_git() in the original prototype. The
// tree is expected to already be a git checkout; srcpkg never clones it.
func Sync(ctx context.Context, tree string, push bool) error {
	pull := exec.CommandContext(ctx, "git", "pull", "--rebase")
	pull.Dir = tree
	if out, err := pull.CombinedOutput(); err != nil {
		return xerrors.Errorf("git pull --rebase: %w: %s", err, out)
	}
	if !push {
		return nil
	}
	pushCmd := exec.CommandContext(ctx, "git", "push")
	pushCmd.Dir = tree
	if out, err := pushCmd.CombinedOutput(); err != nil {
		return xerrors.Errorf("git push: %w: %s", err, out)
	}
	return nil
}
