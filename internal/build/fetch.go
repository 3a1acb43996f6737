package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/srcpkg/srcpkg"
	"github.com/srcpkg/srcpkg/internal/archive"
	"github.com/srcpkg/srcpkg/internal/recipe"
	"github.com/srcpkg/srcpkg/internal/store"
)

// sourceFetchTimeout bounds HTTPS source downloads (spec.md §5: "60s on
// HTTPS source downloads; no timeouts on builds"). Builds and git clones
// are driven by the caller's context instead.
const sourceFetchTimeout = 60 * time.Second

// DefaultFetcher is the stock SourceFetcher: tarballs are downloaded over
// file:// or http(s):// (grounded on the teacher's internal/repo.Reader
// dispatch) and verified against the recipe's sha256 before extraction;
// git sources are cloned or updated into a persistent VCSDir checkout, per
// download_source()/resolve_ref() in the original prototype. A checkout is
// pinned to a commit only when the caller sets LockedCommit; no lockfile is
// read or written here.
type DefaultFetcher struct {
	HTTPClient *http.Client
	// LockedCommit, if non-empty, pins a git checkout to this commit
	// regardless of the recipe's tag/branch, reproducing a prior build.
	LockedCommit string
}

func (f *DefaultFetcher) client() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return &http.Client{Timeout: sourceFetchTimeout}
}

func (f *DefaultFetcher) Fetch(ctx context.Context, c *Ctx) error {
	switch c.Meta.Source.Kind {
	case recipe.SourceTar:
		return f.fetchTar(ctx, c)
	case recipe.SourceGit:
		return f.fetchGit(ctx, c)
	default:
		return srcpkg.New(srcpkg.KindSource, "unknown source kind for %s", c.Meta.FullName())
	}
}

func (f *DefaultFetcher) fetchTar(ctx context.Context, c *Ctx) error {
	src := c.Meta.Source
	cacheDir := c.Cfg.SrcDir()
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}
	cachePath := filepath.Join(cacheDir, store.SrcCacheKey(src.SHA256))

	if _, err := os.Stat(cachePath); err != nil {
		if err := f.download(ctx, src.URL, cachePath); err != nil {
			return err
		}
	}
	if err := verifySHA256(cachePath, src.SHA256); err != nil {
		os.Remove(cachePath)
		return err
	}

	names, err := tarEntryNames(cachePath)
	if err != nil {
		return err
	}
	top := archive.SingleTopDir(names)

	tf, err := os.Open(cachePath)
	if err != nil {
		return err
	}
	defer tf.Close()

	if top != "" {
		// Extract into a scratch dir, then hoist the single top directory's
		// contents up into SrcDir, stripping it.
		scratch := c.SrcDir + ".extract"
		os.RemoveAll(scratch)
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return err
		}
		defer os.RemoveAll(scratch)
		if err := archive.ExtractTar(ctx, tf, scratch, archive.ExtractOpts{NoSameOwner: true}); err != nil {
			return err
		}
		return moveContents(filepath.Join(scratch, top), c.SrcDir)
	}

	return archive.ExtractTar(ctx, tf, c.SrcDir, archive.ExtractOpts{NoSameOwner: true})
}

func (f *DefaultFetcher) download(ctx context.Context, url, dest string) error {
	if strings.HasPrefix(url, "file://") {
		src, err := os.Open(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return xerrors.Errorf("open source %s: %w", url, err)
		}
		defer src.Close()
		return writeAtomic(dest, src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return xerrors.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return srcpkg.New(srcpkg.KindSource, "fetch %s: unexpected status %s", url, resp.Status)
	}
	return writeAtomic(dest, resp.Body)
}

func writeAtomic(dest string, r io.Reader) error {
	tmp := dest + ".tmp.srcpkg"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

func verifySHA256(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return srcpkg.New(srcpkg.KindSource, "sha256 mismatch for %s: want %s, got %s", path, want, got)
	}
	return nil
}

func tarEntryNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return archive.TarEntryNames(f)
}

func moveContents(fromDir, toDir string) error {
	if err := os.MkdirAll(toDir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(fromDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(fromDir, e.Name()), filepath.Join(toDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (f *DefaultFetcher) fetchGit(ctx context.Context, c *Ctx) error {
	ref := c.Meta.Source.Git
	if f.LockedCommit != "" {
		ref.Commit = f.LockedCommit
		ref.Tag, ref.Branch = "", ""
	}

	vcsDir := store.VCSCacheDir(c.Cfg.VCSDir(), ref.Repo, ref.RefLabel())
	if _, err := os.Stat(filepath.Join(vcsDir, ".git")); err != nil {
		if err := os.MkdirAll(filepath.Dir(vcsDir), 0o755); err != nil {
			return err
		}
		args := []string{"clone"}
		if ref.Shallow && ref.Commit == "" {
			args = append(args, "--depth", "1")
		}
		if ref.Submodules {
			args = append(args, "--recurse-submodules")
		}
		args = append(args, ref.Repo, vcsDir)
		if err := gitRun(ctx, c, "", args...); err != nil {
			return xerrors.Errorf("clone %s: %w", ref.Repo, err)
		}
	} else {
		if err := gitRun(ctx, c, vcsDir, "fetch", "--all", "--tags"); err != nil {
			return xerrors.Errorf("fetch %s: %w", ref.Repo, err)
		}
	}

	if err := gitRun(ctx, c, vcsDir, "checkout", ref.ResolvedRef()); err != nil {
		return xerrors.Errorf("checkout %s@%s: %w", ref.Repo, ref.ResolvedRef(), err)
	}
	if ref.Submodules {
		if err := gitRun(ctx, c, vcsDir, "submodule", "update", "--init", "--recursive"); err != nil {
			return err
		}
	}

	// Copy the checkout into SrcDir rather than building in place, so the
	// persistent VCS cache survives a failed or re-run build.
	os.RemoveAll(c.SrcDir)
	return copyTreeExceptGit(vcsDir, c.SrcDir)
}

func gitRun(ctx context.Context, c *Ctx, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = c.env()
	if c.Log != nil {
		cmd.Stdout = c.Log
		cmd.Stderr = c.Log
	}
	return cmd.Run()
}

func copyTreeExceptGit(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		if strings.HasPrefix(rel, ".git") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		return writeAtomic(target, in)
	})
}
