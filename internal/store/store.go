// Package store implements the content-addressed artifact cache (spec.md
// §4.1): path layout for built packages, their manifests, and the "latest"
// symlink that names the newest artifact for a package's id prefix.
package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/srcpkg/srcpkg"
)

// Paths is the set of filesystem locations a built artifact occupies.
type Paths struct {
	Artifact string // <binHome>/<id>-<version>.tar.zst
	Manifest string // <binHome>/<id>-<version>.manifest.json
	Latest   string // <binHome>/<id>.tar.zst -> Artifact's basename
}

// ArtifactPaths returns the Paths for a package id/version pair under
// binDir (Config.BinDir()).
func ArtifactPaths(binDir, id, version string) Paths {
	base := id + "-" + version
	return Paths{
		Artifact: filepath.Join(binDir, base+".tar.zst"),
		Manifest: filepath.Join(binDir, base+".manifest.json"),
		Latest:   filepath.Join(binDir, id+".tar.zst"),
	}
}

// Exists reports whether both the artifact and its manifest are present,
// the cache-hit condition build_package() checks in the original prototype
// before deciding to rebuild.
func (p Paths) Exists() bool {
	if _, err := os.Stat(p.Artifact); err != nil {
		return false
	}
	if _, err := os.Stat(p.Manifest); err != nil {
		return false
	}
	return true
}

// RefreshLatest atomically repoints the <id>.tar.zst symlink at this
// artifact's basename.
func (p Paths) RefreshLatest() error {
	tmp := p.Latest + ".tmp.srcpkg"
	os.Remove(tmp)
	if err := os.Symlink(filepath.Base(p.Artifact), tmp); err != nil {
		return xerrors.Errorf("symlink %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p.Latest); err != nil {
		return xerrors.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// ResolveLatest returns the artifact path the <id>.tar.zst symlink
// currently points at.
func ResolveLatest(binDir, id string) (string, error) {
	latest := filepath.Join(binDir, id+".tar.zst")
	target, err := os.Readlink(latest)
	if err != nil {
		return "", srcpkg.Wrap(srcpkg.KindNotFound, err, "no cached artifact for %s", id)
	}
	return filepath.Join(binDir, target), nil
}

// FallbackArtifact constructs the conventional "<binDir>/<id>-<version>.tar.zst"
// path directly, used by rollback when an artifact must be located by id and
// version alone because the history record's stored path is gone (spec.md §4.9, mirroring
// rollback()'s BIN_CACHE fallback in the original prototype).
func FallbackArtifact(binDir, id, version string) string {
	return filepath.Join(binDir, id+"-"+version+".tar.zst")
}

// SrcCacheKey names the cache entry for a downloaded tarball by its
// lowercased sha256 alone; the package id and the URL's basename are not
// part of the name.
func SrcCacheKey(sha256 string) string {
	return strings.ToLower(sha256) + ".tar"
}

// VCSCacheDir names the persistent git checkout directory for a repo+ref
// pair under Config.VCSDir(), keyed by a sanitized repo name and the ref's
// label so distinct refs of the same repo don't collide.
func VCSCacheDir(vcsDir, repo, refLabel string) string {
	return filepath.Join(vcsDir, sanitizeRepo(repo), refLabel)
}

func sanitizeRepo(repo string) string {
	var b strings.Builder
	for _, r := range repo {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// AtomicWriteFile writes data to path atomically using renameio, the same
// pattern used throughout the installer and database layers.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
