// Package archive implements the safe tar extractor (spec.md §4.3) and the
// tar+zstd artifact codec used to package and unpack build outputs.
package archive

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"
)

// ExtractOpts controls ExtractTar's behavior.
type ExtractOpts struct {
	// NoSameOwner is set for artifact unpacking (spec.md §4.7: installs never
	// run as root-owned). ExtractTar never applies the archive's uid/gid,
	// whether or not this is set.
	NoSameOwner bool
	// NoSamePermissions discards the archived file mode, applying 0o644/0o755
	// instead, unless the caller asked to keep permissions (--keep-perms).
	NoSamePermissions bool
}

// ExtractTar extracts the tar stream r into destDir, rejecting any entry
// that would escape destDir: path-traversal names, and symlink/hardlink
// targets that are absolute or resolve outside destDir. This mirrors
// extract_source()'s safety checks in the original prototype exactly; it is
// the one piece of the pipeline that touches attacker-controlled tar data
// directly, for both fetched sources and unpacked artifacts.
func ExtractTar(ctx context.Context, r io.Reader, destDir string, opts ExtractOpts) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("tar: %w", err)
		}

		rel := filepath.Clean(hdr.Name)
		if isUnsafeRel(rel) {
			return xerrors.Errorf("unsafe path in archive: %s", hdr.Name)
		}
		target := filepath.Join(destDir, rel)
		if !withinRoot(destDir, target) {
			return xerrors.Errorf("archive entry escapes root: %s", hdr.Name)
		}

		mode := os.FileMode(hdr.Mode).Perm()
		if opts.NoSamePermissions {
			if hdr.Typeflag == tar.TypeDir {
				mode = 0o755
			} else {
				mode = 0o644
				if hdr.Mode&0o111 != 0 {
					mode = 0o755
				}
			}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			if err := os.Chmod(target, mode); err != nil {
				return err
			}

		case tar.TypeReg, tar.TypeRegA:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeRegular(tr, target, mode); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if isUnsafeLinkTarget(hdr.Linkname, rel) {
				return xerrors.Errorf("unsafe symlink target in archive: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}

		case tar.TypeLink:
			if isUnsafeLinkTarget(hdr.Linkname, rel) {
				return xerrors.Errorf("unsafe hardlink target in archive: %s -> %s", hdr.Name, hdr.Linkname)
			}
			linkTarget := filepath.Join(destDir, filepath.Clean(hdr.Linkname))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				return err
			}

		default:
			// Character/block devices, FIFOs, etc. are silently skipped:
			// build outputs never legitimately contain them.
		}
	}
}

func writeRegular(r io.Reader, target string, mode os.FileMode) error {
	os.Remove(target)
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func isUnsafeRel(rel string) bool {
	if rel == "." {
		return false
	}
	if filepath.IsAbs(rel) {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	return false
}

func isUnsafeLinkTarget(linkname, entryRel string) bool {
	if filepath.IsAbs(linkname) {
		return true
	}
	// Resolve the link relative to the directory the entry lives in, the
	// same way the kernel would when following it.
	joined := filepath.Join(filepath.Dir(entryRel), linkname)
	joined = filepath.Clean(joined)
	if joined == ".." || strings.HasPrefix(joined, ".."+string(filepath.Separator)) {
		return true
	}
	return false
}

func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// TarEntryNames lists every entry name in the (uncompressed) tar stream r,
// without extracting anything, for use by SingleTopDir.
func TarEntryNames(r io.Reader) ([]string, error) {
	tr := tar.NewReader(r)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, xerrors.Errorf("tar: %w", err)
		}
		names = append(names, hdr.Name)
	}
}

// SingleTopDir returns the sole top-level directory name shared by every
// path in names, or "" if there isn't exactly one (spec.md §4.3: a tarball
// that unpacks to a single top directory has that directory stripped;
// otherwise the whole tree is wrapped under src/).
func SingleTopDir(names []string) string {
	top, isDir := "", false
	for _, n := range names {
		raw := filepath.ToSlash(n)
		n = filepath.ToSlash(filepath.Clean(n))
		if n == "." {
			continue
		}
		parts := strings.SplitN(n, "/", 2)
		first := parts[0]
		if len(parts) == 2 || strings.HasSuffix(raw, "/") {
			isDir = true
		}
		if top == "" {
			top = first
		} else if top != first {
			return ""
		}
	}
	if !isDir {
		return ""
	}
	return top
}

// WriteTarZst packages srcDir's contents into a zstd-compressed tar stream,
// written deterministically (entries sorted by path) so that identical
// inputs reproduce byte-identical artifacts.
func WriteTarZst(ctx context.Context, w io.Writer, srcDir string) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return xerrors.Errorf("zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	var rels []string
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return xerrors.Errorf("walk %s: %w", srcDir, err)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return err
		}
		full := filepath.Join(srcDir, rel)
		fi, err := os.Lstat(full)
		if err != nil {
			return err
		}

		var link string
		if fi.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(full)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if fi.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			if err := copyFileInto(tw, full); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// ExtractArtifact unpacks a zstd-compressed tar artifact into destDir. It
// always discards ownership and, unless keepPerms is set, normalizes file
// modes, matching _extract_pkg_to_dir()'s "--no-same-owner
// [--no-same-permissions]" invocation in the original prototype.
func ExtractArtifact(ctx context.Context, r io.Reader, destDir string, keepPerms bool) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return xerrors.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	return ExtractTar(ctx, zr, destDir, ExtractOpts{
		NoSameOwner:       true,
		NoSamePermissions: !keepPerms,
	})
}
