package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestArtifactPathsExists(t *testing.T) {
	binDir := t.TempDir()
	p := ArtifactPaths(binDir, "devel-make-4.4", "4.4")

	if p.Exists() {
		t.Fatal("Exists should be false before any file is written")
	}
	if err := os.WriteFile(p.Artifact, []byte("artifact"), 0o644); err != nil {
		t.Fatal(err)
	}
	if p.Exists() {
		t.Fatal("Exists should still be false without a manifest")
	}
	if err := os.WriteFile(p.Manifest, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !p.Exists() {
		t.Fatal("Exists should be true once both artifact and manifest are present")
	}
}

func TestRefreshLatestAndResolve(t *testing.T) {
	binDir := t.TempDir()
	p := ArtifactPaths(binDir, "devel-make-4.4", "4.4")
	if err := os.WriteFile(p.Artifact, []byte("artifact"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.RefreshLatest(); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveLatest(binDir, "devel-make-4.4")
	if err != nil {
		t.Fatal(err)
	}
	if got != p.Artifact {
		t.Errorf("ResolveLatest = %q, want %q", got, p.Artifact)
	}

	// A later version repoints the symlink atomically.
	p2 := ArtifactPaths(binDir, "devel-make-4.4", "4.5")
	if err := os.WriteFile(p2.Artifact, []byte("artifact2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p2.RefreshLatest(); err != nil {
		t.Fatal(err)
	}
	got, err = ResolveLatest(binDir, "devel-make-4.4")
	if err != nil {
		t.Fatal(err)
	}
	if got != p2.Artifact {
		t.Errorf("ResolveLatest after refresh = %q, want %q", got, p2.Artifact)
	}
}

func TestResolveLatestMissing(t *testing.T) {
	if _, err := ResolveLatest(t.TempDir(), "devel-missing-1"); err == nil {
		t.Fatal("expected error when no latest symlink exists")
	}
}

func TestFallbackArtifact(t *testing.T) {
	got := FallbackArtifact("/var/lib/srcpkg/bin", "devel-make-4.4", "4.4")
	want := filepath.Join("/var/lib/srcpkg/bin", "devel-make-4.4-4.4.tar.zst")
	if got != want {
		t.Errorf("FallbackArtifact = %q, want %q", got, want)
	}
}

func TestVCSCacheDirSanitizesRepo(t *testing.T) {
	got := VCSCacheDir("/var/lib/srcpkg/vcs", "https://example.org/foo/bar.git", "main")
	want := filepath.Join("/var/lib/srcpkg/vcs", "https___example.org_foo_bar.git", "main")
	if got != want {
		t.Errorf("VCSCacheDir = %q, want %q", got, want)
	}
}
