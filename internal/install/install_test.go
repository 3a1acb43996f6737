package install

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/srcpkg/srcpkg/internal/archive"
	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/manifest"
)

func buildArtifact(t *testing.T, files map[string]string) (string, manifest.Manifest) {
	t.Helper()
	src := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(src, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := archive.WriteTarZst(context.Background(), &buf, src); err != nil {
		t.Fatal(err)
	}
	artifactPath := filepath.Join(t.TempDir(), "artifact.tar.zst")
	if err := os.WriteFile(artifactPath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Build(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	return artifactPath, m
}

func TestInstallWritesFilesAndUpdatesDB(t *testing.T) {
	artifactPath, m := buildArtifact(t, map[string]string{"bin/tool": "payload"})

	root := t.TempDir()
	database := &db.DB{Installed: map[string]db.InstalledRecord{}, Owners: map[string]string{}, History: map[string][]db.InstalledRecord{}}

	report, err := Install(context.Background(), "devel/tool", "1.0", "devel-tool-1.0", artifactPath, nil, m, database, Opts{Explicit: true, Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Conflicts) != 0 {
		t.Errorf("unexpected conflicts: %v", report.Conflicts)
	}

	got, err := os.ReadFile(filepath.Join(root, "bin", "tool"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("installed file content = %q, want %q", got, "payload")
	}

	rec, ok := database.Installed["devel/tool"]
	if !ok || !rec.Explicit || rec.Version != "1.0" {
		t.Errorf("Installed[devel/tool] = %+v, %v", rec, ok)
	}
	if database.Owners["bin/tool"] != "devel/tool" {
		t.Errorf("Owners[bin/tool] = %q, want devel/tool", database.Owners["bin/tool"])
	}
}

func TestInstallDetectsConflict(t *testing.T) {
	artifactPath, m := buildArtifact(t, map[string]string{"bin/tool": "payload"})

	root := t.TempDir()
	database := &db.DB{
		Installed: map[string]db.InstalledRecord{},
		Owners:    map[string]string{"bin/tool": "devel/other"},
		History:   map[string][]db.InstalledRecord{},
	}

	_, err := Install(context.Background(), "devel/tool", "1.0", "devel-tool-1.0", artifactPath, nil, m, database, Opts{Root: root})
	if err == nil {
		t.Fatal("expected conflict error")
	}
}

// TestInstallDetectsUnownedFileOnDisk covers spec.md §4.7 Phase 1 Rule 2: a
// file already present on disk under root with no DB owner is a conflict
// too, not just a path another package's manifest claims.
func TestInstallDetectsUnownedFileOnDisk(t *testing.T) {
	artifactPath, m := buildArtifact(t, map[string]string{"bin/tool": "payload"})

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("pre-existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	database := &db.DB{
		Installed: map[string]db.InstalledRecord{},
		Owners:    map[string]string{},
		History:   map[string][]db.InstalledRecord{},
	}

	_, err := Install(context.Background(), "devel/tool", "1.0", "devel-tool-1.0", artifactPath, nil, m, database, Opts{Root: root})
	if err == nil {
		t.Fatal("expected conflict error for unowned pre-existing file")
	}
}

func TestInstallForceOverridesConflict(t *testing.T) {
	artifactPath, m := buildArtifact(t, map[string]string{"bin/tool": "payload"})

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("pre-existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	database := &db.DB{
		Installed: map[string]db.InstalledRecord{},
		Owners:    map[string]string{},
		History:   map[string][]db.InstalledRecord{},
	}

	report, err := Install(context.Background(), "devel/tool", "1.0", "devel-tool-1.0", artifactPath, nil, m, database, Opts{Force: true, Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Conflicts) != 1 {
		t.Errorf("Conflicts = %v, want one entry", report.Conflicts)
	}

	// Force never overrides a path another package owns.
	owned := &db.DB{
		Installed: map[string]db.InstalledRecord{},
		Owners:    map[string]string{"bin/tool": "devel/other"},
		History:   map[string][]db.InstalledRecord{},
	}
	if _, err := Install(context.Background(), "devel/tool", "1.0", "devel-tool-1.0", artifactPath, nil, m, owned, Opts{Force: true, Root: t.TempDir()}); err == nil {
		t.Error("expected conflict error for a path owned by another package, even with Force")
	}
}
