package uninstall

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/srcpkg/srcpkg/internal/db"
	"github.com/srcpkg/srcpkg/internal/manifest"
)

func setup(t *testing.T) (string, *db.DB) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := manifest.Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}

	database := &db.DB{
		Installed: map[string]db.InstalledRecord{
			"devel/tool": {Version: "1.0", ID: "devel-tool-1.0", Manifest: m},
		},
		Owners: map[string]string{"bin": "devel/tool", "bin/tool": "devel/tool"},
	}
	return root, database
}

func TestUninstallRemovesOwnedFiles(t *testing.T) {
	root, database := setup(t)

	report, err := Uninstall("devel/tool", root, database, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.KeptModified) != 0 {
		t.Errorf("unexpected kept-modified: %v", report.KeptModified)
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "tool")); !os.IsNotExist(err) {
		t.Errorf("bin/tool should have been removed, stat err = %v", err)
	}
	if _, ok := database.Installed["devel/tool"]; ok {
		t.Error("devel/tool should have been dropped from Installed")
	}
	if _, ok := database.Owners["bin/tool"]; ok {
		t.Error("bin/tool should have been dropped from Owners")
	}
}

func TestUninstallPreservesModifiedFiles(t *testing.T) {
	root, database := setup(t)
	if err := os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("modified locally"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Uninstall("devel/tool", root, database, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.KeptModified) != 1 || report.KeptModified[0] != "bin/tool" {
		t.Errorf("KeptModified = %v, want [bin/tool]", report.KeptModified)
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "tool")); err != nil {
		t.Error("modified bin/tool should have been preserved")
	}
}

func TestUninstallDryRunChangesNothing(t *testing.T) {
	root, database := setup(t)

	report, err := Uninstall("devel/tool", root, database, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Removed) == 0 {
		t.Error("dry run report should still list what would be removed")
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "tool")); err != nil {
		t.Error("dry run must not remove files")
	}
	if _, ok := database.Installed["devel/tool"]; !ok {
		t.Error("dry run must not mutate the database")
	}
}

func TestUninstallUnknownPackage(t *testing.T) {
	_, database := setup(t)
	if _, err := Uninstall("devel/missing", t.TempDir(), database, false); err == nil {
		t.Fatal("expected error for package that isn't installed")
	}
}
