package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/srcpkg/srcpkg/internal/manifest"
)

func TestLoadMissingIsEmpty(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Installed) != 0 || d.Schema != CurrentSchema {
		t.Errorf("got %+v, want empty db at current schema", d)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	d := empty()
	d.Installed["devel/make"] = InstalledRecord{
		Version: "4.4",
		ID:      "devel-make-4.4",
		Depends: []string{"devel/gcc"},
		Manifest: manifest.Manifest{
			"bin/make": manifest.Entry{Type: manifest.TypeFile, SHA256: "abc"},
		},
		Explicit: true,
		Artifact: "/bin/devel-make-4.4.tar.zst",
	}
	d.Owners["bin/make"] = "devel/make"

	if err := Save(path, d); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrateSchema1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	// Schema 1 predates any wrapper object: the file itself is the bare
	// full_name->InstalledRecord map, matching load_db() in the original
	// prototype, not {"installed": {...}}.
	old := `{"devel/make": {"version": "4.4", "id": "devel-make-4.4", "manifest": {"bin/make": {"type": "file", "sha256": "abc"}}}}`
	if err := os.WriteFile(path, []byte(old), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if d.Schema != CurrentSchema {
		t.Errorf("Schema = %d, want %d", d.Schema, CurrentSchema)
	}
	if owner := d.Owners["bin/make"]; owner != "devel/make" {
		t.Errorf("Owners recomputed incorrectly: got %q, want devel/make", owner)
	}
}

func TestHistoryPushPopBoundedDepth(t *testing.T) {
	d := empty()
	for i := 0; i < 5; i++ {
		d.PushHistory("devel/make", InstalledRecord{Version: string(rune('a' + i))}, 3)
	}
	if len(d.History["devel/make"]) != 3 {
		t.Fatalf("history length = %d, want 3", len(d.History["devel/make"]))
	}
	rec, ok := d.PopHistory("devel/make")
	if !ok || rec.Version != "e" {
		t.Errorf("PopHistory = %+v, %v; want most recent push (e)", rec, ok)
	}
}
