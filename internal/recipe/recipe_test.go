package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeRecipe(t *testing.T, tree, category, name, body string) {
	t.Helper()
	dir := filepath.Join(tree, category, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.yml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadLegacyTarSource(t *testing.T) {
	tree := t.TempDir()
	writeRecipe(t, tree, "devel", "make", `
category: devel
name: make
version: "4.4"
source:
  url: https://example.org/make-4.4.tar.gz
  sha256: abc123
build:
  system: autotools
  configure_flags: --disable-nls
depends:
  - devel/gcc
`)

	m, dir, err := Load(tree, "devel/make")
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(tree, "devel", "make") {
		t.Errorf("dir = %q, want %q", dir, filepath.Join(tree, "devel", "make"))
	}
	if m.Source.Kind != SourceTar || m.Source.URL == "" || m.Source.SHA256 != "abc123" {
		t.Errorf("Source = %+v, want tar with sha256 abc123", m.Source)
	}
	if diff := cmp.Diff([]string{"--disable-nls"}, m.Build.ConfigureFlags); diff != "" {
		t.Errorf("ConfigureFlags mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"devel/gcc"}, m.Depends); diff != "" {
		t.Errorf("Depends mismatch (-want +got):\n%s", diff)
	}
	if got, want := m.ID(), "devel-make-4.4"; got != want {
		t.Errorf("ID() = %q, want %q", got, want)
	}
	if got, want := m.FullName(), "devel/make"; got != want {
		t.Errorf("FullName() = %q, want %q", got, want)
	}
}

func TestLoadGitSource(t *testing.T) {
	tree := t.TempDir()
	writeRecipe(t, tree, "devel", "foo", `
category: devel
name: foo
version: main
source:
  kind: git
  repo: https://example.org/foo.git
  branch: main
build:
  system: make
`)
	m, _, err := Load(tree, "devel/foo")
	if err != nil {
		t.Fatal(err)
	}
	if m.Source.Kind != SourceGit {
		t.Fatalf("Source.Kind = %v, want SourceGit", m.Source.Kind)
	}
	if m.Source.Git.ResolvedRef() != "refs/heads/main" {
		t.Errorf("ResolvedRef() = %q, want refs/heads/main", m.Source.Git.ResolvedRef())
	}
}

func TestLoadRejectsPathRecipeMismatch(t *testing.T) {
	tree := t.TempDir()
	writeRecipe(t, tree, "devel", "make", `
category: devel
name: not-make
version: "1"
source:
  url: https://example.org/x.tar.gz
  sha256: abc
build:
  system: make
`)
	if _, _, err := Load(tree, "devel/make"); err == nil {
		t.Fatal("expected error for path/recipe name mismatch")
	}
}

func TestLoadRejectsInvalidDependencyFormat(t *testing.T) {
	tree := t.TempDir()
	writeRecipe(t, tree, "devel", "make", `
category: devel
name: make
version: "1"
source:
  url: https://example.org/x.tar.gz
  sha256: abc
build:
  system: make
depends:
  - make
`)
	if _, _, err := Load(tree, "devel/make"); err == nil {
		t.Fatal("expected error for dependency missing a category")
	}
}

func TestLoadMissingRecipe(t *testing.T) {
	tree := t.TempDir()
	if _, _, err := Load(tree, "devel/missing"); err == nil {
		t.Fatal("expected error for missing recipe")
	}
}

func TestLoadDefaultsCustomScriptToBuildSh(t *testing.T) {
	tree := t.TempDir()
	writeRecipe(t, tree, "devel", "tool", `
category: devel
name: tool
version: "1"
source:
  url: https://example.org/tool.tar.gz
  sha256: abc
build:
  system: custom
`)
	m, _, err := Load(tree, "devel/tool")
	if err != nil {
		t.Fatal(err)
	}
	if m.Build.CustomScript != "build.sh" {
		t.Errorf("CustomScript = %q, want the default %q", m.Build.CustomScript, "build.sh")
	}
}
