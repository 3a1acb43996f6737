package depgraph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeRecipe(t *testing.T, tree, full, depends string) {
	t.Helper()
	category, name, _ := cut(full)
	dir := filepath.Join(tree, category, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	dependsYAML := ""
	if depends != "" {
		dependsYAML = "\ndepends:\n  - " + depends
	}
	body := "category: " + category + "\nname: " + name + "\nversion: \"1\"\nsource:\n  url: https://example.org/x.tar.gz\n  sha256: abc\nbuild:\n  system: make" + dependsYAML + "\n"
	if err := os.WriteFile(filepath.Join(dir, "package.yml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func cut(full string) (string, string, bool) {
	for i := 0; i < len(full); i++ {
		if full[i] == '/' {
			return full[:i], full[i+1:], true
		}
	}
	return full, "", false
}

func TestResolveAndOrder(t *testing.T) {
	tree := t.TempDir()
	writeRecipe(t, tree, "devel/app", "devel/lib")
	writeRecipe(t, tree, "devel/lib", "devel/libc")
	writeRecipe(t, tree, "devel/libc", "")

	_, order, err := ResolveAndOrder(context.Background(), tree, []string{"devel/app"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"devel/libc", "devel/lib", "devel/app"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	tree := t.TempDir()
	writeRecipe(t, tree, "devel/a", "devel/b")
	writeRecipe(t, tree, "devel/b", "devel/a")

	_, _, err := ResolveAndOrder(context.Background(), tree, []string{"devel/a"})
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestLevels(t *testing.T) {
	tree := t.TempDir()
	writeRecipe(t, tree, "devel/app", "devel/lib")
	writeRecipe(t, tree, "devel/lib", "devel/libc")
	writeRecipe(t, tree, "devel/libc", "")

	g, order, err := ResolveAndOrder(context.Background(), tree, []string{"devel/app"})
	if err != nil {
		t.Fatal(err)
	}
	levels, err := g.Levels(order)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"devel/libc"}, {"devel/lib"}, {"devel/app"}}
	if diff := cmp.Diff(want, levels); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
}
