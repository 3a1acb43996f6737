package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/srcpkg/srcpkg"
	"github.com/srcpkg/srcpkg/internal/manifest"
	"github.com/srcpkg/srcpkg/internal/recipe"
)

// stubFetcher writes a fixed file tree into c.SrcDir without touching the
// network, standing in for the external source-fetch collaborator spec.md
// §1 places out of scope.
type stubFetcher struct {
	files map[string]string
}

func (s stubFetcher) Fetch(ctx context.Context, c *Ctx) error {
	for rel, content := range s.files {
		full := filepath.Join(c.SrcDir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func testConfig(t *testing.T) *srcpkg.Config {
	t.Helper()
	cfg := srcpkg.DefaultConfig()
	cfg.Home = t.TempDir()
	cfg.Prefix = "/usr/local"
	cfg.Jobs = 1
	return cfg
}

func customMeta(script string) recipe.Meta {
	return recipe.Meta{
		Category: "devel",
		Name:     "tool",
		Version:  "1.0",
		Source:   recipe.SourceInfo{Kind: recipe.SourceTar, URL: "file:///dev/null", SHA256: "deadbeef"},
		Build:    recipe.Build{System: "custom", CustomScript: script},
	}
}

// newScriptRecipe writes a recipe directory containing a custom_script that
// copies a fixed payload into DESTDIR, exercising the custom backend
// (build_custom() in the original prototype) end to end.
func newScriptRecipe(t *testing.T, scriptName, scriptBody string) (recipe.Meta, string) {
	t.Helper()
	pkgDir := t.TempDir()
	scriptPath := filepath.Join(pkgDir, scriptName)
	if err := os.WriteFile(scriptPath, []byte(scriptBody), 0o755); err != nil {
		t.Fatal(err)
	}
	meta := customMeta(scriptName)
	return meta, pkgDir
}

func TestBuildCustomBackendPopulatesDestDirAndManifest(t *testing.T) {
	cfg := testConfig(t)
	script := "#!/bin/sh\nmkdir -p \"$DESTDIR/usr/local/bin\"\nprintf hi > \"$DESTDIR/usr/local/bin/tool\"\n"
	meta, pkgDir := newScriptRecipe(t, "build.sh", script)

	var log bytes.Buffer
	c := NewCtx(cfg, meta, pkgDir, stubFetcher{files: map[string]string{"README": "x"}}, &log)

	res, err := Build(context.Background(), c)
	if err != nil {
		t.Fatalf("Build: %v\nlog:\n%s", err, log.String())
	}
	if !res.Paths.Exists() {
		t.Error("artifact/manifest not written to the binary cache")
	}
	if _, ok := res.Manifest["usr/local/bin/tool"]; !ok {
		t.Errorf("manifest missing usr/local/bin/tool, got %v", res.Manifest.Paths())
	}
	if _, err := os.Lstat(res.Paths.Latest); err != nil {
		t.Errorf("latest symlink not refreshed: %v", err)
	}
}

// TestBuildCustomBackendDefaultsScriptToBuildSh loads a recipe that omits
// custom_script entirely (recipe.buildFromYAML defaults it to "build.sh")
// and checks the build backend actually runs that file, end to end.
func TestBuildCustomBackendDefaultsScriptToBuildSh(t *testing.T) {
	tree := t.TempDir()
	pkgDir := filepath.Join(tree, "devel", "tool")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	recipeYAML := "category: devel\nname: tool\nversion: \"1.0\"\nsource:\n  url: https://example.org/tool.tar.gz\n  sha256: abc\nbuild:\n  system: custom\n"
	if err := os.WriteFile(filepath.Join(pkgDir, "package.yml"), []byte(recipeYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\nmkdir -p \"$DESTDIR/usr/local/bin\"\ntouch \"$DESTDIR/usr/local/bin/tool\"\n"
	if err := os.WriteFile(filepath.Join(pkgDir, "build.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	meta, dir, err := recipe.Load(tree, "devel/tool")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Build.CustomScript != "build.sh" {
		t.Fatalf("CustomScript = %q, want build.sh", meta.Build.CustomScript)
	}

	cfg := testConfig(t)
	var log bytes.Buffer
	c := NewCtx(cfg, meta, dir, stubFetcher{}, &log)
	if _, err := Build(context.Background(), c); err != nil {
		t.Fatalf("Build: %v\nlog:\n%s", err, log.String())
	}
}

func TestBuildCacheHitSkipsRebuildAndRefreshesLatest(t *testing.T) {
	cfg := testConfig(t)
	script := "#!/bin/sh\nmkdir -p \"$DESTDIR/usr/local/bin\"\nprintf v1 > \"$DESTDIR/usr/local/bin/tool\"\n"
	meta, pkgDir := newScriptRecipe(t, "build.sh", script)

	var log bytes.Buffer
	c1 := NewCtx(cfg, meta, pkgDir, stubFetcher{}, &log)
	first, err := Build(context.Background(), c1)
	if err != nil {
		t.Fatalf("first Build: %v\nlog:\n%s", err, log.String())
	}

	// Overwrite the script with one that fails, so a rebuild (if one
	// happened) would surface as a Build error; the cache-hit rule must
	// mean this is never run.
	if err := os.WriteFile(filepath.Join(pkgDir, "build.sh"), []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Drop the latest symlink so the cache hit has to recreate it.
	if err := os.Remove(first.Paths.Latest); err != nil {
		t.Fatal(err)
	}

	c2 := NewCtx(cfg, meta, pkgDir, stubFetcher{}, &log)
	second, err := Build(context.Background(), c2)
	if err != nil {
		t.Fatalf("second Build (expected cache hit, not a rebuild): %v", err)
	}
	if diff := manifestDiff(first.Manifest, second.Manifest); diff != "" {
		t.Errorf("cache-hit manifest differs from first build: %s", diff)
	}
	if _, err := os.Lstat(second.Paths.Latest); err != nil {
		t.Errorf("cache hit did not refresh the latest symlink: %v", err)
	}
}

func TestBuildFailsOnEmptyDestDir(t *testing.T) {
	cfg := testConfig(t)
	meta, pkgDir := newScriptRecipe(t, "build.sh", "#!/bin/sh\ntrue\n")

	var log bytes.Buffer
	c := NewCtx(cfg, meta, pkgDir, stubFetcher{}, &log)
	if _, err := Build(context.Background(), c); err == nil {
		t.Fatal("expected an error for an empty DESTDIR, got nil")
	}
}

func manifestDiff(a, b manifest.Manifest) string {
	if len(a) != len(b) {
		return "different entry counts"
	}
	for path, ea := range a {
		eb, ok := b[path]
		if !ok || ea.SHA256 != eb.SHA256 || ea.Type != eb.Type || ea.Target != eb.Target {
			return "entry mismatch at " + path
		}
	}
	return ""
}
