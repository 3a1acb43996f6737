package build

import (
	"context"
	"path/filepath"
	"strconv"
)

// buildAutotools runs configure/make/make install, mirroring
// build_with_autotools() in the original prototype.
func buildAutotools(ctx context.Context, c *Ctx) error {
	configure := filepath.Join(c.SrcDir, "configure")
	args := append([]string{"--prefix=" + c.Cfg.Prefix}, c.Meta.Build.ConfigureFlags...)
	if err := runStep(ctx, c, c.SrcDir, nil, nil, configure, args...); err != nil {
		return err
	}
	makeArgs := append([]string{"-j" + strconv.Itoa(c.Cfg.Jobs)}, c.Meta.Build.MakeFlags...)
	if err := runStep(ctx, c, c.SrcDir, nil, nil, "make", makeArgs...); err != nil {
		return err
	}
	return runStep(ctx, c, c.SrcDir, nil, nil, "make", "install")
}

// buildMake runs plain make/make install for recipes with a pre-existing
// Makefile and no configure step.
func buildMake(ctx context.Context, c *Ctx) error {
	makeArgs := append([]string{"-j" + strconv.Itoa(c.Cfg.Jobs)}, c.Meta.Build.MakeFlags...)
	if err := runStep(ctx, c, c.SrcDir, nil, nil, "make", makeArgs...); err != nil {
		return err
	}
	return runStep(ctx, c, c.SrcDir, nil, nil, "make", "install")
}

// buildCMake configures out-of-tree into BuildDir then builds/installs,
// following the teacher's buildcmake.go step sequence but invoking cmake's
// own generated build tool instead of assuming ninja, and without the pb
// step encoding the teacher used.
func buildCMake(ctx context.Context, c *Ctx) error {
	args := []string{
		c.SrcDir,
		"-DCMAKE_INSTALL_PREFIX=" + c.Cfg.Prefix,
		"-DCMAKE_BUILD_TYPE=Release",
	}
	if c.Cfg.CMakeGenerator != "" {
		args = append(args, "-G", c.Cfg.CMakeGenerator)
	}
	args = append(args, c.Meta.Build.CMakeFlags...)
	if err := runStep(ctx, c, c.BuildDir, nil, nil, "cmake", args...); err != nil {
		return err
	}
	if err := runStep(ctx, c, c.BuildDir, nil, nil, "cmake", "--build", ".", "-j", strconv.Itoa(c.Cfg.Jobs)); err != nil {
		return err
	}
	return runStep(ctx, c, c.BuildDir, nil, nil, "cmake", "--install", ".")
}

// buildMeson configures into BuildDir and builds via ninja underneath meson
// compile, per build_with_meson().
func buildMeson(ctx context.Context, c *Ctx) error {
	args := append([]string{"setup", c.BuildDir, c.SrcDir, "--prefix=" + c.Cfg.Prefix}, c.Meta.Build.MesonFlags...)
	if err := runStep(ctx, c, c.SrcDir, nil, nil, "meson", args...); err != nil {
		return err
	}
	if err := runStep(ctx, c, c.BuildDir, nil, nil, "meson", "compile", "-j", strconv.Itoa(c.Cfg.Jobs)); err != nil {
		return err
	}
	return runStep(ctx, c, c.BuildDir, nil, nil, "meson", "install")
}

// buildCargo builds a release binary and installs it under
// $DESTDIR$PREFIX via `cargo install --root`, per build_with_cargo().
func buildCargo(ctx context.Context, c *Ctx) error {
	root := filepath.Join(c.DestDir, c.Cfg.Prefix)
	args := append([]string{"install", "--path", c.SrcDir, "--root", root}, c.Meta.Build.CargoFlags...)
	return runStep(ctx, c, c.SrcDir, []string{"CARGO_HOME=" + filepath.Join(c.BuildDir, "cargo-home")}, nil, "cargo", args...)
}

// buildGo builds with `go build`, installing into $DESTDIR$PREFIX/bin, per
// build_with_go(). The target package defaults to "." unless go_flags[0]
// names one. With `-o <dir>/`, `go build` names the binary after the last
// element of the built package's import path; the source-root directory
// name is not consulted.
func buildGo(ctx context.Context, c *Ctx) error {
	out := filepath.Join(c.DestDir, c.Cfg.Prefix, "bin")
	pkg := "."
	flags := c.Meta.Build.GoFlags
	if len(flags) > 0 {
		pkg = flags[0]
		flags = flags[1:]
	}
	args := append([]string{"build", "-o", out + string(filepath.Separator)}, flags...)
	args = append(args, pkg)
	return runStep(ctx, c, c.SrcDir, []string{"CGO_ENABLED=0"}, nil, "go", args...)
}

// buildPython installs via `pip install . --no-deps --prefix --root` so
// that every file lands in DESTDIR without pulling in dependencies pip
// would otherwise fetch, per build_with_python().
func buildPython(ctx context.Context, c *Ctx) error {
	args := append([]string{
		"install",
		".",
		"--no-deps",
		"--prefix=" + c.Cfg.Prefix,
		"--root=" + c.DestDir,
	}, c.Meta.Build.PythonFlags...)
	return runStep(ctx, c, c.SrcDir, nil, nil, "pip", args...)
}

// buildCustom runs the recipe's custom_script (default build.sh, relative
// to the recipe directory) with the standard build environment, per
// build_custom().
func buildCustom(ctx context.Context, c *Ctx) error {
	script := c.Meta.Build.CustomScript
	if !filepath.IsAbs(script) {
		script = filepath.Join(c.PkgDir, script)
	}
	return runStep(ctx, c, c.SrcDir, nil, nil, "/bin/sh", script)
}
