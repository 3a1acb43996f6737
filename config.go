package srcpkg

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config bundles every path and default that the teacher repo scatters
// across package-level globals (internal/env.DistriRoot and friends) into a
// single explicit value. Every package below the root takes a *Config (or
// the specific paths it derives) instead of reading the environment itself,
// which makes tests trivial to run against a temporary root.
type Config struct {
	// Home is PKG_HOME: the root of the content store (src/, bin/, build/,
	// logs/, locks/, db.json, lockfile.json).
	Home string

	// Tree is the recipe tree root, containing <category>/<name>/package.yml.
	Tree string

	// Prefix is the default installation prefix (e.g. /usr/local) used when
	// a build doesn't otherwise specify one.
	Prefix string

	// Jobs is the default build parallelism (MAKEFLAGS=-jJobs).
	Jobs int

	// HistoryDepth bounds how many prior InstalledRecords are kept per
	// package (spec §3, "History").
	HistoryDepth int

	// CMakeGenerator overrides the CMake generator (empty uses cmake's
	// default).
	CMakeGenerator string
}

const (
	envHome            = "SRCPKG_HOME"
	envTree            = "SRCPKG_TREE"
	envPrefix          = "SRCPKG_PREFIX"
	envJobs            = "SRCPKG_JOBS"
	envHistoryLimit    = "SRCPKG_HISTORY_LIMIT"
	envCMakeGenerator  = "SRCPKG_CMAKE_GENERATOR"
	defaultHistoryDepth = 5
)

// DefaultConfig builds a Config from environment overrides, falling back to
// the same defaults as the original prototype ($HOME/.srcpkg,
// $PWD/packages, /usr/local, 1 build job).
func DefaultConfig() *Config {
	home := os.Getenv(envHome)
	if home == "" {
		hd, err := os.UserHomeDir()
		if err != nil {
			hd = "."
		}
		home = filepath.Join(hd, ".srcpkg")
	}

	tree := os.Getenv(envTree)
	if tree == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		tree = filepath.Join(wd, "packages")
	}

	prefix := os.Getenv(envPrefix)
	if prefix == "" {
		prefix = "/usr/local"
	}

	jobs := 1
	if v := os.Getenv(envJobs); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			jobs = n
		}
	}

	history := defaultHistoryDepth
	if v := os.Getenv(envHistoryLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			history = n
		}
	}

	return &Config{
		Home:           home,
		Tree:           tree,
		Prefix:         prefix,
		Jobs:           jobs,
		HistoryDepth:   history,
		CMakeGenerator: os.Getenv(envCMakeGenerator),
	}
}

// Path helpers for the content store layout described in spec §4.1.

func (c *Config) SrcDir() string       { return filepath.Join(c.Home, "src") }
func (c *Config) VCSDir() string       { return filepath.Join(c.Home, "src", "vcs") }
func (c *Config) BinDir() string       { return filepath.Join(c.Home, "bin") }
func (c *Config) BuildDir() string     { return filepath.Join(c.Home, "build") }
func (c *Config) LogDir() string       { return filepath.Join(c.Home, "logs") }
func (c *Config) LocksDir() string     { return filepath.Join(c.Home, "locks") }
func (c *Config) DBPath() string       { return filepath.Join(c.Home, "db.json") }
func (c *Config) DBLockPath() string   { return filepath.Join(c.Home, "db.lock") }
func (c *Config) LockfilePath() string { return filepath.Join(c.Home, "lockfile.json") }

// EnsureDirs creates every content-store directory on demand (spec §4.1:
// "All directories are created on demand").
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.SrcDir(), c.VCSDir(), c.BinDir(), c.BuildDir(), c.LogDir(), c.LocksDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return os.MkdirAll(c.Home, 0o755)
}
