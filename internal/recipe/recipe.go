// Package recipe loads declarative package recipes (package.yml) into
// PackageMeta values. The on-disk recipe format and the YAML decoder are the
// external collaborator spec.md §1 places out of the core's scope; this
// package implements just enough of it to produce the PackageMeta the
// resolver, build runner, and installer all consume.
package recipe

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/srcpkg/srcpkg"
	"gopkg.in/yaml.v2"
)

// GitRef pins a git source to exactly one of tag, commit, or branch; the
// zero value resolves to HEAD.
type GitRef struct {
	Repo       string
	Tag        string
	Commit     string
	Branch     string
	Submodules bool
	Shallow    bool
}

// ResolvedRef returns the ref to check out: the commit, the tag, the
// branch, or "HEAD" if none was specified.
func (g GitRef) ResolvedRef() string {
	switch {
	case g.Commit != "":
		return g.Commit
	case g.Tag != "":
		return "refs/tags/" + g.Tag
	case g.Branch != "":
		return "refs/heads/" + g.Branch
	default:
		return "HEAD"
	}
}

// RefLabel names the cache directory for this ref (distinct refs of the same
// repo get distinct checkouts under src/vcs/).
func (g GitRef) RefLabel() string {
	switch {
	case g.Commit != "":
		c := g.Commit
		if len(c) > 12 {
			c = c[:12]
		}
		return "commit-" + c
	case g.Tag != "":
		return "tag-" + g.Tag
	case g.Branch != "":
		return "branch-" + g.Branch
	default:
		return "head"
	}
}

// SourceKind discriminates the SourceInfo tagged union.
type SourceKind int

const (
	SourceTar SourceKind = iota
	SourceGit
)

// SourceInfo is the recipe's `source:` field: either a tarball with a SHA256
// to verify, or a git ref to check out.
type SourceInfo struct {
	Kind   SourceKind
	URL    string
	SHA256 string
	Git    GitRef
}

type sourceYAML struct {
	Kind       string `yaml:"kind"`
	URL        string `yaml:"url"`
	SHA256     string `yaml:"sha256"`
	Repo       string `yaml:"repo"`
	Tag        string `yaml:"tag"`
	Commit     string `yaml:"commit"`
	Branch     string `yaml:"branch"`
	Submodules bool   `yaml:"submodules"`
	Shallow    *bool  `yaml:"shallow"`
}

func sourceFromYAML(s sourceYAML) (SourceInfo, error) {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))

	// Legacy shape: {url, sha256} with no kind implies tar.
	if kind == "" && s.URL != "" {
		if s.SHA256 == "" {
			return SourceInfo{}, fmt.Errorf("source.kind=tar requires sha256")
		}
		return SourceInfo{Kind: SourceTar, URL: s.URL, SHA256: s.SHA256}, nil
	}

	switch kind {
	case "tar", "archive":
		if s.URL == "" {
			return SourceInfo{}, fmt.Errorf("source.kind=tar requires url")
		}
		if s.SHA256 == "" {
			return SourceInfo{}, fmt.Errorf("source.kind=tar requires sha256")
		}
		return SourceInfo{Kind: SourceTar, URL: s.URL, SHA256: s.SHA256}, nil

	case "git", "vcs":
		repo := s.Repo
		if repo == "" {
			repo = s.URL
		}
		if repo == "" {
			return SourceInfo{}, fmt.Errorf("source.kind=git requires repo (or url)")
		}
		refs := 0
		for _, r := range []string{s.Tag, s.Commit, s.Branch} {
			if r != "" {
				refs++
			}
		}
		if refs > 1 {
			return SourceInfo{}, fmt.Errorf("source.kind=git: specify only one of tag, commit, branch")
		}
		shallow := true
		if s.Shallow != nil {
			shallow = *s.Shallow
		}
		return SourceInfo{
			Kind: SourceGit,
			Git: GitRef{
				Repo:       repo,
				Tag:        s.Tag,
				Commit:     s.Commit,
				Branch:     s.Branch,
				Submodules: s.Submodules,
				Shallow:    shallow,
			},
		}, nil

	default:
		return SourceInfo{}, fmt.Errorf("invalid source.kind %q (expected tar|git)", kind)
	}
}

// Build describes the build backend and its per-system flags.
type Build struct {
	System         string // autotools, cmake, make, meson, cargo, go, python, custom
	ConfigureFlags []string
	MakeFlags      []string
	CMakeFlags     []string
	MesonFlags     []string
	CargoFlags     []string
	GoFlags        []string
	PythonFlags    []string
	CustomScript   string
}

// stringList accepts either a YAML list of scalars or a single scalar,
// matching the original prototype's leniency (BuildConfig.from_recipe).
type stringList []string

func (s *stringList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var list []string
	if err := unmarshal(&list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := unmarshal(&single); err != nil {
		return err
	}
	if single == "" {
		*s = nil
		return nil
	}
	*s = []string{single}
	return nil
}

type buildYAML struct {
	System         string     `yaml:"system"`
	ConfigureFlags stringList `yaml:"configure_flags"`
	MakeFlags      stringList `yaml:"make_flags"`
	CMakeFlags     stringList `yaml:"cmake_flags"`
	MesonFlags     stringList `yaml:"meson_flags"`
	CargoFlags     stringList `yaml:"cargo_flags"`
	GoFlags        stringList `yaml:"go_flags"`
	PythonFlags    stringList `yaml:"python_flags"`
	CustomScript   string     `yaml:"custom_script"`
}

func buildFromYAML(b buildYAML) (Build, error) {
	system := strings.ToLower(strings.TrimSpace(b.System))
	if system == "" {
		return Build{}, fmt.Errorf("missing required field: build.system")
	}
	script := strings.TrimSpace(b.CustomScript)
	if script == "" {
		script = "build.sh"
	}
	return Build{
		System:         system,
		ConfigureFlags: []string(b.ConfigureFlags),
		MakeFlags:      []string(b.MakeFlags),
		CMakeFlags:     []string(b.CMakeFlags),
		MesonFlags:     []string(b.MesonFlags),
		CargoFlags:     []string(b.CargoFlags),
		GoFlags:        []string(b.GoFlags),
		PythonFlags:    []string(b.PythonFlags),
		CustomScript:   script,
	}, nil
}

// Meta is the recipe layer's PackageMeta (spec.md §3).
type Meta struct {
	Category string
	Name     string
	Version  string
	Source   SourceInfo
	Build    Build
	Depends  []string
}

// FullName is "category/name".
func (m Meta) FullName() string { return m.Category + "/" + m.Name }

var idSafe = func() map[rune]bool {
	allowed := make(map[rune]bool)
	for c := 'a'; c <= 'z'; c++ {
		allowed[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		allowed[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		allowed[c] = true
	}
	for _, c := range ".-_" {
		allowed[c] = true
	}
	return allowed
}()

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if idSafe[r] {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ID is the content-store key "category-name-version", sanitized per
// spec.md §3.
func (m Meta) ID() string {
	return sanitize(m.Category) + "-" + sanitize(m.Name) + "-" + sanitize(m.Version)
}

type recipeYAML struct {
	Category string      `yaml:"category"`
	Name     string      `yaml:"name"`
	Version  string      `yaml:"version"`
	Source   sourceYAML  `yaml:"source"`
	Build    buildYAML   `yaml:"build"`
	Depends  stringList  `yaml:"depends"`
}

func validateFullName(pkg string) error {
	if strings.Count(pkg, "/") != 1 {
		return fmt.Errorf("invalid dependency %q; expected format 'category/name'", pkg)
	}
	return nil
}

// Load reads packages/<category>/<name>/package.yml from tree and returns
// the parsed Meta plus the recipe's directory (for patches/ and files/
// sidecars). fullName must be "category/name"; a path/recipe mismatch is
// fatal, per spec.md §6.
func Load(tree, fullName string) (Meta, string, error) {
	if err := validateFullName(fullName); err != nil {
		return Meta{}, "", srcpkg.Wrap(srcpkg.KindRecipe, err, "load recipe %s", fullName)
	}
	cat, name, _ := strings.Cut(fullName, "/")
	dir := filepath.Join(tree, cat, name)
	recipePath := filepath.Join(dir, "package.yml")

	b, err := ioutil.ReadFile(recipePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, "", srcpkg.Wrap(srcpkg.KindNotFound, err, "recipe not found: %s", recipePath)
		}
		return Meta{}, "", srcpkg.Wrap(srcpkg.KindRecipe, err, "read %s", recipePath)
	}

	var raw recipeYAML
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Meta{}, "", srcpkg.Wrap(srcpkg.KindRecipe, err, "parse %s", recipePath)
	}

	category := strings.TrimSpace(raw.Category)
	name2 := strings.TrimSpace(raw.Name)
	version := strings.TrimSpace(raw.Version)
	if category == "" || name2 == "" || version == "" {
		return Meta{}, "", srcpkg.New(srcpkg.KindRecipe, "category/name/version must not be empty in %s", recipePath)
	}
	if category != cat || name2 != name {
		return Meta{}, "", srcpkg.New(srcpkg.KindRecipe, "path/recipe mismatch: path=%s recipe=%s/%s in %s", fullName, category, name2, recipePath)
	}

	depends := []string(raw.Depends)
	for _, d := range depends {
		if err := validateFullName(d); err != nil {
			return Meta{}, "", srcpkg.Wrap(srcpkg.KindRecipe, err, "%s", recipePath)
		}
	}

	source, err := sourceFromYAML(raw.Source)
	if err != nil {
		return Meta{}, "", srcpkg.Wrap(srcpkg.KindRecipe, err, "%s", recipePath)
	}
	build, err := buildFromYAML(raw.Build)
	if err != nil {
		return Meta{}, "", srcpkg.Wrap(srcpkg.KindRecipe, err, "%s", recipePath)
	}

	meta := Meta{
		Category: category,
		Name:     name2,
		Version:  version,
		Source:   source,
		Build:    build,
		Depends:  depends,
	}
	return meta, dir, nil
}
