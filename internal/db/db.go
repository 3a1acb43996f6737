// Package db implements the on-disk installed-package database (spec.md
// §4.6): a single JSON file tracking owners, installed records, and bounded
// rollback history, versioned so old databases migrate forward in place.
package db

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/srcpkg/srcpkg/internal/manifest"
)

// CurrentSchema is the schema version new databases are written at.
const CurrentSchema = 3

// InstalledRecord is one package's entry in DB.Installed, and also the
// element type of DB.History's per-package stacks.
type InstalledRecord struct {
	Version  string             `json:"version"`
	ID       string             `json:"id"`
	Depends  []string           `json:"depends"`
	Manifest manifest.Manifest  `json:"manifest"`
	Explicit bool               `json:"explicit"`
	Artifact string             `json:"artifact"`
}

// DB is the full on-disk database: installed packages, a global path->owner
// map for conflict detection, and bounded LIFO rollback history.
type DB struct {
	Schema    int                          `json:"schema"`
	Installed map[string]InstalledRecord   `json:"installed"`
	Owners    map[string]string            `json:"owners"`
	History   map[string][]InstalledRecord `json:"history"`
}

func empty() *DB {
	return &DB{
		Schema:    CurrentSchema,
		Installed: map[string]InstalledRecord{},
		Owners:    map[string]string{},
		History:   map[string][]InstalledRecord{},
	}
}

// schemaV1 and schemaV2 are read-only shapes of older on-disk databases,
// used only to migrate forward. Schema 1 predates any wrapper object: the
// whole file is the bare full_name->InstalledRecord map itself, per
// load_db() in the original prototype. Schema 2 introduced the wrapper
// object and carries owners but no history; owners are recomputed from
// manifests only when the file has none.
type schemaV1 map[string]InstalledRecord

type schemaV2 struct {
	Installed map[string]InstalledRecord `json:"installed"`
	Owners    map[string]string          `json:"owners"`
}

// Load reads the database at path, migrating forward from any older schema.
// A missing file is not an error: it loads as a fresh, empty database.
func Load(path string) (*DB, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return empty(), nil
	}
	if err != nil {
		return nil, xerrors.Errorf("read db %s: %w", path, err)
	}

	var probe struct {
		Schema int `json:"schema"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, xerrors.Errorf("parse db %s: %w", path, err)
	}

	switch probe.Schema {
	case 0, 1:
		var v1 schemaV1
		if err := json.Unmarshal(b, &v1); err != nil {
			return nil, xerrors.Errorf("parse schema 1 db %s: %w", path, err)
		}
		d := empty()
		d.Installed = map[string]InstalledRecord(v1)
		if d.Installed == nil {
			d.Installed = map[string]InstalledRecord{}
		}
		recomputeOwners(d)
		return d, nil

	case 2:
		var v2 schemaV2
		if err := json.Unmarshal(b, &v2); err != nil {
			return nil, xerrors.Errorf("parse schema 2 db %s: %w", path, err)
		}
		d := empty()
		d.Installed = v2.Installed
		d.Owners = v2.Owners
		if d.Installed == nil {
			d.Installed = map[string]InstalledRecord{}
		}
		if d.Owners == nil {
			recomputeOwners(d)
		}
		return d, nil

	case CurrentSchema:
		d := empty()
		if err := json.Unmarshal(b, d); err != nil {
			return nil, xerrors.Errorf("parse db %s: %w", path, err)
		}
		if d.Installed == nil {
			d.Installed = map[string]InstalledRecord{}
		}
		if d.Owners == nil {
			d.Owners = map[string]string{}
		}
		if d.History == nil {
			d.History = map[string][]InstalledRecord{}
		}
		return d, nil

	default:
		return nil, xerrors.Errorf("db %s: unsupported schema %d", path, probe.Schema)
	}
}

func recomputeOwners(d *DB) {
	for full, rec := range d.Installed {
		for path, e := range rec.Manifest {
			if e.Type == manifest.TypeDir {
				continue
			}
			d.Owners[path] = full
		}
	}
}

// Save writes d to path atomically via a temp-file rename, always stamping
// the current schema version.
func Save(path string, d *DB) error {
	d.Schema = CurrentSchema
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, b, 0o644); err != nil {
		return xerrors.Errorf("write db %s: %w", path, err)
	}
	return nil
}

// PushHistory records rec as the new most-recent history entry for full,
// trimming older entries beyond depth.
func (d *DB) PushHistory(full string, rec InstalledRecord, depth int) {
	if d.History == nil {
		d.History = map[string][]InstalledRecord{}
	}
	hist := append([]InstalledRecord{rec}, d.History[full]...)
	if depth > 0 && len(hist) > depth {
		hist = hist[:depth]
	}
	d.History[full] = hist
}

// PopHistory removes and returns the most recent history entry for full, if
// any.
func (d *DB) PopHistory(full string) (InstalledRecord, bool) {
	hist := d.History[full]
	if len(hist) == 0 {
		return InstalledRecord{}, false
	}
	rec := hist[0]
	rest := hist[1:]
	if len(rest) == 0 {
		delete(d.History, full)
	} else {
		d.History[full] = rest
	}
	return rec, true
}

// ExplicitNames returns every package name installed explicitly (not
// pulled in purely as a dependency), sorted.
func (d *DB) ExplicitNames() []string {
	var names []string
	for full, rec := range d.Installed {
		if rec.Explicit {
			names = append(names, full)
		}
	}
	sort.Strings(names)
	return names
}

// SortedInstalled returns every installed package's full name, sorted.
func (d *DB) SortedInstalled() []string {
	names := make([]string, 0, len(d.Installed))
	for full := range d.Installed {
		names = append(names, full)
	}
	sort.Strings(names)
	return names
}
