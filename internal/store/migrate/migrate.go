// Package migrate reads versioned SQL migration files.
package migrate

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

// Migration is a single versioned SQL file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// Label is the version and name as logged, e.g. 0001_init.
func (m Migration) Label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// Applied is a migration already recorded in schema_migrations.
type Applied struct {
	Version  int
	Name     string
	Checksum string
}

var filePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Load reads every NNNN_name.sql file at the root of fsys, sorted by
// version. Files that do not match the pattern are ignored.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := filePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("invalid version in %s: %w", entry.Name(), err)
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: entry.Name(),
			SQL:      string(content),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Pending returns the migrations not yet applied. A recorded migration whose
// checksum differs from the file is an error: applied files must not change.
func Pending(all []Migration, applied []Applied) ([]Migration, error) {
	done := make(map[int]Applied, len(applied))
	for _, a := range applied {
		done[a.Version] = a
	}

	var pending []Migration
	for _, m := range all {
		a, ok := done[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if a.Checksum != "" && a.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %s was modified after being applied", m.Label())
		}
	}
	return pending, nil
}
