// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Dialect selects the set of scripts written for one database engine.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed postgres/*.sql sqlite/*.sql
var embeddedFiles embed.FS

var namePattern = regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.sql$`)

type File struct {
	Version int
	Name    string
	SQL     string
	// Checksum is the hex SHA-256 of SQL. Stores record it so an edited
	// migration is caught instead of silently skipped.
	Checksum string
}

// Ordered returns the migrations for d sorted by version.
func Ordered(d Dialect) ([]File, error) {
	return ordered(embeddedFiles, d)
}

func ordered(fsys fs.FS, d Dialect) ([]File, error) {
	dir := string(d)
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", d, err)
	}

	files := make([]File, 0, len(entries))
	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		m := namePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("migration %s/%s: name must look like 0001_description.sql", dir, entry.Name())
		}
		version, _ := strconv.Atoi(m[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %s/%s: version %d already used by %s", dir, entry.Name(), version, prev)
		}
		seen[version] = entry.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(body)

		files = append(files, File{
			Version:  version,
			Name:     entry.Name(),
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	slices.SortFunc(files, func(a, b File) int {
		return a.Version - b.Version
	})

	return files, nil
}
