package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MigrationFile describes the up/down pair a create call produced.
type MigrationFile struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// CreateMigration writes an empty up/down SQL pair under migrationsDir.
// Versions are second-resolution timestamps so lexical order matches
// creation order.
func CreateMigration(migrationsDir, name, description string) (*MigrationFile, error) {
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations directory: %w", err)
	}

	now := time.Now()
	version := now.Format("20060102150405")
	base := version + "_" + sanitizeName(name)

	mf := &MigrationFile{
		Version:  version,
		Name:     name,
		UpPath:   filepath.Join(migrationsDir, base+".up.sql"),
		DownPath: filepath.Join(migrationsDir, base+".down.sql"),
	}

	up := migrationHeader(name, description, now, false)
	if err := os.WriteFile(mf.UpPath, []byte(up), 0o644); err != nil {
		return nil, fmt.Errorf("write up migration: %w", err)
	}

	down := migrationHeader(name, description, now, true)
	if err := os.WriteFile(mf.DownPath, []byte(down), 0o644); err != nil {
		// keep the pair consistent: no orphan up file
		_ = os.Remove(mf.UpPath)
		return nil, fmt.Errorf("write down migration: %w", err)
	}

	return mf, nil
}

func migrationHeader(name, description string, createdAt time.Time, rollback bool) string {
	var b strings.Builder
	if rollback {
		fmt.Fprintf(&b, "-- %s (rollback)\n", name)
	} else {
		fmt.Fprintf(&b, "-- %s\n", name)
	}
	fmt.Fprintf(&b, "-- created %s\n", createdAt.Format(time.RFC3339))
	if description != "" {
		if rollback {
			fmt.Fprintf(&b, "-- reverts: %s\n", description)
		} else {
			fmt.Fprintf(&b, "-- %s\n", description)
		}
	}
	b.WriteString("\n")
	return b.String()
}

// sanitizeName lowercases the migration name and collapses everything that
// is not alphanumeric into single underscores.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			s := b.String()
			if len(s) > 0 && !strings.HasSuffix(s, "_") {
				b.WriteByte('_')
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// ListMigrations returns the version-sorted base names of the migrations
// in migrationsDir. A missing directory lists as empty rather than failing.
func ListMigrations(migrationsDir string) ([]string, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	migrations := make([]string, 0, len(entries)/2)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if base, ok := strings.CutSuffix(entry.Name(), ".up.sql"); ok {
			migrations = append(migrations, base)
		}
	}
	sort.Strings(migrations)
	return migrations, nil
}
