package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FilePair is a freshly created up/down migration pair.
type FilePair struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// CreateMigration writes an empty up/down pair into dir, versioned with
// the current timestamp so files sort in creation order.
func CreateMigration(dir, name, description string) (*FilePair, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("migration: create dir: %w", err)
	}

	now := time.Now()
	version := now.Format("20060102150405")
	base := version + "_" + sanitizeName(name)

	pair := &FilePair{
		Version:  version,
		Name:     name,
		UpPath:   filepath.Join(dir, base+".up.sql"),
		DownPath: filepath.Join(dir, base+".down.sql"),
	}

	header := func(suffix, desc string) string {
		return fmt.Sprintf("-- Migration: %s%s\n-- Created: %s\n-- Description: %s\n\n",
			name, suffix, now.Format(time.RFC3339), desc)
	}
	if err := os.WriteFile(pair.UpPath, []byte(header("", description)), 0o644); err != nil {
		return nil, fmt.Errorf("migration: write up file: %w", err)
	}
	if err := os.WriteFile(pair.DownPath, []byte(header(" (Rollback)", "Rollback for "+description)), 0o644); err != nil {
		_ = os.Remove(pair.UpPath)
		return nil, fmt.Errorf("migration: write down file: %w", err)
	}
	return pair, nil
}

// ListMigrations returns the base names of the up migrations in dir,
// sorted by version. A missing directory is an empty list, not an error.
func ListMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("migration: read dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if base, ok := strings.CutSuffix(entry.Name(), ".up.sql"); ok {
			names = append(names, base)
		}
	}
	sort.Strings(names)
	return names, nil
}

// sanitizeName lowercases a migration name and collapses separators to
// single underscores, keeping only [a-z0-9_].
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
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
