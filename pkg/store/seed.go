package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"shelfkeeper/pkg/datasource"
	"shelfkeeper/pkg/query"
)

// Seed loads every <resource>.json/.yaml/.yml file of dir into s. Records that
// already exist are skipped, so seeding an existing database is harmless.
// It returns the number of records created.
func Seed(ctx context.Context, s Store, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read seed dir: %w", err)
	}
	src := datasource.NewDirSource(dir)
	created := 0
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		resource := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if seen[resource] || !datasource.ValidResource(resource) {
			continue
		}
		seen[resource] = true
		records, err := src.List(ctx, resource, query.Query{})
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", resource, err)
		}
		for _, rec := range records {
			if _, err := s.Create(ctx, resource, rec); err != nil {
				if errors.Is(err, ErrConflict) {
					continue
				}
				return created, fmt.Errorf("seed %s: %w", resource, err)
			}
			created++
		}
	}
	return created, nil
}
