package datasource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/query"
)

// fileExtensions are tried in order when resolving a resource file.
var fileExtensions = []struct {
	ext    string
	format format
}{
	{".json", formatJSON},
	{".yaml", formatYAML},
	{".yml", formatYAML},
}

// DirSource serves static per-resource files from a directory.
type DirSource struct {
	dir string
}

// NewDirSource builds a source reading <dir>/<resource>.{json,yaml,yml}.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// List reads and filters the resource file.
func (s *DirSource) List(ctx context.Context, resource string, q query.Query) ([]domain.Record, error) {
	if !ValidResource(resource) {
		return nil, ErrInvalidResource
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, candidate := range fileExtensions {
		path := filepath.Join(s.dir, resource+candidate.ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		records, err := normalize(data, candidate.format)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		page, _ := q.Apply(records)
		return page, nil
	}
	return nil, fmt.Errorf("resource %q: %w", resource, fs.ErrNotExist)
}
