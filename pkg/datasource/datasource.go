// Package datasource resolves logical resource names ("books", "users", ...)
// to a concrete backing source and returns normalized collections.
//
// Three modes are supported: "local" reads one static file per resource from
// a directory or an object storage bucket, "mock" talks to a REST-shaped
// collection server, and "api" talks to the production backend with the same
// REST shape. Only the REST modes accept writes.
//
// Gateway.Fetch never fails: any fetch error is logged and reported as an
// empty collection, so callers cannot tell "empty" from "unavailable".
package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/query"
)

// Mode selects the backing source of a Gateway.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeMock  Mode = "mock"
	ModeAPI   Mode = "api"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLocal:
		return ModeLocal, nil
	case ModeMock:
		return ModeMock, nil
	case ModeAPI:
		return ModeAPI, nil
	default:
		return "", fmt.Errorf("unknown data mode %q (want local, mock or api)", s)
	}
}

// ErrInvalidResource is returned for resource names that are not plain identifiers.
var ErrInvalidResource = errors.New("invalid resource name")

var resourcePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidResource reports whether name can be used as a resource name.
func ValidResource(name string) bool {
	return resourcePattern.MatchString(name)
}

// Source lists the records of one resource.
type Source interface {
	List(ctx context.Context, resource string, q query.Query) ([]domain.Record, error)
}

// Writer persists collection writes. Only REST-backed modes provide one.
type Writer interface {
	Create(ctx context.Context, resource string, rec domain.Record) (domain.Record, error)
	Update(ctx context.Context, resource string, id int64, rec domain.Record) (domain.Record, error)
	Delete(ctx context.Context, resource string, id int64) error
}

// Fetcher is the read side of a Gateway as seen by its consumers.
type Fetcher interface {
	Fetch(ctx context.Context, resource string) []domain.Record
	Query(ctx context.Context, resource string, q query.Query) []domain.Record
}

// Gateway is the single entry point for collection reads.
type Gateway struct {
	mode   Mode
	source Source
	writer Writer
	logger *slog.Logger
}

// NewGateway wires a source (and an optional writer) behind the Fetch contract.
func NewGateway(mode Mode, source Source, writer Writer, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		mode:   mode,
		source: source,
		writer: writer,
		logger: logger.With("component", "datasource", "mode", string(mode)),
	}
}

// Mode returns the configured data mode.
func (g *Gateway) Mode() Mode {
	return g.mode
}

// Writer returns the write-through target, or nil in local mode.
func (g *Gateway) Writer() Writer {
	return g.writer
}

// Fetch returns the whole collection for resource.
func (g *Gateway) Fetch(ctx context.Context, resource string) []domain.Record {
	return g.Query(ctx, resource, query.Query{})
}

// Query returns the selected part of a collection. Failures yield an empty,
// non-nil slice.
func (g *Gateway) Query(ctx context.Context, resource string, q query.Query) []domain.Record {
	records, err := g.QueryErr(ctx, resource, q)
	if err != nil {
		g.logger.WarnContext(ctx, "fetch failed", "resource", resource, "err", err)
		return []domain.Record{}
	}
	return records
}

// QueryErr is Query without the failure masking, for callers that must not
// mistake an unavailable collection for an empty one.
func (g *Gateway) QueryErr(ctx context.Context, resource string, q query.Query) ([]domain.Record, error) {
	if !ValidResource(resource) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResource, resource)
	}
	records, err := g.source.List(ctx, resource, q)
	if err != nil {
		return nil, err
	}
	if records == nil {
		return []domain.Record{}, nil
	}
	return records, nil
}

// FetchAs fetches resource and decodes it into typed values. A decode failure
// is treated like a fetch failure.
func FetchAs[T any](ctx context.Context, f Fetcher, resource string, q query.Query) []T {
	out, err := Decode[T](f.Query(ctx, resource, q))
	if err != nil {
		slog.WarnContext(ctx, "decode failed", "component", "datasource", "resource", resource, "err", err)
		return []T{}
	}
	return out
}

// QueryAs is the failure-reporting counterpart of FetchAs.
func QueryAs[T any](ctx context.Context, g *Gateway, resource string, q query.Query) ([]T, error) {
	records, err := g.QueryErr(ctx, resource, q)
	if err != nil {
		return nil, err
	}
	out, err := Decode[T](records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", resource, err)
	}
	return out, nil
}

// Decode converts untyped records into T via their JSON form.
func Decode[T any](records []domain.Record) ([]T, error) {
	out := make([]T, 0, len(records))
	if len(records) == 0 {
		return out, nil
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return out, nil
}

// Encode converts a typed value into a record.
func Encode(v any) (domain.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

// normalize parses a payload into a sequence of records. A single object
// becomes a one-element sequence and null becomes an empty one.
func normalize(data []byte, f format) ([]domain.Record, error) {
	var raw any
	switch f {
	case formatYAML:
		var y any
		if err := yaml.Unmarshal(data, &y); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		// Round-trip through JSON so numbers and maps look the same as in JSON payloads.
		converted, err := json.Marshal(y)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		data = converted
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	switch v := raw.(type) {
	case nil:
		return []domain.Record{}, nil
	case map[string]any:
		return []domain.Record{domain.Record(v)}, nil
	case []any:
		out := make([]domain.Record, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is not an object", i)
			}
			out = append(out, domain.Record(obj))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected payload type %T", raw)
	}
}
