package datasource

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config selects and configures the backing source.
type Config struct {
	Mode    Mode
	Dir     string
	Bucket  BucketConfig
	MockURL string
	APIURL  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Open builds a Gateway for cfg.Mode. Local mode reads from the bucket when a
// bucket endpoint is configured and from cfg.Dir otherwise.
func Open(cfg Config) (*Gateway, error) {
	switch cfg.Mode {
	case ModeLocal:
		if strings.TrimSpace(cfg.Bucket.Endpoint) != "" {
			src, err := NewBucketSource(cfg.Bucket)
			if err != nil {
				return nil, err
			}
			return NewGateway(ModeLocal, src, nil, cfg.Logger), nil
		}
		if strings.TrimSpace(cfg.Dir) == "" {
			return nil, errors.New("local mode requires a data directory or bucket")
		}
		return NewGateway(ModeLocal, NewDirSource(cfg.Dir), nil, cfg.Logger), nil
	case ModeMock:
		return openREST(ModeMock, cfg.MockURL, cfg)
	case ModeAPI:
		return openREST(ModeAPI, cfg.APIURL, cfg)
	default:
		return nil, fmt.Errorf("unknown data mode %q", cfg.Mode)
	}
}

func openREST(mode Mode, baseURL string, cfg Config) (*Gateway, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%s mode requires a base URL", mode)
	}
	src := NewRESTSource(baseURL, cfg.Timeout)
	return NewGateway(mode, src, src, cfg.Logger), nil
}
