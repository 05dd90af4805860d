package events

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"shelfkeeper/pkg/domain"
)

const DefaultStream = "shelfkeeper:changes"

type StreamConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
	Block    time.Duration
}

// Stream appends changes to a Redis stream and lets other processes follow it.
type Stream struct {
	client *redis.Client
	stream string
	maxLen int64
	block  time.Duration
}

func NewStream(cfg StreamConfig) (*Stream, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = DefaultStream
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	return &Stream{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
		block:  block,
	}, nil
}

func (s *Stream) Publish(ctx context.Context, change domain.Change) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"resource": change.Resource,
			"id":       strconv.FormatInt(change.ID, 10),
			"op":       string(change.Op),
			"at":       change.At.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Follow calls handler for every change appended after Follow started, until
// ctx is done. Undecodable entries are skipped.
func (s *Stream) Follow(ctx context.Context, logger *slog.Logger, handler func(context.Context, domain.Change)) {
	if logger == nil {
		logger = slog.Default()
	}
	last := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.stream, last},
			Count:   100,
			Block:   s.block,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			logger.WarnContext(ctx, "change stream read failed", "stream", s.stream, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, st := range streams {
			for _, msg := range st.Messages {
				last = msg.ID
				change, ok := decodeChange(msg.Values)
				if !ok {
					continue
				}
				handler(ctx, change)
			}
		}
	}
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func decodeChange(values map[string]any) (domain.Change, bool) {
	resource, _ := values["resource"].(string)
	rawID, _ := values["id"].(string)
	op, _ := values["op"].(string)
	if resource == "" || op == "" {
		return domain.Change{}, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return domain.Change{}, false
	}
	change := domain.Change{Resource: resource, ID: id, Op: domain.ChangeOp(op)}
	if v, _ := values["at"].(string); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			change.At = t
		}
	}
	return change, true
}
