// Package events announces accepted collection writes to other processes.
package events

import (
	"context"
	"errors"

	"shelfkeeper/pkg/domain"
)

// Publisher delivers one change notification.
type Publisher interface {
	Publish(ctx context.Context, change domain.Change) error
	Close() error
}

// NopPublisher drops every change.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.Change) error { return nil }
func (NopPublisher) Close() error                                 { return nil }

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, change domain.Change) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
