// Package events publishes order and driver events after successful writes.
package events

import (
	"context"
	"errors"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/notify"
)

type Publisher interface {
	Publish(ctx context.Context, e models.OrderEvent) error
	Close() error
}

// FeedPublisher turns events into notifications in-process. It is used when
// no broker is configured.
type FeedPublisher struct {
	Feed notify.Feed
}

func (f *FeedPublisher) Publish(ctx context.Context, e models.OrderEvent) error {
	return f.Feed.Append(ctx, notify.FromEvent(e)...)
}

func (f *FeedPublisher) Close() error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e models.OrderEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
