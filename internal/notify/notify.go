// Package notify carries change notifications between sessions over Redis
// pub/sub. Subscribers react to "something changed", not to a payload; the
// reaction is always a full scoped reload on the consumer side.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"greenroom/api/internal/logger"
)

// Unsubscribe tears down one subscription. Safe to call more than once.
type Unsubscribe func()

type Feed struct {
	client *redis.Client
	prefix string
}

// NewFeed creates a change feed. client may be nil, which disables
// cross-session notifications (publishes become no-ops).
func NewFeed(client *redis.Client) *Feed {
	return &Feed{client: client, prefix: "changes:"}
}

func (f *Feed) channel(table string) string {
	return f.prefix + table
}

// Publish announces that rows in the named table changed.
func (f *Feed) Publish(ctx context.Context, table string) error {
	if f.client == nil {
		return nil
	}
	if err := f.client.Publish(ctx, f.channel(table), "changed").Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe invokes onChange for every notification on the table until the
// returned Unsubscribe is called. The callback runs on the feed goroutine,
// so it must be quick or hand off.
func (f *Feed) Subscribe(ctx context.Context, table string, onChange func()) (Unsubscribe, error) {
	if f.client == nil {
		return func() {}, nil
	}

	sub := f.client.Subscribe(ctx, f.channel(table))
	// Force the subscription onto the wire before returning so callers
	// never miss a publish that races the setup.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	done := make(chan struct{})
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = msg
				onChange()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			if err := sub.Close(); err != nil {
				logger.Warn("close change subscription", logger.ErrorField(err))
			}
		})
	}, nil
}
