package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupFeed(t *testing.T) (*Feed, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewFeed(client), s
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	feed, s := setupFeed(t)
	defer s.Close()
	ctx := context.Background()

	notified := make(chan struct{}, 1)
	unsub, err := feed.Subscribe(ctx, "tracks", func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	if err := feed.Publish(ctx, "tracks"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitFor(t, notified)
}

func TestTablesAreIsolated(t *testing.T) {
	feed, s := setupFeed(t)
	defer s.Close()
	ctx := context.Background()

	notified := make(chan struct{}, 1)
	unsub, err := feed.Subscribe(ctx, "votes", func() {
		notified <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	if err := feed.Publish(ctx, "tracks"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case <-notified:
		t.Fatalf("votes subscriber must not see tracks changes")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	feed, s := setupFeed(t)
	defer s.Close()
	ctx := context.Background()

	notified := make(chan struct{}, 4)
	unsub, err := feed.Subscribe(ctx, "tracks", func() {
		notified <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := feed.Publish(ctx, "tracks"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitFor(t, notified)

	unsub()
	// Calling it again must be harmless.
	unsub()

	if err := feed.Publish(ctx, "tracks"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case <-notified:
		t.Fatalf("unsubscribed callback must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeIsSafeConcurrently(t *testing.T) {
	feed, s := setupFeed(t)
	defer s.Close()
	ctx := context.Background()

	unsub, err := feed.Subscribe(ctx, "tracks", func() {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
}

func TestNilClientIsNoop(t *testing.T) {
	feed := NewFeed(nil)
	ctx := context.Background()

	unsub, err := feed.Subscribe(ctx, "tracks", func() {
		t.Fatalf("no-op feed must never deliver")
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	if err := feed.Publish(ctx, "tracks"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}
