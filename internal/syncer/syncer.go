// Package syncer keeps per-workspace in-memory track snapshots consistent
// with the database. Snapshots are keyed by the resolved scope filter, so
// one workspace's view never serves another tenant's tracks. It never
// applies deltas: every change notification or scope switch triggers a full
// reload of the scoped set, which keeps a snapshot correct even when
// notifications are lost or arrive out of order.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"greenroom/api/internal/logger"
	"greenroom/api/internal/notify"
	"greenroom/api/internal/scope"
	"greenroom/api/internal/store"
)

type dataSource interface {
	ListTracks(ctx context.Context, filter scope.Filter, orderBy string) ([]store.Track, error)
	GetTrack(ctx context.Context, trackID string) (store.Track, error)
}

type changeFeed interface {
	Subscribe(ctx context.Context, table string, onChange func()) (notify.Unsubscribe, error)
}

// scopeView is one workspace's snapshot plus its change subscription.
type scopeView struct {
	filter      scope.Filter
	tracks      []store.Track
	loading     bool
	lastReload  time.Time
	unsubscribe notify.Unsubscribe
}

type Coordinator struct {
	source   dataSource
	feed     changeFeed
	cooldown time.Duration

	mu     sync.Mutex
	scopes map[string]*scopeView

	now func() time.Time
}

// NewCoordinator creates an idle coordinator. A scope's view is created and
// loaded the first time that scope is set or read.
func NewCoordinator(source dataSource, feed changeFeed, cooldown time.Duration) *Coordinator {
	return &Coordinator{
		source:   source,
		feed:     feed,
		cooldown: cooldown,
		scopes:   make(map[string]*scopeView),
		now:      time.Now,
	}
}

// SetScope (re)builds the view for a filter: any previous subscription
// under the same key is torn down before the new one is registered, so two
// subscriptions never run side by side for one scope, then the snapshot is
// rebuilt from scratch. Other scopes' views are untouched.
func (c *Coordinator) SetScope(ctx context.Context, filter scope.Filter) error {
	key := filter.Key()
	c.mu.Lock()
	view, ok := c.scopes[key]
	if !ok {
		view = &scopeView{filter: filter}
		c.scopes[key] = view
	}
	if view.unsubscribe != nil {
		view.unsubscribe()
		view.unsubscribe = nil
	}
	view.tracks = nil
	c.mu.Unlock()

	unsub, err := c.feed.Subscribe(ctx, "tracks", func() {
		go func() {
			if err := c.Reload(context.Background(), filter); err != nil {
				logger.Warn("reload after change notification",
					logger.String("scope", key), logger.ErrorField(err))
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe to track changes: %w", err)
	}

	c.mu.Lock()
	view.unsubscribe = unsub
	c.mu.Unlock()

	return c.Reload(ctx, filter)
}

// ensure registers a view for the filter if none exists yet.
func (c *Coordinator) ensure(ctx context.Context, filter scope.Filter) error {
	c.mu.Lock()
	_, ok := c.scopes[filter.Key()]
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.SetScope(ctx, filter)
}

// Reload replaces one scope's snapshot with a fresh scoped read. A single
// transient failure is retried once before the error surfaces; the previous
// snapshot stays in place on failure. Reloading a scope with no view is a
// no-op.
func (c *Coordinator) Reload(ctx context.Context, filter scope.Filter) error {
	key := filter.Key()
	c.mu.Lock()
	view, ok := c.scopes[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	view.loading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		view.loading = false
		c.mu.Unlock()
	}()

	tracks, err := c.source.ListTracks(ctx, filter, "")
	if err != nil {
		logger.Warn("scoped reload failed, retrying once",
			logger.String("scope", key), logger.ErrorField(err))
		tracks, err = c.source.ListTracks(ctx, filter, "")
	}
	if err != nil {
		return fmt.Errorf("reload tracks: %w", err)
	}

	c.mu.Lock()
	// The view may have been rebuilt while the read was in flight; only the
	// view currently registered under this key takes the result.
	if current, ok := c.scopes[key]; ok {
		current.tracks = tracks
		current.lastReload = c.now()
	}
	c.mu.Unlock()
	return nil
}

// Resume is called when a session returns to the foreground. Reloads are
// throttled per scope: if that snapshot was refreshed within the cooldown,
// the resume is a no-op.
func (c *Coordinator) Resume(ctx context.Context, filter scope.Filter) error {
	if err := c.ensure(ctx, filter); err != nil {
		return err
	}
	c.mu.Lock()
	view := c.scopes[filter.Key()]
	recent := view != nil && c.now().Sub(view.lastReload) < c.cooldown
	c.mu.Unlock()
	if recent {
		return nil
	}
	return c.Reload(ctx, filter)
}

// Reconcile refetches a single track after a local mutation so snapshots
// reflect server-derived fields (vote totals, timestamps) without waiting
// for the next notification. Every view is updated, but a track only lands
// in views whose filter it matches; a track that no longer exists is
// dropped everywhere.
func (c *Coordinator) Reconcile(ctx context.Context, trackID string) error {
	track, err := c.source.GetTrack(ctx, trackID)
	if errors.Is(err, sql.ErrNoRows) {
		c.mu.Lock()
		for _, view := range c.scopes {
			view.tracks = removeTrack(view.tracks, trackID)
		}
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile track: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, view := range c.scopes {
		if !view.filter.Matches(track.OrganizationID, track.RecipientUserID) {
			view.tracks = removeTrack(view.tracks, trackID)
			continue
		}
		replaced := false
		for i := range view.tracks {
			if view.tracks[i].ID == trackID {
				view.tracks[i] = track
				replaced = true
				break
			}
		}
		if !replaced {
			view.tracks = append(view.tracks, track)
		}
	}
	return nil
}

// Snapshot returns a copy of the filter's current snapshot plus whether a
// reload is in flight, creating and loading the view on first access. An
// empty (failed-closed) filter always reads as no tracks.
func (c *Coordinator) Snapshot(ctx context.Context, filter scope.Filter) ([]store.Track, bool, error) {
	if filter.Empty {
		return []store.Track{}, false, nil
	}
	if err := c.ensure(ctx, filter); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	view, ok := c.scopes[filter.Key()]
	if !ok {
		return []store.Track{}, false, nil
	}
	out := make([]store.Track, len(view.tracks))
	copy(out, view.tracks)
	return out, view.loading, nil
}

// Close tears down every active subscription.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, view := range c.scopes {
		if view.unsubscribe != nil {
			view.unsubscribe()
			view.unsubscribe = nil
		}
	}
}

func removeTrack(tracks []store.Track, trackID string) []store.Track {
	for i := range tracks {
		if tracks[i].ID == trackID {
			return append(tracks[:i], tracks[i+1:]...)
		}
	}
	return tracks
}
