package search

import (
	"context"

	"greenroom/api/internal/logger"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logger.Warn("meilisearch error, falling back to pgfts", logger.ErrorField(err))
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		logger.Error("pgfts search", logger.ErrorField(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTrack indexes a track (fire-and-forget to Meilisearch).
func (s *Service) IndexTrack(t TrackRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTrack(t); err != nil {
			logger.Warn("index track", logger.String("track", t.ID), logger.ErrorField(err))
		}
	}()
}

// DeleteTrack removes a track from the search index (fire-and-forget).
func (s *Service) DeleteTrack(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTrack(id); err != nil {
			logger.Warn("delete track from index", logger.String("track", id), logger.ErrorField(err))
		}
	}()
}

// ReindexAllFromPG reads every track from Postgres and pushes it to
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	tracks, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		logger.Warn("reindex load failed", logger.ErrorField(err))
		return
	}
	if err := s.meili.IndexTracks(tracks); err != nil {
		logger.Warn("reindex tracks", logger.ErrorField(err))
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
