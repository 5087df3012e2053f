package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"greenroom/api/internal/logger"
)

const idxTracks = "greenroom_tracks"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the track index.
// The caller proceeds without search if the instance is unreachable; the
// health loop picks it up when it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", logger.String("url", url), logger.ErrorField(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTracks,
		PrimaryKey: "id",
	}); err != nil {
		logger.Warn("create track index (may already exist)", logger.ErrorField(err))
	}

	index := m.client.Index(idxTracks)
	filterable := []interface{}{"organizationId", "recipientUserId", "phase", "archived"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		logger.Warn("update filterable attrs", logger.ErrorField(err))
	}
	searchable := []string{"title", "artistName", "genre"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		logger.Warn("update searchable attrs", logger.ErrorField(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// scopeFilters translates a workspace filter into Meilisearch filter
// expressions. An empty scope returns ok=false: nothing may match.
func scopeFilters(q Query) ([]string, bool) {
	f := q.Scope
	switch {
	case f.Empty:
		return nil, false
	case f.Unscoped:
		return nil, true
	case f.PersonalOwnerID != "":
		return []string{
			`organizationId = ""`,
			fmt.Sprintf("recipientUserId = %q", f.PersonalOwnerID),
		}, true
	default:
		quoted := make([]string, len(f.OrgIDs))
		for i, id := range f.OrgIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		return []string{"organizationId IN [" + strings.Join(quoted, ", ") + "]"}, true
	}
}

// Search queries the track index under the caller's scope.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	filters, ok := scopeFilters(q)
	if !ok {
		return nil, 0, nil
	}
	if q.FilterPhase != "" {
		filters = append(filters, fmt.Sprintf("phase = %q", q.FilterPhase))
	}
	if !q.IncludeVaults {
		filters = append(filters, "archived = false")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		Filter:                filters,
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	resp, err := m.client.Index(idxTracks).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:         decodeString(hit, "id"),
		ArtistName: decodeString(hit, "artistName"),
		Genre:      decodeString(hit, "genre"),
		Phase:      decodeString(hit, "phase"),
		Archived:   decodeBool(hit, "archived"),
	}
	r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "artistName"), decodeString(hit, "artistName"))
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return false
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexTrack adds or updates a track in the search index.
func (m *Meili) IndexTrack(t TrackRecord) error {
	_, err := m.client.Index(idxTracks).AddDocuments([]TrackRecord{t}, nil)
	return err
}

// IndexTracks bulk-indexes tracks.
func (m *Meili) IndexTracks(tracks []TrackRecord) error {
	if len(tracks) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTracks).AddDocuments(tracks, nil)
	return err
}

// DeleteTrack removes a track from the search index.
func (m *Meili) DeleteTrack(id string) error {
	_, err := m.client.Index(idxTracks).DeleteDocument(id, nil)
	return err
}
