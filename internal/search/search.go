package search

import "greenroom/api/internal/scope"

// Result is a single track hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	ArtistName string `json:"artistName"`
	Genre      string `json:"genre"`
	Phase      string `json:"phase"`
	Archived   bool   `json:"archived"`
}

// Query describes a search request. Scope is mandatory: every search runs
// under the caller's workspace filter.
type Query struct {
	Text          string
	Scope         scope.Filter
	FilterPhase   string // empty = all phases
	IncludeVaults bool   // archived tracks are excluded unless set
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over tracks.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push tracks into a search index.
type Indexer interface {
	IndexTrack(t TrackRecord) error
	DeleteTrack(id string) error
}

// TrackRecord is the data we index for a track. OrganizationID is the empty
// string for personal-inbox tracks so the scope filter stays expressible in
// index-side filter syntax.
type TrackRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	ArtistName      string `json:"artistName"`
	Genre           string `json:"genre"`
	Phase           string `json:"phase"`
	Archived        bool   `json:"archived"`
	OrganizationID  string `json:"organizationId"`
	RecipientUserID string `json:"recipientUserId"`
}
