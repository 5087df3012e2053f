package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"greenroom/api/internal/analytics"
	"greenroom/api/internal/export"
	"greenroom/api/internal/logger"
	"greenroom/api/internal/notify"
	"greenroom/api/internal/pipeline"
	"greenroom/api/internal/quota"
	"greenroom/api/internal/rbac"
	"greenroom/api/internal/scope"
	"greenroom/api/internal/search"
	"greenroom/api/internal/store"
	"greenroom/api/internal/syncer"
	"greenroom/api/internal/util"
)

// Session is one authenticated caller plus the workspace they are acting
// in. The workspace is threaded through every call rather than held as
// process state, so one service instance can serve many tenants.
type Session struct {
	StaffID     string
	SystemAdmin bool
	Workspace   *scope.Workspace
}

func (s Session) identity() scope.Identity {
	return scope.Identity{StaffID: s.StaffID, SystemAdmin: s.SystemAdmin}
}

type CreateTrackInput struct {
	Title             string     `json:"title"`
	ArtistName        string     `json:"artistName"`
	Genre             string     `json:"genre"`
	BPM               int        `json:"bpm"`
	Energy            int        `json:"energy"`
	TargetReleaseDate *time.Time `json:"targetReleaseDate"`
}

type SearchInput struct {
	Text   string
	Phase  string
	Limit  int
	Offset int
}

type dataStore interface {
	GetStaff(ctx context.Context, staffID string) (store.Staff, error)
	GetMembership(ctx context.Context, staffID, orgID string) (store.Membership, error)
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	ListOrganizationIDs(ctx context.Context) ([]string, error)
	ExpandOrgHierarchy(ctx context.Context, orgID string) ([]string, error)

	ListTracks(ctx context.Context, filter scope.Filter, orderBy string) ([]store.Track, error)
	GetTrack(ctx context.Context, trackID string) (store.Track, error)
	InsertTrack(ctx context.Context, t store.Track) error
	AdvanceTrackPhase(ctx context.Context, trackID string, next pipeline.Phase, markSecondListen, snapshotRelease bool) error
	ArchiveTrack(ctx context.Context, trackID, reason string) error
	SetTrackEnergy(ctx context.Context, trackID string, energy int) error
	SetTrackContractSigned(ctx context.Context, trackID string, signed bool) error
	SetTrackTargetReleaseDate(ctx context.Context, trackID string, target *time.Time) error
	SetTrackWatched(ctx context.Context, trackID string, watched bool) error
	ListDueUpcoming(ctx context.Context, filter scope.Filter, now time.Time) ([]store.Track, error)
	ListPersonalOwnersWithDue(ctx context.Context, now time.Time) ([]string, error)
	ListArchived(ctx context.Context, filter scope.Filter) ([]store.Track, error)

	GetVote(ctx context.Context, trackID, voterID string) (int, error)
	InsertVote(ctx context.Context, vote store.Vote) error
	DeleteVote(ctx context.Context, trackID, voterID string) error
	RecomputeVoteTotal(ctx context.Context, trackID string) (int, error)

	InsertListenEvent(ctx context.Context, event store.ListenEvent) error

	ArtistExists(ctx context.Context, filter scope.Filter, name string) (bool, error)
	InsertArtist(ctx context.Context, artist store.Artist) error

	Ping(ctx context.Context) error
}

type Service struct {
	store    dataStore
	resolver *scope.Resolver
	analyzer *analytics.Analyzer
	limiter  *quota.Limiter
	feed     *notify.Feed
	sync     *syncer.Coordinator
	search   *search.Service
	export   *export.Service
	now      func() time.Time
}

func New(
	dataStore *store.PostgresStore,
	resolver *scope.Resolver,
	analyzer *analytics.Analyzer,
	limiter *quota.Limiter,
	feed *notify.Feed,
	coordinator *syncer.Coordinator,
	searchService *search.Service,
	exportService *export.Service,
) *Service {
	return &Service{
		store:    dataStore,
		resolver: resolver,
		analyzer: analyzer,
		limiter:  limiter,
		feed:     feed,
		sync:     coordinator,
		search:   searchService,
		export:   exportService,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// scopeFor resolves the session's workspace into a filter. Failures come
// back as SCOPE_RESOLUTION_FAILED and the filter is already failed closed.
func (s *Service) scopeFor(ctx context.Context, session Session) (scope.Filter, error) {
	filter, err := s.resolver.Resolve(ctx, session.identity(), session.Workspace)
	if err != nil {
		logger.Warn("scope resolution failed",
			logger.String("staff", session.StaffID), logger.ErrorField(err))
		return filter, scopeError(err)
	}
	return filter, nil
}

// permissionsFor returns the caller's capabilities in the active workspace.
// A personal workspace grants everything over the caller's own inbox; an
// organization workspace reads the membership row.
func (s *Service) permissionsFor(ctx context.Context, session Session) (rbac.Permissions, error) {
	if session.Workspace == nil {
		if session.SystemAdmin {
			return rbac.All(), nil
		}
		return rbac.Permissions{}, forbiddenError()
	}
	if session.Workspace.Kind == scope.KindPersonal {
		return rbac.All(), nil
	}

	membership, err := s.store.GetMembership(ctx, session.StaffID, session.Workspace.OrgID)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Permissions{}, forbiddenError()
	}
	if err != nil {
		return rbac.Permissions{}, fmt.Errorf("load membership: %w", err)
	}
	return membership.Permissions, nil
}

func trackInScope(t store.Track, f scope.Filter) bool {
	return f.Matches(t.OrganizationID, t.RecipientUserID)
}

// scopedTrack loads a track and verifies the session can see it. Tracks
// outside the active workspace read as not found, never as forbidden, so
// existence does not leak across tenants.
func (s *Service) scopedTrack(ctx context.Context, session Session, trackID string) (store.Track, scope.Filter, error) {
	filter, err := s.scopeFor(ctx, session)
	if err != nil {
		return store.Track{}, filter, err
	}
	track, err := s.store.GetTrack(ctx, trackID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Track{}, filter, notFoundError()
	}
	if err != nil {
		return store.Track{}, filter, fmt.Errorf("load track: %w", err)
	}
	if !trackInScope(track, filter) {
		return store.Track{}, filter, notFoundError()
	}
	return track, filter, nil
}

func (s *Service) ListTracks(ctx context.Context, session Session, orderBy string) ([]store.Track, error) {
	filter, err := s.scopeFor(ctx, session)
	if err != nil {
		return nil, err
	}
	return s.store.ListTracks(ctx, filter, orderBy)
}

func (s *Service) GetTrack(ctx context.Context, session Session, trackID string) (store.Track, error) {
	track, _, err := s.scopedTrack(ctx, session, trackID)
	return track, err
}

func (s *Service) ListArchived(ctx context.Context, session Session) ([]store.Track, error) {
	filter, err := s.scopeFor(ctx, session)
	if err != nil {
		return nil, err
	}
	perms, err := s.permissionsFor(ctx, session)
	if err != nil {
		return nil, err
	}
	if !perms.CanAccessArchive {
		return nil, forbiddenError()
	}
	return s.store.ListArchived(ctx, filter)
}

// creationOrg is the organization a new resource lands in, or "" for a
// personal workspace. A specific subsidiary selection creates in the
// subsidiary; "all" creates in the root.
func creationOrg(workspace *scope.Workspace) string {
	if workspace == nil || workspace.Kind != scope.KindOrganization {
		return ""
	}
	if workspace.Subsidiary != "" && workspace.Subsidiary != scope.SubsidiaryAll {
		return workspace.Subsidiary
	}
	return workspace.OrgID
}

// CreateTrack makes a new track in the inbox, quota-gated on the tracks
// class and, when the artist is new to the workspace, the artists class.
func (s *Service) CreateTrack(ctx context.Context, session Session, input CreateTrackInput) (store.Track, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Track{}, validationError("title is required")
	}
	if strings.TrimSpace(input.ArtistName) == "" {
		return store.Track{}, validationError("artistName is required")
	}

	filter, err := s.scopeFor(ctx, session)
	if err != nil {
		return store.Track{}, err
	}
	if filter.Empty || filter.Unscoped {
		return store.Track{}, forbiddenError()
	}

	orgID := creationOrg(session.Workspace)
	check, err := s.limiter.Allow(ctx, orgID, quota.ResourceTracks)
	if err != nil {
		return store.Track{}, fmt.Errorf("check track quota: %w", err)
	}
	if !check.Allowed {
		return store.Track{}, quotaError(check.Resource, check.Limit, check.Current)
	}

	exists, err := s.store.ArtistExists(ctx, filter, input.ArtistName)
	if err != nil {
		return store.Track{}, fmt.Errorf("check artist: %w", err)
	}
	if !exists {
		artistCheck, err := s.limiter.Allow(ctx, orgID, quota.ResourceArtists)
		if err != nil {
			return store.Track{}, fmt.Errorf("check artist quota: %w", err)
		}
		if !artistCheck.Allowed {
			return store.Track{}, quotaError(artistCheck.Resource, artistCheck.Limit, artistCheck.Current)
		}
		artist := store.Artist{ID: util.NewID("ar"), Name: input.ArtistName}
		if orgID != "" {
			artist.OrganizationID = &orgID
		} else {
			owner := session.StaffID
			artist.OwnerUserID = &owner
		}
		if err := s.store.InsertArtist(ctx, artist); err != nil {
			return store.Track{}, fmt.Errorf("insert artist: %w", err)
		}
	}

	track := store.Track{
		ID:                util.NewID("tr"),
		Title:             strings.TrimSpace(input.Title),
		ArtistName:        strings.TrimSpace(input.ArtistName),
		Genre:             input.Genre,
		BPM:               input.BPM,
		Energy:            input.Energy,
		Phase:             pipeline.PhaseInbox,
		TargetReleaseDate: input.TargetReleaseDate,
	}
	if orgID != "" {
		track.OrganizationID = &orgID
	} else {
		owner := session.StaffID
		track.RecipientUserID = &owner
	}

	if err := s.store.InsertTrack(ctx, track); err != nil {
		return store.Track{}, fmt.Errorf("insert track: %w", err)
	}

	s.afterTrackWrite(ctx, track.ID)
	return s.refetch(ctx, track.ID)
}

// CastVote applies one signed opinion. A changed value replaces the
// existing row, zero retracts it, and re-casting the held value is a no-op.
// The returned track carries the server-recomputed total, never local
// arithmetic.
func (s *Service) CastVote(ctx context.Context, session Session, trackID string, value int) (store.Track, error) {
	if value < -1 || value > 1 {
		return store.Track{}, validationError("vote value must be -1, 0 or 1")
	}

	track, _, err := s.scopedTrack(ctx, session, trackID)
	if err != nil {
		return store.Track{}, err
	}
	if track.Archived {
		return store.Track{}, gateError(pipeline.ErrArchived)
	}

	perms, err := s.permissionsFor(ctx, session)
	if err != nil {
		return store.Track{}, err
	}
	if !perms.CanVote {
		return store.Track{}, forbiddenError()
	}

	current, err := s.store.GetVote(ctx, trackID, session.StaffID)
	if err != nil {
		return store.Track{}, fmt.Errorf("read current vote: %w", err)
	}
	if value == current {
		// Re-casting the held value changes nothing; skip the write and
		// just hand back the authoritative state.
		return s.refetch(ctx, trackID)
	}
	if current != 0 {
		if err := s.store.DeleteVote(ctx, trackID, session.StaffID); err != nil {
			return store.Track{}, fmt.Errorf("delete vote: %w", err)
		}
	}
	if value != 0 {
		vote := store.Vote{
			TrackID:        trackID,
			VoterID:        session.StaffID,
			OrganizationID: track.OrganizationID,
			Value:          value,
		}
		if err := s.store.InsertVote(ctx, vote); err != nil {
			return store.Track{}, fmt.Errorf("insert vote: %w", err)
		}
	}

	if _, err := s.store.RecomputeVoteTotal(ctx, trackID); err != nil {
		return store.Track{}, fmt.Errorf("recompute vote total: %w", err)
	}

	s.publish(ctx, "votes")
	s.afterTrackWrite(ctx, trackID)
	return s.refetch(ctx, trackID)
}

// AdvanceTrack moves a track one phase forward, running every gate. The
// final hop into the vault is additionally quota-gated.
func (s *Service) AdvanceTrack(ctx context.Context, session Session, trackID string) (store.Track, error) {
	track, _, err := s.scopedTrack(ctx, session, trackID)
	if err != nil {
		return store.Track{}, err
	}
	perms, err := s.permissionsFor(ctx, session)
	if err != nil {
		return store.Track{}, err
	}

	outcome, err := pipeline.Advance(pipeline.State{
		Phase:          track.Phase,
		Archived:       track.Archived,
		Energy:         track.Energy,
		ContractSigned: track.ContractSigned,
	}, perms)
	if err != nil {
		return store.Track{}, gateError(err)
	}

	if outcome.Next == pipeline.PhaseVault && track.OrganizationID != nil {
		check, err := s.limiter.Allow(ctx, *track.OrganizationID, quota.ResourceVault)
		if err != nil {
			return store.Track{}, fmt.Errorf("check vault quota: %w", err)
		}
		if !check.Allowed {
			return store.Track{}, quotaError(check.Resource, check.Limit, check.Current)
		}
	}

	if err := s.store.AdvanceTrackPhase(ctx, trackID, outcome.Next, outcome.MarkSecondListen, outcome.SnapshotRelease); err != nil {
		return store.Track{}, fmt.Errorf("advance track: %w", err)
	}

	s.afterTrackWrite(ctx, trackID)
	return s.refetch(ctx, trackID)
}

// RejectTrack archives a track in place. The phase stays where it was so
// the history survives for reporting.
func (s *Service) RejectTrack(ctx context.Context, session Session, trackID, reason string) (store.Track, error) {
	track, _, err := s.scopedTrack(ctx, session, trackID)
	if err != nil {
		return store.Track{}, err
	}
	perms, err := s.permissionsFor(ctx, session)
	if err != nil {
		return store.Track{}, err
	}

	reasonRequired := false
	if track.OrganizationID != nil {
		org, err := s.store.GetOrganization(ctx, *track.OrganizationID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return store.Track{}, fmt.Errorf("load organization: %w", err)
		}
		reasonRequired = org.RequireRejectionReason
	}

	finalReason, err := pipeline.Reject(pipeline.State{
		Phase:    track.Phase,
		Archived: track.Archived,
	}, strings.TrimSpace(reason), reasonRequired, perms)
	if err != nil {
		return store.Track{}, gateError(err)
	}

	if err := s.store.ArchiveTrack(ctx, trackID, finalReason); err != nil {
		return store.Track{}, fmt.Errorf("archive track: %w", err)
	}

	s.afterTrackWrite(ctx, trackID)
	return s.refetch(ctx, trackID)
}

func (s *Service) SetTrackEnergy(ctx context.Context, session Session, trackID string, energy int) (store.Track, error) {
	if energy < 1 || energy > 10 {
		return store.Track{}, validationError("energy must be between 1 and 10")
	}
	track, _, err := s.scopedTrack(ctx, session, trackID)
	if err != nil {
		return store.Track{}, err
	}
	if track.Archived {
		return store.Track{}, gateError(pipeline.ErrArchived)
	}
	perms, err := s.permissionsFor(ctx, session)
	if err != nil {
		return store.Track{}, err
	}
	if !perms.CanSetEnergy {
		return store.Track{}, forbiddenError()
	}

	if err := s.store.SetTrackEnergy(ctx, trackID, energy); err != nil {
		return store.Track{}, fmt.Errorf("set energy: %w", err)
	}
	s.afterTrackWrite(ctx, trackID)
	return s.refetch(ctx, trackID)
}

func (s *Service) SetContractSigned(ctx context.Context, session Session, trackID string, signed bool) (store.Track, error) {
	track, _, err := s.scopedTrack(ctx, session, trackID)
	if err != nil {
		return store.Track{}, err
	}
	if track.Archived {
		return store.Track{}, gateError(pipeline.ErrArchived)
	}
	perms, err := s.permissionsFor(ctx, session)
	if err != nil {
		return store.Track{}, err
	}
	if !perms.CanAdvanceContract {
		return store.Track{}, forbiddenError()
	}

	if err := s.store.SetTrackContractSigned(ctx, trackID, signed); err != nil {
		return store.Track{}, fmt.Errorf("set contract signed: %w", err)
	}
	s.afterTrackWrite(ctx, trackID)
	return s.refetch(ctx, trackID)
}

func (s *Service) SetTargetReleaseDate(ctx context.Context, session Session, trackID string, target *time.Time) (store.Track, error) {
	track, _, err := s.scopedTrack(ctx, session, trackID)
	if err != nil {
		return store.Track{}, err
	}
	if track.Archived {
		return store.Track{}, gateError(pipeline.ErrArchived)
	}
	perms, err := s.permissionsFor(ctx, session)
	if err != nil {
		return store.Track{}, err
	}
	if !perms.CanEditReleaseDate {
		return store.Track{}, forbiddenError()
	}

	if err := s.store.SetTrackTargetReleaseDate(ctx, trackID, target); err != nil {
		return store.Track{}, fmt.Errorf("set target release date: %w", err)
	}
	s.afterTrackWrite(ctx, trackID)
	return s.refetch(ctx, trackID)
}

// LogListen appends an immutable listen event for the analyzer and marks
// the track watched. Archived tracks still accept listens; listening is an
// activity fact, not a mutation of the track's review state.
func (s *Service) LogListen(ctx context.Context, session Session, trackID string) error {
	track, _, err := s.scopedTrack(ctx, session, trackID)
	if err != nil {
		return err
	}

	event := store.ListenEvent{
		ID:             util.NewID("ls"),
		StaffID:        session.StaffID,
		TrackID:        trackID,
		OrganizationID: track.OrganizationID,
	}
	if err := s.store.InsertListenEvent(ctx, event); err != nil {
		return fmt.Errorf("insert listen event: %w", err)
	}
	if !track.Watched {
		if err := s.store.SetTrackWatched(ctx, trackID, true); err != nil {
			return fmt.Errorf("mark watched: %w", err)
		}
	}
	return nil
}

// ComputeLoad reports a staff member's listening load. Staff always see
// their own report; anyone else's requires metrics access.
func (s *Service) ComputeLoad(ctx context.Context, session Session, staffID string) (analytics.LoadReport, error) {
	if staffID == "" {
		staffID = session.StaffID
	}
	filter, err := s.scopeFor(ctx, session)
	if err != nil {
		return analytics.LoadReport{}, err
	}
	if staffID != session.StaffID {
		perms, err := s.permissionsFor(ctx, session)
		if err != nil {
			return analytics.LoadReport{}, err
		}
		if !perms.CanViewMetrics {
			return analytics.LoadReport{}, forbiddenError()
		}
	}
	return s.analyzer.ComputeLoad(ctx, staffID, filter)
}

// ComputeHealth reports organization-wide staffing health. Only meaningful
// in an organization workspace.
func (s *Service) ComputeHealth(ctx context.Context, session Session) (analytics.HealthReport, error) {
	if session.Workspace == nil || session.Workspace.Kind != scope.KindOrganization {
		return analytics.HealthReport{}, validationError("health report requires an organization workspace")
	}
	perms, err := s.permissionsFor(ctx, session)
	if err != nil {
		return analytics.HealthReport{}, err
	}
	if !perms.CanViewMetrics {
		return analytics.HealthReport{}, forbiddenError()
	}
	return s.analyzer.ComputeHealth(ctx, session.Workspace.OrgID)
}

// SwitchWorkspace re-resolves scope for the new workspace, drops the stale
// hierarchy expansion, and primes the workspace's sync view. Any previous
// subscription for that view is torn down inside SetScope.
func (s *Service) SwitchWorkspace(ctx context.Context, session Session, workspace *scope.Workspace) (scope.Filter, error) {
	s.resolver.Reset()
	switched := session
	switched.Workspace = workspace
	filter, err := s.scopeFor(ctx, switched)
	if err != nil {
		return filter, err
	}
	if s.sync != nil {
		if err := s.sync.SetScope(ctx, filter); err != nil {
			return filter, fmt.Errorf("switch sync scope: %w", err)
		}
	}
	return filter, nil
}

// Resume triggers a throttled snapshot refresh for the caller's workspace
// when a session comes back to the foreground.
func (s *Service) Resume(ctx context.Context, session Session) error {
	if s.sync == nil {
		return nil
	}
	filter, err := s.scopeFor(ctx, session)
	if err != nil {
		return err
	}
	return s.sync.Resume(ctx, filter)
}

// Snapshot returns the caller's scoped sync view. The snapshot is keyed by
// the resolved filter, so it never carries another workspace's tracks.
func (s *Service) Snapshot(ctx context.Context, session Session) ([]store.Track, bool, error) {
	filter, err := s.scopeFor(ctx, session)
	if err != nil {
		return nil, false, err
	}
	if s.sync == nil {
		tracks, err := s.store.ListTracks(ctx, filter, "")
		return tracks, false, err
	}
	return s.sync.Snapshot(ctx, filter)
}

// ReleaseSweep moves every non-archived upcoming track whose release date
// has arrived into the vault, one workspace at a time. Per-workspace errors
// are logged and skipped so one broken tenant never stalls the loop.
// Re-running with nothing due is a no-op.
func (s *Service) ReleaseSweep(ctx context.Context) int {
	now := s.now()
	moved := 0

	orgIDs, err := s.store.ListOrganizationIDs(ctx)
	if err != nil {
		logger.Error("release sweep: list organizations", logger.ErrorField(err))
	}
	for _, orgID := range orgIDs {
		moved += s.sweepScope(ctx, scope.Filter{OrgIDs: []string{orgID}}, orgID, now)
	}

	owners, err := s.store.ListPersonalOwnersWithDue(ctx, now)
	if err != nil {
		logger.Error("release sweep: list personal owners", logger.ErrorField(err))
	}
	for _, owner := range owners {
		moved += s.sweepScope(ctx, scope.Filter{PersonalOwnerID: owner}, "", now)
	}

	if moved > 0 {
		s.publish(ctx, "tracks")
	}
	return moved
}

func (s *Service) sweepScope(ctx context.Context, filter scope.Filter, orgID string, now time.Time) int {
	due, err := s.store.ListDueUpcoming(ctx, filter, now)
	if err != nil {
		logger.Warn("release sweep: list due tracks",
			logger.String("scope", filter.Key()), logger.ErrorField(err))
		return 0
	}

	moved := 0
	for _, track := range due {
		if orgID != "" {
			check, err := s.limiter.Allow(ctx, orgID, quota.ResourceVault)
			if err != nil {
				logger.Warn("release sweep: vault quota check",
					logger.String("track", track.ID), logger.ErrorField(err))
				continue
			}
			if !check.Allowed {
				logger.Warn("release sweep: vault quota reached",
					logger.String("org", orgID), logger.String("track", track.ID))
				continue
			}
		}
		if err := s.store.AdvanceTrackPhase(ctx, track.ID, pipeline.PhaseVault, false, false); err != nil {
			logger.Warn("release sweep: move to vault",
				logger.String("track", track.ID), logger.ErrorField(err))
			continue
		}
		moved++
	}
	return moved
}

// SearchTracks runs a scoped full-text search. Returns an empty response
// when no search backend is wired.
func (s *Service) SearchTracks(ctx context.Context, session Session, input SearchInput) (search.Response, error) {
	filter, err := s.scopeFor(ctx, session)
	if err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: input.Text}, nil
	}
	return s.search.Search(search.Query{
		Text:        input.Text,
		Scope:       filter,
		FilterPhase: input.Phase,
		Limit:       input.Limit,
		Offset:      input.Offset,
	}), nil
}

// ExportArchiveReport renders the workspace's archive report as a PDF.
func (s *Service) ExportArchiveReport(ctx context.Context, session Session) (*export.Result, error) {
	filter, err := s.scopeFor(ctx, session)
	if err != nil {
		return nil, err
	}
	perms, err := s.permissionsFor(ctx, session)
	if err != nil {
		return nil, err
	}
	if !perms.CanAccessArchive {
		return nil, forbiddenError()
	}
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}

	label := "Personal"
	if session.Workspace != nil && session.Workspace.Kind == scope.KindOrganization {
		org, err := s.store.GetOrganization(ctx, session.Workspace.OrgID)
		if err == nil {
			label = org.Name
		}
	}
	return s.export.ArchiveReport(ctx, filter, label)
}

// refetch reloads a track after a write so the caller sees server-derived
// state rather than optimistic arithmetic.
func (s *Service) refetch(ctx context.Context, trackID string) (store.Track, error) {
	track, err := s.store.GetTrack(ctx, trackID)
	if err != nil {
		return store.Track{}, fmt.Errorf("refetch track: %w", err)
	}
	return track, nil
}

// afterTrackWrite fans a successful write out: other sessions hear about it
// on the change feed, this session's snapshot reconciles the single entity,
// and the search index is refreshed. All best effort.
func (s *Service) afterTrackWrite(ctx context.Context, trackID string) {
	s.publish(ctx, "tracks")
	if s.sync != nil {
		if err := s.sync.Reconcile(ctx, trackID); err != nil {
			logger.Warn("reconcile after write", logger.String("track", trackID), logger.ErrorField(err))
		}
	}
	if s.search != nil {
		if track, err := s.store.GetTrack(ctx, trackID); err == nil {
			record := search.TrackRecord{
				ID:         track.ID,
				Title:      track.Title,
				ArtistName: track.ArtistName,
				Genre:      track.Genre,
				Phase:      string(track.Phase),
				Archived:   track.Archived,
			}
			if track.OrganizationID != nil {
				record.OrganizationID = *track.OrganizationID
			}
			if track.RecipientUserID != nil {
				record.RecipientUserID = *track.RecipientUserID
			}
			s.search.IndexTrack(record)
		}
	}
}

func (s *Service) publish(ctx context.Context, table string) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, table); err != nil {
		logger.Warn("publish change", logger.String("table", table), logger.ErrorField(err))
	}
}
