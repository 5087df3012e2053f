package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"greenroom/api/internal/pipeline"
	"greenroom/api/internal/rbac"
	"greenroom/api/internal/scope"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- staff and memberships ---

func (s *PostgresStore) GetStaff(ctx context.Context, staffID string) (Staff, error) {
	var staff Staff
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, created_at FROM staff WHERE id=$1
	`, staffID).Scan(&staff.ID, &staff.DisplayName, &staff.Email, &staff.CreatedAt)
	if err != nil {
		return Staff{}, err
	}
	return staff, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, staffID, orgID string) (Membership, error) {
	var m Membership
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT staff_id, org_id, role,
			can_vote, can_set_energy, can_advance_lobby, can_advance_office,
			can_advance_contract, can_access_archive, can_access_vault,
			can_edit_release_date, can_view_metrics, created_at
		FROM memberships
		WHERE staff_id=$1 AND org_id=$2
	`, staffID, orgID).Scan(
		&m.StaffID, &m.OrgID, &role,
		&m.Permissions.CanVote, &m.Permissions.CanSetEnergy,
		&m.Permissions.CanAdvanceLobby, &m.Permissions.CanAdvanceOffice,
		&m.Permissions.CanAdvanceContract, &m.Permissions.CanAccessArchive,
		&m.Permissions.CanAccessVault, &m.Permissions.CanEditReleaseDate,
		&m.Permissions.CanViewMetrics, &m.CreatedAt,
	)
	if err != nil {
		return Membership{}, err
	}
	m.Role = rbac.Normalize(role)
	return m, nil
}

func (s *PostgresStore) InsertMembership(ctx context.Context, m Membership) error {
	p := m.Permissions
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (staff_id, org_id, role,
			can_vote, can_set_energy, can_advance_lobby, can_advance_office,
			can_advance_contract, can_access_archive, can_access_vault,
			can_edit_release_date, can_view_metrics)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (staff_id, org_id) DO NOTHING
	`, m.StaffID, m.OrgID, string(m.Role),
		p.CanVote, p.CanSetEnergy, p.CanAdvanceLobby, p.CanAdvanceOffice,
		p.CanAdvanceContract, p.CanAccessArchive, p.CanAccessVault,
		p.CanEditReleaseDate, p.CanViewMetrics)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// --- organizations ---

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, parent_id, require_rejection_reason, created_at
		FROM organizations WHERE id=$1
	`, orgID).Scan(&org.ID, &org.Name, &org.ParentID, &org.RequireRejectionReason, &org.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) ListOrganizationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return ids, nil
}

// ExpandOrgHierarchy returns the organization plus every descendant, walking
// parent_id links with a recursive CTE.
func (s *PostgresStore) ExpandOrgHierarchy(ctx context.Context, orgID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE descendants AS (
			SELECT id FROM organizations WHERE id=$1
			UNION ALL
			SELECT o.id FROM organizations o
			JOIN descendants d ON o.parent_id = d.id
		)
		SELECT id FROM descendants
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("expand org hierarchy: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan descendant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descendants: %w", err)
	}
	return ids, nil
}

// --- tracks ---

const trackColumns = `
	id, title, artist_name, genre, bpm, energy, phase, archived,
	rejection_reason, vote_total, created_at, moved_to_second_listen_at,
	target_release_date, release_date, organization_id, recipient_user_id,
	contract_signed, watched, total_earnings, spotify_plays
`

func scanTrack(row interface{ Scan(...any) error }) (Track, error) {
	var t Track
	var phase string
	err := row.Scan(
		&t.ID, &t.Title, &t.ArtistName, &t.Genre, &t.BPM, &t.Energy, &phase,
		&t.Archived, &t.RejectionReason, &t.VoteTotal, &t.CreatedAt,
		&t.MovedToSecondListenAt, &t.TargetReleaseDate, &t.ReleaseDate,
		&t.OrganizationID, &t.RecipientUserID, &t.ContractSigned, &t.Watched,
		&t.TotalEarnings, &t.SpotifyPlays,
	)
	if err != nil {
		return Track{}, err
	}
	parsed, err := pipeline.ParsePhase(phase)
	if err != nil {
		return Track{}, fmt.Errorf("track %s: %w", t.ID, err)
	}
	t.Phase = parsed
	return t, nil
}

// scopeCondition renders a scope filter as a WHERE fragment. An empty
// filter matches nothing so scope failures stay closed.
func scopeCondition(filter scope.Filter, args []any) (string, []any) {
	switch {
	case filter.Empty:
		return "FALSE", args
	case filter.Unscoped:
		return "TRUE", args
	case filter.PersonalOwnerID != "":
		args = append(args, filter.PersonalOwnerID)
		return fmt.Sprintf("organization_id IS NULL AND recipient_user_id = $%d", len(args)), args
	default:
		args = append(args, filter.OrgIDs)
		return fmt.Sprintf("organization_id = ANY($%d)", len(args)), args
	}
}

var trackOrderings = map[string]string{
	"":        "created_at DESC",
	"created": "created_at DESC",
	"votes":   "vote_total DESC, created_at DESC",
	"release": "release_date ASC NULLS LAST, created_at DESC",
	"title":   "title ASC",
}

func (s *PostgresStore) ListTracks(ctx context.Context, filter scope.Filter, orderBy string) ([]Track, error) {
	ordering, ok := trackOrderings[orderBy]
	if !ok {
		ordering = trackOrderings[""]
	}

	condition, args := scopeCondition(filter, nil)
	query := fmt.Sprintf(`SELECT %s FROM tracks WHERE %s ORDER BY %s`, trackColumns, condition, ordering)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	return tracks, nil
}

func (s *PostgresStore) GetTrack(ctx context.Context, trackID string) (Track, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM tracks WHERE id=$1`, trackColumns), trackID)
	track, err := scanTrack(row)
	if err != nil {
		return Track{}, err
	}

	votes, err := s.ListVotes(ctx, trackID)
	if err != nil {
		return Track{}, err
	}
	track.VotesByVoter = make(map[string]int, len(votes))
	for _, vote := range votes {
		track.VotesByVoter[vote.VoterID] = vote.Value
	}
	return track, nil
}

func (s *PostgresStore) InsertTrack(ctx context.Context, t Track) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (id, title, artist_name, genre, bpm, energy, phase,
			organization_id, recipient_user_id, target_release_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.ID, t.Title, t.ArtistName, t.Genre, t.BPM, t.Energy, string(t.Phase),
		t.OrganizationID, t.RecipientUserID, t.TargetReleaseDate)
	if err != nil {
		return fmt.Errorf("insert track: %w", err)
	}
	return nil
}

// AdvanceTrackPhase applies one hop. The second-listen timestamp and the
// release-date snapshot happen in the same statement so a crash cannot
// leave them half applied.
func (s *PostgresStore) AdvanceTrackPhase(ctx context.Context, trackID string, next pipeline.Phase, markSecondListen, snapshotRelease bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracks SET
			phase = $2,
			moved_to_second_listen_at = CASE WHEN $3 THEN NOW() ELSE moved_to_second_listen_at END,
			release_date = CASE WHEN $4 THEN target_release_date ELSE release_date END
		WHERE id = $1
	`, trackID, string(next), markSecondListen, snapshotRelease)
	if err != nil {
		return fmt.Errorf("advance track phase: %w", err)
	}
	return nil
}

func (s *PostgresStore) ArchiveTrack(ctx context.Context, trackID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracks SET archived = TRUE, rejection_reason = $2 WHERE id = $1
	`, trackID, reason)
	if err != nil {
		return fmt.Errorf("archive track: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTrackEnergy(ctx context.Context, trackID string, energy int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tracks SET energy=$2 WHERE id=$1`, trackID, energy)
	if err != nil {
		return fmt.Errorf("set track energy: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTrackContractSigned(ctx context.Context, trackID string, signed bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tracks SET contract_signed=$2 WHERE id=$1`, trackID, signed)
	if err != nil {
		return fmt.Errorf("set contract signed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTrackTargetReleaseDate(ctx context.Context, trackID string, target *time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tracks SET target_release_date=$2 WHERE id=$1`, trackID, target)
	if err != nil {
		return fmt.Errorf("set target release date: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTrackWatched(ctx context.Context, trackID string, watched bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tracks SET watched=$2 WHERE id=$1`, trackID, watched)
	if err != nil {
		return fmt.Errorf("set track watched: %w", err)
	}
	return nil
}

// ListDueUpcoming returns non-archived tracks in upcoming whose release date
// has passed, within one workspace scope. The release sweep calls this per
// workspace and never across boundaries.
func (s *PostgresStore) ListDueUpcoming(ctx context.Context, filter scope.Filter, now time.Time) ([]Track, error) {
	condition, args := scopeCondition(filter, nil)
	args = append(args, now)
	query := fmt.Sprintf(`
		SELECT %s FROM tracks
		WHERE %s
			AND archived = FALSE
			AND phase = 'upcoming'
			AND release_date IS NOT NULL
			AND release_date <= $%d
		ORDER BY release_date ASC
	`, trackColumns, condition, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list due upcoming: %w", err)
	}
	defer rows.Close()

	tracks := make([]Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due track: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due tracks: %w", err)
	}
	return tracks, nil
}

func (s *PostgresStore) ListPersonalOwnersWithDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT recipient_user_id FROM tracks
		WHERE organization_id IS NULL
			AND recipient_user_id IS NOT NULL
			AND archived = FALSE
			AND phase = 'upcoming'
			AND release_date IS NOT NULL
			AND release_date <= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list personal owners with due releases: %w", err)
	}
	defer rows.Close()

	owners := make([]string, 0)
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owners: %w", err)
	}
	return owners, nil
}

func (s *PostgresStore) ListArchived(ctx context.Context, filter scope.Filter) ([]Track, error) {
	condition, args := scopeCondition(filter, nil)
	query := fmt.Sprintf(`
		SELECT %s FROM tracks
		WHERE %s AND archived = TRUE
		ORDER BY created_at DESC
	`, trackColumns, condition)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list archived: %w", err)
	}
	defer rows.Close()

	tracks := make([]Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archived track: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived tracks: %w", err)
	}
	return tracks, nil
}

// --- votes ---

func (s *PostgresStore) GetVote(ctx context.Context, trackID, voterID string) (int, error) {
	var value int
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM votes WHERE track_id=$1 AND voter_id=$2
	`, trackID, voterID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get vote: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) InsertVote(ctx context.Context, vote Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (track_id, voter_id, organization_id, value)
		VALUES ($1,$2,$3,$4)
	`, vote.TrackID, vote.VoterID, vote.OrganizationID, vote.Value)
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteVote(ctx context.Context, trackID, voterID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM votes WHERE track_id=$1 AND voter_id=$2
	`, trackID, voterID)
	if err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	return nil
}

// RecomputeVoteTotal re-derives the aggregate from the vote rows and stores
// it on the track. This is the single place the total is written.
func (s *PostgresStore) RecomputeVoteTotal(ctx context.Context, trackID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		UPDATE tracks
		SET vote_total = (SELECT COALESCE(SUM(value), 0) FROM votes WHERE track_id = $1)
		WHERE id = $1
		RETURNING vote_total
	`, trackID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("recompute vote total: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, trackID string) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT track_id, voter_id, organization_id, value, created_at
		FROM votes WHERE track_id=$1
	`, trackID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	votes := make([]Vote, 0)
	for rows.Next() {
		var vote Vote
		if err := rows.Scan(&vote.TrackID, &vote.VoterID, &vote.OrganizationID, &vote.Value, &vote.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return votes, nil
}

// --- listen events ---

func (s *PostgresStore) InsertListenEvent(ctx context.Context, event ListenEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listen_events (id, staff_id, track_id, organization_id)
		VALUES ($1,$2,$3,$4)
	`, event.ID, event.StaffID, event.TrackID, event.OrganizationID)
	if err != nil {
		return fmt.Errorf("insert listen event: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountListens(ctx context.Context, staffID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM listen_events WHERE staff_id=$1 AND created_at >= $2
	`, staffID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count listens: %w", err)
	}
	return count, nil
}

// CountSubmissions is the demand signal: tracks submitted into the scope
// since the window start.
func (s *PostgresStore) CountSubmissions(ctx context.Context, filter scope.Filter, since time.Time) (int, error) {
	condition, args := scopeCondition(filter, nil)
	args = append(args, since)
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM tracks WHERE %s AND created_at >= $%d
	`, condition, len(args))

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) StaffWeeklyListenCounts(ctx context.Context, orgID string, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.staff_id, COUNT(le.id)
		FROM memberships m
		LEFT JOIN listen_events le
			ON le.staff_id = m.staff_id AND le.organization_id = m.org_id AND le.created_at >= $2
		WHERE m.org_id = $1
		GROUP BY m.staff_id
	`, orgID, since)
	if err != nil {
		return nil, fmt.Errorf("staff listen counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var staffID string
		var count int
		if err := rows.Scan(&staffID, &count); err != nil {
			return nil, fmt.Errorf("scan listen count: %w", err)
		}
		counts[staffID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listen counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) CountActiveStaff(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memberships WHERE org_id=$1
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active staff: %w", err)
	}
	return count, nil
}

// --- artists ---

func (s *PostgresStore) ArtistExists(ctx context.Context, filter scope.Filter, name string) (bool, error) {
	condition, args := scopeCondition(filter, nil)
	args = append(args, name)
	query := fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM artists WHERE %s AND LOWER(name) = LOWER($%d))
	`, condition, len(args))

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check artist: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertArtist(ctx context.Context, artist Artist) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artists (id, name, organization_id, recipient_user_id)
		VALUES ($1,$2,$3,$4)
	`, artist.ID, artist.Name, artist.OrganizationID, artist.OwnerUserID)
	if err != nil {
		return fmt.Errorf("insert artist: %w", err)
	}
	return nil
}

// --- plan limits ---

// PlanLimit returns the configured ceiling for a resource class, or -1 when
// the organization has no limit row (unlimited).
func (s *PostgresStore) PlanLimit(ctx context.Context, orgID, resourceClass string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `
		SELECT max_count FROM plan_limits WHERE org_id=$1 AND resource_class=$2
	`, orgID, resourceClass).Scan(&max)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("plan limit: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) ResourceCount(ctx context.Context, orgID, resourceClass string) (int, error) {
	var query string
	switch resourceClass {
	case "tracks":
		query = `SELECT COUNT(*) FROM tracks WHERE organization_id=$1`
	case "artists":
		query = `SELECT COUNT(*) FROM artists WHERE organization_id=$1`
	case "staff":
		query = `SELECT COUNT(*) FROM memberships WHERE org_id=$1`
	case "vault":
		query = `SELECT COUNT(*) FROM tracks WHERE organization_id=$1 AND phase='vault'`
	default:
		return 0, fmt.Errorf("unknown resource class %q", resourceClass)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", resourceClass, err)
	}
	return count, nil
}
