package store

import (
	"time"

	"greenroom/api/internal/pipeline"
	"greenroom/api/internal/rbac"
)

type Staff struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

type Organization struct {
	ID                      string
	Name                    string
	ParentID                *string
	RequireRejectionReason  bool
	CreatedAt               time.Time
}

// Membership links one staff member to one organization. Permissions are
// stored as explicit columns so an owner can tune them away from the role
// defaults.
type Membership struct {
	StaffID     string
	OrgID       string
	Role        rbac.Role
	Permissions rbac.Permissions
	CreatedAt   time.Time
}

// Track is a submitted work under review. It belongs to exactly one
// workspace: OrganizationID set, or nil with RecipientUserID set for a
// personal inbox. Scope membership never changes after creation.
type Track struct {
	ID         string
	Title      string
	ArtistName string
	Genre      string
	BPM        int
	// Energy is 0 until someone rates the track; the office gate requires
	// a non-zero value.
	Energy int

	Phase           pipeline.Phase
	Archived        bool
	RejectionReason string

	// VoteTotal is recomputed server-side; clients treat it as eventually
	// consistent and never sum their own projection.
	VoteTotal    int
	VotesByVoter map[string]int

	CreatedAt             time.Time
	MovedToSecondListenAt *time.Time
	TargetReleaseDate     *time.Time
	ReleaseDate           *time.Time

	OrganizationID  *string
	RecipientUserID *string

	ContractSigned bool
	Watched        bool
	TotalEarnings  float64
	SpotifyPlays   int64
}

// Vote is one signed opinion, value in {-1, +1}. At most one row exists per
// (track, voter); a retraction deletes the row.
type Vote struct {
	TrackID        string
	VoterID        string
	OrganizationID *string
	Value          int
	CreatedAt      time.Time
}

// ListenEvent is an immutable activity fact consumed by the fatigue
// analyzer. Rows are never updated or deleted.
type ListenEvent struct {
	ID             string
	StaffID        string
	TrackID        string
	OrganizationID *string
	CreatedAt      time.Time
}

type Artist struct {
	ID             string
	Name           string
	OrganizationID *string
	OwnerUserID    *string
	CreatedAt      time.Time
}

type PlanLimit struct {
	OrgID         string
	ResourceClass string
	MaxCount      int
}
