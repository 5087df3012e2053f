// Package scope turns the caller's identity and selected workspace into the
// filter every scoped query runs under.
package scope

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// SubsidiaryAll selects the organization plus its full descendant hierarchy.
const SubsidiaryAll = "all"

type Identity struct {
	StaffID     string
	SystemAdmin bool
}

type Kind string

const (
	KindPersonal     Kind = "personal"
	KindOrganization Kind = "organization"
)

// Workspace is the active tenant scope. Exactly one of OwnerID or OrgID is
// set depending on Kind. Subsidiary is SubsidiaryAll or one descendant id;
// empty means the organization itself.
type Workspace struct {
	Kind       Kind
	OwnerID    string
	OrgID      string
	Subsidiary string
}

// Filter is the predicate applied to track queries.
//
// Empty short-circuits to no rows (fail closed). Unscoped bypasses
// filtering entirely and is only ever produced for a system admin with no
// workspace selected.
type Filter struct {
	Empty           bool
	Unscoped        bool
	PersonalOwnerID string
	OrgIDs          []string
}

// Key is a stable cache-key fragment so per-scope caches never leak across
// a workspace switch.
func (f Filter) Key() string {
	switch {
	case f.Empty:
		return "empty"
	case f.Unscoped:
		return "unscoped"
	case f.PersonalOwnerID != "":
		return "personal:" + f.PersonalOwnerID
	default:
		return "org:" + strings.Join(f.OrgIDs, ",")
	}
}

// Matches reports whether a row with the given tenant columns falls inside
// the filter. Exactly one of orgID and recipientUserID is set on a track.
func (f Filter) Matches(orgID, recipientUserID *string) bool {
	switch {
	case f.Empty:
		return false
	case f.Unscoped:
		return true
	case f.PersonalOwnerID != "":
		return orgID == nil && recipientUserID != nil && *recipientUserID == f.PersonalOwnerID
	default:
		if orgID == nil {
			return false
		}
		for _, id := range f.OrgIDs {
			if id == *orgID {
				return true
			}
		}
		return false
	}
}

var (
	ErrUnresolvedIdentity = errors.New("identity does not resolve to a staff record")
	ErrNoWorkspace        = errors.New("no workspace selected")
)

// HierarchyExpander resolves an organization into itself plus all
// descendant organization ids.
type HierarchyExpander interface {
	ExpandOrgHierarchy(ctx context.Context, orgID string) ([]string, error)
}

type Resolver struct {
	hierarchy HierarchyExpander

	mu       sync.Mutex
	expanded map[string][]string
}

func NewResolver(hierarchy HierarchyExpander) *Resolver {
	return &Resolver{
		hierarchy: hierarchy,
		expanded:  make(map[string][]string),
	}
}

// Reset drops the memoized hierarchy expansions. Called on every workspace
// switch so a stale subsidiary set never follows the session.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expanded = make(map[string][]string)
}

// Resolve produces the filter for the caller. It fails closed: any identity
// or hierarchy problem yields an empty filter alongside the error, never an
// unfiltered one.
func (r *Resolver) Resolve(ctx context.Context, identity Identity, workspace *Workspace) (Filter, error) {
	if identity.StaffID == "" {
		return Filter{Empty: true}, ErrUnresolvedIdentity
	}

	if workspace == nil {
		if identity.SystemAdmin {
			return Filter{Unscoped: true}, nil
		}
		return Filter{Empty: true}, ErrNoWorkspace
	}

	switch workspace.Kind {
	case KindPersonal:
		owner := workspace.OwnerID
		if owner == "" {
			owner = identity.StaffID
		}
		return Filter{PersonalOwnerID: owner}, nil
	case KindOrganization:
		switch workspace.Subsidiary {
		case "", workspace.OrgID:
			return Filter{OrgIDs: []string{workspace.OrgID}}, nil
		case SubsidiaryAll:
			ids, err := r.expand(ctx, workspace.OrgID)
			if err != nil {
				return Filter{Empty: true}, err
			}
			return Filter{OrgIDs: ids}, nil
		default:
			return Filter{OrgIDs: []string{workspace.Subsidiary}}, nil
		}
	default:
		return Filter{Empty: true}, ErrNoWorkspace
	}
}

func (r *Resolver) expand(ctx context.Context, orgID string) ([]string, error) {
	r.mu.Lock()
	cached, ok := r.expanded[orgID]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	ids, err := r.hierarchy.ExpandOrgHierarchy(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		ids = []string{orgID}
	}

	r.mu.Lock()
	r.expanded[orgID] = ids
	r.mu.Unlock()
	return ids, nil
}
