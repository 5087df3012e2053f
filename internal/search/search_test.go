package search

import (
	"strings"
	"testing"

	"greenroom/api/internal/scope"
)

func TestScopeFiltersPersonal(t *testing.T) {
	filters, ok := scopeFilters(Query{Scope: scope.Filter{PersonalOwnerID: "st_1"}})
	if !ok {
		t.Fatalf("personal scope must be searchable")
	}
	joined := strings.Join(filters, " AND ")
	if !strings.Contains(joined, `organizationId = ""`) {
		t.Fatalf("personal scope must pin organizationId empty, got %q", joined)
	}
	if !strings.Contains(joined, `recipientUserId = "st_1"`) {
		t.Fatalf("personal scope must pin the recipient, got %q", joined)
	}
}

func TestScopeFiltersOrganizationHierarchy(t *testing.T) {
	filters, ok := scopeFilters(Query{Scope: scope.Filter{OrgIDs: []string{"org_a", "org_b"}}})
	if !ok {
		t.Fatalf("org scope must be searchable")
	}
	if len(filters) != 1 || !strings.Contains(filters[0], `organizationId IN ["org_a", "org_b"]`) {
		t.Fatalf("unexpected org filter: %v", filters)
	}
}

func TestScopeFiltersEmptyMatchesNothing(t *testing.T) {
	if _, ok := scopeFilters(Query{Scope: scope.Filter{Empty: true}}); ok {
		t.Fatalf("empty scope must refuse to search")
	}
}

func TestScopeFiltersUnscopedAdmin(t *testing.T) {
	filters, ok := scopeFilters(Query{Scope: scope.Filter{Unscoped: true}})
	if !ok {
		t.Fatalf("unscoped admin must be searchable")
	}
	if len(filters) != 0 {
		t.Fatalf("unscoped admin must carry no scope filter, got %v", filters)
	}
}
