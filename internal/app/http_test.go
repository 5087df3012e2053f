package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"greenroom/api/internal/pipeline"
	"greenroom/api/internal/rbac"
	"greenroom/api/internal/store"
)

func newTestServer(f *fakeStore) *httptest.Server {
	svc := newTestService(f)
	identities := StaticTokens{
		"tok-owner":    {StaffID: "st_owner"},
		"tok-admin":    {StaffID: "st_admin", SystemAdmin: true},
		"tok-stranger": {StaffID: "st_stranger"},
	}
	return httptest.NewServer(NewHTTPServer(svc, identities, "*").Handler())
}

func doRequest(t *testing.T, method, url, token, workspace, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if workspace != "" {
		req.Header.Set("X-Workspace", workspace)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthIsPublic(t *testing.T) {
	server := newTestServer(newFakeStore())
	defer server.Close()

	resp, payload := doRequest(t, http.MethodGet, server.URL+"/api/health", "", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	server := newTestServer(newFakeStore())
	defer server.Close()

	resp, payload := doRequest(t, http.MethodGet, server.URL+"/api/tracks", "", "org_a", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected error code: %v", payload["code"])
	}
}

func TestUnknownTokenIsUnauthorized(t *testing.T) {
	server := newTestServer(newFakeStore())
	defer server.Close()

	resp, _ := doRequest(t, http.MethodGet, server.URL+"/api/tracks", "tok-bogus", "org_a", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestListTracksScopedByWorkspaceHeader(t *testing.T) {
	f := newFakeStore()
	f.orgs["org_a"] = store.Organization{ID: "org_a"}
	f.addMembership("st_owner", "org_a", rbac.RoleOwner)
	f.addOrgTrack("tr_org", "org_a", pipeline.PhaseInbox)
	f.addPersonalTrack("tr_mine", "st_owner")

	server := newTestServer(f)
	defer server.Close()

	resp, payload := doRequest(t, http.MethodGet, server.URL+"/api/tracks", "tok-owner", "org_a", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	tracks := payload["tracks"].([]any)
	if len(tracks) != 1 {
		t.Fatalf("org header must scope to org tracks, got %d", len(tracks))
	}

	resp, payload = doRequest(t, http.MethodGet, server.URL+"/api/tracks", "tok-owner", "personal", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	tracks = payload["tracks"].([]any)
	if len(tracks) != 1 {
		t.Fatalf("personal header must scope to the inbox, got %d", len(tracks))
	}
	first := tracks[0].(map[string]any)
	if first["ID"] != "tr_mine" {
		t.Fatalf("expected the personal track, got %v", first["ID"])
	}
}

func TestNoWorkspaceFailsClosed(t *testing.T) {
	f := newFakeStore()
	f.addOrgTrack("tr_org", "org_a", pipeline.PhaseInbox)

	server := newTestServer(f)
	defer server.Close()

	resp, payload := doRequest(t, http.MethodGet, server.URL+"/api/tracks", "tok-owner", "", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("no workspace must fail closed with 403, got %d", resp.StatusCode)
	}
	if payload["code"] != "SCOPE_RESOLUTION_FAILED" {
		t.Fatalf("unexpected error code: %v", payload["code"])
	}
}

func TestSystemAdminSeesEverythingWithoutWorkspace(t *testing.T) {
	f := newFakeStore()
	f.orgs["org_a"] = store.Organization{ID: "org_a"}
	f.addOrgTrack("tr_org", "org_a", pipeline.PhaseInbox)
	f.addPersonalTrack("tr_mine", "st_owner")

	server := newTestServer(f)
	defer server.Close()

	resp, payload := doRequest(t, http.MethodGet, server.URL+"/api/tracks", "tok-admin", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	tracks := payload["tracks"].([]any)
	if len(tracks) != 2 {
		t.Fatalf("system admin with no workspace sees every tenant, got %d", len(tracks))
	}
}

func TestGateErrorsSurfaceWithCodes(t *testing.T) {
	f := newFakeStore()
	f.orgs["org_a"] = store.Organization{ID: "org_a"}
	f.addMembership("st_owner", "org_a", rbac.RoleOwner)
	f.addOrgTrack("tr_1", "org_a", pipeline.PhaseSecondListen)

	server := newTestServer(f)
	defer server.Close()

	resp, payload := doRequest(t, http.MethodPost, server.URL+"/api/tracks/tr_1/advance", "tok-owner", "org_a", "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if payload["code"] != "ENERGY_REQUIRED" {
		t.Fatalf("unexpected error code: %v", payload["code"])
	}
}

func TestVoteEndpointReturnsRefreshedTrack(t *testing.T) {
	f := newFakeStore()
	f.orgs["org_a"] = store.Organization{ID: "org_a"}
	f.addMembership("st_owner", "org_a", rbac.RoleOwner)
	f.addOrgTrack("tr_1", "org_a", pipeline.PhaseInbox)

	server := newTestServer(f)
	defer server.Close()

	resp, payload := doRequest(t, http.MethodPost, server.URL+"/api/tracks/tr_1/vote", "tok-owner", "org_a", `{"value":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["VoteTotal"] != float64(1) {
		t.Fatalf("vote response must carry the recomputed total, got %v", payload["VoteTotal"])
	}
}

func TestInvalidVoteValueRejected(t *testing.T) {
	f := newFakeStore()
	f.orgs["org_a"] = store.Organization{ID: "org_a"}
	f.addMembership("st_owner", "org_a", rbac.RoleOwner)
	f.addOrgTrack("tr_1", "org_a", pipeline.PhaseInbox)

	server := newTestServer(f)
	defer server.Close()

	resp, payload := doRequest(t, http.MethodPost, server.URL+"/api/tracks/tr_1/vote", "tok-owner", "org_a", `{"value":5}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error code: %v", payload["code"])
	}
}

// Snapshots are keyed by the requesting session's scope: one caller's
// workspace switch must never repoint what another caller syncs.
func TestSyncSnapshotIsolatedAcrossSessions(t *testing.T) {
	f := newFakeStore()
	f.orgs["org_a"] = store.Organization{ID: "org_a"}
	f.addMembership("st_owner", "org_a", rbac.RoleOwner)
	f.addOrgTrack("tr_secret", "org_a", pipeline.PhaseInbox)
	f.addPersonalTrack("tr_mine", "st_stranger")

	server := newTestServer(f)
	defer server.Close()

	// The owner primes an org_a sync view.
	resp, _ := doRequest(t, http.MethodPost, server.URL+"/api/workspace/switch",
		"tok-owner", "", `{"kind":"organization","orgId":"org_a"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("workspace switch failed with %d", resp.StatusCode)
	}

	// A different caller in a personal workspace syncs: only their inbox.
	resp, payload := doRequest(t, http.MethodGet, server.URL+"/api/sync/tracks", "tok-stranger", "personal", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	tracks := payload["tracks"].([]any)
	if len(tracks) != 1 {
		t.Fatalf("personal sync must hold only the caller's tracks, got %d", len(tracks))
	}
	for _, raw := range tracks {
		if raw.(map[string]any)["ID"] == "tr_secret" {
			t.Fatalf("org track leaked into another session's sync snapshot")
		}
	}

	// The owner's own sync still serves the org view.
	resp, payload = doRequest(t, http.MethodGet, server.URL+"/api/sync/tracks", "tok-owner", "org_a", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	tracks = payload["tracks"].([]any)
	if len(tracks) != 1 || tracks[0].(map[string]any)["ID"] != "tr_secret" {
		t.Fatalf("org session must still sync its own tracks: %v", tracks)
	}
}

func TestSyncSnapshotRequiresWorkspace(t *testing.T) {
	f := newFakeStore()
	f.orgs["org_a"] = store.Organization{ID: "org_a"}
	f.addOrgTrack("tr_secret", "org_a", pipeline.PhaseInbox)

	server := newTestServer(f)
	defer server.Close()

	resp, payload := doRequest(t, http.MethodGet, server.URL+"/api/sync/tracks", "tok-owner", "", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("sync with no workspace must fail closed, got %d", resp.StatusCode)
	}
	if payload["code"] != "SCOPE_RESOLUTION_FAILED" {
		t.Fatalf("unexpected error code: %v", payload["code"])
	}
}

func TestRejectAcceptsEmptyBody(t *testing.T) {
	f := newFakeStore()
	f.orgs["org_a"] = store.Organization{ID: "org_a"}
	f.addMembership("st_owner", "org_a", rbac.RoleOwner)
	f.addOrgTrack("tr_1", "org_a", pipeline.PhaseInbox)

	server := newTestServer(f)
	defer server.Close()

	// The reason is optional, so a bodyless POST must not 400.
	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/tracks/tr_1/reject", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer tok-owner")
	req.Header.Set("X-Workspace", "org_a")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for a bodyless reject, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["RejectionReason"] != pipeline.DefaultRejectionReason {
		t.Fatalf("bodyless reject gets the placeholder reason, got %v", payload["RejectionReason"])
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestServer(newFakeStore())
	defer server.Close()

	resp, payload := doRequest(t, http.MethodGet, server.URL+"/api/nope", "tok-owner", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("unexpected error code: %v", payload["code"])
	}
}

func TestParseStaticTokens(t *testing.T) {
	tokens := ParseStaticTokens("alpha=st_1, beta=st_2:admin ,, bad")
	if identity, ok := tokens.Identify("alpha"); !ok || identity.StaffID != "st_1" || identity.SystemAdmin {
		t.Fatalf("unexpected identity for alpha: %+v ok=%v", identity, ok)
	}
	if identity, ok := tokens.Identify("beta"); !ok || !identity.SystemAdmin {
		t.Fatalf("beta must be a system admin: %+v ok=%v", identity, ok)
	}
	if _, ok := tokens.Identify("bad"); ok {
		t.Fatalf("malformed pairs must be skipped")
	}
}
