package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"greenroom/api/internal/logger"
	"greenroom/api/internal/scope"
)

// identityProvider resolves a bearer token to an identity. Real
// authentication lives outside this service; deployments hand the server a
// token table or an adapter over their session backend.
type identityProvider interface {
	Identify(token string) (scope.Identity, bool)
}

// StaticTokens is the built-in identity provider: a fixed token table
// parsed from configuration.
type StaticTokens map[string]scope.Identity

// ParseStaticTokens reads "token=staffId" or "token=staffId:admin" pairs,
// comma separated.
func ParseStaticTokens(raw string) StaticTokens {
	tokens := make(StaticTokens)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, value, ok := strings.Cut(pair, "=")
		if !ok || token == "" || value == "" {
			continue
		}
		staffID, suffix, _ := strings.Cut(value, ":")
		tokens[token] = scope.Identity{
			StaffID:     staffID,
			SystemAdmin: suffix == "admin",
		}
	}
	return tokens
}

func (t StaticTokens) Identify(token string) (scope.Identity, bool) {
	identity, ok := t[token]
	return identity, ok
}

type HTTPServer struct {
	service    *Service
	identities identityProvider
	corsOrigin string
}

func NewHTTPServer(service *Service, identities identityProvider, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, identities: identities, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tracks" {
		orderBy := strings.TrimSpace(r.URL.Query().Get("orderBy"))
		tracks, err := s.service.ListTracks(r.Context(), session, orderBy)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/tracks" {
		var body CreateTrackInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		track, err := s.service.CreateTrack(r.Context(), session, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, track)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/archive" {
		tracks, err := s.service.ListArchived(r.Context(), session)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/reports/load" {
		staffID := strings.TrimSpace(r.URL.Query().Get("staffId"))
		report, err := s.service.ComputeLoad(r.Context(), session, staffID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/reports/health" {
		report, err := s.service.ComputeHealth(r.Context(), session)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		input := SearchInput{
			Text:  strings.TrimSpace(r.URL.Query().Get("q")),
			Phase: strings.TrimSpace(r.URL.Query().Get("phase")),
		}
		var err error
		if input.Limit, err = intQuery(r, "limit", 20); err != nil {
			s.fail(w, err)
			return
		}
		if input.Offset, err = intQuery(r, "offset", 0); err != nil {
			s.fail(w, err)
			return
		}
		response, err := s.service.SearchTracks(r.Context(), session, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/export/archive" {
		result, err := s.service.ExportArchiveReport(r.Context(), session)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workspace/switch" {
		var body struct {
			Kind       string `json:"kind"`
			OrgID      string `json:"orgId"`
			Subsidiary string `json:"subsidiary"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		workspace, err := workspaceFromInput(session, body.Kind, body.OrgID, body.Subsidiary)
		if err != nil {
			s.fail(w, err)
			return
		}
		filter, err := s.service.SwitchWorkspace(r.Context(), session, workspace)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scope": filter.Key()})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sync/resume" {
		if err := s.service.Resume(r.Context(), session); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/sync/tracks" {
		tracks, loading, err := s.service.Snapshot(r.Context(), session)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks, "loading": loading})
		return
	}

	// /api/tracks/{id} and /api/tracks/{id}/{action}
	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "tracks" {
		trackID := parts[2]

		if len(parts) == 3 && r.Method == http.MethodGet {
			track, err := s.service.GetTrack(r.Context(), session, trackID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, track)
			return
		}

		if len(parts) == 4 {
			s.handleTrackAction(w, r, session, trackID, parts[3])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTrackAction(w http.ResponseWriter, r *http.Request, session Session, trackID, action string) {
	switch {
	case action == "advance" && r.Method == http.MethodPost:
		track, err := s.service.AdvanceTrack(r.Context(), session, trackID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, track)

	case action == "reject" && r.Method == http.MethodPost:
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		track, err := s.service.RejectTrack(r.Context(), session, trackID, body.Reason)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, track)

	case action == "vote" && r.Method == http.MethodPost:
		var body struct {
			Value int `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		track, err := s.service.CastVote(r.Context(), session, trackID, body.Value)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, track)

	case action == "energy" && r.Method == http.MethodPut:
		var body struct {
			Energy int `json:"energy"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		track, err := s.service.SetTrackEnergy(r.Context(), session, trackID, body.Energy)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, track)

	case action == "contract" && r.Method == http.MethodPut:
		var body struct {
			Signed bool `json:"signed"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		track, err := s.service.SetContractSigned(r.Context(), session, trackID, body.Signed)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, track)

	case action == "release-date" && r.Method == http.MethodPut:
		var body struct {
			TargetReleaseDate *time.Time `json:"targetReleaseDate"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		track, err := s.service.SetTargetReleaseDate(r.Context(), session, trackID, body.TargetReleaseDate)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, track)

	case action == "listen" && r.Method == http.MethodPost:
		if err := s.service.LogListen(r.Context(), session, trackID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	identity, ok := s.identities.Identify(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}

	session := Session{StaffID: identity.StaffID, SystemAdmin: identity.SystemAdmin}
	workspace, err := workspaceFromHeaders(session, r)
	if err != nil {
		s.fail(w, err)
		return Session{}, false
	}
	session.Workspace = workspace
	return session, true
}

// workspaceFromHeaders reads the active workspace from X-Workspace
// ("personal" or an organization id) and X-Subsidiary ("all" or a
// descendant id). No header means no workspace selected.
func workspaceFromHeaders(session Session, r *http.Request) (*scope.Workspace, error) {
	raw := strings.TrimSpace(r.Header.Get("X-Workspace"))
	if raw == "" {
		return nil, nil
	}
	subsidiary := strings.TrimSpace(r.Header.Get("X-Subsidiary"))
	if raw == "personal" {
		return workspaceFromInput(session, "personal", "", "")
	}
	return workspaceFromInput(session, "organization", raw, subsidiary)
}

func workspaceFromInput(session Session, kind, orgID, subsidiary string) (*scope.Workspace, error) {
	switch kind {
	case "":
		return nil, nil
	case "personal":
		return &scope.Workspace{Kind: scope.KindPersonal, OwnerID: session.StaffID}, nil
	case "organization":
		if orgID == "" {
			return nil, validationError("orgId is required for an organization workspace")
		}
		return &scope.Workspace{Kind: scope.KindOrganization, OrgID: orgID, Subsidiary: subsidiary}, nil
	default:
		return nil, validationError("workspace kind must be personal or organization")
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError(key + " must be an integer")
	}
	return parsed, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		logger.Info("request",
			logger.String("request_id", requestID),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", writer.status),
			logger.Int("duration_ms", int(time.Since(started).Milliseconds())),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Workspace, X-Subsidiary")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		// A missing body reads the same as an empty object; fields with
		// defaults stay at their defaults.
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
