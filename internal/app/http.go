package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chronicle/collab/internal/auth"
	"chronicle/collab/internal/logging"
	"chronicle/collab/internal/merge"
	"chronicle/collab/internal/ot"
	"chronicle/collab/internal/rbac"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/versioning"
)

type HTTPServer struct {
	service    *Service
	signer     *auth.Signer
	corsOrigin string
	logger     *slog.Logger
}

// NewHTTPServer builds the JSON surface. With a nil signer callers are
// identified by the X-User-ID and X-User-Role headers set by a trusted
// gateway; otherwise a bearer token is required.
func NewHTTPServer(service *Service, signer *auth.Signer, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPServer{service: service, signer: signer, corsOrigin: corsOrigin, logger: logger.With("component", "http")}
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
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		ok, checks := s.service.Health(ctx)
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ok": ok, "checks": checks})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	rest := parts[2:]
	switch parts[1] {
	case "documents":
		s.handleDocuments(w, r, actor, rest)
	case "sessions":
		s.handleSessions(w, r, actor, rest)
	case "branches":
		s.handleBranches(w, r, actor, rest)
	case "merge-requests":
		s.handleMergeRequests(w, r, actor, rest)
	case "conflicts":
		s.handleConflicts(w, r, actor, rest)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	if len(rest) < 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	documentID := rest[0]

	switch {
	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "init":
		var body struct {
			Content string `json:"content"`
		}
		if !readBody(w, r, &body) {
			return
		}
		branch, version, err := s.service.InitDocument(r.Context(), actor, documentID, body.Content)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"branch": branch, "version": version})

	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "branches":
		branches, err := s.service.ListBranches(r.Context(), actor, documentID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"branches": branches})

	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "branches":
		var body struct {
			Name           string `json:"name"`
			BaseBranchID   string `json:"baseBranchId"`
			IsProtected    bool   `json:"isProtected"`
			ReviewRequired bool   `json:"reviewRequired"`
		}
		if !readBody(w, r, &body) {
			return
		}
		branch, err := s.service.CreateBranch(r.Context(), actor, versioning.CreateBranchInput{
			DocumentID:     documentID,
			Name:           body.Name,
			BaseBranchID:   body.BaseBranchID,
			IsProtected:    body.IsProtected,
			ReviewRequired: body.ReviewRequired,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"branch": branch})

	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "sessions":
		var body struct {
			BranchName string `json:"branchName"`
		}
		if !readBody(w, r, &body) {
			return
		}
		joined, err := s.service.JoinSession(r.Context(), actor, documentID, body.BranchName)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, joined)

	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "conflicts":
		query := r.URL.Query()
		source := strings.TrimSpace(query.Get("source"))
		target := strings.TrimSpace(query.Get("target"))
		if source == "" || target == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "source and target are required", nil)
			return
		}
		conflicts, err := s.service.DetectConflicts(r.Context(), actor, source, target)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})

	case r.Method == http.MethodGet && len(rest) == 3 && rest[1] == "versions" && rest[2] == "search":
		limit, ok := queryInt(w, r, "limit", 20)
		if !ok {
			return
		}
		payload, err := s.service.SearchVersions(r.Context(), actor, documentID, strings.TrimSpace(r.URL.Query().Get("q")), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "events":
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		events, err := s.service.RecentEvents(r.Context(), actor, documentID, int64(limit))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	sessionID := rest[0]

	switch {
	case r.Method == http.MethodDelete && len(rest) == 1:
		if err := s.service.LeaveSession(r.Context(), actor, sessionID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "state":
		state, err := s.service.SessionState(r.Context(), actor, sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": state})

	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "operations":
		var op ot.Operation
		if !readBody(w, r, &op) {
			return
		}
		applied, err := s.service.ApplyOperation(r.Context(), actor, sessionID, op)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, applied)

	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "ack":
		var body struct {
			OperationIDs []string `json:"operationIds"`
		}
		if !readBody(w, r, &body) {
			return
		}
		acknowledged, err := s.service.Acknowledge(r.Context(), actor, sessionID, body.OperationIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": acknowledged})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBranches(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	branchID := rest[0]

	switch {
	case r.Method == http.MethodDelete && len(rest) == 1:
		force := r.URL.Query().Get("force") == "true"
		branch, err := s.service.DeleteBranch(r.Context(), actor, branchID, force)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"branch": branch})

	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "versions":
		limit, ok := queryInt(w, r, "limit", 0)
		if !ok {
			return
		}
		versions, err := s.service.VersionHistory(r.Context(), actor, branchID, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})

	case r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "versions":
		var body struct {
			Content       string   `json:"content"`
			CommitMessage string   `json:"commitMessage"`
			OperationIDs  []string `json:"operationIds"`
		}
		if !readBody(w, r, &body) {
			return
		}
		version, err := s.service.CreateVersion(r.Context(), actor, versioning.CreateVersionInput{
			BranchID:      branchID,
			Content:       body.Content,
			CommitMessage: body.CommitMessage,
			OperationIDs:  body.OperationIDs,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"version": version})

	case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "commits":
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		commits, err := s.service.BranchCommits(r.Context(), actor, branchID, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMergeRequests(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	if r.Method == http.MethodPost && len(rest) == 0 {
		var body merge.CreateMergeRequestInput
		if !readBody(w, r, &body) {
			return
		}
		request, conflicts, err := s.service.CreateMergeRequest(r.Context(), actor, body)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"mergeRequest": request, "conflicts": conflicts})
		return
	}
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	id := rest[0]

	if r.Method == http.MethodGet && len(rest) == 1 {
		request, conflicts, err := s.service.GetMergeRequest(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"mergeRequest": request, "conflicts": conflicts})
		return
	}
	if r.Method != http.MethodPost || len(rest) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	var (
		request store.MergeRequest
		err     error
	)
	switch rest[1] {
	case "approve":
		request, err = s.service.ApproveMergeRequest(r.Context(), actor, id)
	case "close":
		request, err = s.service.CloseMergeRequest(r.Context(), actor, id)
	case "merge":
		var body struct {
			Strategy merge.Strategy `json:"strategy"`
		}
		if !readBody(w, r, &body) {
			return
		}
		result, mergeErr := s.service.MergeMergeRequest(r.Context(), actor, id, body.Strategy)
		if mergeErr != nil {
			writeDomainError(w, mergeErr)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mergeRequest": request})
}

func (s *HTTPServer) handleConflicts(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	if r.Method != http.MethodPost || len(rest) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	conflictID := rest[0]

	switch rest[1] {
	case "resolve":
		var body struct {
			Resolution      store.Resolution `json:"resolution"`
			ResolvedContent *string          `json:"resolvedContent"`
		}
		if !readBody(w, r, &body) {
			return
		}
		conflict, err := s.service.ResolveConflict(r.Context(), actor, merge.ResolveInput{
			ConflictID:      conflictID,
			Resolution:      body.Resolution,
			ResolvedContent: body.ResolvedContent,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conflict": conflict})
	case "suggest":
		suggestion, err := s.service.SuggestResolution(r.Context(), actor, conflictID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestion": suggestion})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	if s.signer == nil {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Actor{}, false
		}
		return Actor{UserID: userID, Role: rbac.Normalize(strings.TrimSpace(r.Header.Get("X-User-Role")))}, true
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Actor{}, false
	}
	claims, err := s.signer.Parse(token)
	if err != nil {
		writeDomainError(w, err)
		return Actor{}, false
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}, true
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

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID, X-User-Role")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	body := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

// readBody decodes the JSON body into target and writes a 400 on failure.
// An empty body leaves target untouched.
func readBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", key+" must be a non-negative integer", nil)
		return 0, false
	}
	return parsed, true
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
