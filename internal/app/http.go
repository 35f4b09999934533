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
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"releasegrid/api/internal/events"
	"releasegrid/api/internal/mutation"
	"releasegrid/api/internal/search"
	"releasegrid/api/internal/util"
	"releasegrid/api/internal/versioning"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "projects" {
		projectID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "project id must be an integer", nil)
			return
		}
		s.handleProject(w, r, projectID, parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "issues" {
		issueID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "issue id must be an integer", nil)
			return
		}
		s.handleIssue(w, r, issueID, parts)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "versions" && r.Method == http.MethodPut {
		versionID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version id must be an integer", nil)
			return
		}
		var body VersionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateVersion(r.Context(), versionID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "realtime" && r.Method == http.MethodPost {
		s.handleRealtime(w, r, parts[2])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, projectID int64, parts []string) {
	rest := parts[3:]

	switch {
	case len(rest) == 1 && rest[0] == "grid" && r.Method == http.MethodGet:
		payload, err := s.service.Grid(r.Context(), projectID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "issues" && r.Method == http.MethodGet:
		items, err := s.service.ListIssues(r.Context(), projectID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"issues": items})

	case len(rest) == 1 && rest[0] == "issues" && r.Method == http.MethodPost:
		var body struct {
			Tracker        string  `json:"tracker"`
			Subject        string  `json:"subject"`
			Description    string  `json:"description"`
			Priority       string  `json:"priority"`
			Assignee       *string `json:"assignee"`
			ParentID       *int64  `json:"parentId"`
			VersionID      *int64  `json:"versionId"`
			EstimatedHours float64 `json:"estimatedHours"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateIssue(r.Context(), mutation.CreateRequest{
			ProjectID:      projectID,
			Tracker:        body.Tracker,
			Subject:        body.Subject,
			Description:    body.Description,
			Priority:       body.Priority,
			Assignee:       body.Assignee,
			ParentID:       body.ParentID,
			VersionID:      body.VersionID,
			EstimatedHours: body.EstimatedHours,
			Actor:          actorFrom(r),
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodGet:
		items, err := s.service.ListVersions(r.Context(), projectID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": items})

	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodPost:
		var body VersionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateVersion(r.Context(), projectID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case len(rest) == 2 && rest[0] == "batch" && r.Method == http.MethodPost:
		s.handleBatch(w, r, projectID, rest[1])

	case len(rest) == 2 && rest[0] == "batch" && rest[1] == "history" && r.Method == http.MethodGet:
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		payload, err := s.service.BatchHistory(r.Context(), projectID,
			strings.TrimSpace(query.Get("type")), strings.TrimSpace(query.Get("actor")), limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "events" && r.Method == http.MethodGet:
		since := int64(0)
		if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "since must be an integer cursor", nil)
				return
			}
			since = parsed
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		payload, err := s.service.PollEvents(r.Context(), projectID, since, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodGet:
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		payload, err := s.service.Search(r.Context(), search.Query{
			ProjectID:     projectID,
			Text:          strings.TrimSpace(query.Get("q")),
			FilterTracker: strings.TrimSpace(query.Get("tracker")),
			FilterStatus:  strings.TrimSpace(query.Get("status")),
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "subscribe" && r.Method == http.MethodPost:
		var body struct {
			ClientInfo string `json:"clientInfo"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sessions := s.service.Events().Sessions()
		if sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime sessions not configured", nil)
			return
		}
		session, err := sessions.Create(r.Context(), util.NewID("sess"), projectID, body.ClientInfo)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, session)

	case len(rest) == 1 && rest[0] == "sessions" && r.Method == http.MethodGet:
		sessions := s.service.Events().Sessions()
		if sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime sessions not configured", nil)
			return
		}
		active, err := sessions.Active(r.Context(), projectID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if active == nil {
			active = []events.Session{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": active, "count": len(active)})

	case len(rest) == 1 && rest[0] == "ws" && r.Method == http.MethodGet:
		s.handleWebSocket(w, r, projectID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleIssue(w http.ResponseWriter, r *http.Request, issueID int64, parts []string) {
	rest := parts[3:]

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.GetIssue(r.Context(), issueID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 0 && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		var body issueUpdateBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		fields, err := body.fields()
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload, err := s.service.UpdateIssue(r.Context(), mutation.UpdateRequest{
			IssueID:            issueID,
			Fields:             fields,
			ExpectedLock:       body.LockVersion,
			WorkflowValidation: body.WorkflowValidation,
			Role:               roleFrom(r),
			Actor:              actorFrom(r),
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 0 && r.Method == http.MethodDelete:
		var body struct {
			LockVersion *int   `json:"lockVersion"`
			Reason      string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.DeleteIssue(r.Context(), mutation.DeleteRequest{
			IssueID:      issueID,
			Reason:       body.Reason,
			ExpectedLock: body.LockVersion,
			Actor:        actorFrom(r),
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "move" && r.Method == http.MethodPost:
		var body struct {
			SetParent           bool   `json:"setParent"`
			ParentID            *int64 `json:"parentId"`
			SetVersion          bool   `json:"setVersion"`
			VersionID           *int64 `json:"versionId"`
			PropagateToChildren *bool  `json:"propagateToChildren"`
			Force               bool   `json:"force"`
			LockVersion         *int   `json:"lockVersion"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if !body.SetParent && !body.SetVersion {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "move must set a parent, a version, or both", nil)
			return
		}
		propagate := true
		if body.PropagateToChildren != nil {
			propagate = *body.PropagateToChildren
		}
		payload, err := s.service.MoveIssue(r.Context(), mutation.MoveRequest{
			IssueID:             issueID,
			ParentSet:           body.SetParent,
			ParentID:            body.ParentID,
			VersionSet:          body.SetVersion,
			VersionID:           body.VersionID,
			ExpectedLock:        body.LockVersion,
			PropagateToChildren: propagate,
			Force:               body.Force,
			Actor:               actorFrom(r),
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 1 && rest[0] == "assignable-versions" && r.Method == http.MethodGet:
		items, err := s.service.AssignableVersions(r.Context(), issueID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": items})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBatch(w http.ResponseWriter, r *http.Request, projectID int64, action string) {
	switch action {
	case "update":
		var body struct {
			Items []struct {
				ID          int64           `json:"id"`
				LockVersion *int            `json:"lockVersion"`
				Fields      issueUpdateBody `json:"fields"`
			} `json:"items"`
			WorkflowValidation bool `json:"workflowValidation"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		req := mutation.BatchUpdateRequest{
			ProjectID:          projectID,
			WorkflowValidation: body.WorkflowValidation,
			Role:               roleFrom(r),
			Actor:              actorFrom(r),
		}
		for _, item := range body.Items {
			fields, err := item.Fields.fields()
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			req.Items = append(req.Items, mutation.BatchUpdateItem{
				IssueID:      item.ID,
				Fields:       fields,
				ExpectedLock: item.LockVersion,
			})
		}
		payload, err := s.service.BatchUpdate(r.Context(), req)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case "version":
		var body struct {
			Items []struct {
				ID          int64 `json:"id"`
				LockVersion *int  `json:"lockVersion"`
			} `json:"items"`
			// issueIds is the lock-free shorthand for items.
			IssueIDs            []int64 `json:"issueIds"`
			VersionID           *int64  `json:"versionId"`
			PropagateToChildren *bool   `json:"propagateToChildren"`
			Force               bool    `json:"force"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		propagate := true
		if body.PropagateToChildren != nil {
			propagate = *body.PropagateToChildren
		}
		items := make([]mutation.BatchVersionAssignItem, 0, len(body.Items)+len(body.IssueIDs))
		for _, item := range body.Items {
			items = append(items, mutation.BatchVersionAssignItem{IssueID: item.ID, ExpectedLock: item.LockVersion})
		}
		for _, issueID := range body.IssueIDs {
			items = append(items, mutation.BatchVersionAssignItem{IssueID: issueID})
		}
		payload, err := s.service.BatchVersionAssign(r.Context(), mutation.BatchVersionAssignRequest{
			ProjectID:           projectID,
			Items:               items,
			VersionID:           body.VersionID,
			PropagateToChildren: propagate,
			Force:               body.Force,
			Actor:               actorFrom(r),
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case "status":
		var body struct {
			IssueIDs           []int64 `json:"issueIds"`
			Status             string  `json:"status"`
			WorkflowValidation bool    `json:"workflowValidation"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.BatchStatusTransition(r.Context(), mutation.BatchStatusTransitionRequest{
			ProjectID:          projectID,
			IssueIDs:           body.IssueIDs,
			ToStatus:           body.Status,
			WorkflowValidation: body.WorkflowValidation,
			Role:               roleFrom(r),
			Actor:              actorFrom(r),
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleRealtime(w http.ResponseWriter, r *http.Request, action string) {
	sessions := s.service.Events().Sessions()
	if sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime sessions not configured", nil)
		return
	}
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.SessionID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sessionId is required", nil)
		return
	}

	switch action {
	case "heartbeat":
		session, err := sessions.Heartbeat(r.Context(), body.SessionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case "unsubscribe":
		if err := sessions.Remove(r.Context(), body.SessionID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// issueUpdateBody is the partial-edit wire shape; absent keys leave the
// field unchanged.
type issueUpdateBody struct {
	Subject            *string          `json:"subject"`
	Description        *string          `json:"description"`
	Status             *string          `json:"status"`
	Priority           *string          `json:"priority"`
	Assignee           *json.RawMessage `json:"assignee"`
	DoneRatio          *int             `json:"doneRatio"`
	EstimatedHours     *float64         `json:"estimatedHours"`
	StartDate          *string          `json:"startDate"`
	DueDate            *string          `json:"dueDate"`
	LockVersion        *int             `json:"lockVersion"`
	WorkflowValidation bool             `json:"workflowValidation"`
}

func (b issueUpdateBody) fields() (mutation.Fields, error) {
	fields := mutation.Fields{
		Subject:        b.Subject,
		Description:    b.Description,
		Status:         b.Status,
		Priority:       b.Priority,
		DoneRatio:      b.DoneRatio,
		EstimatedHours: b.EstimatedHours,
	}
	if b.Assignee != nil {
		// An explicit null clears the assignee.
		var assignee *string
		if err := json.Unmarshal(*b.Assignee, &assignee); err != nil {
			return mutation.Fields{}, domainError(422, "VALIDATION_ERROR", "assignee must be a string or null", nil)
		}
		fields.Assignee = assignee
		fields.AssigneeSet = true
	}
	if b.StartDate != nil {
		parsed, err := time.Parse("2006-01-02", *b.StartDate)
		if err != nil {
			return mutation.Fields{}, domainError(422, "VALIDATION_ERROR", "startDate must be YYYY-MM-DD", nil)
		}
		fields.StartDate = &parsed
	}
	if b.DueDate != nil {
		parsed, err := time.Parse("2006-01-02", *b.DueDate)
		if err != nil {
			return mutation.Fields{}, domainError(422, "VALIDATION_ERROR", "dueDate must be YYYY-MM-DD", nil)
		}
		fields.DueDate = &parsed
	}
	return fields, nil
}

func actorFrom(r *http.Request) string {
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		return "anonymous"
	}
	return actor
}

func roleFrom(r *http.Request) string {
	role := strings.TrimSpace(r.Header.Get("X-Role"))
	if role == "" {
		return "developer"
	}
	return role
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Actor, X-Role")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
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
		// An empty body is a valid "all defaults" request.
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
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
	if errors.Is(err, events.ErrSessionExpired) {
		return http.StatusNotFound, "SESSION_EXPIRED", "Session expired or unknown", nil
	}

	var conflict *mutation.ConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, "CONCURRENCY_CONFLICT", "Issue was modified by someone else", map[string]any{
			"issueId":              conflict.ResourceID,
			"currentLockVersion":   conflict.CurrentVersion,
			"attemptedLockVersion": conflict.AttemptedVersion,
		}
	}
	var notAssignable *versioning.NotAssignableError
	if errors.As(err, &notAssignable) {
		return http.StatusUnprocessableEntity, "VERSION_NOT_ASSIGNABLE", "Version is not assignable to this issue", map[string]any{
			"issueId":            notAssignable.IssueID,
			"versionId":          notAssignable.VersionID,
			"assignableVersions": versionViews(notAssignable.Assignable),
		}
	}
	var workflow *mutation.WorkflowError
	if errors.As(err, &workflow) {
		return http.StatusUnprocessableEntity, "WORKFLOW_VIOLATION", "Status transition not allowed", map[string]any{
			"issueId": workflow.IssueID,
			"tracker": workflow.Tracker,
			"from":    workflow.FromStatus,
			"to":      workflow.ToStatus,
		}
	}
	var hier *mutation.HierarchyError
	if errors.As(err, &hier) {
		return http.StatusUnprocessableEntity, "INVALID_HIERARCHY", hier.Reason, map[string]any{
			"issueId": hier.IssueID,
		}
	}
	var capErr *mutation.BatchCapError
	if errors.As(err, &capErr) {
		return http.StatusUnprocessableEntity, "BATCH_TOO_LARGE", "Batch exceeds the item cap", map[string]any{
			"requested": capErr.Requested,
			"cap":       capErr.Cap,
		}
	}
	var validation *mutation.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Error(), map[string]any{
			"field": validation.Field,
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
