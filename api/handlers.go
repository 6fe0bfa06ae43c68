package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"strdash/backend"
	"strdash/connection"
	"strdash/export"
	"strdash/search"
	"strdash/session"
	"strdash/storage"
)

// searchResponse is the reply to POST /api/search.
type searchResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Outcome *search.Outcome `json:"outcome,omitempty"`
}

// connectionsResponse is the reply to GET /api/connections.
type connectionsResponse struct {
	Status session.ConnectionStatus `json:"status"`
	Badges interface{}              `json:"badges"`
}

// healthCheck reports liveness and the number of open workspaces.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"workspaces": s.registry.Len(),
		"time":       time.Now().UTC(),
	}, s.logger)
}

func (s *Server) workspace(w http.ResponseWriter, r *http.Request) (*Workspace, bool) {
	ws, ok := GetWorkspace(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "No workspace bound to request", nil, s.logger)
	}
	return ws, ok
}

// getState returns the page snapshot the dashboard renders from.
func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Page.State(), s.logger)
}

// postSearch runs an alert search. Sections stream over the WebSocket
// while the request is open; the reply carries the final outcome.
func (s *Server) postSearch(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	form, err := readForm(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	outcome, err := ws.Search.Search(r.Context(), form.Get("alert_id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, searchResponse{Success: true, Outcome: outcome}, s.logger)
	case errors.Is(err, search.ErrSearchInProgress):
		writeFailure(w, http.StatusConflict, "A search is already in progress.", s.logger)
	case errors.Is(err, search.ErrPrimaryNotConnected):
		writeFailure(w, http.StatusPreconditionRequired, "Connect to the Oracle data source first.", s.logger)
	case errors.Is(err, search.ErrEmptyAlertID):
		writeFailure(w, http.StatusBadRequest, "Enter an alert ID.", s.logger)
	case errors.Is(err, search.ErrDuplicateSearch):
		writeJSON(w, http.StatusOK, searchResponse{
			Success: true,
			Message: fmt.Sprintf("Alert %s is already loaded.", ws.SearchState.AlertID()),
		}, s.logger)
	case errors.Is(err, search.ErrSearchFailed) && outcome != nil:
		writeJSON(w, http.StatusUnprocessableEntity, searchResponse{Message: outcome.Message, Outcome: outcome}, s.logger)
	default:
		writeError(w, http.StatusInternalServerError, "Alert search failed", err, s.logger)
	}
}

// getConnections returns both connection flags and badges.
func (s *Server) getConnections(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, connectionsResponse{
		Status: ws.Connections.Snapshot(),
		Badges: ws.Page.State().Badges,
	}, s.logger)
}

// postConnectionTest tests one data source with the submitted fields.
// Empty fields fall back to the configured defaults.
func (s *Server) postConnectionTest(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	source, err := session.ParseSource(mux.Vars(r)["source"])
	if err != nil {
		writeFailure(w, http.StatusNotFound, err.Error(), s.logger)
		return
	}
	form, err := readForm(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	if err := ws.Ready(r.Context()); err != nil {
		s.writeConnectionError(w, err)
		return
	}

	var result *connection.TestResult
	if source == session.SourcePrimary {
		params := connection.PrimaryFromForm(form, "").WithDefaults(ws.Defaults.Primary)
		result, err = ws.Connection.TestPrimary(r.Context(), params)
	} else {
		params := connection.AnalyticsFromForm(form, "").WithDefaults(ws.Defaults.Analytics)
		result, err = ws.Connection.TestAnalytics(r.Context(), params)
	}
	if err != nil {
		s.writeConnectionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   result.Connected,
		"source":    result.Source,
		"connected": result.Connected,
		"message":   result.Message,
	}, s.logger)
}

// postConnectAll connects both sources from the prefixed form fields.
func (s *Server) postConnectAll(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	form, err := readForm(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	if err := ws.Ready(r.Context()); err != nil {
		s.writeConnectionError(w, err)
		return
	}

	params := connection.ConnectAllFromForm(form)
	params.Primary = params.Primary.WithDefaults(ws.Defaults.Primary)
	params.Analytics = params.Analytics.WithDefaults(ws.Defaults.Analytics)

	result, err := ws.Connection.ConnectAll(r.Context(), params)
	if err != nil {
		s.writeConnectionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         result.Primary || result.Analytics,
		"outcome":         result.Outcome,
		"primary":         result.Primary,
		"analytics":       result.Analytics,
		"primary_error":   result.PrimaryError,
		"analytics_error": result.AnalyticsError,
		"message":         result.Message,
	}, s.logger)
}

func (s *Server) writeConnectionError(w http.ResponseWriter, err error) {
	var fe *connection.FieldError
	switch {
	case errors.As(err, &fe):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: fe.Error(), Field: fe.Field}, s.logger)
	case errors.Is(err, connection.ErrBusy):
		writeFailure(w, http.StatusConflict, "A connection attempt is already running.", s.logger)
	default:
		s.logger.Warnw("Connection request failed", "error", err)
		writeFailure(w, http.StatusBadGateway, backend.UserMessage(err, "Connection failed."), s.logger)
	}
}

// postExportPrepare stages the export without downloading it.
func (s *Server) postExportPrepare(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Ready(r.Context()); err != nil {
		s.writeExportError(w, err)
		return
	}
	url, err := ws.Export.Prepare(r.Context())
	if err != nil {
		s.writeExportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"download_url": "/api/export/download",
		"backend_url":  url,
	}, s.logger)
}

// getExportDownload prepares the export and, only when that succeeds,
// sends the artifact as an attachment.
func (s *Server) getExportDownload(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Ready(r.Context()); err != nil {
		s.writeExportError(w, err)
		return
	}

	var buf bytes.Buffer
	result, err := ws.Export.Run(r.Context(), &buf)
	if err != nil {
		s.writeExportError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/toml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warnw("Failed to write export download", "error", err)
	}
}

func (s *Server) writeExportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, export.ErrNothingToExport):
		writeFailure(w, http.StatusConflict, "Search an alert before exporting.", s.logger)
	case errors.Is(err, export.ErrExportInProgress):
		writeFailure(w, http.StatusConflict, "An export is already in progress.", s.logger)
	default:
		s.logger.Warnw("Export failed", "error", err)
		writeFailure(w, http.StatusBadGateway, backend.UserMessage(err, "Export failed."), s.logger)
	}
}

// getAudit lists recent audit events, optionally of one kind.
func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeFailure(w, http.StatusNotFound, "Audit trail is disabled.", s.logger)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeFailure(w, http.StatusBadRequest, "limit must be a positive integer", s.logger)
			return
		}
		limit = n
	}
	kind := r.URL.Query().Get("kind")
	switch kind {
	case "", storage.AuditKindSearch, storage.AuditKindConnection, storage.AuditKindExport:
	default:
		writeFailure(w, http.StatusBadRequest, "unknown audit kind", s.logger)
		return
	}

	events, err := s.audit.Recent(r.Context(), limit, kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read audit trail", err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"events":  events,
	}, s.logger)
}

// serveWebSocket streams the workspace's page events.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	s.hub.serveWs(&s.upgrader, ws.ID, w, r)
}
