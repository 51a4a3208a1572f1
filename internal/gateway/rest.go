package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/relay"
)

type createSessionRequest struct {
	Title   string `json:"title"`
	ModelID string `json:"modelId"`
	OwnerID string `json:"ownerId"`
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

type setPermissionRequest struct {
	ToolName         string `json:"toolName"`
	Status           string `json:"status"`
	PermissionStatus string `json:"permissionStatus"`
}

func (s *Server) createSession(r *http.Request, req createSessionRequest) (*domain.Session, error) {
	sess := s.cfg.Sessions.NewSession(req.Title, req.ModelID, req.OwnerID)
	return s.svc.Sessions.CreateSession(r.Context(), sess)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	// The body is optional.
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, s.log, err)
			return
		}
	}
	sess, err := s.createSession(r, req)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"sessionId": sess.ID, "session": sess})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.Sessions.ListSessions(r.Context(), r.URL.Query().Get("ownerId"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeData(w, http.StatusOK, sessions)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req renameSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeFailure(w, http.StatusBadRequest, "VALIDATION_ERROR", "title is required")
		return
	}
	if err := s.svc.Sessions.RenameSession(r.Context(), id, title); err != nil {
		writeError(w, s.log, err)
		return
	}
	sess, err := s.svc.Sessions.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Sessions.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.Relay.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeData(w, http.StatusOK, msgs)
}

// handleChatSend streams one turn as Server-Sent Events. Failures before the
// turn starts are plain JSON errors; afterwards they arrive as an error event.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req relay.TurnRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	stream, err := s.svc.Relay.OpenStream(r.Context(), req)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Now().Add(s.cfg.Relay.TurnTimeout() + 10*time.Second))
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	sse := &sseWriter{w: w, rc: rc}

	for chunk := range stream.Chunks() {
		if err := sse.event("chunk", chunk); err != nil {
			s.log.Debug().Err(err).Str("sessionId", req.SessionID).Msg("client went away mid-stream")
			stream.Cancel()
			for range stream.Chunks() {
			}
			break
		}
	}

	res, err := stream.Wait()
	if err != nil {
		shape := errorShape(err)
		_ = sse.json("error", map[string]any{"code": shape.Code, "message": shape.Message})
		return
	}
	_ = sse.json("complete", map[string]any{
		"messageId": res.Assistant.ID,
		"degraded":  res.Degraded,
		"model":     res.Model,
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var desc domain.TaskDescriptor
	if err := decodeBody(w, r, &desc); err != nil {
		writeError(w, s.log, err)
		return
	}
	out, err := s.svc.Tasks.Execute(r.Context(), desc)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.svc.Tasks.Logs(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if logs == nil {
		logs = []domain.AgentLog{}
	}
	writeData(w, http.StatusOK, logs)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.svc.Tasks.Gate().List(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if perms == nil {
		perms = []domain.ToolPermission{}
	}
	writeData(w, http.StatusOK, map[string]any{
		"default":     s.svc.Tasks.Gate().Default(),
		"permissions": perms,
	})
}

func (s *Server) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Tasks.Gate().Get(r.Context(), chi.URLParam(r, "tool"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

// handleSetPermission serves both PUT /permissions/{tool} and the older
// POST /permissions with the tool name in the body.
func (s *Server) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	var req setPermissionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	tool := chi.URLParam(r, "tool")
	if tool == "" {
		tool = req.ToolName
	}
	status := req.Status
	if status == "" {
		status = req.PermissionStatus
	}
	p, err := s.svc.Tasks.UpdatePermission(r.Context(), tool, status)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) handleMetric(w http.ResponseWriter, r *http.Request) {
	if s.svc.Metrics == nil {
		writeFailure(w, http.StatusNotFound, "NOT_FOUND", "metrics are not stored")
		return
	}
	m, err := s.svc.Metrics.MetricByTask(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

// sseWriter frames Server-Sent Events and flushes after each one.
type sseWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

// event writes one event; multi-line data is split across data fields.
func (s *sseWriter) event(name, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) json(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.event(name, string(raw))
}
