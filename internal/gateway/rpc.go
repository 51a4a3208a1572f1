package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/relay"
	"github.com/soyeahso/parley/internal/version"
)

// RequestHandler serves one RPC method.
type RequestHandler func(rc *RequestContext)

// RequestContext carries a single RPC request.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// Fail sends an error response derived from err.
func (rc *RequestContext) Fail(err error) {
	if shape := errorShape(err); shape.Code == "INTERNAL_ERROR" {
		rc.Server.log.Error().Err(err).Str("method", rc.Frame.Method).Msg("rpc failed")
	}
	_ = rc.Client.RespondError(rc.Frame.ID, errorShape(err))
}

// Params decodes the request params into target.
func (rc *RequestContext) Params(target any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(rc.Frame.Params, target); err != nil {
		return fmt.Errorf("%w: invalid params: %v", domain.ErrValidation, err)
	}
	return nil
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("session.create", s.rpcSessionCreate)
	s.Handle("session.list", s.rpcSessionList)
	s.Handle("chat.history", s.rpcChatHistory)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("agent.execute", s.rpcAgentExecute)
	s.Handle("agent.logs", s.rpcAgentLogs)
	s.Handle("permission.get", s.rpcPermissionGet)
	s.Handle("permission.set", s.rpcPermissionSet)
	s.Handle("permission.list", s.rpcPermissionList)
	s.Handle("agent.mcp.list", s.rpcMCPList)
	s.Handle("agent.mcp.toggle", s.rpcMCPToggle)
	s.Handle("agent.mcp.add", s.rpcMCPAdd)
	s.Handle("agent.mcp.delete", s.rpcMCPDelete)
	s.Handle("plugin.register", s.rpcPluginRegister)
	s.Handle("plugin.list", s.rpcPluginList)
	s.Handle("plugin.execute", s.rpcPluginExecute)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:   "ok",
		Version:  version.Version,
		Clients:  s.clients.Count(),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	})
}

func (s *Server) rpcSessionCreate(rc *RequestContext) {
	var p createSessionRequest
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	sess, err := s.svc.Sessions.CreateSession(rc.Ctx, s.cfg.Sessions.NewSession(p.Title, p.ModelID, p.OwnerID))
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(sess)
}

func (s *Server) rpcSessionList(rc *RequestContext) {
	var p struct {
		OwnerID string `json:"ownerId"`
	}
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	sessions, err := s.svc.Sessions.ListSessions(rc.Ctx, p.OwnerID)
	if err != nil {
		rc.Fail(err)
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	rc.Respond(map[string]any{"sessions": sessions})
}

func (s *Server) rpcChatHistory(rc *RequestContext) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	msgs, err := s.svc.Relay.History(rc.Ctx, p.SessionID)
	if err != nil {
		rc.Fail(err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	rc.Respond(map[string]any{"messages": msgs})
}

// rpcChatSend streams chat.delta events and then responds with the result.
// A failed event write cancels the turn.
func (s *Server) rpcChatSend(rc *RequestContext) {
	var p relay.TurnRequest
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}

	res, err := s.svc.Relay.Send(rc.Ctx, p, func(chunk string) error {
		return rc.Client.SendEvent(EventChatDelta, map[string]any{
			"requestId": rc.Frame.ID,
			"sessionId": p.SessionID,
			"content":   chunk,
		}, s.eventSeq.Add(1))
	})
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{
		"messageId": res.Assistant.ID,
		"sessionId": p.SessionID,
		"content":   res.Assistant.Content,
		"model":     res.Model,
		"degraded":  res.Degraded,
	})
}

func (s *Server) rpcAgentExecute(rc *RequestContext) {
	var desc domain.TaskDescriptor
	if err := rc.Params(&desc); err != nil {
		rc.Fail(err)
		return
	}
	out, err := s.svc.Tasks.Execute(rc.Ctx, desc)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(out)
}

func (s *Server) rpcAgentLogs(rc *RequestContext) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	logs, err := s.svc.Tasks.Logs(rc.Ctx, p.SessionID)
	if err != nil {
		rc.Fail(err)
		return
	}
	if logs == nil {
		logs = []domain.AgentLog{}
	}
	rc.Respond(map[string]any{"logs": logs})
}

func (s *Server) rpcPermissionGet(rc *RequestContext) {
	var p struct {
		ToolName string `json:"toolName"`
	}
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	perm, err := s.svc.Tasks.Gate().Get(rc.Ctx, p.ToolName)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(perm)
}

func (s *Server) rpcPermissionSet(rc *RequestContext) {
	var p setPermissionRequest
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	status := p.Status
	if status == "" {
		status = p.PermissionStatus
	}
	perm, err := s.svc.Tasks.UpdatePermission(rc.Ctx, p.ToolName, status)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(perm)
}

func (s *Server) rpcPermissionList(rc *RequestContext) {
	perms, err := s.svc.Tasks.Gate().List(rc.Ctx)
	if err != nil {
		rc.Fail(err)
		return
	}
	if perms == nil {
		perms = []domain.ToolPermission{}
	}
	rc.Respond(map[string]any{"default": s.svc.Tasks.Gate().Default(), "permissions": perms})
}
