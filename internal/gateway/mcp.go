package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/runtime"
)

// toggleMCPRequest accepts both the runtime's snake_case id and camelCase.
type toggleMCPRequest struct {
	MCPID     string `json:"mcpId"`
	MCPIDWire string `json:"mcp_id"`
	Enabled   *bool  `json:"enabled"`
}

func (r toggleMCPRequest) id() string {
	if r.MCPID != "" {
		return r.MCPID
	}
	return r.MCPIDWire
}

func (s *Server) toggleMCP(ctx context.Context, req toggleMCPRequest) (map[string]any, error) {
	if req.Enabled == nil {
		return nil, fmt.Errorf("%w: enabled is required", domain.ErrValidation)
	}
	if err := s.svc.MCP.ToggleMCP(ctx, req.id(), *req.Enabled); err != nil {
		return nil, err
	}
	return map[string]any{"mcpId": req.id(), "enabled": *req.Enabled}, nil
}

// mcpUnavailable reports a missing runtime admin client.
func (s *Server) mcpUnavailable(w http.ResponseWriter) bool {
	if s.svc.MCP == nil {
		writeFailure(w, http.StatusNotFound, "NOT_FOUND", "mcp management is not available")
		return true
	}
	return false
}

func (s *Server) handleListMCPs(w http.ResponseWriter, r *http.Request) {
	if s.mcpUnavailable(w) {
		return
	}
	mcps, err := s.svc.MCP.ListMCPs(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"mcps": mcps})
}

func (s *Server) handleToggleMCP(w http.ResponseWriter, r *http.Request) {
	if s.mcpUnavailable(w) {
		return
	}
	var req toggleMCPRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	out, err := s.toggleMCP(r.Context(), req)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleAddMCP(w http.ResponseWriter, r *http.Request) {
	if s.mcpUnavailable(w) {
		return
	}
	var req runtime.MCPServer
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := s.svc.MCP.AddMCP(r.Context(), req); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"mcpId": req.ID})
}

func (s *Server) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	if s.mcpUnavailable(w) {
		return
	}
	id := chi.URLParam(r, "mcpId")
	if err := s.svc.MCP.DeleteMCP(r.Context(), id); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"mcpId": id})
}

var errMCPUnavailable = fmt.Errorf("%w: mcp management is not available", domain.ErrNotFound)

func (s *Server) rpcMCPList(rc *RequestContext) {
	if s.svc.MCP == nil {
		rc.Fail(errMCPUnavailable)
		return
	}
	mcps, err := s.svc.MCP.ListMCPs(rc.Ctx)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"mcps": mcps})
}

func (s *Server) rpcMCPToggle(rc *RequestContext) {
	if s.svc.MCP == nil {
		rc.Fail(errMCPUnavailable)
		return
	}
	var p toggleMCPRequest
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	out, err := s.toggleMCP(rc.Ctx, p)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(out)
}

func (s *Server) rpcMCPAdd(rc *RequestContext) {
	if s.svc.MCP == nil {
		rc.Fail(errMCPUnavailable)
		return
	}
	var p runtime.MCPServer
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	if err := s.svc.MCP.AddMCP(rc.Ctx, p); err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"mcpId": p.ID})
}

func (s *Server) rpcMCPDelete(rc *RequestContext) {
	if s.svc.MCP == nil {
		rc.Fail(errMCPUnavailable)
		return
	}
	var p struct {
		MCPID string `json:"mcpId"`
	}
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	if err := s.svc.MCP.DeleteMCP(rc.Ctx, p.MCPID); err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"mcpId": p.MCPID})
}
