package gateway

import (
	"fmt"
	"net/http"

	"github.com/soyeahso/parley/internal/domain"
)

type executePluginRequest struct {
	PluginID  string         `json:"pluginId"`
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
}

var errPluginsUnavailable = fmt.Errorf("%w: plugins are not enabled", domain.ErrNotFound)

func (s *Server) handleRegisterPlugin(w http.ResponseWriter, r *http.Request) {
	if s.svc.Plugins == nil {
		writeError(w, s.log, errPluginsUnavailable)
		return
	}
	var req domain.Plugin
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	p, err := s.svc.Plugins.RegisterExternal(r.Context(), req)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusCreated, p)
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	if s.svc.Plugins == nil {
		writeData(w, http.StatusOK, []domain.Plugin{})
		return
	}
	plugins, err := s.svc.Plugins.List(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, plugins)
}

func (s *Server) handleExecutePlugin(w http.ResponseWriter, r *http.Request) {
	if s.svc.Plugins == nil {
		writeError(w, s.log, errPluginsUnavailable)
		return
	}
	var req executePluginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	out, err := s.svc.Plugins.Execute(r.Context(), req.PluginID, req.Action, req.Arguments)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"pluginId": req.PluginID, "action": req.Action, "result": out})
}

func (s *Server) rpcPluginRegister(rc *RequestContext) {
	if s.svc.Plugins == nil {
		rc.Fail(errPluginsUnavailable)
		return
	}
	var p domain.Plugin
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	out, err := s.svc.Plugins.RegisterExternal(rc.Ctx, p)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(out)
}

func (s *Server) rpcPluginList(rc *RequestContext) {
	plugins := []domain.Plugin{}
	if s.svc.Plugins != nil {
		var err error
		if plugins, err = s.svc.Plugins.List(rc.Ctx); err != nil {
			rc.Fail(err)
			return
		}
	}
	rc.Respond(map[string]any{"plugins": plugins})
}

func (s *Server) rpcPluginExecute(rc *RequestContext) {
	if s.svc.Plugins == nil {
		rc.Fail(errPluginsUnavailable)
		return
	}
	var p executePluginRequest
	if err := rc.Params(&p); err != nil {
		rc.Fail(err)
		return
	}
	out, err := s.svc.Plugins.Execute(rc.Ctx, p.PluginID, p.Action, p.Arguments)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"pluginId": p.PluginID, "action": p.Action, "result": out})
}
