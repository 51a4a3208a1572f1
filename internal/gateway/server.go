// Package gateway exposes parley over REST, Server-Sent Events and a
// WebSocket RPC protocol.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/plugin"
	"github.com/soyeahso/parley/internal/relay"
	"github.com/soyeahso/parley/internal/runtime"
	"github.com/soyeahso/parley/internal/tasks"
	"github.com/soyeahso/parley/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	maxPayload      = 4 << 20
	handshakeWait   = 10 * time.Second
	maxInflightRPCs = 8
)

// SessionStore is the session CRUD the gateway exposes.
type SessionStore interface {
	CreateSession(ctx context.Context, sess domain.Session) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListSessions(ctx context.Context, ownerID string) ([]domain.Session, error)
	RenameSession(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error
}

// MetricReader looks up recorded task metrics.
type MetricReader interface {
	MetricByTask(ctx context.Context, taskID string) (*domain.AgentMetric, error)
}

// Services are the components the gateway fronts.
type Services struct {
	Sessions SessionStore
	Relay    *relay.Relay
	Tasks    *tasks.Executor
	Metrics  MetricReader
	Hooks    *hooks.Manager   // optional; lifecycle events are pushed to WebSocket clients
	MCP      runtime.MCPAdmin // optional; MCP routes answer NOT_FOUND without it
	Plugins  *plugin.Registry // optional
}

// broadcastEvents are the lifecycle events forwarded to every WebSocket client.
var broadcastEvents = []string{hooks.EventTurnCompleted, hooks.EventTaskCompleted, hooks.EventPermissionChanged}

// Server is the parley HTTP + WebSocket gateway.
type Server struct {
	cfg      config.Config
	svc      Services
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	eventSeq atomic.Int64

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
	router      chi.Router
}

// New creates a gateway server.
func New(cfg config.Config, svc Services, log *logging.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		svc:         svc,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		startedAt:   time.Now(),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}
	s.registerRPCHandlers()
	s.router = s.routes()
	if svc.Hooks != nil {
		for _, event := range broadcastEvents {
			svc.Hooks.On(event, "gateway.broadcast", func(_ context.Context, p hooks.Payload) error {
				s.clients.Broadcast(p.Event, p.Data, s.eventSeq.Add(1))
				return nil
			})
		}
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.Gateway.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(tracing())
		r.Use(s.requireAuth)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/send", s.handleChatSend)
			r.Post("/sessions", s.handleCreateSession)
			r.Get("/sessions", s.handleListSessions)
			r.Patch("/sessions/{id}", s.handleRenameSession)
			r.Delete("/sessions/{id}", s.handleDeleteSession)
			r.Get("/sessions/{id}/messages", s.handleHistory)

			// Paths used by existing web clients.
			r.Post("/session", s.handleCreateSession)
			r.Delete("/session/{id}", s.handleDeleteSession)
			r.Put("/session/{id}/rename", s.handleRenameSession)
			r.Get("/history/{id}", s.handleHistory)
		})

		r.Route("/agent", func(r chi.Router) {
			r.Post("/execute", s.handleExecute)
			r.Get("/logs/{sessionId}", s.handleAgentLogs)
			r.Get("/permissions", s.handleListPermissions)
			r.Post("/permissions", s.handleSetPermission)
			r.Get("/permissions/{tool}", s.handleGetPermission)
			r.Put("/permissions/{tool}", s.handleSetPermission)
			r.Get("/metrics/{taskId}", s.handleMetric)
			r.Get("/mcp/list", s.handleListMCPs)
			r.Post("/mcp/toggle", s.handleToggleMCP)
			r.Post("/mcp/add", s.handleAddMCP)
			r.Delete("/mcp/{mcpId}", s.handleDeleteMCP)
		})

		r.Route("/plugins", func(r chi.Router) {
			r.Post("/register", s.handleRegisterPlugin)
			r.Get("/list", s.handleListPlugins)
			r.Post("/execute", s.handleExecutePlugin)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path)
	})
	return r
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	// SSE responses stay open for a whole turn.
	writeTimeout := s.cfg.Relay.TurnTimeout() + 15*time.Second
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Gateway.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Gateway.TLS.CertPath, s.cfg.Gateway.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Gateway.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled, tokens travel in cleartext")
	}

	go s.authLimiter.run(time.Minute)
	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway listening")

	s.emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway")
		s.emit(context.WithoutCancel(ctx), hooks.EventGatewayStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.authLimiter.close()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("gateway shutdown incomplete")
		}
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) emit(ctx context.Context, event string, data map[string]any) {
	if s.svc.Hooks != nil {
		s.svc.Hooks.Emit(ctx, event, data)
	}
}

// HealthResponse is returned by health checks. The public endpoint only
// fills Status; the authenticated RPC fills the rest.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Clients  int    `json:"clients,omitempty"`
	UptimeMs int64  `json:"uptimeMs,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, h RequestHandler) {
	s.handlers[method] = h
}

// handleWebSocket upgrades the request and serves one RPC connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshake runs challenge → connect → hello.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))

	challenge, err := NewEvent(EventChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "PROTOCOL_ERROR", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "INVALID_PARAMS", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion {
		sendErrorAndClose(conn, frame.ID, "PROTOCOL_ERROR", "unsupported protocol version")
		return nil, fmt.Errorf("client protocol %d too old", params.MaxProtocol)
	}

	var token string
	if params.Auth != nil {
		token = params.Auth.Token
	}
	res := Authorize(s.auth, token)
	if !res.OK {
		sendErrorAndClose(conn, frame.ID, "UNAUTHORIZED", res.Reason)
		return nil, fmt.Errorf("auth failed: %s", res.Reason)
	}

	_ = conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params.Client, res.Method, s.log.Sub("ws"))

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: version.Version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  append([]string{EventChallenge, EventChatDelta}, broadcastEvents...),
		},
		Policy: ServerPolicy{
			MaxPayload:    maxPayload,
			TurnTimeoutMs: s.cfg.Relay.TurnTimeoutMs,
		},
	}
	if err := client.Respond(frame.ID, hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Str("authMethod", res.Method).
		Msg("client authenticated")
	return client, nil
}

// readLoop serves request frames until the socket closes. Each request runs
// on its own goroutine, with at most maxInflightRPCs per connection.
// Requests in flight are cancelled when the socket goes away.
func (s *Server) readLoop(parent context.Context, client *Client) {
	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup
	slots := make(chan struct{}, maxInflightRPCs)
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}

		slots <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-slots
				wg.Done()
			}()
			s.dispatch(ctx, client, frame)
		}()
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		_ = client.RespondError(frame.ID, ErrorShape{
			Code:    "METHOD_NOT_FOUND",
			Message: "unknown method: " + frame.Method,
		})
		return
	}
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	_ = conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
