// Package gateway implements the Runtime Gateway: the HTTP surface that
// admits, multiplexes, and streams live agent sessions, including sub-agent
// spawning and inbound-event fan-in.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	serviceerrors "github.com/r3e-network/agent-core/infrastructure/errors"
	"github.com/r3e-network/agent-core/infrastructure/httputil"
	"github.com/r3e-network/agent-core/infrastructure/logging"
	"github.com/r3e-network/agent-core/internal/budget"
	"github.com/r3e-network/agent-core/internal/domain"
	"github.com/r3e-network/agent-core/internal/lifecycle"
)

// StreamEvent is one event delivered to a session's subscribers. Every
// event carries at least a Type; session_end and error are distinguished
// terminal types that end an SSE stream. Only session termination (after
// session_end) and Shutdown close a listener channel.
type StreamEvent struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

const (
	EventTypeMessage    = "message"
	EventTypeSessionEnd = "session_end"
	EventTypeError      = "error"
)

// ReplyHook abstracts the "generate-reply" LLM call: the gateway only
// knows it exists and that it produces a reply, the usage the call
// incurred, or an error. Model invocation itself is an external
// collaborator; the gateway reports the returned usage to the Lifecycle
// Manager's budget enforcer but never computes it.
type ReplyHook func(session domain.Session, message string) (reply string, usage budget.ToolCallUsage, err error)

// sessionRecord bundles a Session with its listener channels.
type sessionRecord struct {
	session   domain.Session
	listeners []chan StreamEvent
}

// Gateway mediates live agent sessions. It exclusively owns Session
// records; the Lifecycle Manager is consulted only by agent id.
type Gateway struct {
	router  *mux.Router
	manager *lifecycle.Manager
	logger  *logging.Logger
	reply   ReplyHook

	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

// New constructs a Gateway wired to manager for agent lookups and reply for
// generating assistant replies on inbound messages.
func New(manager *lifecycle.Manager, logger *logging.Logger, reply ReplyHook) *Gateway {
	g := &Gateway{
		manager:  manager,
		logger:   logger,
		reply:    reply,
		sessions: make(map[string]*sessionRecord),
	}
	g.router = mux.NewRouter()
	g.routes()
	return g
}

// Router exposes the gateway's mux.Router for mounting under a parent
// router (e.g. at /runtime).
func (g *Gateway) Router() *mux.Router { return g.router }

func (g *Gateway) routes() {
	g.router.HandleFunc("/sessions", g.handleCreateSession).Methods(http.MethodPost)
	g.router.HandleFunc("/sessions", g.handleListSessions).Methods(http.MethodGet)
	g.router.HandleFunc("/sessions/{id}", g.handleGetSession).Methods(http.MethodGet)
	g.router.HandleFunc("/sessions/{id}", g.handleTerminateSession).Methods(http.MethodDelete)
	g.router.HandleFunc("/sessions/{id}/message", g.handleSendMessage).Methods(http.MethodPost)
	g.router.HandleFunc("/sessions/{id}/stream", g.handleStream).Methods(http.MethodGet)
	g.router.HandleFunc("/spawn", g.handleSpawn).Methods(http.MethodPost)
	g.router.HandleFunc("/hooks/inbound", g.handleInboundHook).Methods(http.MethodPost)
	g.router.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
}

type createSessionRequest struct {
	AgentID      string `json:"agentId"`
	OrgID        string `json:"orgId"`
	Message      string `json:"message"`
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt"`
}

type createSessionResponse struct {
	SessionID string    `json:"sessionId"`
	AgentID   string    `json:"agentId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.Message == "" {
		httputil.BadRequest(w, "agentId and message are required")
		return
	}
	agent, err := g.manager.GetAgent(req.AgentID)
	if err != nil {
		httputil.NotFound(w, "agent not found")
		return
	}
	if agent.State != domain.StateRunning {
		svcErr := serviceerrors.InvalidStateForOp(string(agent.State), "create-session")
		httputil.WriteErrorWithCode(w, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message)
		return
	}

	session := domain.Session{
		ID:        uuid.NewString(),
		AgentID:   req.AgentID,
		OrgID:     req.OrgID,
		Status:    domain.SessionPending,
		CreatedAt: time.Now(),
	}
	g.registerSession(session)
	g.dispatchMessage(session, req.Message)

	httputil.WriteJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: session.ID, AgentID: session.AgentID, Status: string(session.Status), CreatedAt: session.CreatedAt,
	})
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	agentID := httputil.QueryString(r, "agentId", "")
	status := httputil.QueryString(r, "status", "")
	limit := httputil.QueryInt(r, "limit", 50)

	g.mu.Lock()
	var out []domain.Session
	for _, rec := range g.sessions {
		if agentID != "" && rec.session.AgentID != agentID {
			continue
		}
		if status != "" && string(rec.session.Status) != status {
			continue
		}
		out = append(out, rec.session)
		if len(out) >= limit {
			break
		}
	}
	g.mu.Unlock()

	httputil.WriteJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := g.lookupSession(id)
	if !ok {
		httputil.NotFound(w, "session not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (g *Gateway) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !g.terminateSession(id) {
		httputil.NotFound(w, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, ok := g.lookupSession(id)
	if !ok {
		httputil.NotFound(w, "session not found")
		return
	}

	var req sendMessageRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		httputil.BadRequest(w, "message is required")
		return
	}

	g.dispatchMessage(session.session, req.Message)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (g *Gateway) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentSessionID string `json:"parentSessionId"`
		Task            string `json:"task"`
		AgentID         string `json:"agentId"`
		Model           string `json:"model"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.ParentSessionID == "" || req.Task == "" {
		httputil.BadRequest(w, "parentSessionId and task are required")
		return
	}

	parent, ok := g.lookupSession(req.ParentSessionID)
	if !ok {
		httputil.NotFound(w, "parent session not found")
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = parent.session.AgentID
	}

	child := domain.Session{
		ID:              uuid.NewString(),
		AgentID:         agentID,
		OrgID:           parent.session.OrgID,
		Status:          domain.SessionPending,
		CreatedAt:       time.Now(),
		ParentSessionID: req.ParentSessionID,
	}
	g.registerSession(child)
	g.dispatchMessage(child, req.Task)

	httputil.WriteJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: child.ID, AgentID: child.AgentID, Status: string(child.Status), CreatedAt: child.CreatedAt,
	})
}

func (g *Gateway) handleInboundHook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID   string `json:"agentId"`
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		httputil.BadRequest(w, "message is required")
		return
	}

	if req.SessionID != "" {
		if rec, ok := g.lookupSession(req.SessionID); ok {
			g.dispatchMessage(rec.session, req.Message)
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
			return
		}
	}

	if req.AgentID == "" {
		httputil.BadRequest(w, "agentId is required when sessionId is absent")
		return
	}
	if _, err := g.manager.GetAgent(req.AgentID); err != nil {
		httputil.NotFound(w, "agent not found")
		return
	}

	session := domain.Session{ID: uuid.NewString(), AgentID: req.AgentID, Status: domain.SessionPending, CreatedAt: time.Now()}
	g.registerSession(session)
	g.dispatchMessage(session, req.Message)

	httputil.WriteJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: session.ID, AgentID: session.AgentID, Status: string(session.Status), CreatedAt: session.CreatedAt,
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	count := len(g.sessions)
	g.mu.Unlock()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "liveSessions": count})
}

// Shutdown closes every open session stream. Called by the process's
// shutdown hook.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, rec := range g.sessions {
		for _, ch := range rec.listeners {
			close(ch)
		}
		delete(g.sessions, id)
	}
}
