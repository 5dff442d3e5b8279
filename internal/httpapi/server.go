// Package httpapi exposes the supervisor's HTTP surface: the dispatch
// entry point, registry/health introspection, conversation management,
// standalone intent identification, and the auth-gated debug route. A
// bare *http.ServeMux with one HandleFunc per endpoint, wrapped in
// otelhttp for automatic span creation per request.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eduassist/supervisor/internal/apperr"
	"github.com/eduassist/supervisor/internal/debugstore"
	"github.com/eduassist/supervisor/internal/health"
	"github.com/eduassist/supervisor/internal/intent"
	"github.com/eduassist/supervisor/internal/memory"
	"github.com/eduassist/supervisor/internal/obslog"
	"github.com/eduassist/supervisor/internal/orchestrator"
	"github.com/eduassist/supervisor/internal/registry"
)

// Server wires every external endpoint onto a single ServeMux.
type Server struct {
	reg        *registry.Registry
	prober     *health.Prober
	identifier *intent.Identifier
	orch       *orchestrator.Orchestrator
	store      memory.Store
	debug      *debugstore.Store
	logger     obslog.Logger
	debugToken string
}

// New builds a Server. debugToken empty disables the bearer check and
// leaves /debug/last-agent-response open, acceptable for local dev only.
func New(reg *registry.Registry, prober *health.Prober, identifier *intent.Identifier, orch *orchestrator.Orchestrator, store memory.Store, debug *debugstore.Store, logger obslog.Logger, debugToken string) *Server {
	return &Server{
		reg:        reg,
		prober:     prober,
		identifier: identifier,
		orch:       orch,
		store:      store,
		debug:      debug,
		logger:     logger.WithComponent("httpapi"),
		debugToken: debugToken,
	}
}

// Handler builds the instrumented http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /request", s.handleRequest)
	mux.HandleFunc("GET /registry", s.handleRegistry)
	mux.HandleFunc("GET /agent/{id}/health", s.handleAgentHealth)
	mux.HandleFunc("GET /conversation/history", s.handleHistory)
	mux.HandleFunc("GET /conversation/summary", s.handleSummary)
	mux.HandleFunc("DELETE /conversation/clear", s.handleClear)
	mux.HandleFunc("POST /identify-intent", s.handleIdentifyIntent)
	mux.Handle("GET /debug/last-agent-response", requireBearerToken(s.debugToken, http.HandlerFunc(s.handleDebug)))
	mux.HandleFunc("GET /health", s.handleSelfHealth)

	return otelhttp.NewHandler(mux, "supervisor.http")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{"error": message})
}

func userIDFromRequest(r *http.Request, body requestBody) string {
	if body.ConversationID != "" {
		return body.ConversationID
	}
	if v := r.Header.Get("X-User-Id"); v != "" {
		return v
	}
	return "anonymous"
}

type requestBody struct {
	Request        string `json:"request"`
	AgentID        string `json:"agentId"`
	AutoRoute      *bool  `json:"autoRoute"`
	IncludeHistory *bool  `json:"includeHistory"`
	ConversationID string `json:"conversationId"`
}

// handleRequest is the main dispatch entry point, POST /request.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	autoRoute := true
	if body.AutoRoute != nil {
		autoRoute = *body.AutoRoute
	}
	includeHistory := true
	if body.IncludeHistory != nil {
		includeHistory = *body.IncludeHistory
	}

	result, err := s.orch.Handle(r.Context(), orchestrator.Request{
		UserID:         userIDFromRequest(r, body),
		Message:        body.Request,
		AgentID:        body.AgentID,
		AutoRoute:      autoRoute,
		IncludeHistory: includeHistory,
	})
	if err != nil {
		s.logger.Error("orchestrator handling failed", map[string]interface{}{"error": err.Error()})
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"response":  "An unexpected error occurred while processing your request.",
			"timestamp": time.Now(),
			"error":     map[string]string{"code": apperr.CodeUnexpected, "message": err.Error()},
		})
		return
	}

	if result.Clarification != nil {
		s.writeJSON(w, http.StatusOK, result.Clarification)
		return
	}
	s.writeJSON(w, http.StatusOK, result.Response)
}

// handleRegistry is GET /registry.
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reg.List())
}

// handleAgentHealth forces a live probe (GET /agent/{id}/health).
func (s *Server) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.reg.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "unknown agent: "+id)
		return
	}
	healthy := s.prober.Probe(r.Context(), id)
	snap, _ := s.reg.Get(id)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id": snap.ID,
		"status":   snap.Status,
		"healthy":  healthy,
	})
}

func conversationID(r *http.Request) string {
	if v := r.URL.Query().Get("conversationId"); v != "" {
		return v
	}
	if v := r.Header.Get("X-User-Id"); v != "" {
		return v
	}
	return "anonymous"
}

// handleHistory is GET /conversation/history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	turns, err := s.store.History(r.Context(), conversationID(r), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"history": turns})
}

// handleSummary is GET /conversation/summary.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.Summary(r.Context(), conversationID(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"summary": summary})
}

// handleClear is DELETE /conversation/clear.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context(), conversationID(r)); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

// handleIdentifyIntent is the standalone classification endpoint, POST
// /identify-intent. No dispatch is performed.
func (s *Server) handleIdentifyIntent(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	history, err := s.store.History(r.Context(), userIDFromRequest(r, body), 10)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	decision, err := s.identifier.Identify(r.Context(), intent.Request{
		UserMessage: body.Request,
		History:     history,
		Catalog:     s.reg.List(),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome": decision.Outcome,
		"result":  decision.Result,
	})
}

// handleDebug is GET /debug/last-agent-response?agent_id=…, gated by
// requireBearerToken in Handler.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		s.writeError(w, http.StatusBadRequest, "agent_id query parameter is required")
		return
	}
	entry, ok := s.debug.Get(agentID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no captured response for agent: "+agentID)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

// handleSelfHealth reports the supervisor's own liveness, matching the
// {status: "healthy"} contract the workers are held to.
func (s *Server) handleSelfHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
