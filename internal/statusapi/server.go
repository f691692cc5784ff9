// Package statusapi exposes a minimal device-local HTTP surface for
// inspecting what the agent's reconcile loop is doing: a JSON status
// snapshot and a WebSocket stream of step batches as they're computed and
// executed.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/cfilipov/edged/internal/executor"
	"github.com/cfilipov/edged/internal/model"
	"github.com/cfilipov/edged/internal/state"
	"github.com/cfilipov/edged/internal/step"
	"github.com/cfilipov/edged/internal/ws"
)

// Server holds the status API's view of the world and its WebSocket
// broadcaster. The reconcile loop calls Publish after every round.
type Server struct {
	auth *DeviceAuth
	wss  *ws.Server

	store *state.Store

	mu          sync.RWMutex
	currentApps []model.App
	targetApps  []model.App
	lastSteps   []step.Step
	lastResults []executor.Result
}

// NewServer builds a status API server. store supplies deferred-step
// records for the status snapshot.
func NewServer(auth *DeviceAuth, store *state.Store) *Server {
	return &Server{auth: auth, store: store, wss: ws.NewServer()}
}

// statusResponse is the JSON shape of GET /status.
type statusResponse struct {
	CurrentApps   []model.App          `json:"currentApps"`
	TargetApps    []model.App          `json:"targetApps"`
	LastSteps     []step.Step          `json:"lastSteps"`
	LastResults   []stepResult         `json:"lastResults"`
	DeferredSteps []state.DeferredStep `json:"deferredSteps"`
}

type stepResult struct {
	Step step.Step `json:"step"`
	Err  string    `json:"err,omitempty"`
}

// Publish records the outcome of one reconcile round and pushes it to
// every authenticated WebSocket subscriber.
func (s *Server) Publish(current, target []model.App, steps []step.Step, results []executor.Result) {
	s.mu.Lock()
	s.currentApps = current
	s.targetApps = target
	s.lastSteps = steps
	s.lastResults = results
	s.mu.Unlock()

	s.wss.BroadcastAuthenticated("steps", toStepResults(results))
}

func toStepResults(results []executor.Result) []stepResult {
	out := make([]stepResult, len(results))
	for i, r := range results {
		sr := stepResult{Step: r.Step}
		if r.Err != nil {
			sr.Err = r.Err.Error()
		}
		out[i] = sr
	}
	return out
}

// Mux builds the HTTP handler: POST /auth exchanges a device API key for a
// short-lived JWT; GET /status and GET /ws require a valid bearer token.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", s.handleAuth)
	mux.Handle("GET /status", s.requireAuth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /ws", s.requireAuth(s.wss.UpgradeHandler()))

	// Every connection is already bearer-authenticated by the mux above, so
	// mark it authenticated for ws.Server's BroadcastAuthenticated gate.
	s.wss.HandleConnect(func(c *ws.Conn) { c.SetUser(1) })

	return mux
}

type authRequest struct {
	Key string `json:"key"`
}

type authResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.auth.Authenticate(req.Key) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
		return
	}
	token, err := s.auth.IssueJWT()
	if err != nil {
		slog.Error("statusapi: issue jwt", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, authResponse{Token: token})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := statusResponse{
		CurrentApps: s.currentApps,
		TargetApps:  s.targetApps,
		LastSteps:   s.lastSteps,
		LastResults: toStepResults(s.lastResults),
	}
	s.mu.RUnlock()

	deferred, err := s.store.DeferredSteps()
	if err != nil {
		slog.Warn("statusapi: read deferred steps", "err", err)
	}
	resp.DeferredSteps = deferred

	writeJSON(w, resp)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || s.auth.VerifyJWT(token) != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("statusapi: encode response", "err", err)
	}
}
