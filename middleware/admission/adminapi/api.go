package adminapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

// API agrupa os handlers de gerenciamento sobre os serviços de aplicação.
type API struct {
	rules   *application.RuleStore
	blocks  *application.BlockList
	metrics *application.MetricsAggregator
	logger  *zap.Logger
	token   string
	guard   *infra.AdminGuard
}

type Option func(*API)

// WithBearerToken exige Authorization: Bearer <token> em todas as rotas.
func WithBearerToken(token string) Option {
	return func(a *API) { a.token = token }
}

// WithGuard aplica um token bucket por IP de origem na frente das rotas.
func WithGuard(g *infra.AdminGuard) Option {
	return func(a *API) { a.guard = g }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *API) { a.logger = logger }
}

func New(engine *application.Engine, opts ...Option) *API {
	a := &API{
		rules:   engine.Rules(),
		blocks:  engine.Blocks(),
		metrics: engine.Metrics(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes monta o roteador REST de administração.
func (a *API) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/admin/rules", a.handleListRules).Methods("GET")
	r.HandleFunc("/admin/rules", a.handleCreateRule).Methods("POST")
	r.HandleFunc("/admin/rules/{routeType}", a.handleUpdateRule).Methods("PUT")
	r.HandleFunc("/admin/rules/{routeType}", a.handleDeleteRule).Methods("DELETE")

	r.HandleFunc("/admin/blocks", a.handleListBlocks).Methods("GET")
	r.HandleFunc("/admin/blocks", a.handleCreateBlock).Methods("POST")
	r.HandleFunc("/admin/blocks/{ip}", a.handleDeleteBlock).Methods("DELETE")

	r.HandleFunc("/admin/metrics", a.handleMetrics).Methods("GET")

	var h http.Handler = r
	h = a.authMiddleware(h)
	h = a.guardMiddleware(h)
	return h
}

func (a *API) guardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.guard != nil && !a.guard.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many admin requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Regras

type createRuleRequest struct {
	RouteType     string   `json:"route_type"`
	MaxRequests   int      `json:"max_requests"`
	WindowMinutes int      `json:"window_minutes"`
	Enabled       *bool    `json:"enabled,omitempty"`
	Priority      int      `json:"priority,omitempty"`
	ExemptPaths   []string `json:"exempt_paths,omitempty"`
	StrictPaths   []string `json:"strict_paths,omitempty"`
}

type rulesResponse struct {
	Rules []domain.RateLimitRule `json:"rules"`
	Count int                    `json:"count"`
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules := a.rules.List()
	writeJSON(w, http.StatusOK, rulesResponse{Rules: rules, Count: len(rules)})
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule, err := a.rules.Create(r.Context(), domain.RateLimitRule{
		RouteType:     req.RouteType,
		MaxRequests:   req.MaxRequests,
		WindowMinutes: req.WindowMinutes,
		Enabled:       enabled,
		Priority:      req.Priority,
		ExemptPaths:   req.ExemptPaths,
		StrictPaths:   req.StrictPaths,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	routeType := mux.Vars(r)["routeType"]

	var patch domain.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rule, err := a.rules.Update(r.Context(), routeType, patch)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	routeType := mux.Vars(r)["routeType"]
	if err := a.rules.Delete(r.Context(), routeType); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bloqueios

type createBlockRequest struct {
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason"`
	Minutes   int    `json:"minutes,omitempty"`
	Permanent bool   `json:"permanent,omitempty"`
}

type blocksResponse struct {
	Blocks []domain.BlockedIP `json:"blocks"`
	Count  int                `json:"count"`
}

func (a *API) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := a.blocks.List()
	writeJSON(w, http.StatusOK, blocksResponse{Blocks: blocks, Count: len(blocks)})
}

func (a *API) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if net.ParseIP(req.IPAddress) == nil {
		writeError(w, http.StatusBadRequest, "invalid ip_address")
		return
	}

	var (
		blocked domain.BlockedIP
		err     error
	)
	if req.Permanent {
		blocked, err = a.blocks.BlockPermanent(r.Context(), req.IPAddress, req.Reason)
	} else {
		if req.Minutes <= 0 {
			writeError(w, http.StatusBadRequest, "minutes must be > 0 for temporary blocks")
			return
		}
		blocked, err = a.blocks.Block(r.Context(), req.IPAddress, time.Duration(req.Minutes)*time.Minute, req.Reason)
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, blocked)
}

func (a *API) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	if err := a.blocks.Unblock(r.Context(), ip); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Métricas

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}
	writeJSON(w, http.StatusOK, a.metrics.Metrics(hours))
}

// Helpers

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("admin API request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
