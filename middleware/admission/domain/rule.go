package domain

// Camada de domínio das regras de rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultRouteType é o routeType da regra padrão, aplicada quando nenhuma
// regra específica ou de strict path casa com a requisição.
const DefaultRouteType = "default"

// RateLimitRule identifica a política de uma classe de rotas.
//
// No máximo uma regra por RouteType fica ativa no snapshot de resolução
// (last write wins). Priority desempata regras de strict path.
type RateLimitRule struct {
	ID            string    `json:"id"`
	RouteType     string    `json:"route_type"`
	MaxRequests   int       `json:"max_requests"`
	WindowMinutes int       `json:"window_minutes"`
	Enabled       bool      `json:"enabled"`
	Priority      int       `json:"priority"`
	ExemptPaths   []string  `json:"exempt_paths,omitempty"`
	StrictPaths   []string  `json:"strict_paths,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Window converte WindowMinutes para time.Duration.
func (r RateLimitRule) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// Validate garante MaxRequests > 0 e WindowMinutes > 0 quando a regra está
// habilitada. Retorna erro embrulhando ErrInvalidRule.
func (r RateLimitRule) Validate() error {
	if strings.TrimSpace(r.RouteType) == "" {
		return fmt.Errorf("%w: empty routeType", ErrInvalidRule)
	}
	if !r.Enabled {
		return nil
	}
	if r.MaxRequests <= 0 {
		return fmt.Errorf("%w: maxRequests must be > 0", ErrInvalidRule)
	}
	if r.WindowMinutes <= 0 {
		return fmt.Errorf("%w: windowMinutes must be > 0", ErrInvalidRule)
	}
	return nil
}

// MatchesStrictPath diz se o path começa com algum dos StrictPaths da regra.
func (r RateLimitRule) MatchesStrictPath(path string) bool {
	for _, p := range r.StrictPaths {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ExemptsPath diz se o path começa com algum dos ExemptPaths da regra.
func (r RateLimitRule) ExemptsPath(path string) bool {
	for _, p := range r.ExemptPaths {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// RulePatch representa uma atualização parcial: campos nil são preservados.
type RulePatch struct {
	MaxRequests   *int      `json:"max_requests,omitempty"`
	WindowMinutes *int      `json:"window_minutes,omitempty"`
	Enabled       *bool     `json:"enabled,omitempty"`
	Priority      *int      `json:"priority,omitempty"`
	ExemptPaths   *[]string `json:"exempt_paths,omitempty"`
	StrictPaths   *[]string `json:"strict_paths,omitempty"`
}

// Apply mescla o patch campo a campo sobre a regra existente.
func (p RulePatch) Apply(r RateLimitRule) RateLimitRule {
	if p.MaxRequests != nil {
		r.MaxRequests = *p.MaxRequests
	}
	if p.WindowMinutes != nil {
		r.WindowMinutes = *p.WindowMinutes
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.ExemptPaths != nil {
		r.ExemptPaths = *p.ExemptPaths
	}
	if p.StrictPaths != nil {
		r.StrictPaths = *p.StrictPaths
	}
	return r
}

// RuleSource é a fonte autoritativa das regras (SQL, Redis, memória).
//
// List retorna o conjunto vigente completo; Upsert e Delete persistem
// mutações individuais. A resolução por requisição nunca consulta a fonte
// diretamente: ela lê o snapshot em memória do rule store.
type RuleSource interface {
	List(ctx context.Context) ([]RateLimitRule, error)
	Upsert(ctx context.Context, rule RateLimitRule) error
	Delete(ctx context.Context, routeType string) error
}
