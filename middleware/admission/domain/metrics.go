package domain

import (
	"context"
	"time"
)

// ViolationEvent representa uma requisição negada pelo rate limit.
//
// Propositalmente agnóstico de HTTP: RouteType é uma string genérica e o
// evento serve igualmente para web, gRPC, etc.
type ViolationEvent struct {
	IP        string
	RouteType string
	At        time.Time
}

// ViolationSink recebe eventos de violação para auditoria externa.
//
// Implementações podem gravar em Redis, memória, etc. O engine trata erro
// como best-effort (não derruba a decisão de admissão).
type ViolationSink interface {
	Record(ctx context.Context, ev ViolationEvent) error
}

// DecisionObserver observa decisões de admissão (ex.: contadores Prometheus).
// Também best-effort: nunca participa da decisão.
type DecisionObserver interface {
	ObserveDecision(routeType string, allowed bool)
}

// RouteStats agrega contagens por routeType.
type RouteStats struct {
	Requests int64 `json:"requests"`
	Blocked  int64 `json:"blocked"`
}

// Violator é uma entrada do ranking de endereços mais bloqueados.
type Violator struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

// RateLimitMetrics é a visão read-only exposta aos operadores.
type RateLimitMetrics struct {
	TotalRequests   int64                 `json:"total_requests"`
	BlockedRequests int64                 `json:"blocked_requests"`
	UniqueIPs       int                   `json:"unique_ips"`
	TopViolators    []Violator            `json:"top_violators"`
	RouteStats      map[string]RouteStats `json:"route_stats"`
	From            time.Time             `json:"from"`
	To              time.Time             `json:"to"`
}
