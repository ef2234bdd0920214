package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/admission/domain"
)

// MemoryRuleSource é uma fonte de regras em memória, sem persistência.
// Útil para testes e desenvolvimento sem banco.
type MemoryRuleSource struct {
	mu    sync.Mutex
	rules map[string]domain.RateLimitRule
}

func NewMemoryRuleSource(seed ...domain.RateLimitRule) *MemoryRuleSource {
	s := &MemoryRuleSource{rules: make(map[string]domain.RateLimitRule, len(seed))}
	for _, r := range seed {
		s.rules[r.RouteType] = r
	}
	return s
}

func (s *MemoryRuleSource) List(_ context.Context) ([]domain.RateLimitRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RateLimitRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryRuleSource) Upsert(_ context.Context, rule domain.RateLimitRule) error {
	s.mu.Lock()
	s.rules[rule.RouteType] = rule
	s.mu.Unlock()
	return nil
}

func (s *MemoryRuleSource) Delete(_ context.Context, routeType string) error {
	s.mu.Lock()
	delete(s.rules, routeType)
	s.mu.Unlock()
	return nil
}
