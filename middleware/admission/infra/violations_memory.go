package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/admission/domain"
)

// MemoryViolationSink acumula eventos de violação em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicado para produção.
type MemoryViolationSink struct {
	mu      sync.Mutex
	byIP    map[string]int64
	byRoute map[string]int64
	events  []domain.ViolationEvent
}

func NewMemoryViolationSink() *MemoryViolationSink {
	return &MemoryViolationSink{
		byIP:    make(map[string]int64),
		byRoute: make(map[string]int64),
	}
}

func (s *MemoryViolationSink) Record(_ context.Context, ev domain.ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byIP[ev.IP]++
	s.byRoute[ev.RouteType]++
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryViolationSink) ByIP() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.byIP))
	for k, v := range s.byIP {
		out[k] = v
	}
	return out
}

func (s *MemoryViolationSink) ByRoute() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

func (s *MemoryViolationSink) Events() []domain.ViolationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ViolationEvent, len(s.events))
	copy(out, s.events)
	return out
}
