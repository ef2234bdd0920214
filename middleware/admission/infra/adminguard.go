package infra

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AdminGuard é um token bucket por chave com cache e limpeza periódica,
// usado na frente do admin API. O rate limit administrativo é deliberado
// e separado do engine de admissão: o operador não compete com o tráfego
// do gateway, e um engine degradado não tranca a própria administração.
type AdminGuard struct {
	mu           sync.Mutex
	entries      map[string]*guardEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type guardEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type AdminGuardOption func(*AdminGuard)

func WithGuardIdleTTL(d time.Duration) AdminGuardOption {
	return func(g *AdminGuard) { g.idleTTL = d }
}

func WithGuardCleanupEvery(d time.Duration) AdminGuardOption {
	return func(g *AdminGuard) { g.cleanupEvery = d }
}

func NewAdminGuard(rps float64, burst int, opts ...AdminGuardOption) *AdminGuard {
	g := &AdminGuard{
		entries:      make(map[string]*guardEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allow consome um token do bucket da chave, criando o bucket na primeira
// visita.
func (g *AdminGuard) Allow(key string) bool {
	now := time.Now()

	g.mu.Lock()
	ent, ok := g.entries[key]
	if !ok {
		ent = &guardEntry{lim: rate.NewLimiter(g.rps, g.burst)}
		g.entries[key] = ent
	}
	ent.lastSeen = now
	g.mu.Unlock()

	return ent.lim.Allow()
}

func (g *AdminGuard) Cleanup() {
	cutoff := time.Now().Add(-g.idleTTL)

	g.mu.Lock()
	defer g.mu.Unlock()

	for k, ent := range g.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(g.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa buckets ociosos periodicamente.
// Pare cancelando o contexto.
func (g *AdminGuard) StartJanitor(ctx DoneContext) {
	if g.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(g.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				g.Cleanup()
			}
		}
	}()
}
