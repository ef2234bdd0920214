package infra

import (
	"context"
	"sync"
	"time"
)

// MemoryCache é um cache TTL em memória com incremento atômico por chave.
// Serve como tier local para desenvolvimento e testes; em produção com
// múltiplos workers use o RedisCache, que compartilha os contadores.
type MemoryCache struct {
	mu           sync.Mutex
	entries      map[string]*memEntry
	cleanupEvery time.Duration
	now          func() time.Time
}

type memEntry struct {
	value     []byte
	count     int64
	expiresAt time.Time // zero = sem expiração
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

type MemoryCacheOption func(*MemoryCache)

func WithCleanupEvery(d time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) { c.cleanupEvery = d }
}

func WithCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) { c.now = now }
}

func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		entries:      make(map[string]*memEntry),
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok || ent.expired(c.now()) {
		return nil, false, nil
	}
	return ent.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ent := &memEntry{value: value}
	if ttl > 0 {
		ent.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = ent
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Increment cria a chave com o TTL dado quando ausente (ou expirada) e
// retorna o valor pós-incremento com o TTL restante, tudo sob o mesmo lock:
// é o equivalente local do pipeline INCR+EXPIRE do Redis.
func (c *MemoryCache) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok || ent.expired(now) {
		ent = &memEntry{expiresAt: now.Add(ttl)}
		c.entries[key] = ent
	}
	ent.count++
	return ent.count, ent.expiresAt.Sub(now), nil
}

// Cleanup remove as entradas já vencidas.
func (c *MemoryCache) Cleanup() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, ent := range c.entries {
		if ent.expired(now) {
			delete(c.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves vencidas periodicamente.
// Pare cancelando o contexto.
func (c *MemoryCache) StartJanitor(ctx DoneContext) {
	if c.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(c.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem
// importar context aqui. (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
