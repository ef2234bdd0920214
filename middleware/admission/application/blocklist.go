package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlockList mantém bloqueios explícitos de IP com expiração, independentes
// dos contadores de janela.
//
// O registro autoritativo fica no mapa do processo; o cache compartilhado
// carrega uma cópia write-through com TTL, então IsBlocked custa uma leitura
// e a expiração vale mesmo se o sweeper atrasar.
type BlockList struct {
	cache   domain.CacheStore
	windows *WindowTracker
	logger  *zap.Logger

	sweepEvery time.Duration
	now        func() time.Time

	mu     sync.Mutex
	blocks map[string]domain.BlockedIP
}

type BlockListOption func(*BlockList)

func WithSweepEvery(d time.Duration) BlockListOption {
	return func(b *BlockList) { b.sweepEvery = d }
}

func WithBlockClock(now func() time.Time) BlockListOption {
	return func(b *BlockList) { b.now = now }
}

func NewBlockList(cache domain.CacheStore, windows *WindowTracker, logger *zap.Logger, opts ...BlockListOption) *BlockList {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &BlockList{
		cache:      cache,
		windows:    windows,
		logger:     logger,
		sweepEvery: 1 * time.Minute,
		now:        time.Now,
		blocks:     make(map[string]domain.BlockedIP),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Block cria (ou renova) um bloqueio não permanente com
// expiresAt = agora + duration. Também limpa as janelas do endereço, para
// que um desbloqueio futuro recomece com orçamento limpo.
//
// Mutação falha fechado: erro do cache é propagado ao chamador.
func (b *BlockList) Block(ctx context.Context, ip string, duration time.Duration, reason string) (domain.BlockedIP, error) {
	if duration <= 0 {
		return domain.BlockedIP{}, fmt.Errorf("%w: block duration must be > 0", domain.ErrInvalidRule)
	}
	return b.block(ctx, ip, reason, false, duration)
}

// BlockPermanent cria um bloqueio sem expiração; só sai por unblock explícito.
func (b *BlockList) BlockPermanent(ctx context.Context, ip, reason string) (domain.BlockedIP, error) {
	return b.block(ctx, ip, reason, true, 0)
}

func (b *BlockList) block(ctx context.Context, ip, reason string, permanent bool, duration time.Duration) (domain.BlockedIP, error) {
	now := b.now()

	b.mu.Lock()
	entry, exists := b.blocks[ip]
	attempts := 1
	if exists && !entry.Expired(now) {
		attempts = entry.Attempts + 1
	}
	entry = domain.BlockedIP{
		ID:        uuid.NewString(),
		IPAddress: ip,
		Reason:    reason,
		BlockedAt: now,
		Permanent: permanent,
		Attempts:  attempts,
	}
	if !permanent {
		entry.ExpiresAt = now.Add(duration)
	}
	b.mu.Unlock()

	ttl := duration
	if permanent {
		ttl = 0 // sem expiração no cache
	}
	if err := b.cache.Set(ctx, blockKey(ip), []byte(reason), ttl); err != nil {
		return domain.BlockedIP{}, fmt.Errorf("%w: persisting block for %s: %v", domain.ErrStoreUnavailable, ip, err)
	}

	b.mu.Lock()
	b.blocks[ip] = entry
	b.mu.Unlock()

	if err := b.windows.Clear(ctx, ip); err != nil {
		b.logger.Warn("failed to clear windows for blocked address", zap.String("ip", ip), zap.Error(err))
	}

	b.logger.Info("address blocked",
		zap.String("ip", ip), zap.String("reason", reason),
		zap.Bool("permanent", permanent), zap.Int("attempts", attempts))
	return entry, nil
}

// Unblock remove o bloqueio e limpa as janelas do endereço. Chamado para um
// endereço sem bloqueio ativo é um no-op, não um erro.
func (b *BlockList) Unblock(ctx context.Context, ip string) error {
	if err := b.cache.Delete(ctx, blockKey(ip)); err != nil {
		return fmt.Errorf("%w: removing block for %s: %v", domain.ErrStoreUnavailable, ip, err)
	}

	b.mu.Lock()
	_, existed := b.blocks[ip]
	delete(b.blocks, ip)
	b.mu.Unlock()

	if err := b.windows.Clear(ctx, ip); err != nil {
		b.logger.Warn("failed to clear windows on unblock", zap.String("ip", ip), zap.Error(err))
	}
	if existed {
		b.logger.Info("address unblocked", zap.String("ip", ip))
	}
	return nil
}

// IsBlocked é consultado pelo engine antes da resolução de regra. Leitura é
// fail-open: se o cache estiver fora, cai para o mapa local do processo.
func (b *BlockList) IsBlocked(ctx context.Context, ip string) bool {
	_, found, err := b.cache.Get(ctx, blockKey(ip))
	if err == nil {
		return found
	}
	b.logger.Warn("block lookup failed, falling back to local records", zap.String("ip", ip), zap.Error(err))

	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.blocks[ip]
	return ok && !entry.Expired(b.now())
}

// List retorna os bloqueios ativos conhecidos pelo processo, ordenados por IP.
func (b *BlockList) List() []domain.BlockedIP {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.BlockedIP, 0, len(b.blocks))
	for _, entry := range b.blocks {
		if !entry.Expired(now) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IPAddress < out[j].IPAddress })
	return out
}

// SweepExpired libera todo bloqueio não permanente já vencido e retorna
// quantos foram liberados. Bloqueios permanentes nunca são varridos.
func (b *BlockList) SweepExpired(ctx context.Context) int {
	now := b.now()

	b.mu.Lock()
	var expired []string
	for ip, entry := range b.blocks {
		if entry.Expired(now) {
			expired = append(expired, ip)
		}
	}
	b.mu.Unlock()

	released := 0
	for _, ip := range expired {
		if err := b.Unblock(ctx, ip); err != nil {
			b.logger.Warn("sweep failed to release block", zap.String("ip", ip), zap.Error(err))
			continue
		}
		released++
	}
	return released
}

// StartSweeper inicia o loop periódico de varredura. Pare cancelando o ctx.
func (b *BlockList) StartSweeper(ctx context.Context) {
	if b.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(b.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.SweepExpired(ctx)
			}
		}
	}()
}

func blockKey(ip string) string {
	return "admission:block:" + ip
}
