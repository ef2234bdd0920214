package application

import (
	"context"
	"fmt"
	"time"

	"admission-gateway/middleware/admission/domain"

	"go.uber.org/zap"
)

// WindowTracker mantém, por (endereço, regra), o contador de janela fixa
// no cache compartilhado.
//
// O esquema é janela fixa, não sliding window nem token bucket: rajadas na
// fronteira de janela são possíveis e aceitas como tradeoff de simplicidade.
// O incremento é atômico no store (ver domain.CacheStore.Increment), então
// dois workers concorrentes nunca subcontam.
type WindowTracker struct {
	cache  domain.CacheStore
	logger *zap.Logger
	// routeTypes fornece os routeTypes ativos para Clear, já que o cache
	// não expõe scan por prefixo.
	routeTypes func() []string
	now        func() time.Time
}

type WindowTrackerOption func(*WindowTracker)

func WithWindowClock(now func() time.Time) WindowTrackerOption {
	return func(t *WindowTracker) { t.now = now }
}

func NewWindowTracker(cache domain.CacheStore, routeTypes func() []string, logger *zap.Logger, opts ...WindowTrackerOption) *WindowTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &WindowTracker{
		cache:      cache,
		logger:     logger,
		routeTypes: routeTypes,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CheckAndIncrement incrementa o contador do par (addr, regra) e devolve o
// status da janela corrente.
//
// A primeira requisição cria a janela (windowStart = agora,
// windowEnd = agora + janela da regra); as seguintes reutilizam a janela até
// o TTL vencer, quando o próximo incremento recomeça do 1. O request que
// cruza o limite é contado e marcado bloqueado: isBlocked usa "maior que"
// estrito, então exatamente MaxRequests passam por janela.
//
// Erro do cache retorna status nil para o chamador decidir fail-open.
func (t *WindowTracker) CheckAndIncrement(ctx context.Context, addr string, rule domain.RateLimitRule) (*domain.RateLimitStatus, error) {
	window := rule.Window()
	count, remaining, err := t.cache.Increment(ctx, windowKey(rule.RouteType, addr), window)
	if err != nil {
		return nil, fmt.Errorf("%w: incrementing window counter: %v", domain.ErrStoreUnavailable, err)
	}
	if remaining <= 0 || remaining > window {
		// chave preexistente sem TTL (ou TTL inconsistente): assume janela cheia
		remaining = window
	}

	now := t.now()
	end := now.Add(remaining)
	return &domain.RateLimitStatus{
		ClientAddress:   addr,
		RouteType:       rule.RouteType,
		CurrentRequests: count,
		MaxRequests:     rule.MaxRequests,
		WindowStart:     end.Add(-window),
		WindowEnd:       end,
		IsBlocked:       count > int64(rule.MaxRequests),
	}, nil
}

// Clear remove todas as entradas de janela do endereço, uma por routeType
// ativo. Usado no unblock para o endereço recomeçar com orçamento limpo.
//
// Contadores de um routeType que já saiu do snapshot ficam fora do alcance
// do Clear; sem scan por prefixo no cache, eles apenas vencem sozinhos com o
// TTL da própria janela. Como a regra não existe mais, nenhum request volta
// a consultá-los.
func (t *WindowTracker) Clear(ctx context.Context, addr string) error {
	var firstErr error
	for _, rt := range t.routeTypes() {
		if err := t.cache.Delete(ctx, windowKey(rt, addr)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: clearing window %s/%s: %v", domain.ErrStoreUnavailable, rt, addr, err)
			}
			t.logger.Warn("failed to clear window entry",
				zap.String("route_type", rt), zap.String("addr", addr), zap.Error(err))
		}
	}
	return firstErr
}

func windowKey(routeType, addr string) string {
	return "admission:window:" + routeType + ":" + addr
}
