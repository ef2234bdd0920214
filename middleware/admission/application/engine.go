package application

import (
	"context"
	"time"

	"admission-gateway/middleware/admission/domain"

	"go.uber.org/zap"
)

// Engine é o ponto de entrada por requisição do controle de admissão.
//
// Admit nunca retorna erro em operação normal: falha interna inesperada vira
// allow com warning logado, porque a disponibilidade do serviço hospedeiro
// vale mais que a aplicação estrita do limite. Mutações administrativas,
// por outro lado, falham fechado (rule store e block list propagam o erro).
type Engine struct {
	rules   *RuleStore
	windows *WindowTracker
	blocks  *BlockList
	metrics *MetricsAggregator
	sink    domain.ViolationSink
	logger  *zap.Logger

	// escalada automática: após autoBlockThreshold negações na última hora,
	// o endereço entra na block list por autoBlockFor. 0 = desabilitado.
	autoBlockThreshold int
	autoBlockFor       time.Duration

	now func() time.Time
}

type EngineOption func(*Engine)

func WithViolationSink(sink domain.ViolationSink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

func WithAutoBlock(threshold int, duration time.Duration) EngineOption {
	return func(e *Engine) {
		e.autoBlockThreshold = threshold
		e.autoBlockFor = duration
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(rules *RuleStore, windows *WindowTracker, blocks *BlockList, metrics *MetricsAggregator, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		rules:        rules,
		windows:      windows,
		blocks:       blocks,
		metrics:      metrics,
		logger:       logger,
		autoBlockFor: time.Hour,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules expõe o rule store para a camada administrativa.
func (e *Engine) Rules() *RuleStore { return e.rules }

// Blocks expõe a block list para a camada administrativa.
func (e *Engine) Blocks() *BlockList { return e.blocks }

// Metrics expõe o agregador para a camada administrativa.
func (e *Engine) Metrics() *MetricsAggregator { return e.metrics }

// Admit decide se a requisição de (addr, routeType, path) pode prosseguir.
//
//  1. Endereço na block list é negado de imediato, sem resolver regra nem
//     tocar contador.
//  2. Sem regra aplicável (ou regra desabilitada), liberado sem status.
//  3. Caso contrário o contador da janela é incrementado — inclusive para
//     requests permitidos — e a decisão sai do status resultante.
func (e *Engine) Admit(ctx context.Context, addr, routeType, path string) domain.Decision {
	if e.blocks.IsBlocked(ctx, addr) {
		e.metrics.RecordRequest(addr, routeType, false)
		return domain.Decision{Allowed: false, Reason: domain.ReasonBlockedIP}
	}

	rule := e.rules.Resolve(routeType, path)
	if rule == nil || !rule.Enabled {
		e.metrics.RecordRequest(addr, routeType, true)
		return domain.Decision{Allowed: true}
	}

	status, err := e.windows.CheckAndIncrement(ctx, addr, *rule)
	if err != nil {
		// fail-open: sem store não há enforcement, mas o tráfego passa
		e.logger.Warn("window tracking unavailable, admitting request",
			zap.String("addr", addr), zap.String("route_type", rule.RouteType), zap.Error(err))
		e.metrics.RecordRequest(addr, rule.RouteType, true)
		return domain.Decision{Allowed: true, Rule: rule}
	}

	if status.IsBlocked {
		e.metrics.RecordRequest(addr, rule.RouteType, false)
		e.recordViolation(ctx, addr, rule.RouteType)
		e.maybeAutoBlock(ctx, addr)
		return domain.Decision{Allowed: false, Status: status, Rule: rule, Reason: domain.ReasonOverLimit}
	}

	e.metrics.RecordRequest(addr, rule.RouteType, true)
	return domain.Decision{Allowed: true, Status: status, Rule: rule}
}

// Start dispara os loops de refresh de regras e varredura de bloqueios.
// Ambos param quando o ctx é cancelado e nunca bloqueiam decisões de
// admissão; uma iteração com falha loga e espera o próximo tick.
func (e *Engine) Start(ctx context.Context) {
	if err := e.rules.Refresh(ctx); err != nil {
		e.logger.Warn("initial rule refresh failed", zap.Error(err))
	}
	e.rules.StartRefresher(ctx)
	e.blocks.StartSweeper(ctx)
}

func (e *Engine) recordViolation(ctx context.Context, addr, routeType string) {
	if e.sink == nil {
		return
	}
	ev := domain.ViolationEvent{IP: addr, RouteType: routeType, At: e.now()}
	if err := e.sink.Record(ctx, ev); err != nil {
		e.logger.Warn("violation sink record failed", zap.String("addr", addr), zap.Error(err))
	}
}

func (e *Engine) maybeAutoBlock(ctx context.Context, addr string) {
	if e.autoBlockThreshold <= 0 {
		return
	}
	if e.metrics.RecentViolations(addr) < int64(e.autoBlockThreshold) {
		return
	}
	if _, err := e.blocks.Block(ctx, addr, e.autoBlockFor, "auto: repeated rate limit violations"); err != nil {
		e.logger.Warn("auto-block failed", zap.String("addr", addr), zap.Error(err))
	}
}
