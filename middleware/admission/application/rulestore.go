package application

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RuleStore mantém o snapshot em memória das regras ativas, atualizado
// periodicamente a partir da fonte autoritativa e de forma síncrona após
// cada mutação administrativa.
//
// A resolução por requisição lê apenas o snapshot; a fonte nunca fica no
// caminho quente. Falha de refresh mantém o snapshot anterior (fail-open).
type RuleStore struct {
	source       domain.RuleSource
	logger       *zap.Logger
	refreshEvery time.Duration
	now          func() time.Time

	mu   sync.RWMutex
	snap ruleSnapshot
	// version conta mutações administrativas; Refresh descarta o swap quando
	// uma mutação comitou entre o List na fonte e a troca do snapshot.
	version uint64
}

// ruleSnapshot é imutável depois de publicado: Resolve copia o struct sob
// RLock e lê os mapas fora do lock, então mutações nunca escrevem num
// snapshot já visível — clonam o mapa e publicam um novo (copy-on-write).
type ruleSnapshot struct {
	byRoute map[string]domain.RateLimitRule
	// regras habilitadas com StrictPaths, em ordem de Priority decrescente
	strict []domain.RateLimitRule
}

type RuleStoreOption func(*RuleStore)

func WithRefreshEvery(d time.Duration) RuleStoreOption {
	return func(s *RuleStore) { s.refreshEvery = d }
}

func WithRuleClock(now func() time.Time) RuleStoreOption {
	return func(s *RuleStore) { s.now = now }
}

func NewRuleStore(source domain.RuleSource, logger *zap.Logger, opts ...RuleStoreOption) *RuleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RuleStore{
		source:       source,
		logger:       logger,
		refreshEvery: 5 * time.Minute,
		now:          time.Now,
		snap:         ruleSnapshot{byRoute: make(map[string]domain.RateLimitRule)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh busca o conjunto vigente na fonte e troca o snapshot atomicamente.
//
// O List roda fora do lock para não travar a resolução durante I/O. Se uma
// mutação administrativa comitar nesse meio tempo, o List pode estar stale:
// nesse caso o swap é descartado e o conjunto mais novo fica valendo até o
// próximo tick.
func (s *RuleStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	startVersion := s.version
	s.mu.RUnlock()

	rules, err := s.source.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: listing rules: %v", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != startVersion {
		return nil
	}
	s.snap = buildSnapshot(rules)
	return nil
}

// StartRefresher inicia o loop periódico de refresh. Pare cancelando o ctx.
// Uma iteração com erro só loga; o loop espera o próximo tick.
func (s *RuleStore) StartRefresher(ctx context.Context) {
	if s.refreshEvery <= 0 {
		return
	}

	t := time.NewTicker(s.refreshEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := s.Refresh(ctx); err != nil {
					s.logger.Warn("rule refresh failed, keeping previous snapshot", zap.Error(err))
				}
			}
		}
	}()
}

// Resolve encontra a única regra aplicável a (routeType, path), ou nil.
//
// Ordem de resolução:
//  1. match exato de routeType, se habilitado
//  2. regra de strict path cujo prefixo casa com o path (Priority maior vence)
//  3. regra "default" habilitada, se o path não estiver em seus ExemptPaths
//
// Nunca há combinação de regras; nil significa request liberado sem contagem.
func (s *RuleStore) Resolve(routeType, path string) *domain.RateLimitRule {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	if r, ok := snap.byRoute[routeType]; ok && r.Enabled {
		out := r
		return &out
	}

	for _, r := range snap.strict {
		if r.MatchesStrictPath(path) {
			out := r
			return &out
		}
	}

	if def, ok := snap.byRoute[domain.DefaultRouteType]; ok && def.Enabled && !def.ExemptsPath(path) {
		out := def
		return &out
	}
	return nil
}

// List retorna uma cópia das regras do snapshot, ordenada por routeType.
func (s *RuleStore) List() []domain.RateLimitRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RateLimitRule, 0, len(s.snap.byRoute))
	for _, r := range s.snap.byRoute {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RouteType < out[j].RouteType })
	return out
}

// ActiveRouteTypes lista os routeTypes presentes no snapshot. Usado pelo
// window tracker para limpar os contadores de um endereço.
func (s *RuleStore) ActiveRouteTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.snap.byRoute))
	for rt := range s.snap.byRoute {
		out = append(out, rt)
	}
	return out
}

// Create valida, persiste e incorpora a nova regra ao snapshot antes de
// retornar: requests subsequentes já enxergam a regra.
func (s *RuleStore) Create(ctx context.Context, rule domain.RateLimitRule) (domain.RateLimitRule, error) {
	if err := rule.Validate(); err != nil {
		return domain.RateLimitRule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snap.byRoute[rule.RouteType]; exists {
		return domain.RateLimitRule{}, fmt.Errorf("%w: duplicate routeType %q", domain.ErrInvalidRule, rule.RouteType)
	}

	now := s.now()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.source.Upsert(ctx, rule); err != nil {
		return domain.RateLimitRule{}, fmt.Errorf("persisting rule %q: %w", rule.RouteType, err)
	}
	s.applyLocked(rule)
	return rule, nil
}

// Update aplica um patch parcial sobre a regra existente (merge campo a
// campo, nunca substituição integral) e invalida o snapshot sincronamente.
func (s *RuleStore) Update(ctx context.Context, routeType string, patch domain.RulePatch) (domain.RateLimitRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.snap.byRoute[routeType]
	if !ok {
		return domain.RateLimitRule{}, fmt.Errorf("%w: %q", domain.ErrRuleNotFound, routeType)
	}

	updated := patch.Apply(current)
	updated.UpdatedAt = s.now()
	if err := updated.Validate(); err != nil {
		return domain.RateLimitRule{}, err
	}

	if err := s.source.Upsert(ctx, updated); err != nil {
		return domain.RateLimitRule{}, fmt.Errorf("persisting rule %q: %w", routeType, err)
	}
	s.applyLocked(updated)
	return updated, nil
}

// Delete remove a regra da fonte e do snapshot.
func (s *RuleStore) Delete(ctx context.Context, routeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snap.byRoute[routeType]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrRuleNotFound, routeType)
	}

	if err := s.source.Delete(ctx, routeType); err != nil {
		return fmt.Errorf("deleting rule %q: %w", routeType, err)
	}

	byRoute := maps.Clone(s.snap.byRoute)
	delete(byRoute, routeType)
	s.snap = buildSnapshotFromMap(byRoute)
	s.version++
	return nil
}

func (s *RuleStore) applyLocked(rule domain.RateLimitRule) {
	byRoute := maps.Clone(s.snap.byRoute)
	byRoute[rule.RouteType] = rule
	s.snap = buildSnapshotFromMap(byRoute)
	s.version++
}

func buildSnapshot(rules []domain.RateLimitRule) ruleSnapshot {
	byRoute := make(map[string]domain.RateLimitRule, len(rules))
	for _, r := range rules {
		// last write wins em routeType duplicado vindo da fonte
		if prev, ok := byRoute[r.RouteType]; ok && prev.UpdatedAt.After(r.UpdatedAt) {
			continue
		}
		byRoute[r.RouteType] = r
	}
	return buildSnapshotFromMap(byRoute)
}

func buildSnapshotFromMap(byRoute map[string]domain.RateLimitRule) ruleSnapshot {
	snap := ruleSnapshot{byRoute: byRoute}
	for _, r := range byRoute {
		if r.Enabled && len(r.StrictPaths) > 0 {
			snap.strict = append(snap.strict, r)
		}
	}
	sort.SliceStable(snap.strict, func(i, j int) bool {
		return snap.strict[i].Priority > snap.strict[j].Priority
	})
	return snap
}
