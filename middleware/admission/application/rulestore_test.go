package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// fonte de regras em memória com falha injetável
type fakeSource struct {
	rules   map[string]domain.RateLimitRule
	listErr error
	mutErr  error
	// onList roda depois do List montar o resultado, simulando uma mutação
	// que comita enquanto o refresh está em andamento
	onList func()
}

func newFakeSource(rules ...domain.RateLimitRule) *fakeSource {
	s := &fakeSource{rules: make(map[string]domain.RateLimitRule)}
	for _, r := range rules {
		s.rules[r.RouteType] = r
	}
	return s
}

func (s *fakeSource) List(context.Context) ([]domain.RateLimitRule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.RateLimitRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	if s.onList != nil {
		s.onList()
	}
	return out, nil
}

func (s *fakeSource) Upsert(_ context.Context, rule domain.RateLimitRule) error {
	if s.mutErr != nil {
		return s.mutErr
	}
	s.rules[rule.RouteType] = rule
	return nil
}

func (s *fakeSource) Delete(_ context.Context, routeType string) error {
	if s.mutErr != nil {
		return s.mutErr
	}
	delete(s.rules, routeType)
	return nil
}

func enabledRule(routeType string, max int) domain.RateLimitRule {
	return domain.RateLimitRule{
		ID:            "id-" + routeType,
		RouteType:     routeType,
		MaxRequests:   max,
		WindowMinutes: 15,
		Enabled:       true,
	}
}

func newStore(t *testing.T, source domain.RuleSource) *RuleStore {
	t.Helper()
	store := NewRuleStore(source, nil)
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return store
}

func TestRuleStore_Resolve_ExactRouteTypeWins(t *testing.T) {
	strict := enabledRule("auth", 10)
	strict.StrictPaths = []string{"/api"}
	strict.Priority = 100
	store := newStore(t, newFakeSource(enabledRule("api", 50), strict, enabledRule("default", 200)))

	rule := store.Resolve("api", "/api/users")
	if rule == nil || rule.RouteType != "api" {
		t.Fatalf("expected exact routeType match, got %+v", rule)
	}
}

func TestRuleStore_Resolve_StrictPathByPriority(t *testing.T) {
	low := enabledRule("uploads", 30)
	low.StrictPaths = []string{"/api"}
	low.Priority = 1
	high := enabledRule("auth", 10)
	high.StrictPaths = []string{"/api/auth"}
	high.Priority = 10
	store := newStore(t, newFakeSource(low, high))

	rule := store.Resolve("web", "/api/auth/login")
	if rule == nil || rule.RouteType != "auth" {
		t.Fatalf("expected highest-priority strict match, got %+v", rule)
	}

	rule = store.Resolve("web", "/api/other")
	if rule == nil || rule.RouteType != "uploads" {
		t.Fatalf("expected fallback strict match, got %+v", rule)
	}
}

func TestRuleStore_Resolve_DefaultAndExemptPaths(t *testing.T) {
	def := enabledRule("default", 100)
	def.ExemptPaths = []string{"/health", "/metrics"}
	store := newStore(t, newFakeSource(def))

	if rule := store.Resolve("web", "/api/users"); rule == nil || rule.RouteType != "default" {
		t.Fatalf("expected default rule, got %+v", rule)
	}
	if rule := store.Resolve("web", "/health"); rule != nil {
		t.Fatalf("exempt path must resolve to no rule, got %+v", rule)
	}
	if rule := store.Resolve("web", "/metrics/custom"); rule != nil {
		t.Fatalf("exempt prefix must cover subpaths, got %+v", rule)
	}
}

func TestRuleStore_Resolve_DisabledRuleIsInvisible(t *testing.T) {
	disabled := enabledRule("api", 50)
	disabled.Enabled = false
	store := newStore(t, newFakeSource(disabled))

	if rule := store.Resolve("api", "/api/users"); rule != nil {
		t.Fatalf("disabled rule must not match, got %+v", rule)
	}
}

func TestRuleStore_Resolve_NoRuleMeansNil(t *testing.T) {
	store := newStore(t, newFakeSource())
	if rule := store.Resolve("api", "/anything"); rule != nil {
		t.Fatalf("expected nil with empty snapshot, got %+v", rule)
	}
}

func TestRuleStore_Create_VisibleImmediately(t *testing.T) {
	source := newFakeSource()
	store := newStore(t, source)

	created, err := store.Create(context.Background(), enabledRule("api", 50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}
	if rule := store.Resolve("api", "/x"); rule == nil {
		t.Fatalf("created rule must be resolvable without waiting for refresh")
	}
	if _, ok := source.rules["api"]; !ok {
		t.Fatalf("created rule must be persisted to the source")
	}
}

func TestRuleStore_Create_RejectsDuplicateAndInvalid(t *testing.T) {
	store := newStore(t, newFakeSource(enabledRule("api", 50)))

	dup := enabledRule("api", 10)
	dup.ID = ""
	if _, err := store.Create(context.Background(), dup); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for duplicate routeType, got %v", err)
	}

	bad := enabledRule("web", 0)
	if _, err := store.Create(context.Background(), bad); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for maxRequests=0, got %v", err)
	}
}

func TestRuleStore_Update_MergesPatch(t *testing.T) {
	original := enabledRule("api", 50)
	original.ExemptPaths = []string{"/health"}
	store := newStore(t, newFakeSource(original))

	max := 75
	updated, err := store.Update(context.Background(), "api", domain.RulePatch{MaxRequests: &max})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.MaxRequests != 75 {
		t.Fatalf("expected patched maxRequests=75, got %d", updated.MaxRequests)
	}
	if updated.WindowMinutes != 15 || len(updated.ExemptPaths) != 1 {
		t.Fatalf("unpatched fields must be preserved: %+v", updated)
	}

	if _, err := store.Update(context.Background(), "missing", domain.RulePatch{}); !errors.Is(err, domain.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestRuleStore_Update_RejectsInvalidResult(t *testing.T) {
	store := newStore(t, newFakeSource(enabledRule("api", 50)))

	zero := 0
	if _, err := store.Update(context.Background(), "api", domain.RulePatch{MaxRequests: &zero}); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if rule := store.Resolve("api", "/x"); rule == nil || rule.MaxRequests != 50 {
		t.Fatalf("failed update must not mutate the snapshot, got %+v", rule)
	}
}

func TestRuleStore_Delete(t *testing.T) {
	source := newFakeSource(enabledRule("api", 50))
	store := newStore(t, source)

	if err := store.Delete(context.Background(), "api"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule := store.Resolve("api", "/x"); rule != nil {
		t.Fatalf("deleted rule must not resolve, got %+v", rule)
	}
	if err := store.Delete(context.Background(), "api"); !errors.Is(err, domain.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound on second delete, got %v", err)
	}
}

func TestRuleStore_Resolve_SafeDuringConcurrentMutations(t *testing.T) {
	store := newStore(t, newFakeSource(enabledRule("default", 100)))

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					store.Resolve("default", "/x")
				}
			}
		}()
	}

	for i := 1; i <= 200; i++ {
		max := i
		if _, err := store.Update(context.Background(), "default", domain.RulePatch{MaxRequests: &max}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()

	if rule := store.Resolve("default", "/x"); rule == nil || rule.MaxRequests != 200 {
		t.Fatalf("expected last update to be visible, got %+v", rule)
	}
}

func TestRuleStore_RefreshDiscardsStaleListAfterMidflightMutation(t *testing.T) {
	source := newFakeSource(enabledRule("api", 50))
	store := newStore(t, source)

	source.onList = func() {
		source.onList = nil
		if _, err := store.Create(context.Background(), enabledRule("web", 10)); err != nil {
			t.Fatalf("create during refresh: %v", err)
		}
	}

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rule := store.Resolve("web", "/x"); rule == nil {
		t.Fatalf("rule created while the refresh was listing must survive the swap")
	}

	// o próximo refresh, sem corrida, enxerga a fonte completa
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if rule := store.Resolve("web", "/x"); rule == nil {
		t.Fatalf("clean refresh must keep the persisted rule")
	}
}

func TestRuleStore_Refresh_FailureKeepsSnapshot(t *testing.T) {
	source := newFakeSource(enabledRule("api", 50))
	store := newStore(t, source)

	source.listErr = errors.New("db down")
	if err := store.Refresh(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if rule := store.Resolve("api", "/x"); rule == nil {
		t.Fatalf("failed refresh must keep the previous snapshot")
	}
}

func TestRuleStore_MutationFailsClosed(t *testing.T) {
	source := newFakeSource(enabledRule("api", 50))
	store := newStore(t, source)
	source.mutErr = errors.New("db down")

	max := 10
	if _, err := store.Update(context.Background(), "api", domain.RulePatch{MaxRequests: &max}); err == nil {
		t.Fatalf("expected error when source rejects the write")
	}
	if rule := store.Resolve("api", "/x"); rule.MaxRequests != 50 {
		t.Fatalf("failed write must not mutate the snapshot, got %+v", rule)
	}
}

func TestRuleStore_List_SortedCopy(t *testing.T) {
	store := newStore(t, newFakeSource(enabledRule("web", 10), enabledRule("api", 50)))

	rules := store.List()
	if len(rules) != 2 || rules[0].RouteType != "api" || rules[1].RouteType != "web" {
		t.Fatalf("expected sorted [api web], got %+v", rules)
	}

	rules[0].MaxRequests = 999
	if rule := store.Resolve("api", "/x"); rule.MaxRequests != 50 {
		t.Fatalf("List must return a copy, snapshot was mutated")
	}
}

func TestRuleStore_LastWriteWinsOnDuplicateRouteType(t *testing.T) {
	older := enabledRule("api", 10)
	older.ID = "old"
	older.UpdatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := enabledRule("api", 99)
	newer.ID = "new"
	newer.UpdatedAt = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	snap := buildSnapshot([]domain.RateLimitRule{older, newer})
	if got := snap.byRoute["api"]; got.ID != "new" {
		t.Fatalf("expected most recent rule to win, got %s", got.ID)
	}

	snap = buildSnapshot([]domain.RateLimitRule{newer, older})
	if got := snap.byRoute["api"]; got.ID != "new" {
		t.Fatalf("order from the source must not matter, got %s", got.ID)
	}
}
