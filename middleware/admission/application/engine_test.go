package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.ViolationEvent
}

func (s *recordingSink) Record(_ context.Context, ev domain.ViolationEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

type engineFixture struct {
	engine *Engine
	clk    *clock
	cache  *testCache
	sink   *recordingSink
}

func newEngineFixture(t *testing.T, rules []domain.RateLimitRule, opts ...EngineOption) *engineFixture {
	t.Helper()

	clk := newClock()
	store := newStore(t, newFakeSource(rules...))
	cache := newTestCache(clk)
	windows := NewWindowTracker(cache, store.ActiveRouteTypes, nil, WithWindowClock(clk.Now))
	blocks := NewBlockList(cache, windows, nil, WithBlockClock(clk.Now))
	metrics := NewMetricsAggregator(WithMetricsClock(clk.Now), WithMetricsCacheTTL(0))
	sink := &recordingSink{}

	opts = append([]EngineOption{WithViolationSink(sink), WithEngineClock(clk.Now)}, opts...)
	engine := NewEngine(store, windows, blocks, metrics, nil, opts...)
	return &engineFixture{engine: engine, clk: clk, cache: cache, sink: sink}
}

func TestEngine_Admit_StrictRuleBudget(t *testing.T) {
	rule := enabledRule("auth", 3)
	rule.StrictPaths = []string{"/api/auth/login"}
	rule.Priority = 10
	f := newEngineFixture(t, []domain.RateLimitRule{rule})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		dec := f.engine.Admit(ctx, "1.2.3.4", "web", "/api/auth/login")
		if !dec.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if dec.Status == nil || dec.Status.CurrentRequests != int64(i) {
			t.Fatalf("expected counted status on request %d, got %+v", i, dec.Status)
		}
	}

	dec := f.engine.Admit(ctx, "1.2.3.4", "web", "/api/auth/login")
	if dec.Allowed {
		t.Fatalf("request over budget must be denied")
	}
	if dec.Reason != domain.ReasonOverLimit {
		t.Fatalf("expected ReasonOverLimit, got %q", dec.Reason)
	}
	if dec.Rule == nil || dec.Rule.RouteType != "auth" {
		t.Fatalf("denial must carry the matched rule, got %+v", dec.Rule)
	}
}

func TestEngine_Admit_NoRuleAllowsWithoutCounting(t *testing.T) {
	f := newEngineFixture(t, nil)

	dec := f.engine.Admit(context.Background(), "1.2.3.4", "web", "/anything")
	if !dec.Allowed {
		t.Fatalf("expected allowed without rules")
	}
	if dec.Status != nil || dec.Rule != nil {
		t.Fatalf("no rule means no status and no counter, got %+v", dec)
	}
	if len(f.cache.counts) != 0 {
		t.Fatalf("no counter may be touched without a rule")
	}
}

func TestEngine_Admit_BlockedAddressShortCircuits(t *testing.T) {
	f := newEngineFixture(t, []domain.RateLimitRule{enabledRule("api", 100)})
	ctx := context.Background()

	if _, err := f.engine.Blocks().Block(ctx, "1.2.3.4", time.Hour, "manual"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dec := f.engine.Admit(ctx, "1.2.3.4", "api", "/api/users")
	if dec.Allowed {
		t.Fatalf("blocked address must be denied")
	}
	if dec.Reason != domain.ReasonBlockedIP {
		t.Fatalf("expected ReasonBlockedIP, got %q", dec.Reason)
	}
	if dec.Rule != nil || dec.Status != nil {
		t.Fatalf("block list denial must not resolve rules nor count, got %+v", dec)
	}
	if len(f.cache.counts) != 0 {
		t.Fatalf("blocked request must not touch window counters")
	}
}

func TestEngine_Admit_BlockExpiryRestoresTraffic(t *testing.T) {
	f := newEngineFixture(t, []domain.RateLimitRule{enabledRule("api", 100)})
	ctx := context.Background()

	f.engine.Blocks().Block(ctx, "1.2.3.4", 60*time.Minute, "manual")
	if dec := f.engine.Admit(ctx, "1.2.3.4", "api", "/x"); dec.Allowed {
		t.Fatalf("expected denial while blocked")
	}

	f.clk.Advance(61 * time.Minute)
	if dec := f.engine.Admit(ctx, "1.2.3.4", "api", "/x"); !dec.Allowed {
		t.Fatalf("expected traffic restored after the block expires")
	}
}

func TestEngine_Admit_FailsOpenWhenWindowStoreDown(t *testing.T) {
	clk := newClock()
	store := newStore(t, newFakeSource(enabledRule("api", 1)))
	windows := NewWindowTracker(errCache{}, store.ActiveRouteTypes, nil, WithWindowClock(clk.Now))
	goodCache := newTestCache(clk)
	blocks := NewBlockList(goodCache, windows, nil, WithBlockClock(clk.Now))
	metrics := NewMetricsAggregator(WithMetricsClock(clk.Now))
	engine := NewEngine(store, windows, blocks, metrics, nil, WithEngineClock(clk.Now))

	for i := 0; i < 10; i++ {
		dec := engine.Admit(context.Background(), "1.2.3.4", "api", "/x")
		if !dec.Allowed {
			t.Fatalf("engine must fail open when the window store is down")
		}
		if dec.Status != nil {
			t.Fatalf("fail-open decision carries no status, got %+v", dec.Status)
		}
	}
}

func TestEngine_Admit_RecordsViolations(t *testing.T) {
	f := newEngineFixture(t, []domain.RateLimitRule{enabledRule("api", 1)})
	ctx := context.Background()

	f.engine.Admit(ctx, "1.2.3.4", "api", "/x")
	f.engine.Admit(ctx, "1.2.3.4", "api", "/x")
	f.engine.Admit(ctx, "1.2.3.4", "api", "/x")

	if len(f.sink.events) != 2 {
		t.Fatalf("expected 2 violation events, got %d", len(f.sink.events))
	}
	ev := f.sink.events[0]
	if ev.IP != "1.2.3.4" || ev.RouteType != "api" {
		t.Fatalf("unexpected violation event: %+v", ev)
	}

	got := f.engine.Metrics().Metrics(24)
	if got.TotalRequests != 3 || got.BlockedRequests != 2 {
		t.Fatalf("metrics must see every decision: %+v", got)
	}
}

func TestEngine_AutoBlockAfterRepeatedViolations(t *testing.T) {
	f := newEngineFixture(t, []domain.RateLimitRule{enabledRule("api", 1)},
		WithAutoBlock(3, 30*time.Minute))
	ctx := context.Background()

	// 1 permitida + 3 violações disparam a escalada
	for i := 0; i < 4; i++ {
		f.engine.Admit(ctx, "1.2.3.4", "api", "/x")
	}

	list := f.engine.Blocks().List()
	if len(list) != 1 {
		t.Fatalf("expected auto-block entry, got %d", len(list))
	}
	if list[0].IPAddress != "1.2.3.4" || list[0].Permanent {
		t.Fatalf("unexpected auto-block: %+v", list[0])
	}

	dec := f.engine.Admit(ctx, "1.2.3.4", "api", "/x")
	if dec.Allowed || dec.Reason != domain.ReasonBlockedIP {
		t.Fatalf("auto-blocked address must be denied by the block list, got %+v", dec)
	}
}

func TestEngine_AutoBlockDisabledByDefault(t *testing.T) {
	f := newEngineFixture(t, []domain.RateLimitRule{enabledRule("api", 1)})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f.engine.Admit(ctx, "1.2.3.4", "api", "/x")
	}
	if len(f.engine.Blocks().List()) != 0 {
		t.Fatalf("auto-block must be off unless configured")
	}
}

func TestEngine_Admit_CountsAllowedRequestsToo(t *testing.T) {
	f := newEngineFixture(t, []domain.RateLimitRule{enabledRule("api", 10)})
	ctx := context.Background()

	f.engine.Admit(ctx, "1.2.3.4", "api", "/x")
	dec := f.engine.Admit(ctx, "1.2.3.4", "api", "/x")
	if dec.Status.CurrentRequests != 2 {
		t.Fatalf("allowed requests must also count, got %d", dec.Status.CurrentRequests)
	}
	if dec.Status.Remaining() != 8 {
		t.Fatalf("expected remaining=8, got %d", dec.Status.Remaining())
	}
}
