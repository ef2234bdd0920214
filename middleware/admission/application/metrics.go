package application

import (
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// topo padrão do ranking de violadores nos endpoints de resumo.
const defaultTopN = 10

// retenção dos buckets crus; consultas acima disso são truncadas ao range.
const rawRetention = 48 * time.Hour

// MetricsAggregator acumula contadores crus de admissão em buckets por hora
// e expõe uma visão agregada read-only aos operadores.
//
// O resultado de Metrics(hours) é cacheado com TTL independente dos
// contadores crus; um miss recomputa a partir dos buckets.
type MetricsAggregator struct {
	cacheTTL time.Duration
	topN     int
	now      func() time.Time

	mu      sync.Mutex
	buckets map[int64]*metricsBucket
	cached  map[int]cachedMetrics
}

type metricsBucket struct {
	total      int64
	blocked    int64
	routes     map[string]domain.RouteStats
	violations map[string]int64
	ips        map[string]struct{}
}

type cachedMetrics struct {
	computedAt time.Time
	value      domain.RateLimitMetrics
}

type MetricsOption func(*MetricsAggregator)

func WithMetricsCacheTTL(d time.Duration) MetricsOption {
	return func(m *MetricsAggregator) { m.cacheTTL = d }
}

func WithTopN(n int) MetricsOption {
	return func(m *MetricsAggregator) { m.topN = n }
}

func WithMetricsClock(now func() time.Time) MetricsOption {
	return func(m *MetricsAggregator) { m.now = now }
}

func NewMetricsAggregator(opts ...MetricsOption) *MetricsAggregator {
	m := &MetricsAggregator{
		cacheTTL: 30 * time.Minute,
		topN:     defaultTopN,
		now:      time.Now,
		buckets:  make(map[int64]*metricsBucket),
		cached:   make(map[int]cachedMetrics),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordRequest atualiza os contadores correntes. Chamado em toda decisão,
// permitida ou não.
func (m *MetricsAggregator) RecordRequest(ip, routeType string, allowed bool) {
	now := m.now()
	hour := now.Truncate(time.Hour).Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[hour]
	if !ok {
		b = &metricsBucket{
			routes:     make(map[string]domain.RouteStats),
			violations: make(map[string]int64),
			ips:        make(map[string]struct{}),
		}
		m.buckets[hour] = b
		m.pruneLocked(now)
	}

	b.total++
	b.ips[ip] = struct{}{}
	rs := b.routes[routeType]
	rs.Requests++
	if !allowed {
		b.blocked++
		rs.Blocked++
		b.violations[ip]++
	}
	b.routes[routeType] = rs
}

// RecentViolations soma as negações do endereço na última hora corrida.
// Alimenta a escalada automática de bloqueio do engine.
func (m *MetricsAggregator) RecentViolations(ip string) int64 {
	now := m.now()
	cutoff := now.Add(-time.Hour).Truncate(time.Hour).Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for hour, b := range m.buckets {
		if hour >= cutoff {
			total += b.violations[ip]
		}
	}
	return total
}

// Metrics agrega as últimas `hours` horas. Resultado cacheado por valor de
// `hours`; mutações não invalidam o cache, só o TTL.
func (m *MetricsAggregator) Metrics(hours int) domain.RateLimitMetrics {
	if hours <= 0 {
		hours = 24
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.cached[hours]; ok && now.Sub(c.computedAt) < m.cacheTTL {
		return c.value
	}

	from := now.Add(-time.Duration(hours) * time.Hour)
	cutoff := from.Truncate(time.Hour).Unix()

	out := domain.RateLimitMetrics{
		RouteStats: make(map[string]domain.RouteStats),
		From:       from,
		To:         now,
	}
	ips := make(map[string]struct{})
	violations := make(map[string]int64)

	for hour, b := range m.buckets {
		if hour < cutoff {
			continue
		}
		out.TotalRequests += b.total
		out.BlockedRequests += b.blocked
		for ip := range b.ips {
			ips[ip] = struct{}{}
		}
		for ip, n := range b.violations {
			violations[ip] += n
		}
		for rt, rs := range b.routes {
			agg := out.RouteStats[rt]
			agg.Requests += rs.Requests
			agg.Blocked += rs.Blocked
			out.RouteStats[rt] = agg
		}
	}

	out.UniqueIPs = len(ips)
	out.TopViolators = topViolators(violations, m.topN)

	m.cached[hours] = cachedMetrics{computedAt: now, value: out}
	return out
}

func (m *MetricsAggregator) pruneLocked(now time.Time) {
	cutoff := now.Add(-rawRetention).Truncate(time.Hour).Unix()
	for hour := range m.buckets {
		if hour < cutoff {
			delete(m.buckets, hour)
		}
	}
}

func topViolators(violations map[string]int64, n int) []domain.Violator {
	out := make([]domain.Violator, 0, len(violations))
	for ip, count := range violations {
		out = append(out, domain.Violator{IP: ip, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IP < out[j].IP
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
