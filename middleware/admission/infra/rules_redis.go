package infra

import (
	"context"
	"encoding/json"
	"strings"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisRuleSource guarda as regras como um hash Redis de blobs JSON,
// indexado por routeType. Alternativa leve ao banco relacional quando a
// instalação já depende do Redis para os contadores.
type RedisRuleSource struct {
	rdb *redis.Client
	key string
}

type RedisRuleSourceOption func(*RedisRuleSource)

func WithRulesKey(key string) RedisRuleSourceOption {
	return func(s *RedisRuleSource) { s.key = strings.TrimSpace(key) }
}

func NewRedisRuleSource(rdb *redis.Client, opts ...RedisRuleSourceOption) *RedisRuleSource {
	s := &RedisRuleSource{rdb: rdb, key: "admission:rules"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisRuleSource) List(ctx context.Context) ([]domain.RateLimitRule, error) {
	data, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.RateLimitRule, 0, len(data))
	for _, blob := range data {
		var r domain.RateLimitRule
		if err := json.Unmarshal([]byte(blob), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisRuleSource) Upsert(ctx context.Context, rule domain.RateLimitRule) error {
	blob, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key, rule.RouteType, blob).Err()
}

func (s *RedisRuleSource) Delete(ctx context.Context, routeType string) error {
	return s.rdb.HDel(ctx, s.key, routeType).Err()
}
