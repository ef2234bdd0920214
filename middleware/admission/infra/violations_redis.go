package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisViolationSink grava eventos de violação em hashes Redis para
// auditoria externa.
//
// Cuidado com cardinalidade: os hashes por IP crescem com o número de
// endereços ofensores; por isso as séries por IP e por minuto expiram com
// ttl, enquanto o total por rota é cumulativo e não expira.
type RedisViolationSink struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	bucket string // "minute" (padrão) ou "none"
}

type RedisViolationOption func(*RedisViolationSink)

func WithViolationPrefix(prefix string) RedisViolationOption {
	return func(s *RedisViolationSink) { s.prefix = strings.Trim(prefix, ":") }
}

func WithViolationTTL(d time.Duration) RedisViolationOption {
	return func(s *RedisViolationSink) { s.ttl = d }
}

func WithViolationBucket(bucket string) RedisViolationOption {
	return func(s *RedisViolationSink) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisViolationSink(rdb *redis.Client, opts ...RedisViolationOption) *RedisViolationSink {
	s := &RedisViolationSink{
		rdb:    rdb,
		prefix: "admission:violations",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisViolationSink) Record(ctx context.Context, ev domain.ViolationEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":route", ev.RouteType, 1)

	ipKey := s.prefix + ":ip:" + strings.TrimSpace(ev.IP)
	pipe.HIncrBy(ctx, ipKey, ev.RouteType, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, ipKey, s.ttl)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, ev.RouteType, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
