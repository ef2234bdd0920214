package domain

import (
	"context"
	"time"
)

// RateLimitStatus é o contador vivo de um par (endereço, regra) dentro de
// uma janela fixa. Criado de forma preguiçosa no primeiro request da janela.
type RateLimitStatus struct {
	ClientAddress   string    `json:"client_address"`
	RouteType       string    `json:"route_type"`
	CurrentRequests int64     `json:"current_requests"`
	MaxRequests     int       `json:"max_requests"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	IsBlocked       bool      `json:"is_blocked"`
}

// Remaining retorna o orçamento restante da janela, com piso em zero.
func (s RateLimitStatus) Remaining() int64 {
	rem := int64(s.MaxRequests) - s.CurrentRequests
	if rem < 0 {
		return 0
	}
	return rem
}

// CacheStore é o armazenamento compartilhado de contadores e bloqueios,
// com TTL por chave.
//
// Increment é o primitivo atômico de increment-and-report: cria a chave com
// o TTL dado quando ela não existe (ou expirou) e retorna o valor após o
// incremento junto com o TTL restante. Duas requisições concorrentes nunca
// observam o mesmo valor — é isso que fecha a corrida read-then-write do
// contador quando o store é compartilhado entre processos.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, ttl time.Duration) (count int64, remaining time.Duration, err error)
}
