package domain

import "time"

// BlockedIP é uma entrada explícita de negação, ortogonal aos contadores
// de janela. Criada por ação manual do operador ou automaticamente pelo
// engine após violações repetidas.
type BlockedIP struct {
	ID        string            `json:"id"`
	IPAddress string            `json:"ip_address"`
	Reason    string            `json:"reason"`
	BlockedAt time.Time         `json:"blocked_at"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
	Permanent bool              `json:"permanent"`
	Attempts  int               `json:"attempts"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Expired diz se o bloqueio já venceu. Bloqueios permanentes nunca vencem.
func (b BlockedIP) Expired(now time.Time) bool {
	if b.Permanent {
		return false
	}
	return !b.ExpiresAt.After(now)
}
