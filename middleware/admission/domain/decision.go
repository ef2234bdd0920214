package domain

// Motivos de negação retornados em Decision.Reason.
const (
	ReasonBlockedIP = "blocked_ip"
	ReasonOverLimit = "over_limit"
)

// Decision é o resultado de uma chamada de admissão.
//
// Status e Rule são nil quando nenhuma regra se aplica (request liberado sem
// contagem) ou quando a negação veio da block list, que curto-circuita a
// resolução de regra.
type Decision struct {
	Allowed bool             `json:"allowed"`
	Status  *RateLimitStatus `json:"status,omitempty"`
	Rule    *RateLimitRule   `json:"rule,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}
