package domain

import "errors"

var (
	// ErrRuleNotFound indica update/delete referenciando um routeType inexistente.
	ErrRuleNotFound = errors.New("rate limit rule not found")

	// ErrInvalidRule indica falha de validação (limites não positivos, routeType
	// duplicado ou vazio). Rejeitada antes de qualquer persistência.
	ErrInvalidRule = errors.New("invalid rate limit rule")

	// ErrStoreUnavailable indica falha de I/O na fonte de regras ou no cache.
	// Caminhos de leitura tratam como fail-open; mutações propagam ao chamador.
	ErrStoreUnavailable = errors.New("store unavailable")
)
