// utilitário pequeno para formatação rápida/consistente de valores numéricos
// em headers. Evita puxar fmt (que é mais "pesado" e genérico) só para
// formatação simples e mantém o código consistente.

package admission

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

// formatUnix serializa o instante como epoch em segundos, formato usual do
// header X-RateLimit-Reset.
func formatUnix(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }
