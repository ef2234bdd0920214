// Package infra contém as implementações concretas dos ports do domínio:
// cache TTL em memória e em Redis, fontes de regras (memória, SQL, Redis),
// sinks de violação, contadores Prometheus e o guard do admin API.
package infra
