// Package domain define contratos e tipos de domínio do controle de admissão:
// regras de rate limit, janelas de contagem, bloqueios de IP e métricas.
//
// Este pacote não depende de net/http nem de implementações concretas
// (Redis, SQL, Prometheus). A intenção é permitir testes de unidade puros
// e desacoplar regras de negócio de detalhes de infraestrutura.
package domain
