// Package admission fornece adapters HTTP (net/http) para o controle de
// admissão: rate limit por janela fixa, block list de IPs e limite de
// concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (engine de admissão, rule store, window
//     tracker, block list, métricas) sem net/http
//   - infra: implementações concretas (cache TTL, Redis, SQL, Prometheus)
//   - adminapi: API REST de gerenciamento (regras, bloqueios, métricas)
//   - admission (este pacote): middlewares HTTP + extração de chave +
//     tradução da decisão para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (IP/header/XFF) e o routeType da requisição
//  2. Chama Engine.Admit para obter a decisão
//  3. Se negado, responde 403 (IP bloqueado) ou 429 (janela estourada)
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway), prefixo GATEWAY_,
// controlam o comportamento; ver cmd/gateway/config.go.
package admission
