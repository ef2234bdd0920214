// Package adminapi expõe a API REST de gerenciamento do controle de
// admissão: CRUD de regras, gestão de bloqueios de IP e métricas agregadas.
//
// Mutações falham fechado (erro vira resposta de erro); o guard de token
// bucket e o bearer token opcionais protegem os endpoints.
package adminapi
