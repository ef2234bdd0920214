// Package application contém os casos de uso do controle de admissão:
// resolução de regras, contagem por janela fixa, block list e métricas.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Engine.Admit(addr, routeType, path) retorna uma Decision
// (allow/deny + status da janela + regra aplicada).
package application
