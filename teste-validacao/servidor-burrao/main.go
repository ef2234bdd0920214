package main

import (
	"fmt"
	"net/http"
)

// Upstream de validação manual: aponte GATEWAY_UPSTREAM_URL para cá e
// martele os endpoints para ver o gateway contando, limitando e bloqueando.
func main() {
	http.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"users":["ana","bruno"]}`)
		fmt.Println("Log: Alguém acessou o endpoint /api/users")
	})
	http.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token":"fake"}`)
		fmt.Println("Log: Tentativa de login em /api/auth/login")
	})
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	fmt.Println("Servidor rodando em http://localhost:3000")
	err := http.ListenAndServe(":3000", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
