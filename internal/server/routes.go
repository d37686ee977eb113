package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes returns the HTTP handler with every endpoint of the hub.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", HealthHandler)
	mux.HandleFunc("/", notFoundHandler)
	mux.Handle("/ws", s.upgrade)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /users", s.accounts.create)
	mux.HandleFunc("POST /users/login", s.accounts.login)
	mux.HandleFunc("POST /users/token", s.accounts.refresh)
	mux.HandleFunc("DELETE /users/logout", s.accounts.logout)
	mux.HandleFunc("PATCH /users/{id}", s.accounts.update)
	return mux
}
