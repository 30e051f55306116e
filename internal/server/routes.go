package server

import "net/http"

// Mux returns a ServeMux with the health endpoints on their exact paths and
// the server on every other path, so upgrades outside the configured path
// reach ServeHTTP and are refused there.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", HealthHandler)
	mux.HandleFunc("GET /healthz", s.ReadyHandler)
	mux.Handle("/", s)
	return mux
}
