package server

import (
	"fmt"
	"net/http"
)

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "presence hub is running!")
}

// notFoundHandler answers every unrouted path.
func notFoundHandler(w http.ResponseWriter, _ *http.Request) {
	writeAPIError(w, http.StatusNotFound, "Page not found.")
}
