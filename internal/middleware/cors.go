package middleware

import (
	"net/http"

	"github.com/gorilla/handlers"
)

// CORS wraps the gateway so browser clients on origins can call it.
func CORS(origins []string) func(http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "Idempotency-Key"}),
		handlers.MaxAge(86400),
	)
}
