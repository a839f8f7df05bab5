package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS answers browser preflights for the licensing endpoints. Clients run
// from arbitrary origins, so every origin is allowed.
func CORS() func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}).Handler
}
