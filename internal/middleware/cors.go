package middleware

import (
	"github.com/go-chi/cors"
)

// CORS returns cors.Options for the given origin allow-list. Only listed
// origins are echoed back; preflight requests get an empty 200 response.
// Callers authenticate with bearer tokens, so credentials are never allowed.
func CORS(allowedOrigins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}
