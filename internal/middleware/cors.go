package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/novafeed/riptide/internal/config"
)

// CORS builds the cross-origin policy from configuration. Rate-limit
// headers are exposed so feed clients can pace their own retries.
func CORS(cfg *config.Config) gin.HandlerFunc {
	policy := cors.Config{
		AllowOrigins:     cfg.Security.CORS.AllowedOrigins,
		AllowMethods:     cfg.Security.CORS.AllowedMethods,
		AllowHeaders:     cfg.Security.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	return cors.New(policy)
}
