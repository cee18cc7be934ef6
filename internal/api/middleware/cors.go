package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines CORS configuration options.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// DefaultCORSConfig allows any origin; the playground carries no
// credentials.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept",
			"Origin",
			"Cache-Control",
			"X-Requested-With",
		},
		MaxAge: 12 * time.Hour,
	}
}

// CORS creates a CORS middleware. An empty origin list allows all origins.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: len(cfg.AllowOrigins) == 0,
		AllowOrigins:    cfg.AllowOrigins,
		AllowMethods:    cfg.AllowMethods,
		AllowHeaders:    cfg.AllowHeaders,
		ExposeHeaders:   []string{"Content-Disposition"},
		MaxAge:          cfg.MaxAge,
	})
}
