package middleware

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// CORS answers preflight requests for the browser-facing endpoints
func CORS(allowedOrigins []string) echo.MiddlewareFunc {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			log.Println("WARN: CORS allows any origin; set CORS_ALLOWED_ORIGINS in production")
			break
		}
	}

	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderAuthorization,
			echo.HeaderContentType,
			"x-client-info",
			"apikey",
		},
		ExposeHeaders: []string{"X-Payment-Retryable", "X-Transaction-Ref"},
	})
}
