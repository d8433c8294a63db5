package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"live-auction/internal/auth"
	"live-auction/internal/biddingerrors"
	"live-auction/services/bidding/helpers"
	"live-auction/utils"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	utils.Info("HTTP Request", map[string]any{
		"component": "http",
		"method":    c.Request.Method,
		"path":      c.Request.URL.Path,
		"status":    c.Writer.Status(),
		"latency":   time.Since(start).String(),
	})
}

// IdentityMiddleware verifies the caller's token when one is present. A
// request without a token continues anonymously; a bad token is rejected.
func IdentityMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			c.Next()
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			utils.JSONError(c, http.StatusUnauthorized, fmt.Errorf("authentication required: %w", err), "authentication required")
			utils.Warn("IdentityMiddleware: token rejected", map[string]any{
				"component": "http",
				"path":      c.Request.URL.Path,
				"error":     err.Error(),
			})
			c.Abort()
			return
		}

		helpers.SetIdentity(c, identity)
		c.Next()
	}
}

// RequireIdentity rejects requests IdentityMiddleware left anonymous
func RequireIdentity(c *gin.Context) {
	if _, ok := helpers.IdentityFromContext(c); !ok {
		utils.JSONError(c, http.StatusUnauthorized, errors.New("missing identity token"), biddingerrors.ErrUnauthenticated.Error())
		c.Abort()
		return
	}
	c.Next()
}
