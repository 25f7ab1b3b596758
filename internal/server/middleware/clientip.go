package middleware

import (
	"github.com/gin-gonic/gin"

	"custodial-ledger/internal/server/interceptors"
)

// ClientIP stores gin's resolved client address in the request context for the audit logger.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(interceptors.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
