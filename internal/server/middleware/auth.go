// Package middleware holds the gin middleware chain of the HTTP API.
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/platform/authz"
	"custodial-ledger/internal/server/interceptors"
	"custodial-ledger/internal/server/response"
	sessiondomain "custodial-ledger/internal/session/domain"
)

// SessionAuthenticator resolves a bearer token to its live session.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*sessiondomain.Session, error)
}

// RequireSession rejects requests without a live session token and stores the caller's identity in the request context.
// The session may be pending or authorized; services check the state they need.
func RequireSession(auth SessionAuthenticator, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Abort(c, log, authz.ErrUnauthorized)
			return
		}
		sess, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Abort(c, log, err)
			return
		}
		ctx := interceptors.WithIdentity(c.Request.Context(), sess.AccountID, sess.ID, sess.State)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
