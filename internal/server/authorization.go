package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paydesk/internal/authorization"
	obscontext "github.com/smallbiznis/paydesk/internal/observability/context"
)

const (
	HeaderAdminKey      = "X-Admin-Key"
	contextPrincipalKey = "admin_principal"
)

// AdminRequired authenticates the X-Admin-Key header and stores the
// resulting principal on the request.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := s.authzSvc.Authenticate(c.Request.Context(), c.GetHeader(HeaderAdminKey))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextPrincipalKey, principal)
		ctx := obscontext.WithActor(c.Request.Context(), "admin", principal.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorizeAdminAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal, strings.TrimSpace(object), strings.TrimSpace(action)); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (authorization.Principal, bool) {
	if c == nil {
		return authorization.Principal{}, false
	}
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return authorization.Principal{}, false
	}
	principal, ok := value.(authorization.Principal)
	if !ok || principal.Subject == "" {
		return authorization.Principal{}, false
	}
	return principal, true
}

// actorName is recorded on ledger rows for refunds issued by the caller.
func actorName(c *gin.Context) string {
	principal, ok := principalFromContext(c)
	if !ok {
		return ""
	}
	return principal.Subject
}
