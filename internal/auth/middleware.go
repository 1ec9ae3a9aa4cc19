package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// Role names attached to the request identity.
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// RequireClientToken verifies a tenant token and injects its identity.
func RequireClientToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := bearerClaims(c, m, TokenTypeClient)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		setIdentity(c, claims.ClientID, claims.ClientID, RoleClient)
		c.Next()
	}
}

// RequireAdminToken verifies an admin token. It also guards the tool routes.
func RequireAdminToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := bearerClaims(c, m, TokenTypeAdmin)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": err.Error()})
			return
		}
		setIdentity(c, claims.AdminID, "", RoleAdmin)
		c.Next()
	}
}

func bearerClaims(c *gin.Context, m *Manager, expected TokenType) (Claims, error) {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
		return Claims{}, errNoToken
	}
	return m.Verify(strings.TrimPrefix(raw, bearerPrefix), expected, time.Now())
}

func setIdentity(c *gin.Context, subject, clientID, role string) {
	ctx := WithIdentity(c.Request.Context(), subject, clientID, role)
	c.Request = c.Request.WithContext(ctx)

	// Also store on gin context for handler convenience.
	c.Set("subject", subject)
	c.Set("client_id", clientID)
	c.Set("role", role)
}
