package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"voice-relay/internal/auth"
	"voice-relay/internal/tenants"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Login exchanges a tenant's clientId and clientSecret for a client token.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		fail(c, http.StatusBadRequest, "clientId and clientSecret are required")
		return
	}

	t, err := h.Tenants.Authenticate(c.Request.Context(), req.ClientID, req.ClientSecret)
	if errors.Is(err, tenants.ErrInvalidCredentials) {
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		failErr(c, err, "Login failed")
		return
	}

	tok, err := h.Auth.IssueClientToken(h.now(), t.ClientID)
	if err != nil {
		failErr(c, err, "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok, "clientId": t.ClientID, "status": t.Status})
}

// VerifyToken reports whether a client token is still valid.
func (h Handlers) VerifyToken(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if !bindJSON(c, &req) {
		return
	}
	tok := strings.TrimSpace(req.Token)
	if tok == "" {
		tok = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if tok == "" {
		fail(c, http.StatusBadRequest, "token is required")
		return
	}

	claims, err := h.Auth.Verify(tok, auth.TokenTypeClient, h.now())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "Invalid or expired token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "clientId": claims.ClientID, "expiresAt": claims.ExpiresAt})
}
