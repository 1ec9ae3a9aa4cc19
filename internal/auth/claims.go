package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeClient TokenType = "client"
	TokenTypeAdmin  TokenType = "admin"
)

// Claims are the only supported JWT claims shape for this service.
// Client tokens carry ClientID and are scoped to that tenant; admin tokens
// carry AdminID and see every tenant.
type Claims struct {
	jwt.RegisteredClaims

	ClientID string    `json:"clientId,omitempty"`
	AdminID  string    `json:"adminId,omitempty"`
	Type     TokenType `json:"type"`
}

// Principal is the tenant or admin the token was issued to.
func (c Claims) Principal() string {
	if c.Type == TokenTypeAdmin {
		return c.AdminID
	}
	return c.ClientID
}
