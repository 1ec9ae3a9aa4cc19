package auth

import (
	"errors"
	"time"

	"voice-relay/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenType    = errors.New("token type mismatch")
	ErrMissingClaim = errors.New("required claim missing")
	errNoToken      = errors.New("No token provided")
)

type Manager struct {
	secret    []byte
	issuer    string
	audience  string
	clientTTL time.Duration
	adminTTL  time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return &Manager{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		audience:  cfg.JWTAudience,
		clientTTL: cfg.ClientTokenTTL,
		adminTTL:  cfg.AdminTokenTTL,
	}, nil
}

/* ===================== ISSUE TOKENS ===================== */

// IssueClientToken mints the self-service token for one tenant.
func (m *Manager) IssueClientToken(now time.Time, clientID string) (string, error) {
	if clientID == "" {
		return "", ErrMissingClaim
	}
	return m.issue(now, Claims{ClientID: clientID, Type: TokenTypeClient}, m.clientTTL)
}

// IssueAdminToken mints an operator token. Tool integrations use the same
// token type.
func (m *Manager) IssueAdminToken(now time.Time, adminID string) (string, error) {
	if adminID == "" {
		return "", ErrMissingClaim
	}
	return m.issue(now, Claims{AdminID: adminID, Type: TokenTypeAdmin}, m.adminTTL)
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if claims.Type != expected {
		return Claims{}, ErrTokenType
	}
	if claims.Principal() == "" {
		return Claims{}, ErrMissingClaim
	}
	return claims, nil
}

/* ===================== INTERNAL ISSUE ===================== */

func (m *Manager) issue(now time.Time, claims Claims, ttl time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Audience:  audienceOrNil(m.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
