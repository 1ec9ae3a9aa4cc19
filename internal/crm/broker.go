package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voice-relay/internal/tenants"
	"voice-relay/pkg/logger"
	"voice-relay/pkg/telemetry"
)

// RefreshBuffer is how close to expiry a token may get before it is refreshed.
const RefreshBuffer = 5 * time.Minute

// TenantStore is the slice of tenants.Service the broker depends on.
type TenantStore interface {
	Get(ctx context.Context, clientID string) (tenants.Tenant, error)
	ResolveByNumber(ctx context.Context, phone string) (tenants.Tenant, tenants.Agent, error)
	SaveCRMTokens(ctx context.Context, clientID, access, refresh string, expiresAt time.Time) (tenants.Tenant, error)
}

// Token is a usable access token for one tenant. The CRM location id equals
// the tenant's clientId.
type Token struct {
	AccessToken string
	LocationID  string
	ExpiresAt   time.Time
	Tenant      tenants.Tenant
}

type Broker struct {
	tenants TenantStore
	client  *Client
	metrics *telemetry.Metrics
	clock   func() time.Time
}

func NewBroker(store TenantStore, client *Client, m *telemetry.Metrics) *Broker {
	return &Broker{tenants: store, client: client, metrics: m, clock: time.Now}
}

// IsTokenValid reports whether expiresAt is strictly later than now+RefreshBuffer.
func IsTokenValid(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return expiresAt.After(now.Add(RefreshBuffer))
}

// EnsureValidAccessToken returns the stored token when it is still valid and
// refreshes it otherwise. The refreshed token is persisted before returning.
func (b *Broker) EnsureValidAccessToken(ctx context.Context, clientID string) (Token, error) {
	t, err := b.tenants.Get(ctx, clientID)
	if err != nil {
		return Token{}, err
	}
	if !t.HasCRMIntegration() {
		return Token{}, fmt.Errorf("%w: %s", ErrNoIntegration, clientID)
	}
	if t.AccessToken != "" && IsTokenValid(t.TokenExpiresAt, b.clock()) {
		return tokenFor(t), nil
	}
	return b.refresh(ctx, t)
}

// Refresh forces a token refresh regardless of the stored expiry.
func (b *Broker) Refresh(ctx context.Context, clientID string) (Token, error) {
	t, err := b.tenants.Get(ctx, clientID)
	if err != nil {
		return Token{}, err
	}
	if !t.HasCRMIntegration() {
		return Token{}, fmt.Errorf("%w: %s", ErrNoIntegration, clientID)
	}
	return b.refresh(ctx, t)
}

func (b *Broker) refresh(ctx context.Context, t tenants.Tenant) (Token, error) {
	log := logger.From(ctx).With("client_id", t.ClientID)

	grant, err := b.client.RefreshToken(ctx, t.RefreshToken)
	if err != nil {
		b.metrics.TokenRefresh(false)
		log.Warn("crm token refresh failed", "err", err)
		return Token{}, fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}
	expiresAt := b.clock().Add(time.Duration(grant.ExpiresIn) * time.Second)
	updated, err := b.tenants.SaveCRMTokens(ctx, t.ClientID, grant.AccessToken, grant.RefreshToken, expiresAt)
	if err != nil {
		b.metrics.TokenRefresh(false)
		return Token{}, fmt.Errorf("%w: persist: %v", ErrTokenRefreshFailed, err)
	}
	b.metrics.TokenRefresh(true)
	log.Info("crm token refreshed", "expires_at", expiresAt.UTC())
	return tokenFor(updated), nil
}

func tokenFor(t tenants.Tenant) Token {
	tok := Token{AccessToken: t.AccessToken, LocationID: t.ClientID, Tenant: t}
	if t.TokenExpiresAt != nil {
		tok.ExpiresAt = *t.TokenExpiresAt
	}
	return tok
}

// FindContactByPhone looks a contact up in the tenant's location.
func (b *Broker) FindContactByPhone(ctx context.Context, tok Token, phone string) (*Contact, error) {
	return b.client.SearchContactByPhone(ctx, tok.AccessToken, tok.LocationID, phone)
}

/* ===================== TOKEN STATUS ===================== */

type TokenState struct {
	ClientID        string     `json:"clientId"`
	HasAccessToken  bool       `json:"hasAccessToken"`
	HasRefreshToken bool       `json:"hasRefreshToken"`
	TokenExpiresAt  *time.Time `json:"tokenExpiresAt,omitempty"`
	Status          string     `json:"status"`
	Message         string     `json:"message"`
}

func TokenStatus(t tenants.Tenant, now time.Time) TokenState {
	st := TokenState{
		ClientID:        t.ClientID,
		HasAccessToken:  t.AccessToken != "",
		HasRefreshToken: t.RefreshToken != "",
		TokenExpiresAt:  t.TokenExpiresAt,
	}
	switch {
	case !t.HasCRMIntegration():
		st.Status, st.Message = "no_integration", "This client does not have GHL integration set up"
	case t.AccessToken == "":
		st.Status, st.Message = "missing_access_token", "Access token is missing but refresh token is present"
	case t.TokenExpiresAt == nil:
		st.Status, st.Message = "unknown", "Token expiration date is not available"
	case t.TokenExpiresAt.Before(now):
		st.Status, st.Message = "expired", "Token is expired"
	default:
		left := t.TokenExpiresAt.Sub(now)
		hours := int(left / time.Hour)
		minutes := int((left % time.Hour) / time.Minute)
		if left < time.Hour {
			st.Status, st.Message = "expiring_soon", fmt.Sprintf("Token will expire in %d minutes", minutes)
		} else {
			st.Status, st.Message = "valid", fmt.Sprintf("Token is valid for %d hours and %d minutes", hours, minutes)
		}
	}
	return st
}

/* ===================== PERSONALIZATION ===================== */

const fallbackGreeting = "Hello!"

type AgentOverride struct {
	FirstMessage string `json:"first_message"`
}

type ConfigOverride struct {
	Agent AgentOverride `json:"agent"`
}

// Personalization is the answer to the voice-AI vendor's pre-call webhook.
type Personalization struct {
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
	Override         ConfigOverride    `json:"conversation_config_override"`
}

func fallbackPersonalization() Personalization {
	return Personalization{Override: ConfigOverride{Agent: AgentOverride{FirstMessage: fallbackGreeting}}}
}

// Personalize builds a greeting for callerID calling calledNumber. Every
// failure degrades to the plain greeting; it never returns an error.
func (b *Broker) Personalize(ctx context.Context, callerID, calledNumber string) Personalization {
	log := logger.From(ctx)

	t, _, err := b.tenants.ResolveByNumber(ctx, calledNumber)
	if err != nil {
		log.Info("personalize: no tenant for number", "called_number", calledNumber)
		return fallbackPersonalization()
	}
	if !t.HasCRMIntegration() {
		return fallbackPersonalization()
	}
	tok, err := b.EnsureValidAccessToken(ctx, t.ClientID)
	if err != nil {
		log.Warn("personalize: token unavailable", "client_id", t.ClientID, "err", err)
		return fallbackPersonalization()
	}
	contact, err := b.FindContactByPhone(ctx, tok, callerID)
	if err != nil {
		log.Warn("personalize: contact search failed", "client_id", t.ClientID, "err", err)
		return fallbackPersonalization()
	}
	if contact == nil {
		return fallbackPersonalization()
	}

	name := strings.TrimSpace(contact.FirstName + " " + contact.LastName)
	if name == "" {
		name = "there"
	}
	first := contact.FirstName
	if first == "" {
		first = "there"
	}
	return Personalization{
		DynamicVariables: map[string]string{
			"customer_name": name,
			"email":         contact.Email,
			"company":       contact.CompanyName,
			"jobTitle":      contact.Title,
			"city":          contact.City,
		},
		Override: ConfigOverride{Agent: AgentOverride{FirstMessage: fmt.Sprintf("Hey %s, how is it going?", first)}},
	}
}
