package tenants

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenIssuer mints the bearer token handed to a tenant with its secret.
type TokenIssuer interface {
	IssueClientToken(now time.Time, clientID string) (string, error)
}

// Service owns tenant and agent lifecycle rules.
type Service struct {
	repo   Repository
	tokens TokenIssuer
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, tokens TokenIssuer) *Service {
	return &Service{repo: repo, tokens: tokens, clock: time.Now}
}

type CreateRequest struct {
	ClientID          string     `json:"clientId"`
	CalID             string     `json:"calId"`
	AgentID           string     `json:"agentId"`
	TwilioPhoneNumber string     `json:"twilioPhoneNumber"`
	MeetingTitle      string     `json:"meetingTitle"`
	MeetingLocation   string     `json:"meetingLocation"`
	Status            Status     `json:"status"`
	ClientMeta        ClientMeta `json:"clientMeta"`
	RefreshToken      string     `json:"refreshToken"`
	AdditionalAgents  []NewAgent `json:"additionalAgents"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Tenant, error) {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"clientMeta.fullName", req.ClientMeta.FullName},
		{"clientMeta.email", req.ClientMeta.Email},
		{"clientMeta.phone", req.ClientMeta.Phone},
		{"agentId", req.AgentID},
		{"twilioPhoneNumber", req.TwilioPhoneNumber},
		{"clientId", req.ClientID},
		{"calId", req.CalID},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return Tenant{}, invalid("Missing required fields: " + strings.Join(missing, ", "))
	}
	if req.Status == "" {
		req.Status = StatusActive
	}
	if !req.Status.Valid() {
		return Tenant{}, invalid("status must be Active, Inactive or Suspended")
	}

	now := s.clock().UTC()
	t := Tenant{
		ClientID:          strings.TrimSpace(req.ClientID),
		CalID:             strings.TrimSpace(req.CalID),
		RefreshToken:      req.RefreshToken,
		AgentID:           strings.TrimSpace(req.AgentID),
		TwilioPhoneNumber: strings.TrimSpace(req.TwilioPhoneNumber),
		MeetingTitle:      orDefault(req.MeetingTitle, DefaultMeetingTitle),
		MeetingLocation:   orDefault(req.MeetingLocation, DefaultMeetingLocation),
		AdditionalAgents:  []Agent{},
		Status:            req.Status,
		ClientMeta:        req.ClientMeta,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, na := range req.AdditionalAgents {
		if err := t.addAgent(na.build(now)); err != nil {
			return Tenant{}, err
		}
	}
	if err := s.issueCredentials(&t, now); err != nil {
		return Tenant{}, err
	}

	if err := s.repo.Create(ctx, t); err != nil {
		if errors.Is(err, ErrConflict) {
			return Tenant{}, &ConflictError{Reason: "Client with this clientId already exists"}
		}
		return Tenant{}, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, clientID string) (Tenant, error) {
	if clientID == "" {
		return Tenant{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, clientID)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Tenant, int, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// All returns every tenant regardless of status.
func (s *Service) All(ctx context.Context) ([]Tenant, error) {
	out, _, err := s.repo.List(ctx, Filter{})
	return out, err
}

func (s *Service) Counts(ctx context.Context) (StatusCounts, error) {
	return s.repo.CountByStatus(ctx)
}

type UpdateRequest struct {
	ClientID          *string     `json:"clientId"`
	CalID             *string     `json:"calId"`
	AgentID           *string     `json:"agentId"`
	TwilioPhoneNumber *string     `json:"twilioPhoneNumber"`
	MeetingTitle      *string     `json:"meetingTitle"`
	MeetingLocation   *string     `json:"meetingLocation"`
	Status            *Status     `json:"status"`
	ClientMeta        *ClientMeta `json:"clientMeta"`
	RefreshToken      *string     `json:"refreshToken"`
}

func (s *Service) Update(ctx context.Context, clientID string, req UpdateRequest) (Tenant, error) {
	if req.ClientID != nil && *req.ClientID != clientID {
		return Tenant{}, invalid("clientId cannot be changed")
	}
	now := s.clock().UTC()
	return s.repo.Update(ctx, clientID, func(t *Tenant) error {
		if req.CalID != nil {
			t.CalID = *req.CalID
		}
		if req.AgentID != nil {
			t.AgentID = strings.TrimSpace(*req.AgentID)
		}
		if req.TwilioPhoneNumber != nil {
			t.TwilioPhoneNumber = strings.TrimSpace(*req.TwilioPhoneNumber)
		}
		if req.MeetingTitle != nil {
			t.MeetingTitle = *req.MeetingTitle
		}
		if req.MeetingLocation != nil {
			t.MeetingLocation = *req.MeetingLocation
		}
		if req.Status != nil {
			if !req.Status.Valid() {
				return invalid("status must be Active, Inactive or Suspended")
			}
			t.Status = *req.Status
		}
		if req.ClientMeta != nil {
			t.ClientMeta = *req.ClientMeta
		}
		if req.RefreshToken != nil {
			t.RefreshToken = *req.RefreshToken
		}
		if t.AgentID == "" || t.TwilioPhoneNumber == "" {
			return invalid("agentId and twilioPhoneNumber cannot be empty")
		}
		if err := t.checkAgentsUnique(); err != nil {
			return err
		}
		t.UpdatedAt = now
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, clientID string) error {
	return s.repo.Delete(ctx, clientID)
}

// ResetSecret rotates the tenant's secret and bearer token.
func (s *Service) ResetSecret(ctx context.Context, clientID string) (Tenant, error) {
	now := s.clock().UTC()
	return s.repo.Update(ctx, clientID, func(t *Tenant) error {
		if err := s.issueCredentials(t, now); err != nil {
			return err
		}
		t.UpdatedAt = now
		return nil
	})
}

// Authenticate checks a clientId/clientSecret pair for an Active tenant.
func (s *Service) Authenticate(ctx context.Context, clientID, secret string) (Tenant, error) {
	if clientID == "" || secret == "" {
		return Tenant{}, ErrInvalidCredentials
	}
	t, err := s.repo.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Tenant{}, ErrInvalidCredentials
		}
		return Tenant{}, err
	}
	if subtle.ConstantTimeCompare([]byte(t.ClientSecret), []byte(secret)) != 1 || !t.IsActive() {
		return Tenant{}, ErrInvalidCredentials
	}
	return t, nil
}

// SaveCRMTokens persists a refreshed OAuth token set.
func (s *Service) SaveCRMTokens(ctx context.Context, clientID, access, refresh string, expiresAt time.Time) (Tenant, error) {
	now := s.clock().UTC()
	return s.repo.Update(ctx, clientID, func(t *Tenant) error {
		t.AccessToken = access
		if refresh != "" {
			t.RefreshToken = refresh
		}
		exp := expiresAt.UTC()
		t.TokenExpiresAt = &exp
		t.UpdatedAt = now
		return nil
	})
}

/* ===================== AGENTS ===================== */

func (s *Service) ListAgents(ctx context.Context, clientID string) ([]Agent, error) {
	t, err := s.activeTenant(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return t.AllAgents(), nil
}

func (s *Service) AddAgent(ctx context.Context, clientID string, req NewAgent) (Agent, error) {
	now := s.clock().UTC()
	a := req.build(now)
	_, err := s.repo.Update(ctx, clientID, func(t *Tenant) error {
		if !t.IsActive() {
			return ErrNotFound
		}
		if err := t.addAgent(a); err != nil {
			return err
		}
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Agent{}, err
	}
	return a, nil
}

func (s *Service) UpdateAgent(ctx context.Context, clientID, agentID string, p AgentPatch) (Agent, error) {
	now := s.clock().UTC()
	var out Agent
	_, err := s.repo.Update(ctx, clientID, func(t *Tenant) error {
		if !t.IsActive() {
			return ErrNotFound
		}
		a, err := t.updateAgent(agentID, p)
		if err != nil {
			return err
		}
		out = a
		t.UpdatedAt = now
		return nil
	})
	return out, err
}

func (s *Service) RemoveAgent(ctx context.Context, clientID, agentID string) (Agent, error) {
	now := s.clock().UTC()
	var out Agent
	_, err := s.repo.Update(ctx, clientID, func(t *Tenant) error {
		if !t.IsActive() {
			return ErrNotFound
		}
		a, err := t.removeAgent(agentID)
		if err != nil {
			return err
		}
		out = a
		t.UpdatedAt = now
		return nil
	})
	return out, err
}

/* ===================== LOOKUPS ===================== */

// ResolveByNumber finds the Active tenant and agent owning a carrier number.
func (s *Service) ResolveByNumber(ctx context.Context, phone string) (Tenant, Agent, error) {
	if strings.TrimSpace(phone) == "" {
		return Tenant{}, Agent{}, ErrInvalidArgument
	}
	t, err := s.repo.FindByNumber(ctx, phone, StatusActive)
	if err != nil {
		return Tenant{}, Agent{}, err
	}
	a, ok := t.FindAgentByPhone(phone)
	if !ok {
		return Tenant{}, Agent{}, ErrNotFound
	}
	return t, a, nil
}

// DiscoverQuery carries the hints a voice agent has about the current call.
type DiscoverQuery struct {
	TwilioPhone   string `json:"twilioPhone"`
	ClientID      string `json:"clientId"`
	AgentID       string `json:"agentId"`
	CustomerPhone string `json:"phone"`
}

type Discovery struct {
	Tenant       Tenant
	MatchedAgent *Agent
	FoundBy      string
}

// Discover resolves an Active tenant by carrier number, then client id, then
// agent id, then the tenant contact's phone.
func (s *Service) Discover(ctx context.Context, q DiscoverQuery) (Discovery, error) {
	if q.TwilioPhone != "" {
		t, err := s.repo.FindByNumber(ctx, q.TwilioPhone, StatusActive)
		if err == nil {
			d := Discovery{Tenant: t, FoundBy: "additionalTwilioPhone"}
			if t.TwilioPhoneNumber == q.TwilioPhone {
				d.FoundBy = "primaryTwilioPhone"
			}
			if a, ok := t.FindAgentByPhone(q.TwilioPhone); ok {
				d.MatchedAgent = &a
			}
			return d, nil
		} else if !errors.Is(err, ErrNotFound) {
			return Discovery{}, err
		}
	}
	if q.ClientID != "" {
		t, err := s.repo.Get(ctx, q.ClientID)
		if err == nil && t.IsActive() {
			return Discovery{Tenant: t, FoundBy: "clientId"}, nil
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return Discovery{}, err
		}
	}
	if q.AgentID != "" {
		t, err := s.repo.FindByAgentID(ctx, q.AgentID, StatusActive)
		if err == nil {
			d := Discovery{Tenant: t, FoundBy: "additionalAgentId"}
			if t.AgentID == q.AgentID {
				d.FoundBy = "primaryAgentId"
			}
			if a, ok := t.FindAgentByID(q.AgentID); ok {
				d.MatchedAgent = &a
			}
			return d, nil
		} else if !errors.Is(err, ErrNotFound) {
			return Discovery{}, err
		}
	}
	if q.CustomerPhone != "" {
		t, err := s.repo.FindByContactPhone(ctx, q.CustomerPhone, StatusActive)
		if err == nil {
			return Discovery{Tenant: t, FoundBy: "customerPhone"}, nil
		} else if !errors.Is(err, ErrNotFound) {
			return Discovery{}, err
		}
	}
	return Discovery{}, ErrNotFound
}

func (s *Service) activeTenant(ctx context.Context, clientID string) (Tenant, error) {
	t, err := s.repo.Get(ctx, clientID)
	if err != nil {
		return Tenant{}, err
	}
	if !t.IsActive() {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (s *Service) issueCredentials(t *Tenant, now time.Time) error {
	secret, err := newSecret()
	if err != nil {
		return err
	}
	t.ClientSecret = secret
	if s.tokens != nil {
		tok, err := s.tokens.IssueClientToken(now, t.ClientID)
		if err != nil {
			return err
		}
		t.ClientToken = tok
	}
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
