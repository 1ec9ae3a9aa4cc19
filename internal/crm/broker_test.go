package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-relay/internal/tenants"
)

type fakeStore struct {
	mu    sync.Mutex
	t     tenants.Tenant
	saves int
}

func (f *fakeStore) Get(ctx context.Context, clientID string) (tenants.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if clientID != f.t.ClientID {
		return tenants.Tenant{}, tenants.ErrNotFound
	}
	return f.t, nil
}

func (f *fakeStore) ResolveByNumber(ctx context.Context, phone string) (tenants.Tenant, tenants.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.t.FindAgentByPhone(phone)
	if !ok {
		return tenants.Tenant{}, tenants.Agent{}, tenants.ErrNotFound
	}
	return f.t, a, nil
}

func (f *fakeStore) SaveCRMTokens(ctx context.Context, clientID, access, refresh string, expiresAt time.Time) (tenants.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.t.AccessToken = access
	if refresh != "" {
		f.t.RefreshToken = refresh
	}
	exp := expiresAt
	f.t.TokenExpiresAt = &exp
	return f.t, nil
}

type fakeCRM struct {
	mu        sync.Mutex
	refreshes int
	forms     []map[string]string
	searches  []map[string]any
	booked    []AppointmentRequest
	created   []NewContact

	refreshStatus int
	contacts      []Contact
	searchStatus  int
	bookStatus    int
	bookBody      string
}

func (f *fakeCRM) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.refreshes++
		_ = r.ParseForm()
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.forms = append(f.forms, form)
		if f.refreshStatus != 0 {
			w.WriteHeader(f.refreshStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"rotated","expires_in":86400}`))
	})
	mux.HandleFunc("/contacts/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if got := r.Header.Get("Version"); got != versionContacts {
			t.Errorf("contact search version = %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.searches = append(f.searches, body)
		if f.searchStatus != 0 {
			w.WriteHeader(f.searchStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"contacts": f.contacts})
	})
	mux.HandleFunc("/contacts/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var in NewContact
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.created = append(f.created, in)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"contact": Contact{ID: "c-new", FirstName: in.FirstName}})
	})
	mux.HandleFunc("/calendars/events/appointments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var in AppointmentRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.booked = append(f.booked, in)
		if f.bookStatus != 0 {
			w.WriteHeader(f.bookStatus)
			_, _ = w.Write([]byte(f.bookBody))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"apt-1","appointmentStatus":"new"}`))
	})
	mux.HandleFunc("/calendars/cal-1/free-slots", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("timezone") != DefaultTimezone {
			t.Errorf("timezone = %q", r.URL.Query().Get("timezone"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"_dates_":{"slots":["2026-10-16T10:00:00-04:00"]}}`))
	})
	return mux
}

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestBroker(t *testing.T, f *fakeCRM, tenant tenants.Tenant) (*Broker, *fakeStore) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	store := &fakeStore{t: tenant}
	client := NewClient(ClientConfig{BaseURL: srv.URL, ClientID: "cid", ClientSecret: "csecret", RedirectURI: "https://app/cb"}, nil)
	b := NewBroker(store, client, nil)
	b.clock = func() time.Time { return testNow }
	return b, store
}

func integratedTenant(expiresIn time.Duration) tenants.Tenant {
	exp := testNow.Add(expiresIn)
	return tenants.Tenant{
		ClientID:          "loc-1",
		CalID:             "cal-1",
		AccessToken:       "stale",
		RefreshToken:      "refresh-1",
		TokenExpiresAt:    &exp,
		AgentID:           "agent-1",
		TwilioPhoneNumber: "+15550001111",
		Status:            tenants.StatusActive,
		ClientMeta:        tenants.ClientMeta{FullName: "Pat Owner", BusinessName: "Acme", Phone: "+15559990000"},
	}
}

func TestEnsureValidAccessToken_RefreshBoundary(t *testing.T) {
	cases := []struct {
		name        string
		expiresIn   time.Duration
		wantRefresh bool
	}{
		{"four minutes left", 4 * time.Minute, true},
		{"exactly five minutes left", 5 * time.Minute, true},
		{"six minutes left", 6 * time.Minute, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeCRM{}
			b, store := newTestBroker(t, f, integratedTenant(tc.expiresIn))

			tok, err := b.EnsureValidAccessToken(context.Background(), "loc-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantRefresh {
				if f.refreshes != 1 || tok.AccessToken != "fresh" {
					t.Fatalf("expected refresh, got refreshes=%d token=%q", f.refreshes, tok.AccessToken)
				}
				if store.t.RefreshToken != "rotated" || store.t.AccessToken != "fresh" {
					t.Fatalf("refreshed tokens not persisted: %+v", store.t)
				}
				if !store.t.TokenExpiresAt.Equal(testNow.Add(24 * time.Hour)) {
					t.Fatalf("unexpected expiry %v", store.t.TokenExpiresAt)
				}
				form := f.forms[0]
				if form["grant_type"] != "refresh_token" || form["refresh_token"] != "refresh-1" ||
					form["client_id"] != "cid" || form["client_secret"] != "csecret" || form["redirect_uri"] != "https://app/cb" {
					t.Fatalf("unexpected refresh form %+v", form)
				}
				return
			}
			if f.refreshes != 0 || tok.AccessToken != "stale" {
				t.Fatalf("expected stored token, got refreshes=%d token=%q", f.refreshes, tok.AccessToken)
			}
		})
	}
}

func TestEnsureValidAccessToken_Errors(t *testing.T) {
	tenant := integratedTenant(time.Hour)
	tenant.RefreshToken = ""
	b, _ := newTestBroker(t, &fakeCRM{}, tenant)
	if _, err := b.EnsureValidAccessToken(context.Background(), "loc-1"); !errors.Is(err, ErrNoIntegration) {
		t.Fatalf("expected ErrNoIntegration, got %v", err)
	}

	f := &fakeCRM{refreshStatus: http.StatusBadRequest}
	b, store := newTestBroker(t, f, integratedTenant(time.Minute))
	_, err := b.EnsureValidAccessToken(context.Background(), "loc-1")
	if !errors.Is(err, ErrTokenRefreshFailed) || !strings.HasPrefix(err.Error(), "token refresh failed") {
		t.Fatalf("expected refresh failure, got %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("failed refresh must not persist anything")
	}

	if _, err := b.EnsureValidAccessToken(context.Background(), "missing"); !errors.Is(err, tenants.ErrNotFound) {
		t.Fatalf("expected tenant not found, got %v", err)
	}
}

func TestTokenStatus(t *testing.T) {
	base := integratedTenant(0)
	at := func(d time.Duration) *time.Time { v := testNow.Add(d); return &v }

	cases := []struct {
		name    string
		mutate  func(*tenants.Tenant)
		status  string
		message string
	}{
		{"no integration", func(t *tenants.Tenant) { t.RefreshToken = "" }, "no_integration", "This client does not have GHL integration set up"},
		{"missing access", func(t *tenants.Tenant) { t.AccessToken = "" }, "missing_access_token", "Access token is missing but refresh token is present"},
		{"unknown expiry", func(t *tenants.Tenant) { t.TokenExpiresAt = nil }, "unknown", "Token expiration date is not available"},
		{"expired", func(t *tenants.Tenant) { t.TokenExpiresAt = at(-time.Minute) }, "expired", "Token is expired"},
		{"expiring", func(t *tenants.Tenant) { t.TokenExpiresAt = at(42 * time.Minute) }, "expiring_soon", "Token will expire in 42 minutes"},
		{"valid", func(t *tenants.Tenant) { t.TokenExpiresAt = at(3*time.Hour + 7*time.Minute) }, "valid", "Token is valid for 3 hours and 7 minutes"},
	}
	for _, tc := range cases {
		tn := base
		tc.mutate(&tn)
		got := TokenStatus(tn, testNow)
		if got.Status != tc.status || got.Message != tc.message {
			t.Fatalf("%s: got %s / %q", tc.name, got.Status, got.Message)
		}
	}
}

func TestPersonalize(t *testing.T) {
	f := &fakeCRM{contacts: []Contact{{ID: "c1", FirstName: "Jane", LastName: "Doe", Email: "jane@x.io", CompanyName: "Widgets", Title: "CTO", City: "Austin"}}}
	b, _ := newTestBroker(t, f, integratedTenant(time.Hour))

	p := b.Personalize(context.Background(), "+1 (555) 123-4567", "+15550001111")
	if p.Override.Agent.FirstMessage != "Hey Jane, how is it going?" {
		t.Fatalf("unexpected first message %q", p.Override.Agent.FirstMessage)
	}
	if p.DynamicVariables["customer_name"] != "Jane Doe" || p.DynamicVariables["jobTitle"] != "CTO" || p.DynamicVariables["company"] != "Widgets" {
		t.Fatalf("unexpected variables %+v", p.DynamicVariables)
	}
	filters := f.searches[0]["filters"].([]any)
	if v := filters[0].(map[string]any)["value"]; v != "15551234567" {
		t.Fatalf("expected digits-only phone filter, got %v", v)
	}
}

func TestPersonalize_FallsBackOnEveryFailure(t *testing.T) {
	b, _ := newTestBroker(t, &fakeCRM{searchStatus: http.StatusInternalServerError}, integratedTenant(time.Hour))
	if p := b.Personalize(context.Background(), "+15551234567", "+15550001111"); p.Override.Agent.FirstMessage != "Hello!" || p.DynamicVariables != nil {
		t.Fatalf("expected fallback on search failure, got %+v", p)
	}

	b, _ = newTestBroker(t, &fakeCRM{}, integratedTenant(time.Hour))
	if p := b.Personalize(context.Background(), "+15551234567", "+15550001111"); p.Override.Agent.FirstMessage != "Hello!" {
		t.Fatalf("expected fallback when no contact matches, got %+v", p)
	}
	if p := b.Personalize(context.Background(), "+15551234567", "+19999999999"); p.Override.Agent.FirstMessage != "Hello!" {
		t.Fatalf("expected fallback for unknown number, got %+v", p)
	}
}
