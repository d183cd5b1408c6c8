package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrBadState is returned when a callback carries an unknown or expired
// state parameter.
var ErrBadState = errors.New("unknown or expired authorization state")

// AuthConfig describes the calendar provider's authorization-code endpoints.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// Enabled reports whether the flow is configured at all.
func (c AuthConfig) Enabled() bool {
	return c.ClientID != "" && c.AuthURL != "" && c.TokenURL != ""
}

// OAuth2 builds the x/oauth2 config shared by the authorizer and the mirror.
func (c AuthConfig) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
	}
}

// CredentialWriter is the slice of the repository the authorizer needs.
type CredentialWriter interface {
	PutCalendarCredential(ctx context.Context, owner string, credentials json.RawMessage) error
}

// pendingAuth tracks one in-flight authorization attempt.
type pendingAuth struct {
	owner     string
	expiresAt time.Time
}

// Authorizer runs the authorization-code exchange that produces the stored
// calendar grant. State is process-local with a TTL; an attempt that spans a
// restart just has to be started over.
type Authorizer struct {
	oauthCfg *oauth2.Config
	creds    CredentialWriter
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingAuth

	stateTTL time.Duration
	now      func() time.Time
}

// NewAuthorizer creates an authorizer for the given provider config.
func NewAuthorizer(cfg AuthConfig, creds CredentialWriter, logger *zap.Logger) *Authorizer {
	return &Authorizer{
		oauthCfg: cfg.OAuth2(),
		creds:    creds,
		logger:   logger,
		pending:  make(map[string]pendingAuth),
		stateTTL: 10 * time.Minute,
		now:      time.Now,
	}
}

// Begin registers a new authorization attempt for owner and returns the
// provider consent URL to redirect the user to.
func (a *Authorizer) Begin(owner string) string {
	state := uuid.NewString()

	a.mu.Lock()
	a.evictExpired()
	a.pending[state] = pendingAuth{
		owner:     owner,
		expiresAt: a.now().Add(a.stateTTL),
	}
	a.mu.Unlock()

	return a.oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Complete validates the callback state, exchanges the code for a token, and
// stores it as the owner's opaque grant. Returns the owner on success.
func (a *Authorizer) Complete(ctx context.Context, state, code string) (string, error) {
	a.mu.Lock()
	attempt, ok := a.pending[state]
	if ok {
		delete(a.pending, state)
	}
	a.mu.Unlock()

	if !ok || a.now().After(attempt.expiresAt) {
		return "", ErrBadState
	}

	token, err := a.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}

	blob, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}

	if err := a.creds.PutCalendarCredential(ctx, attempt.owner, blob); err != nil {
		return "", fmt.Errorf("store grant: %w", err)
	}

	a.logger.Info("calendar connected", zap.String("owner", attempt.owner))

	return attempt.owner, nil
}

// evictExpired drops stale attempts. Must be called with the lock held.
func (a *Authorizer) evictExpired() {
	now := a.now()
	for state, attempt := range a.pending {
		if now.After(attempt.expiresAt) {
			delete(a.pending, state)
		}
	}
}
