package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callpipe/internal/logging"
	"callpipe/internal/services"
)

// ErrAuthFailure marks a failed authentication. Runs treat it as fatal.
var ErrAuthFailure = errors.New("authentication failed")

// Credential is an issued token plus its validity window.
type Credential struct {
	Token      string            `json:"token"`
	IssuedAt   time.Time         `json:"issued_at"`
	Validity   time.Duration     `json:"validity"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ExpiresAt returns the moment the credential stops being valid.
func (c Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.Validity)
}

// Attribute returns a named attribute, or "".
func (c Credential) Attribute(key string) string {
	if c.Attributes == nil {
		return ""
	}
	return c.Attributes[key]
}

func (c Credential) usable(now time.Time, margin time.Duration) bool {
	if strings.TrimSpace(c.Token) == "" || c.IssuedAt.IsZero() {
		return false
	}
	return now.Before(c.ExpiresAt().Add(-margin))
}

// Authenticator issues a new credential.
type Authenticator interface {
	Authenticate(ctx context.Context) (Credential, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (Credential, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// CredentialStore persists a credential between processes.
type CredentialStore interface {
	Load() (Credential, error)
	Save(Credential) error
}

// Option customises Manager construction.
type Option func(*Manager)

// WithStore persists credentials through store.
func WithStore(store CredentialStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger used for refresh events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager shares one credential between concurrent callers.
type Manager struct {
	auth   Authenticator
	margin time.Duration
	store  CredentialStore
	now    func() time.Time
	logger *slog.Logger

	mu         sync.RWMutex
	credential Credential
	loaded     bool
}

// NewManager builds a Manager that refreshes margin before expiry.
func NewManager(auth Authenticator, margin time.Duration, opts ...Option) (*Manager, error) {
	if auth == nil {
		return nil, errors.New("session: authenticator is required")
	}
	if margin < 0 {
		return nil, errors.New("session: refresh margin must not be negative")
	}
	m := &Manager{
		auth:   auth,
		margin: margin,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ValidCredential returns a credential that is valid for at least the
// refresh margin, authenticating when the cached one is missing or stale.
func (m *Manager) ValidCredential(ctx context.Context) (Credential, error) {
	if cred, ok := m.cached(); ok {
		return cred, nil
	}
	return m.refresh(ctx)
}

func (m *Manager) cached() (Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.credential.usable(m.now(), m.margin) {
		return m.credential, true
	}
	return Credential{}, false
}

func (m *Manager) refresh(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.credential.usable(now, m.margin) {
		return m.credential, nil
	}
	if !m.loaded {
		m.loaded = true
		if cred, ok := m.loadStoredLocked(now); ok {
			return cred, nil
		}
	}

	logger := logging.WithContext(ctx, m.logger)
	cred, err := m.auth.Authenticate(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Credential{}, err
		}
		return Credential{}, fmt.Errorf("%w: %w: %w", ErrAuthFailure, services.ErrAuth, err)
	}
	if strings.TrimSpace(cred.Token) == "" {
		return Credential{}, fmt.Errorf("%w: %w: empty token", ErrAuthFailure, services.ErrAuth)
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = now
	}
	m.credential = cred
	logger.Info("credential refreshed",
		logging.String(logging.FieldEventType, "session_refresh"),
		logging.String("expires_at", cred.ExpiresAt().UTC().Format(time.RFC3339)),
	)

	if m.store != nil {
		if err := m.store.Save(cred); err != nil {
			logging.WarnWithContext(logger, "credential cache write failed", "session_cache_write",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on the credential cache path"),
			)
		}
	}
	return cred, nil
}

func (m *Manager) loadStoredLocked(now time.Time) (Credential, bool) {
	if m.store == nil {
		return Credential{}, false
	}
	cred, err := m.store.Load()
	if err != nil {
		logging.WarnWithContext(m.logger, "credential cache unreadable", "session_cache_read",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the cache will be rewritten after the next authentication"),
		)
		return Credential{}, false
	}
	if !cred.usable(now, m.margin) {
		return Credential{}, false
	}
	m.credential = cred
	return cred, true
}

// Invalidate drops the cached credential so the next call re-authenticates.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential = Credential{}
	m.loaded = true
}
