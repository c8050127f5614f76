// Package session owns the bearer token shared by every remote call.
//
// A Manager moves between three states: Empty (no token), Pending (one token
// request in flight) and Valid (token held until revoked or expired).
// Concurrent Acquire calls rendezvous on the single in-flight request.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/agentic-research/intentfs/internal/config"
	"github.com/agentic-research/intentfs/internal/faults"
)

const (
	// AuthTimeout bounds a token request independently of the call timeout.
	AuthTimeout = 10 * time.Second
	// Validity is how long a token is used before it is dropped.
	Validity = 10 * time.Minute

	tokenPath      = "/rest-gateway/rest/api/v1/auth/token"
	revocationPath = "/rest-gateway/rest/api/v1/auth/revocation"
)

// State of the session.
type State int

const (
	Empty State = iota
	Pending
	Valid
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Pending:
		return "pending"
	case Valid:
		return "valid"
	}
	return "unknown"
}

// Credentials supplies the username/password pair for a server address.
type Credentials interface {
	Credentials(ctx context.Context, address string) (config.Credential, error)
}

// Manager acquires, shares and revokes the token for one server address.
type Manager struct {
	address     string
	creds       Credentials
	client      *http.Client
	log         zerolog.Logger
	authTimeout time.Duration
	validity    time.Duration

	flight singleflight.Group

	mu     sync.Mutex
	state  State
	token  string
	cred   config.Credential
	gen    uint64
	expiry *time.Timer

	// revokePending is set when Revoke finds a token request in flight.
	revokePending bool
	revoking      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option { return func(m *Manager) { m.client = c } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithTimings overrides the auth timeout and the token validity window.
func WithTimings(authTimeout, validity time.Duration) Option {
	return func(m *Manager) {
		m.authTimeout = authTimeout
		m.validity = validity
	}
}

// New creates a Manager in the Empty state.
func New(address string, creds Credentials, opts ...Option) *Manager {
	m := &Manager{
		address:     address,
		creds:       creds,
		client:      http.DefaultClient,
		log:         zerolog.Nop(),
		authTimeout: AuthTimeout,
		validity:    Validity,
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With().Str("component", "session").Str("address", address).Logger()
	return m
}

// Address is the server the session authenticates against.
func (m *Manager) Address() string { return m.address }

// State reports the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Acquire returns the current token, or waits for the one request in flight,
// or starts it. A cancelled ctx only abandons this caller's wait.
func (m *Manager) Acquire(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == Valid {
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	m.state = Pending
	m.mu.Unlock()

	ch := m.flight.DoChan("token", m.fetch)
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", faults.Wrap(faults.Connectivity, "acquire token", m.address, ctx.Err())
	}
}

// fetch runs inside the single flight.
func (m *Manager) fetch() (any, error) {
	m.mu.Lock()
	if m.state == Valid {
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.authTimeout)
	defer cancel()

	tok, cred, err := m.requestToken(ctx)

	m.mu.Lock()
	revoked := m.revokePending
	m.revokePending = false
	if err != nil {
		m.state = Empty
		m.mu.Unlock()
		if revoked {
			m.revoking.Done()
		}
		m.log.Warn().Err(err).Msg("token request failed")
		return nil, err
	}
	m.state = Valid
	m.token = tok
	m.cred = cred
	m.gen++
	gen := m.gen
	if revoked {
		// revoked while in flight: hand the token straight to revocation
		m.releaseLocked()
		m.revoking.Done()
		return nil, faults.New(faults.Authentication, "acquire token", m.address, "session revoked")
	}
	m.expiry = time.AfterFunc(m.validity, func() { m.expire(gen) })
	m.mu.Unlock()
	m.log.Debug().Dur("validity", m.validity).Msg("token acquired")
	return tok, nil
}

func (m *Manager) requestToken(ctx context.Context) (string, config.Credential, error) {
	cred, err := m.creds.Credentials(ctx, m.address)
	if err != nil {
		return "", config.Credential{}, faults.Wrap(faults.Authentication, "acquire token", m.address, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+m.address+tokenPath,
		strings.NewReader(`{"grant_type": "client_credentials"}`))
	if err != nil {
		return "", cred, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(cred.Username, cred.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		kind := faults.Connectivity
		if errors.Is(err, context.DeadlineExceeded) {
			kind = faults.Timeout
		}
		return "", cred, faults.Wrap(kind, "acquire token", m.address, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", cred, faults.Wrap(faults.Connectivity, "acquire token", m.address, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", cred, &faults.Error{
			Kind:   faults.Authentication,
			Op:     "acquire token",
			Path:   m.address,
			Status: resp.StatusCode,
			Msg:    fmt.Sprintf("authentication failed with status %d", resp.StatusCode),
		}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AccessToken == "" {
		return "", cred, faults.New(faults.Authentication, "acquire token", m.address, "response carries no access_token")
	}
	return payload.AccessToken, cred, nil
}

// expire drops the token issued in generation gen, if it is still current.
func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != Valid {
		m.mu.Unlock()
		return
	}
	m.log.Debug().Msg("token validity elapsed")
	m.releaseLocked()
}

// Revoke drops the token and notifies the remote side in the background.
// A token still being requested is revoked as soon as it arrives.
func (m *Manager) Revoke() {
	m.mu.Lock()
	switch m.state {
	case Valid:
		m.releaseLocked()
	case Pending:
		if !m.revokePending {
			m.revokePending = true
			m.revoking.Add(1)
		}
		m.mu.Unlock()
	default:
		m.mu.Unlock()
	}
}

// releaseLocked clears local state and unlocks m.mu.
func (m *Manager) releaseLocked() {
	tok, cred := m.token, m.cred
	m.token = ""
	m.state = Empty
	m.gen++
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	m.revoking.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.revoking.Done()
		m.notifyRevoke(tok, cred)
	}()
}

func (m *Manager) notifyRevoke(tok string, cred config.Credential) {
	ctx, cancel := context.WithTimeout(context.Background(), m.authTimeout)
	defer cancel()

	form := url.Values{"token": {tok}, "token_type_hint": {"token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+m.address+revocationPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.SetBasicAuth(cred.Username, cred.Password)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Warn().Err(err).Msg("token revocation not delivered")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		m.log.Warn().Int("status", resp.StatusCode).Msg("token revocation rejected")
		return
	}
	m.log.Debug().Msg("token revoked")
}

// Close revokes the token and waits for outstanding revocations, including
// that of a token still in flight, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.Revoke()
	done := make(chan struct{})
	go func() {
		m.revoking.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
