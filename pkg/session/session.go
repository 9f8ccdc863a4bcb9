// Package session implements C8: HMAC-SHA256-signed session tokens with
// server-side revocation, sitting on pkg/cache the way pkg/passhash's JWT
// manager sits on golang-jwt — except the wire format here is the spec's
// own compact payload+signature token, not a JWT.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/kadds/job-judge/pkg/apperror"
	"github.com/kadds/job-judge/pkg/cache"
)

// Clock abstracts wall-clock time so tests can control expiry without
// sleeping.
type Clock func() time.Time

// claims carries the signed payload: who the session belongs to, how long
// it lives, when it expires, and any caller-supplied claims.
type claims struct {
	UID      string            `json:"uid"`
	TimeoutS int64             `json:"timeout_s"`
	ExpireAt int64             `json:"expire_at"`
	Claims   map[string]string `json:"claims,omitempty"`
}

// Manager creates, validates, extends, and revokes session tokens.
type Manager struct {
	secret []byte
	revoke cache.Cache
	clock  Clock
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the wall-clock time source, for tests.
func WithClock(clock Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// New creates a Manager. secret is the process-wide HMAC key (JJ_SESSION_KEY);
// revoke backs the server-side revocation set, normally a Redis-backed
// cache.Cache shared across replicas.
func New(secret string, revoke cache.Cache, opts ...Option) *Manager {
	m := &Manager{
		secret: []byte(secret),
		revoke: revoke,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create mints a new token for uid, valid for timeoutS seconds, carrying the
// given claims (may be nil).
func (m *Manager) Create(uid string, timeoutS int64, claimSet map[string]string) (string, error) {
	if uid == "" {
		return "", apperror.New(apperror.ErrNilInput.Code, apperror.ErrNilInput.Message).WithField("uid")
	}
	if timeoutS <= 0 {
		return "", apperror.New(apperror.CodeInvalidArgument, "timeout_s must be positive")
	}

	c := claims{
		UID:      uid,
		TimeoutS: timeoutS,
		ExpireAt: m.clock().Add(time.Duration(timeoutS) * time.Second).Unix(),
		Claims:   claimSet,
	}
	return m.sign(c)
}

// Get validates token and returns the uid it was issued for. It fails if
// the signature doesn't verify, the token has expired, or the token has
// been explicitly invalidated.
func (m *Manager) Get(ctx context.Context, token string) (string, error) {
	c, err := m.verify(token)
	if err != nil {
		return "", err
	}

	if m.clock().Unix() >= c.ExpireAt {
		return "", apperror.New(apperror.CodeUnauthenticated, "session expired")
	}

	revoked, err := m.revoke.Exists(ctx, revokeKey(token))
	if err != nil {
		return "", err
	}
	if revoked {
		return "", apperror.New(apperror.CodeUnauthenticated, "session revoked")
	}

	return c.UID, nil
}

// Claims returns the caller-supplied claims carried by token, without
// consulting the revocation set. Callers that need revocation enforced
// should call Get first.
func (m *Manager) Claims(token string) (map[string]string, error) {
	c, err := m.verify(token)
	if err != nil {
		return nil, err
	}
	return c.Claims, nil
}

// Delay re-signs token with a fresh expiry, extending it by timeout (or by
// the token's original timeout_s when timeout is zero). The previous token
// stays valid until its own expiry unless the caller also invalidates it.
func (m *Manager) Delay(ctx context.Context, token string, timeout time.Duration) (string, error) {
	uid, err := m.Get(ctx, token)
	if err != nil {
		return "", err
	}
	c, err := m.verify(token)
	if err != nil {
		return "", err
	}

	timeoutS := c.TimeoutS
	if timeout > 0 {
		timeoutS = int64(timeout.Seconds())
	}

	next := claims{
		UID:      uid,
		TimeoutS: timeoutS,
		ExpireAt: m.clock().Add(time.Duration(timeoutS) * time.Second).Unix(),
		Claims:   c.Claims,
	}
	return m.sign(next)
}

// Invalid revokes token immediately, recording it in the revocation set
// until its own expiry (lazy eviction: the cache backend expires the key on
// its own, nothing sweeps the set proactively).
func (m *Manager) Invalid(ctx context.Context, token string) error {
	c, err := m.verify(token)
	if err != nil {
		return err
	}

	ttl := time.Duration(c.ExpireAt-m.clock().Unix()) * time.Second
	if ttl <= 0 {
		return nil
	}
	return m.revoke.Set(ctx, revokeKey(token), []byte{1}, ttl)
}

func revokeKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "session:revoked:" + base64.RawURLEncoding.EncodeToString(sum[:])
}

func (m *Manager) sign(c claims) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return payload + "." + sig, nil
}

func (m *Manager) verify(token string) (claims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return claims{}, apperror.New(apperror.CodeUnauthenticated, "malformed token")
	}
	payload, sig := parts[0], parts[1]

	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	want := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) != 1 {
		return claims{}, apperror.New(apperror.CodeUnauthenticated, "bad signature")
	}

	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return claims{}, apperror.New(apperror.CodeUnauthenticated, "malformed token")
	}

	var c claims
	if err := json.Unmarshal(body, &c); err != nil {
		return claims{}, apperror.New(apperror.CodeUnauthenticated, "malformed token")
	}
	if c.UID == "" {
		return claims{}, errors.New("session: empty uid in signed token")
	}
	return c, nil
}
