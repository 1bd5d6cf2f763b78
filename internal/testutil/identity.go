// Package testutil provides a fake identity provider for tests: RSA signing
// keys, a JWKS endpoint backed by httptest, and RS256 token minting.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	// DefaultIssuer is the issuer minted into tokens by Claims.
	DefaultIssuer = "https://id.example.test"

	// DefaultAudience is the audience minted into tokens by Claims.
	DefaultAudience = "portal"
)

// SigningKey is an RSA key pair published under Kid.
type SigningKey struct {
	Kid     string
	Private *rsa.PrivateKey
}

// NewSigningKey generates a 2048-bit key. An empty kid publishes the key without one.
func NewSigningKey(t testing.TB, kid string) *SigningKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &SigningKey{Kid: kid, Private: privateKey}
}

// Public returns the public half of the key.
func (k *SigningKey) Public() *rsa.PublicKey {
	return &k.Private.PublicKey
}

// JWK returns the key in JWKS entry form.
func (k *SigningKey) JWK() map[string]string {
	entry := map[string]string{
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(k.Private.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.Private.E)).Bytes()),
	}
	if k.Kid != "" {
		entry["kid"] = k.Kid
	}
	return entry
}

// Sign mints an RS256 token, setting the kid header when the key has one.
func (k *SigningKey) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if k.Kid != "" {
		token.Header["kid"] = k.Kid
	}
	signed, err := token.SignedString(k.Private)
	require.NoError(t, err)
	return signed
}

// IdentityProvider serves a JWKS document and counts fetches.
type IdentityProvider struct {
	Server   *httptest.Server
	Issuer   string
	Audience string

	fetches atomic.Int32
	aborts  atomic.Int32

	mu     sync.Mutex
	keys   []*SigningKey
	status int
	delay  time.Duration
	gate   chan struct{}
}

// NewIdentityProvider starts a JWKS server publishing keys. It is closed on test cleanup.
func NewIdentityProvider(t testing.TB, keys ...*SigningKey) *IdentityProvider {
	t.Helper()
	p := &IdentityProvider{
		Issuer:   DefaultIssuer,
		Audience: DefaultAudience,
		keys:     keys,
		status:   http.StatusOK,
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serveJWKS))
	t.Cleanup(p.Server.Close)
	return p
}

func (p *IdentityProvider) serveJWKS(w http.ResponseWriter, r *http.Request) {
	p.fetches.Add(1)

	p.mu.Lock()
	keys := append([]*SigningKey(nil), p.keys...)
	status, delay, gate := p.status, p.delay, p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			p.aborts.Add(1)
			return
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			p.aborts.Add(1)
			return
		}
	}

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	entries := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, k.JWK())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"keys": entries})
}

// JWKSURL returns the URL of the JWKS document.
func (p *IdentityProvider) JWKSURL() string {
	return p.Server.URL + "/.well-known/jwks.json"
}

// Fetches returns how many times the JWKS document was requested.
func (p *IdentityProvider) Fetches() int {
	return int(p.fetches.Load())
}

// Aborts returns how many requests were cancelled by the client while held
// or delayed.
func (p *IdentityProvider) Aborts() int {
	return int(p.aborts.Load())
}

// SetKeys replaces the published keys.
func (p *IdentityProvider) SetKeys(keys ...*SigningKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = keys
}

// SetStatus makes the endpoint answer with code and no body.
func (p *IdentityProvider) SetStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = code
}

// SetDelay delays every response by d.
func (p *IdentityProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Hold blocks responses until the returned release func is called.
func (p *IdentityProvider) Hold() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.gate = nil
			p.mu.Unlock()
			close(gate)
		})
	}
}

// Claims returns a valid claim set for sub: matching iss and aud, issued now,
// expiring in one hour.
func (p *IdentityProvider) Claims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub": sub,
		"iss": p.Issuer,
		"aud": p.Audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}
