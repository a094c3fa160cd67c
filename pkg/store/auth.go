package store

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenSource mints and caches HS256 bearer tokens for the store's JWT
// authentication handler. Tokens are refreshed shortly before expiry so a
// request never goes out with a token about to lapse mid-flight.
type tokenSource struct {
	subject string
	secret  []byte
	ttl     time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// refreshMargin is how long before expiry a cached token is discarded.
const refreshMargin = 30 * time.Second

func newTokenSource(subject, secret string, ttl time.Duration) *tokenSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &tokenSource{
		subject: subject,
		secret:  []byte(secret),
		ttl:     ttl,
	}
}

// Token returns a valid bearer token, minting a fresh one when the cached
// token is absent or close to expiry.
func (ts *tokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	if ts.token != "" && now.Before(ts.expires.Add(-refreshMargin)) {
		return ts.token, nil
	}

	expires := now.Add(ts.ttl)
	claims := jwt.MapClaims{
		"sub": ts.subject,
		"iat": now.Unix(),
		"exp": expires.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", err
	}

	ts.token = signed
	ts.expires = expires
	return signed, nil
}
