package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWeakKey is returned when the signing key is empty.
	ErrWeakKey = errors.New("session signing key must not be empty")
)

const defaultIssuer = "custodial-ledger"

// SessionClaims are the claims of a session token. The token only names the session;
// the session row decides what the bearer may do.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// TokenProvider issues and validates HS256 session tokens.
type TokenProvider struct {
	key    []byte
	issuer string
	nowF   func() time.Time
}

// NewTokenProvider returns a TokenProvider signing with key. The key comes from configuration only.
func NewTokenProvider(key []byte, issuer string) (*TokenProvider, error) {
	if len(key) == 0 {
		return nil, ErrWeakKey
	}
	if issuer == "" {
		issuer = defaultIssuer
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TokenProvider{key: k, issuer: issuer, nowF: time.Now}, nil
}

// Issue returns a signed token for sessionID and accountID valid until expiresAt.
func (p *TokenProvider) Issue(sessionID, accountID string, expiresAt time.Time) (string, error) {
	now := p.nowF().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   accountID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
}

// Validate checks signature, expiry and issuer and returns the session and account IDs.
func (p *TokenProvider) Validate(tokenString string) (sessionID, accountID string, err error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return p.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil || !token.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.SessionID, claims.Subject, nil
}
