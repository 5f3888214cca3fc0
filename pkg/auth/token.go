package auth

import (
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt"
)

const sessionTokenType = "session"

// Claims carry the opaque session id; credentials never leave the server.
type Claims struct {
	jwt.StandardClaims
	Type string `json:"type"`
}

// TokenIssuer signs and verifies session tokens with a shared HMAC secret
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer for tokens valid for ttl
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token naming sessionID for username
func (t *TokenIssuer) Issue(sessionID, username string) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type: sessionTokenType,
		StandardClaims: jwt.StandardClaims{
			Issuer:    t.issuer,
			Subject:   username,
			Id:        sessionID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(t.ttl).Unix(),
		},
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies token and returns its claims. Any invalid, expired or
// foreign token yields ErrUnauthorized.
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Type != sessionTokenType || claims.Issuer != t.issuer || claims.Id == "" {
		return nil, fmt.Errorf("%w: invalid session token", ErrUnauthorized)
	}
	return claims, nil
}
