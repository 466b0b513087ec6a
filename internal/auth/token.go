package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// CookieName is the cookie the browser client stores the access token in.
const CookieName = "access_token"

var (
	// ErrMissingToken is returned when the request carries no token.
	ErrMissingToken = errors.New("missing access token")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid access token")
)

// Claims are the provider token claims the service relies on.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 access tokens issued by the identity provider.
type Verifier struct {
	secret   []byte
	audience string
	parser   *jwt.Parser
}

// NewVerifier creates a verifier for the shared secret. An empty audience
// skips the audience check.
func NewVerifier(secret, audience string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is empty")
	}
	return &Verifier{
		secret:   []byte(secret),
		audience: audience,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify parses and validates a raw token and returns its user.
func (v *Verifier) Verify(raw string) (User, error) {
	if raw == "" {
		return User{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return User{}, fmt.Errorf("%w: exp is required", ErrInvalidToken)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return User{}, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return User{}, fmt.Errorf("%w: sub is required", ErrInvalidToken)
	}
	return User{ID: claims.Subject, Email: claims.Email}, nil
}

// VerifyRequest extracts the token from the Authorization header or the
// access_token cookie and verifies it.
func (v *Verifier) VerifyRequest(r *http.Request) (User, error) {
	return v.Verify(TokenFromRequest(r))
}

// TokenFromRequest returns the bearer token, falling back to the cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Issuer signs access tokens. Used by tests and local development; production
// tokens come from the identity provider.
type Issuer struct {
	secret   []byte
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer creates an issuer for the shared secret.
func NewIssuer(secret, audience string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is empty")
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), audience: audience, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for u.
func (i *Issuer) Issue(u User) (string, error) {
	now := i.now()
	claims := Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
