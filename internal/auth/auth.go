// Package auth resolves the caller's owner identity from a request.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of tokens minted by this server.
const Issuer = "tasksync"

// DefaultUserHeader carries the owner id in header mode.
const DefaultUserHeader = "X-User-Id"

var (
	// ErrMissingCredentials means the request carried no identity at all.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInvalidCredentials means the identity could not be verified.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Authenticator resolves the owner id of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (ownerID string, err error)
}

// IssueToken mints an HS256 token whose subject is ownerID.
func IssueToken(ownerID string, ttl time.Duration, secret string) (string, error) {
	if ownerID == "" {
		return "", fmt.Errorf("owner id is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies tokenString and returns its subject.
func ParseToken(tokenString, secret string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.ExpiresAt == nil {
		return "", fmt.Errorf("%w: token has no expiry", ErrInvalidCredentials)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}
	return claims.Subject, nil
}

// JWT authenticates "Authorization: Bearer <token>" requests.
type JWT struct {
	secret string
}

// NewJWT returns a bearer token authenticator.
func NewJWT(secret string) *JWT {
	return &JWT{secret: secret}
}

func (a *JWT) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: expected Bearer token", ErrInvalidCredentials)
	}
	return ParseToken(strings.TrimSpace(token), a.secret)
}

// Header trusts an owner id set by an upstream proxy.
type Header struct {
	name string
}

// NewHeader returns an authenticator reading the named header. An empty
// name selects DefaultUserHeader.
func NewHeader(name string) *Header {
	if name == "" {
		name = DefaultUserHeader
	}
	return &Header{name: name}
}

func (a *Header) Authenticate(r *http.Request) (string, error) {
	owner := strings.TrimSpace(r.Header.Get(a.name))
	if owner == "" {
		return "", ErrMissingCredentials
	}
	return owner, nil
}
