// Package auth validates the bearer tokens the external identity service
// issues. Tokens are HS256 JWTs whose subject is the user's UUID; profile
// and credential management live outside this system.
package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultLeeway = 30 * time.Second

// Config configures access-token verification.
type Config struct {
	Secret string
	Issuer string // empty disables the issuer check
	Leeway time.Duration
}

// Verifier validates access tokens and extracts the subject user ID.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: verifier requires a secret")
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(cfg.Issuer),
		leeway: leeway,
	}, nil
}

// VerifySubject validates the token and returns the subject user ID.
func (v *Verifier) VerifySubject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("auth: invalid token")
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("auth: token subject missing")
	}
	if _, err := uuid.Parse(subject); err != nil {
		return "", errors.New("auth: token subject is not a user id")
	}
	return subject, nil
}

// Issue signs a token for the given user. It exists for local development
// and tests; production tokens come from the identity service.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.issuer != "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
