// Package auth mints and verifies the HS256 tokens staff clients present.
// Credentials live outside clinicflow; a token only says who the caller is
// and which role they act under.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"clinicflow/clinic"
)

var (
	// ErrInvalidToken signals a token that is malformed, forged or expired.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingSecret signals a service built without a signing secret.
	ErrMissingSecret = errors.New("auth: signing secret required")
)

// Service issues and verifies actor tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service. ttl is the default token lifetime.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source used for iat, exp and validation.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue signs a token for the actor in req.
func (s *Service) Issue(req TokenRequest) (IssuedToken, error) {
	if req.ActorID == uuid.Nil {
		return IssuedToken{}, fmt.Errorf("auth: actor id required")
	}
	if !req.Role.Valid() {
		return IssuedToken{}, fmt.Errorf("auth: invalid role %q", req.Role)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  req.ActorID.String(),
		"role": string(req.Role),
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return IssuedToken{Token: signed, ExpiresAt: time.Unix(exp.Unix(), 0).UTC()}, nil
}

// Verify validates a token and returns the actor it names.
func (s *Service) Verify(tokenString string) (clinic.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return clinic.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return clinic.Actor{}, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return clinic.Actor{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	id, err := uuid.Parse(sub)
	if err != nil || id == uuid.Nil {
		return clinic.Actor{}, fmt.Errorf("%w: sub is not an actor id", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return clinic.Actor{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := clinic.Role(roleStr)
	if !role.Valid() {
		return clinic.Actor{}, fmt.Errorf("%w: invalid role %q", ErrInvalidToken, roleStr)
	}
	return clinic.Actor{ID: id, Role: role}, nil
}
