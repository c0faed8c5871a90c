package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

// Common errors
var (
	ErrMissingAuthHeader   = errors.New("missing authorization header")
	ErrMalformedAuthHeader = errors.New("malformed authorization header")
	ErrMissingToken        = errors.New("empty bearer token")
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidSignature    = errors.New("signature verification failed")
	ErrUnexpectedIssuer    = errors.New("unexpected token issuer")
	ErrInvalidAudience     = errors.New("invalid audience")
	ErrTokenExpired        = errors.New("token expired")
)

// Validator verifies inbound assertions against the issuer registry.
//
// Verification is an ordered fallback: the v2-style key-set is tried first
// and, on any failure at all, the same verification runs against the v1-style
// key-set. The issuer allow-list check is independent of which key-set
// verified the signature, so a validly signed token minted for an unrelated
// tenant or audience never passes.
type Validator struct {
	registry *IssuerRegistry
	audience string
}

// NewValidator creates a validator over the registry. The audience is the
// expected audience of inbound assertions; when empty, the audience check is
// skipped.
func NewValidator(registry *IssuerRegistry, audience string) *Validator {
	return &Validator{
		registry: registry,
		audience: audience,
	}
}

// Validate verifies the assertion's signature, audience, and expiry against
// the ordered key-sets, then checks the iss claim against the allow-list.
func (v *Validator) Validate(ctx context.Context, assertion string) (jwt.MapClaims, error) {
	issuerMismatch := false
	var lastErr error

	strategies := []*IssuerKeys{v.registry.V2(), v.registry.V1()}
	for i, keys := range strategies {
		claims, err := v.verifyWith(ctx, keys, assertion)
		if err == nil {
			if v.issuerAllowed(claims) {
				return claims, nil
			}
			issuerMismatch = true
			err = ErrUnexpectedIssuer
		}
		lastErr = err

		// The first attempt's failure is absorbed before the fallback runs;
		// keep it visible in structured logs.
		if i < len(strategies)-1 {
			logger.Debugw("key-set verification failed, trying fallback",
				"issuer", keys.Issuer(), "error", err)
		}
	}

	if issuerMismatch {
		return nil, ErrUnexpectedIssuer
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

// verifyWith runs signature, audience, and expiry verification against one
// key-set.
func (v *Validator) verifyWith(ctx context.Context, keys *IssuerKeys, assertion string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(assertion, keys.Keyfunc(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("failed to get claims from token")
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

// validateClaims validates the audience and expiration claims.
func (v *Validator) validateClaims(claims jwt.MapClaims) error {
	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return ErrInvalidAudience
		}

		found := false
		for _, aud := range audiences {
			if aud == v.audience {
				found = true
				break
			}
		}

		if !found {
			return ErrInvalidAudience
		}
	}

	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil || expirationTime.Before(time.Now()) {
		return ErrTokenExpired
	}

	return nil
}

// issuerAllowed reports whether the iss claim matches one of the two
// configured issuers.
func (v *Validator) issuerAllowed(claims jwt.MapClaims) bool {
	issuer, err := claims.GetIssuer()
	if err != nil {
		return false
	}

	issuer = strings.TrimSpace(issuer)
	for _, allowed := range v.registry.AllowedIssuers() {
		if issuer == strings.TrimSpace(allowed) {
			return true
		}
	}
	return false
}
