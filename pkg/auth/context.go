package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// AssertionContextKey is the key used to store the Assertion in the request context.
// This provides type-safe context storage and retrieval for validated assertions.
//
// Using an empty struct as the key prevents collisions with other context keys,
// as each empty struct type is distinct even if they have the same name in different packages.
type AssertionContextKey struct{}

// Assertion carries the validated inbound token for the lifetime of exactly
// one request. It is immutable once constructed and only ever travels through
// the request context, so concurrently handled requests cannot observe each
// other's assertions.
type Assertion struct {
	// Raw is the signed token exactly as presented by the caller. It is the
	// value forwarded to the on-behalf-of exchange.
	Raw string

	// Subject is the caller's object ID (oid claim, falling back to sub).
	Subject string

	// Name is the caller's display name, if present.
	Name string

	// Email is the caller's preferred_username, upn, or email claim.
	Email string

	// Issuer is the issuer that minted the assertion.
	Issuer string

	// Claims is the full decoded claim set.
	Claims jwt.MapClaims
}

// WithAssertion stores an Assertion in the context.
// If assertion is nil, the original context is returned unchanged.
//
// This is called by the authentication middleware after successful validation
// so the proxy layer can act on the caller's behalf without receiving the
// assertion as an explicit parameter.
func WithAssertion(ctx context.Context, assertion *Assertion) context.Context {
	if assertion == nil {
		return ctx
	}
	return context.WithValue(ctx, AssertionContextKey{}, assertion)
}

// AssertionFromContext retrieves the Assertion from the context.
// Returns the assertion and true if present, nil and false otherwise.
func AssertionFromContext(ctx context.Context) (*Assertion, bool) {
	assertion, ok := ctx.Value(AssertionContextKey{}).(*Assertion)
	return assertion, ok
}

// claimsToAssertion converts validated JWT claims to an Assertion.
// Azure AD tokens carry the caller's object ID in oid; sub is the fallback
// for tokens that do not.
func claimsToAssertion(claims jwt.MapClaims, raw string) (*Assertion, error) {
	subject, _ := claims["oid"].(string)
	if subject == "" {
		subject, _ = claims["sub"].(string)
	}
	if subject == "" {
		return nil, errors.New("missing subject: neither 'oid' nor 'sub' claim present")
	}

	assertion := &Assertion{
		Raw:     raw,
		Subject: subject,
		Claims:  claims,
	}

	if issuer, err := claims.GetIssuer(); err == nil {
		assertion.Issuer = issuer
	}
	if name, ok := claims["name"].(string); ok {
		assertion.Name = name
	}
	for _, claim := range []string{"preferred_username", "upn", "email"} {
		if email, ok := claims[claim].(string); ok && email != "" {
			assertion.Email = email
			break
		}
	}

	return assertion, nil
}
