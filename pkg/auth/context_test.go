package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAssertionContext_StoreAndRetrieve verifies basic context storage and retrieval.
func TestAssertionContext_StoreAndRetrieve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	assertion := &Assertion{
		Raw:     "raw-token",
		Subject: "user-object-id",
		Name:    "Alice Smith",
		Email:   "alice@contoso.com",
		Issuer:  testIssuerV2,
		Claims: jwt.MapClaims{
			"oid": "user-object-id",
		},
	}

	ctx = WithAssertion(ctx, assertion)

	retrieved, ok := AssertionFromContext(ctx)
	require.True(t, ok, "expected assertion to be present in context")

	assert.Equal(t, assertion.Raw, retrieved.Raw)
	assert.Equal(t, assertion.Subject, retrieved.Subject)
	assert.Equal(t, assertion.Name, retrieved.Name)
	assert.Equal(t, assertion.Email, retrieved.Email)
	assert.Equal(t, assertion.Issuer, retrieved.Issuer)
	assert.Equal(t, assertion.Claims["oid"], retrieved.Claims["oid"])
}

// TestAssertionContext_NilAssertion verifies that storing nil doesn't change the context.
func TestAssertionContext_NilAssertion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newCtx := WithAssertion(ctx, nil)

	assert.Equal(t, ctx, newCtx)

	_, ok := AssertionFromContext(newCtx)
	assert.False(t, ok, "expected no assertion in context")
}

// TestAssertionContext_MissingAssertion verifies retrieval when no assertion is present.
func TestAssertionContext_MissingAssertion(t *testing.T) {
	t.Parallel()

	assertion, ok := AssertionFromContext(context.Background())
	assert.False(t, ok, "expected assertion to be absent")
	assert.Nil(t, assertion)
}

// TestAssertionContext_Isolation verifies that contexts derived from the same
// parent carry independent assertions.
func TestAssertionContext_Isolation(t *testing.T) {
	t.Parallel()
	parent := context.Background()

	first := WithAssertion(parent, &Assertion{Raw: "first", Subject: "user-1"})
	second := WithAssertion(parent, &Assertion{Raw: "second", Subject: "user-2"})

	fromFirst, ok := AssertionFromContext(first)
	require.True(t, ok)
	fromSecond, ok := AssertionFromContext(second)
	require.True(t, ok)

	assert.Equal(t, "user-1", fromFirst.Subject)
	assert.Equal(t, "user-2", fromSecond.Subject)

	_, ok = AssertionFromContext(parent)
	assert.False(t, ok, "parent context should remain untouched")
}

func TestClaimsToAssertion(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		claims      jwt.MapClaims
		expectError bool
		expected    Assertion
	}{
		{
			name: "oid preferred over sub",
			claims: jwt.MapClaims{
				"oid": "object-id",
				"sub": "pairwise-sub",
			},
			expected: Assertion{Subject: "object-id"},
		},
		{
			name: "sub fallback when oid absent",
			claims: jwt.MapClaims{
				"sub": "pairwise-sub",
			},
			expected: Assertion{Subject: "pairwise-sub"},
		},
		{
			name:        "missing both oid and sub",
			claims:      jwt.MapClaims{"iss": testIssuerV2},
			expectError: true,
		},
		{
			name: "preferred_username wins over upn and email",
			claims: jwt.MapClaims{
				"oid":                "object-id",
				"preferred_username": "alice@contoso.com",
				"upn":                "alice.upn@contoso.com",
				"email":              "alice.mail@contoso.com",
			},
			expected: Assertion{Subject: "object-id", Email: "alice@contoso.com"},
		},
		{
			name: "upn wins over email",
			claims: jwt.MapClaims{
				"oid":   "object-id",
				"upn":   "alice.upn@contoso.com",
				"email": "alice.mail@contoso.com",
			},
			expected: Assertion{Subject: "object-id", Email: "alice.upn@contoso.com"},
		},
		{
			name: "name and issuer carried over",
			claims: jwt.MapClaims{
				"oid":  "object-id",
				"name": "Alice Smith",
				"iss":  testIssuerV1,
			},
			expected: Assertion{Subject: "object-id", Name: "Alice Smith", Issuer: testIssuerV1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assertion, err := claimsToAssertion(tc.claims, "raw-token")

			if tc.expectError {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "raw-token", assertion.Raw)
			assert.Equal(t, tc.expected.Subject, assertion.Subject)
			assert.Equal(t, tc.expected.Name, assertion.Name)
			assert.Equal(t, tc.expected.Email, assertion.Email)
			assert.Equal(t, tc.expected.Issuer, assertion.Issuer)
		})
	}
}
