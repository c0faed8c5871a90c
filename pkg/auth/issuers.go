// Package auth provides assertion validation and the authentication
// middleware for the broker.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/networking"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/versions"
)

// OIDCDiscoveryDocument represents the subset of the OIDC discovery document
// the registry needs.
type OIDCDiscoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// IssuerKeys pairs one issuer URL with its remote key-set. The key-set is a
// self-refreshing JWKS document; registration with the cache happens lazily
// on first use so startup never blocks on the identity provider.
type IssuerKeys struct {
	issuer     string
	jwksURL    string
	jwksClient *jwk.Cache

	// Lazy JWKS registration
	jwksRegistered      bool
	jwksRegistrationMu  sync.Mutex
	jwksRegistrationErr error
}

// Issuer returns the issuer URL this key-set belongs to.
func (ik *IssuerKeys) Issuer() string {
	return ik.issuer
}

// ensureJWKSRegistered ensures that the JWKS URL is registered with the cache.
// This is called lazily on first use to avoid blocking startup.
func (ik *IssuerKeys) ensureJWKSRegistered(ctx context.Context) error {
	ik.jwksRegistrationMu.Lock()
	defer ik.jwksRegistrationMu.Unlock()

	if ik.jwksRegistered {
		return ik.jwksRegistrationErr
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := ik.jwksClient.Register(registrationCtx, ik.jwksURL)
	if err != nil {
		ik.jwksRegistrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	} else {
		ik.jwksRegistrationErr = nil
	}

	ik.jwksRegistered = true
	return ik.jwksRegistrationErr
}

// Keyfunc returns a jwt.Keyfunc that resolves the token's signing key from
// this key-set. Only RSA signing methods are accepted.
func (ik *IssuerKeys) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if err := ik.ensureJWKSRegistered(ctx); err != nil {
			return nil, fmt.Errorf("JWKS registration failed: %w", err)
		}

		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("token header missing kid")
		}

		keySet, err := ik.jwksClient.Lookup(ctx, ik.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
		}

		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
		}

		var rawKey any
		if err := jwk.Export(key, &rawKey); err != nil {
			return nil, fmt.Errorf("failed to export raw key: %w", err)
		}

		return rawKey, nil
	}
}

// RegistryConfig contains the configuration for the issuer registry.
type RegistryConfig struct {
	// TenantID is the Azure AD tenant; it derives the default issuer and
	// key-set URLs when no overrides are present.
	TenantID string

	// IssuerV2 and IssuerV1 override the tenant-derived issuer URLs.
	IssuerV2 string
	IssuerV1 string

	// JWKSURLV2 and JWKSURLV1 override the key-set URLs. When empty, the
	// URL is resolved through OIDC discovery from the issuer, falling back
	// to the tenant-derived default if discovery fails.
	JWKSURLV2 string
	JWKSURLV1 string

	// CACertPath is the path to an extra CA bundle for HTTPS requests.
	CACertPath string

	// HTTPClient overrides the client used for discovery and JWKS fetches.
	HTTPClient *http.Client
}

// IssuerRegistry holds the two immutable (issuer, key-set) pairs the tenant
// publishes: the v2-style pair tried first and the v1-style fallback.
type IssuerRegistry struct {
	v2 *IssuerKeys
	v1 *IssuerKeys
}

// NewIssuerRegistry builds the registry from the configuration. Both pairs
// share one JWKS cache; the key-set handles are immutable after construction.
func NewIssuerRegistry(ctx context.Context, cfg RegistryConfig) (*IssuerRegistry, error) {
	issuerV2 := cfg.IssuerV2
	if issuerV2 == "" {
		issuerV2 = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", cfg.TenantID)
	}
	issuerV1 := cfg.IssuerV1
	if issuerV1 == "" {
		issuerV1 = fmt.Sprintf("https://sts.windows.net/%s/", cfg.TenantID)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = networking.NewHttpClientBuilder().
			WithCABundle(cfg.CACertPath).
			Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
	}

	jwksV2 := cfg.JWKSURLV2
	if jwksV2 == "" {
		jwksV2 = resolveJWKSURL(ctx, httpClient, issuerV2,
			fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", cfg.TenantID))
	}
	jwksV1 := cfg.JWKSURLV1
	if jwksV1 == "" {
		jwksV1 = resolveJWKSURL(ctx, httpClient, issuerV1,
			"https://login.microsoftonline.com/common/discovery/keys")
	}

	// One cache serves both key-sets; in jwx v3, NewCache requires an
	// httprc.Client.
	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	return &IssuerRegistry{
		v2: &IssuerKeys{issuer: issuerV2, jwksURL: jwksV2, jwksClient: cache},
		v1: &IssuerKeys{issuer: issuerV1, jwksURL: jwksV1, jwksClient: cache},
	}, nil
}

// V2 returns the v2-style key-set, tried first during validation.
func (r *IssuerRegistry) V2() *IssuerKeys {
	return r.v2
}

// V1 returns the v1-style key-set, the validation fallback.
func (r *IssuerRegistry) V1() *IssuerKeys {
	return r.v1
}

// AllowedIssuers returns the two configured issuer URLs. A token's iss claim
// must match one of them regardless of which key-set verified the signature.
func (r *IssuerRegistry) AllowedIssuers() []string {
	return []string{r.v2.issuer, r.v1.issuer}
}

// resolveJWKSURL resolves the key-set URL for an issuer through OIDC
// discovery, returning the tenant-derived fallback when discovery fails.
func resolveJWKSURL(ctx context.Context, client *http.Client, issuer, fallback string) string {
	doc, err := discoverOIDCConfiguration(ctx, client, issuer)
	if err != nil {
		logger.Warnf("OIDC discovery for %s failed, using default key-set URL: %v", issuer, err)
		return fallback
	}
	return doc.JWKSURI
}

// discoverOIDCConfiguration discovers OIDC configuration from the issuer's well-known endpoint
func discoverOIDCConfiguration(ctx context.Context, client *http.Client, issuer string) (*OIDCDiscoveryDocument, error) {
	wellKnownURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", fmt.Sprintf("d365obo/%s", versions.Version))
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OIDC configuration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc OIDCDiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode OIDC configuration: %w", err)
	}

	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("OIDC configuration missing jwks_uri")
	}

	return &doc, nil
}
