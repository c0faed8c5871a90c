// Package config contains the definition of the application settings and the
// logic required to load them from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/env"
)

const (
	// envPrefix is the prefix for all environment variable overrides.
	envPrefix = "D365OBO_"

	redactedPlaceholder = "[REDACTED]"
)

// Settings represents the configuration of the application.
//
// The identity fields (tenant, client, secret, audience, resource URL) are
// required for token exchange to work, but their absence is not a startup
// failure: the server comes up and logs a warning, and affected calls fail
// when they are attempted.
type Settings struct {
	// TenantID is the Azure AD tenant the broker authenticates against.
	TenantID string `yaml:"tenant_id"`
	// ClientID is the confidential client used for the on-behalf-of exchange.
	ClientID string `yaml:"client_id"`
	// ClientSecret is the confidential client's secret.
	ClientSecret string `yaml:"client_secret"`
	// Audience is the expected audience of inbound assertions.
	Audience string `yaml:"audience"`
	// ResourceURL is the base URL of the D365 F&O environment, e.g.
	// https://contoso.operations.dynamics.com.
	ResourceURL string `yaml:"resource_url"`
	// DataverseURL is the optional Dataverse environment URL for the
	// client-credentials client.
	DataverseURL string `yaml:"dataverse_url,omitempty"`

	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`
	// DefaultCompany is the dataAreaId used when a request does not name one.
	DefaultCompany string `yaml:"default_company,omitempty"`
	// CACertificatePath points at an extra CA bundle for corporate TLS
	// interception setups.
	CACertificatePath string `yaml:"ca_certificate_path,omitempty"`

	// IssuerV1 and IssuerV2 override the tenant-derived issuer URLs.
	IssuerV1 string `yaml:"issuer_v1,omitempty"`
	IssuerV2 string `yaml:"issuer_v2,omitempty"`
	// JWKSURLV1 and JWKSURLV2 override the key-set URLs. When empty the
	// URLs are resolved through OIDC discovery from the issuer.
	JWKSURLV1 string `yaml:"jwks_url_v1,omitempty"`
	JWKSURLV2 string `yaml:"jwks_url_v2,omitempty"`
}

// defaultPathGenerator generates the default config path using xdg
var defaultPathGenerator = func() (string, error) {
	return xdg.ConfigFile("d365obo/config.yaml")
}

// getConfigPath is the current path generator, can be replaced in tests
var getConfigPath = defaultPathGenerator

// defaultSettings returns the built-in defaults applied before any file or
// environment values.
func defaultSettings() Settings {
	return Settings{
		ListenAddr:     ":8080",
		DefaultCompany: "dat",
	}
}

// Load fetches the application settings from the path given by the --config
// flag (or the default XDG location) and the process environment.
func Load() (*Settings, error) {
	return LoadWithOptions(viper.GetString("config"), &env.OSReader{})
}

// LoadWithOptions fetches the application settings from a specific path and
// environment reader. This allows for dependency injection in tests.
// If configPath is empty, the default path is used; a missing file is not an
// error, only a malformed one is.
func LoadWithOptions(configPath string, envReader env.Reader) (*Settings, error) {
	settings := defaultSettings()

	explicit := configPath != ""
	if !explicit {
		var err error
		configPath, err = getConfigPath()
		if err != nil {
			return nil, fmt.Errorf("unable to fetch config path: %w", err)
		}
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // path comes from config resolution
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; environment variables may carry everything.
	default:
		return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
	}

	settings.applyEnv(envReader)
	return &settings, nil
}

// applyEnv overlays D365OBO_* environment variables onto the settings.
func (s *Settings) applyEnv(envReader env.Reader) {
	overlay := func(dst *string, key string) {
		if v := envReader.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	overlay(&s.TenantID, "TENANT_ID")
	overlay(&s.ClientID, "CLIENT_ID")
	overlay(&s.ClientSecret, "CLIENT_SECRET")
	overlay(&s.Audience, "AUDIENCE")
	overlay(&s.ResourceURL, "RESOURCE_URL")
	overlay(&s.DataverseURL, "DATAVERSE_URL")
	overlay(&s.ListenAddr, "LISTEN_ADDR")
	overlay(&s.DefaultCompany, "DEFAULT_COMPANY")
	overlay(&s.CACertificatePath, "CA_CERT_PATH")
	overlay(&s.IssuerV1, "ISSUER_V1")
	overlay(&s.IssuerV2, "ISSUER_V2")
	overlay(&s.JWKSURLV1, "JWKS_URL_V1")
	overlay(&s.JWKSURLV2, "JWKS_URL_V2")
}

// MissingFields returns the names of the identity settings that are not set.
// An empty result means token exchange is fully configured.
func (s *Settings) MissingFields() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"tenant_id", s.TenantID},
		{"client_id", s.ClientID},
		{"client_secret", s.ClientSecret},
		{"audience", s.Audience},
		{"resource_url", s.ResourceURL},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// TokenEndpoint returns the Azure AD v2.0 token endpoint for the tenant.
func (s *Settings) TokenEndpoint() string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", s.TenantID)
}

// IssuerV1URL returns the v1-style issuer, honoring the override.
func (s *Settings) IssuerV1URL() string {
	if s.IssuerV1 != "" {
		return s.IssuerV1
	}
	return fmt.Sprintf("https://sts.windows.net/%s/", s.TenantID)
}

// IssuerV2URL returns the v2-style issuer, honoring the override.
func (s *Settings) IssuerV2URL() string {
	if s.IssuerV2 != "" {
		return s.IssuerV2
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", s.TenantID)
}

// Resource returns the resource URL without a trailing slash, suitable for
// building the <resource>/.default scope.
func (s *Settings) Resource() string {
	return strings.TrimSuffix(s.ResourceURL, "/")
}

// String returns a string representation with the client secret redacted.
func (s *Settings) String() string {
	secret := s.ClientSecret
	if secret != "" {
		secret = redactedPlaceholder
	}
	return fmt.Sprintf("Settings{TenantID: %s, ClientID: %s, ClientSecret: %s, Audience: %s, ResourceURL: %s, ListenAddr: %s}",
		s.TenantID, s.ClientID, secret, s.Audience, s.ResourceURL, s.ListenAddr)
}
