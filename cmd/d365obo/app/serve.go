package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/api"
	v1 "github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/api/v1"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/auth"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/config"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/dataverse"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/networking"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/obo"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/odata"
)

// newServeCmd creates the serve command for starting the broker server.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the broker and proxy server",
		Long: `Start the HTTP server that authenticates callers, exchanges their tokens
through the on-behalf-of grant, and proxies OData requests to the
configured Dynamics 365 F&O environment.

The identity settings may be incomplete at startup; the server still
comes up, logs a warning, and the affected endpoints fail when called.`,
		RunE: runServe,
	}
}

// runServe implements the serve command logic.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Infof("Configuration loaded: %s", settings)

	// One outbound client carries the CA bundle for every upstream call.
	httpClient, err := networking.NewHttpClientBuilder().
		WithCABundle(settings.CACertificatePath).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	registry, err := auth.NewIssuerRegistry(ctx, auth.RegistryConfig{
		TenantID:   settings.TenantID,
		IssuerV2:   settings.IssuerV2,
		IssuerV1:   settings.IssuerV1,
		JWKSURLV2:  settings.JWKSURLV2,
		JWKSURLV1:  settings.JWKSURLV1,
		CACertPath: settings.CACertificatePath,
		HTTPClient: httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to create issuer registry: %w", err)
	}
	validator := auth.NewValidator(registry, settings.Audience)

	proxy, err := buildProxy(settings, httpClient)
	if err != nil {
		return err
	}

	var reader v1.DataverseReader
	if settings.DataverseURL != "" {
		dv, err := dataverse.NewClient(dataverse.Config{
			TokenURL:       settings.TokenEndpoint(),
			ClientID:       settings.ClientID,
			ClientSecret:   settings.ClientSecret,
			EnvironmentURL: settings.DataverseURL,
			HTTPClient:     httpClient,
		})
		if err != nil {
			return fmt.Errorf("failed to create dataverse client: %w", err)
		}
		reader = dv
	}

	return api.Serve(ctx, api.ServerConfig{
		Address:        settings.ListenAddr,
		Validator:      validator,
		Proxy:          proxy,
		Dataverse:      reader,
		DefaultCompany: settings.DefaultCompany,
	})
}

// buildProxy assembles the exchanger, broker and downstream client. When the
// identity settings are incomplete it logs a warning and returns a stand-in
// proxy instead, so the server still comes up and the gaps surface on use.
func buildProxy(settings *config.Settings, httpClient *http.Client) (v1.EntityProxy, error) {
	missing := settings.MissingFields()
	if len(missing) > 0 {
		logger.Warnf("Incomplete identity configuration, downstream calls will fail until these are set: %s",
			strings.Join(missing, ", "))
		return &unconfiguredProxy{missing: missing}, nil
	}

	exchanger, err := obo.NewExchanger(obo.Config{
		TokenURL:     settings.TokenEndpoint(),
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		HTTPClient:   httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exchanger: %w", err)
	}

	broker, err := obo.NewBroker(exchanger)
	if err != nil {
		return nil, fmt.Errorf("failed to create token broker: %w", err)
	}

	proxy, err := odata.NewClient(odata.ClientConfig{
		Resource:   settings.Resource(),
		Broker:     broker,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create downstream client: %w", err)
	}
	return proxy, nil
}

// unconfiguredProxy stands in for the downstream proxy while the identity
// settings are incomplete. Every operation fails with the missing names.
type unconfiguredProxy struct {
	missing []string
}

func (p *unconfiguredProxy) err() error {
	return fmt.Errorf("token exchange is not configured, missing: %s", strings.Join(p.missing, ", "))
}

func (p *unconfiguredProxy) Create(context.Context, string, []byte) (*odata.WriteResult, error) {
	return nil, p.err()
}

func (p *unconfiguredProxy) Read(context.Context, string, string) (json.RawMessage, error) {
	return nil, p.err()
}

func (p *unconfiguredProxy) ReadByKey(context.Context, string, string) (json.RawMessage, error) {
	return nil, p.err()
}

func (p *unconfiguredProxy) Update(context.Context, string, string, []byte) (*odata.WriteResult, error) {
	return nil, p.err()
}

func (p *unconfiguredProxy) Delete(context.Context, string, string) (*odata.WriteResult, error) {
	return nil, p.err()
}
