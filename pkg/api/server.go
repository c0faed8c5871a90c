// Package api contains the REST API for the on-behalf-of broker.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/api/v1"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/auth"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	// maxRequestBodySize caps inbound request bodies (1MB).
	maxRequestBodySize = 1 << 20
)

// ServerConfig carries the collaborators the server mounts.
type ServerConfig struct {
	// Address is the TCP address to listen on.
	Address string

	// Validator authenticates inbound requests under /api/.
	Validator *auth.Validator

	// Proxy performs downstream CRUD on behalf of the caller.
	Proxy v1.EntityProxy

	// Dataverse is the optional service-to-service Dataverse surface. When
	// nil, the dataverse routes are not mounted.
	Dataverse v1.DataverseReader

	// DefaultCompany fills the dataAreaId key segment when a caller omits it.
	DefaultCompany string
}

// Validate checks if the ServerConfig contains all required fields.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("Address is required")
	}

	if c.Validator == nil {
		return fmt.Errorf("Validator is required")
	}

	if c.Proxy == nil {
		return fmt.Errorf("Proxy is required")
	}

	return nil
}

func setupTCPListener(address string) (net.Listener, error) {
	return net.Listen("tcp", address)
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// limitTrackingBody records when the request body limit was hit mid-read.
type limitTrackingBody struct {
	io.ReadCloser
	exceeded bool
}

func (b *limitTrackingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		b.exceeded = true
	}
	return n, err
}

// limitExceeded reports whether the cap tripped. Handlers often stop reading
// at the first decode error, so the remainder of the body is drained to find
// out whether truncation was the real cause.
func (b *limitTrackingBody) limitExceeded() bool {
	if !b.exceeded {
		_, _ = io.Copy(io.Discard, b)
	}
	return b.exceeded
}

// bodySizeResponseWriter rewrites a handler's 400 to 413 when the request
// body limit was exceeded, so oversized requests report the real cause
// rather than a decode failure.
type bodySizeResponseWriter struct {
	http.ResponseWriter
	body        *limitTrackingBody
	wroteHeader bool
}

func (w *bodySizeResponseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if status == http.StatusBadRequest && w.body.limitExceeded() {
			status = http.StatusRequestEntityTooLarge
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

// requestBodySizeLimitMiddleware rejects request bodies larger than maxSize.
func requestBodySizeLimitMiddleware(maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
				return
			}

			body := &limitTrackingBody{ReadCloser: http.MaxBytesReader(w, r.Body, maxSize)}
			r.Body = body
			next.ServeHTTP(&bodySizeResponseWriter{ResponseWriter: w, body: body}, r)
		})
	}
}

// Router assembles the full route tree: unauthenticated health and login
// surfaces, and the /api/v1beta resources behind the token validator.
func Router(cfg ServerConfig) (http.Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		headersMiddleware,
		requestBodySizeLimitMiddleware(maxRequestBodySize),
	)

	r.Mount("/health", v1.HealthcheckRouter())
	r.Mount("/login", LoginRouter())

	routers := map[string]http.Handler{
		"/api/v1beta/employees": v1.EmployeesRouter(cfg.Proxy, cfg.DefaultCompany),
		"/api/v1beta/entities":  v1.EntitiesRouter(cfg.Proxy),
		"/api/v1beta/version":   v1.VersionRouter(),
	}

	// Only mount the dataverse router when a client is configured
	if cfg.Dataverse != nil {
		routers["/api/v1beta/dataverse"] = v1.DataverseRouter(cfg.Dataverse)
	}

	r.Group(func(authenticated chi.Router) {
		authenticated.Use(cfg.Validator.Middleware)
		for prefix, router := range routers {
			authenticated.Mount(prefix, router)
		}
	})

	return r, nil
}

// Serve starts the server on the configured address and serves the API.
// It is assumed that the caller sets up appropriate signal handling.
func Serve(ctx context.Context, cfg ServerConfig) error {
	router, err := Router(cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := setupTCPListener(cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}

	logger.Infof("starting HTTP server on %s", cfg.Address)

	// Start server.
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Panicf("server stopped with error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infof("HTTP server stopped")
	return nil
}
