// Package v1 provides version 1 of the broker API.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/dataverse"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/networking"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/odata"
)

//go:generate mockgen -destination=mocks/mock_api.go -package=mocks -source=api.go EntityProxy,DataverseReader

// EntityProxy performs CRUD against the downstream OData service on behalf
// of the caller carried in the request context.
type EntityProxy interface {
	// Create inserts an entity record.
	Create(ctx context.Context, entity string, body []byte) (*odata.WriteResult, error)
	// Read lists an entity set, forwarding the OData query verbatim.
	Read(ctx context.Context, entity, query string) (json.RawMessage, error)
	// ReadByKey fetches a single record by key predicate.
	ReadByKey(ctx context.Context, entity, keyPredicate string) (json.RawMessage, error)
	// Update patches a record identified by key predicate.
	Update(ctx context.Context, entity, keyPredicate string, body []byte) (*odata.WriteResult, error)
	// Delete removes a record identified by key predicate.
	Delete(ctx context.Context, entity, keyPredicate string) (*odata.WriteResult, error)
}

// DataverseReader is the service-to-service Dataverse surface.
type DataverseReader interface {
	// WhoAmI identifies the service principal inside the environment.
	WhoAmI(ctx context.Context) (*dataverse.WhoAmIResponse, error)
	// Query reads an entity set with an optional OData query string.
	Query(ctx context.Context, entitySet, query string) (json.RawMessage, error)
}

// errorResponse is the JSON body of a gateway-side failure.
type errorResponse struct {
	// Error describes what failed.
	Error string `json:"error"`
	// Status is the downstream HTTP status, when one was received.
	Status int `json:"status,omitempty"`
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to marshal response: %v", err)
	}
}

// writeRaw forwards a downstream JSON document verbatim.
func writeRaw(w http.ResponseWriter, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(payload); err != nil {
		logger.Errorf("Failed to write response: %v", err)
	}
}

// writeProxyError renders a failed proxy or dataverse call as a 502. Reads
// are the only operations that reach this with a downstream status attached;
// write rejections travel inside the WriteResult instead.
func writeProxyError(w http.ResponseWriter, err error) {
	if networkErr, ok := odata.IsNetworkError(err); ok {
		logger.Errorf("Downstream read failed: %v", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:  "downstream request failed",
			Status: networkErr.Status,
		})
		return
	}

	var httpErr *networking.HTTPError
	if errors.As(err, &httpErr) {
		logger.Errorf("Dataverse request failed: %v", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:  "dataverse request failed",
			Status: httpErr.StatusCode,
		})
		return
	}

	logger.Errorf("Upstream call failed: %v", err)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream call failed"})
}

// readJSONBody decodes the request body into a raw JSON document, rejecting
// bodies that are not valid JSON.
func readJSONBody(r *http.Request) (json.RawMessage, error) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}
