package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DataverseRoutes defines the routes backed by the service-to-service
// Dataverse client.
type DataverseRoutes struct {
	reader DataverseReader
}

// DataverseRouter creates a new router for the Dataverse surface.
func DataverseRouter(reader DataverseReader) http.Handler {
	routes := DataverseRoutes{reader: reader}

	r := chi.NewRouter()
	r.Get("/whoami", routes.getWhoAmI)
	r.Get("/{entitySet}", routes.queryEntitySet)

	return r
}

// getWhoAmI
//
//	@Summary		Identify the service principal
//	@Tags			dataverse
//	@Produce		json
//	@Success		200	{object}	dataverse.WhoAmIResponse
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/dataverse/whoami [get]
func (s *DataverseRoutes) getWhoAmI(w http.ResponseWriter, r *http.Request) {
	whoAmI, err := s.reader.WhoAmI(r.Context())
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, whoAmI)
}

// queryEntitySet
//
//	@Summary		Query a Dataverse entity set
//	@Tags			dataverse
//	@Produce		json
//	@Param			entitySet	path	string	true	"Entity set name"
//	@Success		200	{object}	object
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/dataverse/{entitySet} [get]
func (s *DataverseRoutes) queryEntitySet(w http.ResponseWriter, r *http.Request) {
	payload, err := s.reader.Query(r.Context(), chi.URLParam(r, "entitySet"), r.URL.RawQuery)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeRaw(w, payload)
}
