package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/versions"
)

// VersionRouter sets up the version route.
func VersionRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", getVersion)
	return r
}

// versionResponse represents the version information returned by the API.
type versionResponse struct {
	// Version is the current server version
	Version string `json:"version"`
}

//	 getVersion
//		@Summary		Get server version
//		@Description	Returns the version of the server
//		@Tags			version
//		@Produce		json
//		@Success		200	{object}	versionResponse
//		@Router			/api/v1beta/version [get]
func getVersion(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(versionResponse{Version: info.Version}); err != nil {
		logger.Errorf("Failed to marshal version: %v", err)
		http.Error(w, "Failed to marshal version", http.StatusInternalServerError)
	}
}
