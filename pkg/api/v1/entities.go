package v1

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

// entityNamePattern matches valid OData entity set names. Anything else is
// rejected before it can reach the downstream URL.
var entityNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EntitiesRoutes defines the passthrough CRUD routes for arbitrary entity sets.
type EntitiesRoutes struct {
	proxy EntityProxy
}

// EntitiesRouter creates a new router for entity passthrough.
func EntitiesRouter(proxy EntityProxy) http.Handler {
	routes := EntitiesRoutes{proxy: proxy}

	r := chi.NewRouter()
	r.Get("/{entity}", routes.listEntities)
	r.Post("/{entity}", routes.createEntity)
	r.Get("/{entity}/{key}", routes.getEntity)
	r.Patch("/{entity}/{key}", routes.updateEntity)
	r.Delete("/{entity}/{key}", routes.deleteEntity)

	return r
}

// listEntities
//
//	@Summary		List records of an entity set
//	@Description	Read any entity set, forwarding the OData query verbatim
//	@Tags			entities
//	@Produce		json
//	@Param			entity	path	string	true	"Entity set name"
//	@Success		200	{object}	object
//	@Failure		400	{string}	string	"Bad Request"
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/entities/{entity} [get]
func (s *EntitiesRoutes) listEntities(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityName(w, r)
	if !ok {
		return
	}

	payload, err := s.proxy.Read(r.Context(), entity, r.URL.RawQuery)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeRaw(w, payload)
}

// createEntity
//
//	@Summary		Create a record in an entity set
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			entity	path	string	true	"Entity set name"
//	@Success		200	{object}	odata.WriteResult
//	@Failure		400	{string}	string	"Bad Request"
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/entities/{entity} [post]
func (s *EntitiesRoutes) createEntity(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityName(w, r)
	if !ok {
		return
	}

	body, err := readJSONBody(r)
	if err != nil {
		logger.Errorf("Failed to decode create request for %s: %v", entity, err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.proxy.Create(r.Context(), entity, body)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// getEntity
//
//	@Summary		Get a record by key predicate
//	@Tags			entities
//	@Produce		json
//	@Param			entity	path	string	true	"Entity set name"
//	@Param			key		path	string	true	"OData key predicate"
//	@Success		200	{object}	object
//	@Failure		400	{string}	string	"Bad Request"
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/entities/{entity}/{key} [get]
func (s *EntitiesRoutes) getEntity(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityName(w, r)
	if !ok {
		return
	}

	payload, err := s.proxy.ReadByKey(r.Context(), entity, chi.URLParam(r, "key"))
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeRaw(w, payload)
}

// updateEntity
//
//	@Summary		Update a record by key predicate
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			entity	path	string	true	"Entity set name"
//	@Param			key		path	string	true	"OData key predicate"
//	@Success		200	{object}	odata.WriteResult
//	@Failure		400	{string}	string	"Bad Request"
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/entities/{entity}/{key} [patch]
func (s *EntitiesRoutes) updateEntity(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityName(w, r)
	if !ok {
		return
	}

	body, err := readJSONBody(r)
	if err != nil {
		logger.Errorf("Failed to decode update request for %s: %v", entity, err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.proxy.Update(r.Context(), entity, chi.URLParam(r, "key"), body)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// deleteEntity
//
//	@Summary		Delete a record by key predicate
//	@Tags			entities
//	@Produce		json
//	@Param			entity	path	string	true	"Entity set name"
//	@Param			key		path	string	true	"OData key predicate"
//	@Success		200	{object}	odata.WriteResult
//	@Failure		400	{string}	string	"Bad Request"
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/entities/{entity}/{key} [delete]
func (s *EntitiesRoutes) deleteEntity(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityName(w, r)
	if !ok {
		return
	}

	result, err := s.proxy.Delete(r.Context(), entity, chi.URLParam(r, "key"))
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// entityName extracts and validates the entity path parameter, writing a 400
// when the name cannot be a valid entity set.
func entityName(w http.ResponseWriter, r *http.Request) (string, bool) {
	entity := chi.URLParam(r, "entity")
	if !entityNamePattern.MatchString(entity) {
		http.Error(w, fmt.Sprintf("Invalid entity name: %s", entity), http.StatusBadRequest)
		return "", false
	}
	return entity, true
}
