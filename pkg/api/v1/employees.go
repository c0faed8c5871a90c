package v1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/odata"
)

// employeesEntitySet is the downstream entity set backing the employees routes.
const employeesEntitySet = "EmployeesV2"

// EmployeesRoutes defines the routes for employee records.
type EmployeesRoutes struct {
	proxy          EntityProxy
	defaultCompany string
}

// EmployeesRouter creates a new router for employee records. defaultCompany
// fills the dataAreaId key segment when the caller does not pass one.
func EmployeesRouter(proxy EntityProxy, defaultCompany string) http.Handler {
	routes := EmployeesRoutes{
		proxy:          proxy,
		defaultCompany: defaultCompany,
	}

	r := chi.NewRouter()
	r.Get("/", routes.listEmployees)
	r.Post("/", routes.createEmployee)
	r.Get("/{personnelNumber}", routes.getEmployee)
	r.Patch("/{personnelNumber}", routes.updateEmployee)
	r.Delete("/{personnelNumber}", routes.deleteEmployee)

	return r
}

// listEmployees
//
//	@Summary		List employees
//	@Description	Read the EmployeesV2 entity set, forwarding the OData query verbatim
//	@Tags			employees
//	@Produce		json
//	@Success		200	{object}	object
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/employees [get]
func (s *EmployeesRoutes) listEmployees(w http.ResponseWriter, r *http.Request) {
	payload, err := s.proxy.Read(r.Context(), employeesEntitySet, r.URL.RawQuery)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeRaw(w, payload)
}

// createEmployee
//
//	@Summary		Create an employee record
//	@Description	Insert into EmployeesV2. A downstream rejection is reported in the response body, not the status code.
//	@Tags			employees
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	odata.WriteResult
//	@Failure		400	{string}	string	"Bad Request"
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/employees [post]
func (s *EmployeesRoutes) createEmployee(w http.ResponseWriter, r *http.Request) {
	body, err := readJSONBody(r)
	if err != nil {
		logger.Errorf("Failed to decode create employee request: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.proxy.Create(r.Context(), employeesEntitySet, body)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// getEmployee
//
//	@Summary		Get an employee record
//	@Tags			employees
//	@Produce		json
//	@Param			personnelNumber	path	string	true	"Personnel number"
//	@Param			dataAreaId		query	string	false	"Company, defaults to the configured company"
//	@Success		200	{object}	object
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/employees/{personnelNumber} [get]
func (s *EmployeesRoutes) getEmployee(w http.ResponseWriter, r *http.Request) {
	payload, err := s.proxy.ReadByKey(r.Context(), employeesEntitySet, s.employeeKey(r))
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeRaw(w, payload)
}

// updateEmployee
//
//	@Summary		Update an employee record
//	@Tags			employees
//	@Accept			json
//	@Produce		json
//	@Param			personnelNumber	path	string	true	"Personnel number"
//	@Success		200	{object}	odata.WriteResult
//	@Failure		400	{string}	string	"Bad Request"
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/employees/{personnelNumber} [patch]
func (s *EmployeesRoutes) updateEmployee(w http.ResponseWriter, r *http.Request) {
	body, err := readJSONBody(r)
	if err != nil {
		logger.Errorf("Failed to decode update employee request: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.proxy.Update(r.Context(), employeesEntitySet, s.employeeKey(r), body)
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// deleteEmployee
//
//	@Summary		Delete an employee record
//	@Tags			employees
//	@Produce		json
//	@Param			personnelNumber	path	string	true	"Personnel number"
//	@Success		200	{object}	odata.WriteResult
//	@Failure		502	{object}	errorResponse
//	@Router			/api/v1beta/employees/{personnelNumber} [delete]
func (s *EmployeesRoutes) deleteEmployee(w http.ResponseWriter, r *http.Request) {
	result, err := s.proxy.Delete(r.Context(), employeesEntitySet, s.employeeKey(r))
	if err != nil {
		writeProxyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// employeeKey builds the compound key predicate for an employee record.
// Single quotes in either segment are escaped, never rejected.
func (s *EmployeesRoutes) employeeKey(r *http.Request) string {
	dataAreaID := r.URL.Query().Get("dataAreaId")
	if dataAreaID == "" {
		dataAreaID = s.defaultCompany
	}

	return fmt.Sprintf("dataAreaId='%s',PersonnelNumber='%s'",
		odata.EscapeLiteral(dataAreaID),
		odata.EscapeLiteral(chi.URLParam(r, "personnelNumber")))
}
