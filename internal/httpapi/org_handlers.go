package httpapi

import (
	"net/http"
	"strings"

	"straxauth.org/internal/audit"
	"straxauth.org/internal/identity"
)

func (a *API) handleOrganisationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organisations/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	orgID := parts[0]
	switch parts[1] {
	case "users":
		a.handleOrganisationUsers(w, r, orgID)
	case "activate":
		a.setOrganisationActive(w, r, orgID, true)
	case "deactivate":
		a.setOrganisationActive(w, r, orgID, false)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleOrganisationUsers(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		a.listOrganisationUsers(w, r, orgID)
	case http.MethodPost:
		a.provisionMemberUser(w, r, orgID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listOrganisationUsers(w http.ResponseWriter, r *http.Request, orgID string) {
	if !a.ensureRole(w, r, identity.RoleAdmin, identity.RoleSuperAdmin, identity.RoleOrgRootUser) {
		return
	}
	users, err := a.svc.UsersByOrganisation(r.Context(), orgID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toUserResponses(users)})
}

func (a *API) provisionMemberUser(w http.ResponseWriter, r *http.Request, orgID string) {
	if !a.ensureRole(w, r, identity.RoleAdmin, identity.RoleSuperAdmin, identity.RoleOrgRootUser) {
		return
	}
	var req provisionUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actorID, _ := identity.UserIDFromContext(r.Context())

	user, err := a.svc.ProvisionMemberUser(r.Context(), orgID, identity.UserSpec{
		Email:    req.Email,
		Password: req.Password,
		Roles:    req.Roles,
		AddedBy:  actorID,
	})
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserProvisioned, map[string]any{
		"user_id":         user.ID,
		"organisation_id": orgID,
		"roles":           user.Roles,
	})
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// setOrganisationActive runs the cascade. The service reports plain success
// or failure; failure means nothing is guaranteed saved.
func (a *API) setOrganisationActive(w http.ResponseWriter, r *http.Request, orgID string, active bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureRole(w, r, identity.RoleAdmin, identity.RoleSuperAdmin) {
		return
	}
	actorID, _ := identity.UserIDFromContext(r.Context())

	var ok bool
	if active {
		ok = a.svc.ActivateOrganisation(r.Context(), actorID, orgID)
	} else {
		ok = a.svc.DeactivateOrganisation(r.Context(), actorID, orgID)
	}
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false})
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventOrganisationToggle, map[string]any{
		"organisation_id": orgID,
		"active":          active,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
