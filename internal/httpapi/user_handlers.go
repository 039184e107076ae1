package httpapi

import (
	"net/http"
	"strings"
	"time"

	"straxauth.org/internal/audit"
	"straxauth.org/internal/identity"
)

type userResponse struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Username          string     `json:"username"`
	PhoneNumber       string     `json:"phone_number,omitempty"`
	IsActive          bool       `json:"is_active"`
	IsRootUser        bool       `json:"is_root_user"`
	PasswordTemporary bool       `json:"password_temporary"`
	OrganisationID    string     `json:"organisation_id"`
	Roles             []string   `json:"roles"`
	LastLoggedOn      *time.Time `json:"last_logged_on,omitempty"`
	DateAdded         time.Time  `json:"date_added"`
	DateModified      time.Time  `json:"date_modified"`
}

func toUserResponse(u *identity.User) *userResponse {
	if u == nil {
		return nil
	}
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return &userResponse{
		ID:                u.ID,
		Email:             u.Email,
		Username:          u.Username,
		PhoneNumber:       u.PhoneNumber,
		IsActive:          u.IsActive,
		IsRootUser:        u.IsRootUser,
		PasswordTemporary: u.IsPasswordTemporary,
		OrganisationID:    u.OrganisationID,
		Roles:             roles,
		LastLoggedOn:      u.LastLoggedOn,
		DateAdded:         u.DateAdded,
		DateModified:      u.DateModified,
	}
}

func toUserResponses(users []*identity.User) []*userResponse {
	out := make([]*userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return out
}

type provisionRootRequest struct {
	OrganisationName string `json:"organisation_name"`
	Region           string `json:"region,omitempty"`
	Data             string `json:"data,omitempty"`
	Email            string `json:"email"`
	Password         string `json:"password"`
}

type provisionUserRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type profileRequest struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type replaceRolesRequest struct {
	Roles []string `json:"roles"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensureRole(w, r, identity.RoleAdmin, identity.RoleSuperAdmin) {
		return
	}

	if username := strings.TrimSpace(r.URL.Query().Get("username")); username != "" {
		user, err := a.svc.GetByUsername(r.Context(), username)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(user))
		return
	}

	users, err := a.svc.List(r.Context())
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toUserResponses(users)})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")

	if parts[0] == "root" && len(parts) == 1 {
		a.provisionRootUser(w, r)
		return
	}

	userID := parts[0]
	switch {
	case len(parts) == 1:
		a.getUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "profile":
		a.modifyProfile(w, r, userID)
	case len(parts) == 2 && parts[1] == "roles":
		a.replaceRoles(w, r, userID)
	case len(parts) == 2 && parts[1] == "password":
		a.changePassword(w, r, userID)
	case len(parts) == 2 && parts[1] == "activate":
		a.setUserActive(w, r, userID, true)
	case len(parts) == 2 && parts[1] == "deactivate":
		a.setUserActive(w, r, userID, false)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) provisionRootUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureRole(w, r, identity.RoleAdmin, identity.RoleSuperAdmin) {
		return
	}
	var req provisionRootRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actorID, _ := identity.UserIDFromContext(r.Context())

	user, err := a.svc.ProvisionRootUser(r.Context(), identity.OrganisationSpec{
		Name:      req.OrganisationName,
		Region:    req.Region,
		Data:      req.Data,
		CreatedBy: actorID,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRootProvisioned, map[string]any{
		"user_id":         user.ID,
		"organisation_id": user.OrganisationID,
	})
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.allowSelfOrAdmin(w, r, userID) {
		return
	}
	user, err := a.svc.Get(r.Context(), userID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (a *API) modifyProfile(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.allowSelfOrAdmin(w, r, userID) {
		return
	}
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actorID, _ := identity.UserIDFromContext(r.Context())

	user, err := a.svc.ModifyProfile(r.Context(), userID, identity.ProfileUpdate{
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		ModifiedBy:  actorID,
	})
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventProfileModified, map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (a *API) replaceRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensureRole(w, r, identity.RoleAdmin, identity.RoleSuperAdmin) {
		return
	}
	var req replaceRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actorID, _ := identity.UserIDFromContext(r.Context())

	if err := a.svc.ReplaceRoles(r.Context(), userID, req.Roles, actorID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRolesReplaced, map[string]any{
		"user_id": userID,
		"roles":   req.Roles,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	// Password changes are strictly self-service; admins reset via reprovisioning.
	actorID, ok := identity.UserIDFromContext(r.Context())
	if !ok || actorID != userID {
		writeError(w, r, http.StatusForbidden, "password can only be changed by the account owner")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.svc.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPasswordChanged, map[string]any{
		"user_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setUserActive(w http.ResponseWriter, r *http.Request, userID string, active bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureRole(w, r, identity.RoleAdmin, identity.RoleSuperAdmin) {
		return
	}
	actorID, _ := identity.UserIDFromContext(r.Context())

	var (
		user *identity.User
		err  error
	)
	if active {
		user, err = a.svc.Activate(r.Context(), actorID, userID)
	} else {
		user, err = a.svc.Deactivate(r.Context(), actorID, userID)
	}
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventActivationChanged, map[string]any{
		"user_id": user.ID,
		"active":  active,
	})
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// allowSelfOrAdmin admits the account owner and management roles.
func (a *API) allowSelfOrAdmin(w http.ResponseWriter, r *http.Request, userID string) bool {
	if actorID, ok := identity.UserIDFromContext(r.Context()); ok && actorID == userID {
		return true
	}
	return a.ensureRole(w, r, identity.RoleAdmin, identity.RoleSuperAdmin)
}
