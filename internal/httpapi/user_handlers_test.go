package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"straxauth.org/internal/identity"
)

func asUser(req *http.Request, userID string, roles ...string) *http.Request {
	ctx := identity.ContextWithUser(req.Context(), userID, roles)
	return req.WithContext(ctx)
}

func doJSON(api *API, method, path string, body string, userID string, roles ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req = asUser(req, userID, roles...)
	}
	rr := httptest.NewRecorder()
	api.mux.ServeHTTP(rr, req)
	return rr
}

func TestProvisionRootUserEndpoint(t *testing.T) {
	store := newFakeStore()
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodPost, "/v1/users/root",
		`{"organisation_name":"Radiology Centre","region":"eu-west","email":"root@example.com","password":"initial-pass"}`,
		"admin-1", "admin")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["id"] != body["organisation_id"] {
		t.Fatalf("root user must share the organisation id: %v", body)
	}
	if !body["is_root_user"].(bool) {
		t.Fatalf("is_root_user not set: %v", body)
	}
	if loc := rr.Header().Get("Location"); !strings.HasPrefix(loc, "/v1/users/") {
		t.Fatalf("Location header: %q", loc)
	}
}

func TestProvisionRootUserRequiresManagementRole(t *testing.T) {
	api := newTestAPI(t, newFakeStore())
	rr := doJSON(api, http.MethodPost, "/v1/users/root",
		`{"organisation_name":"X","email":"root@example.com","password":"initial-pass"}`,
		"u-1", "doctor")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestProvisionMemberUserEndpoint(t *testing.T) {
	store := newFakeStore()
	store.orgs["org-1"] = &identity.Organisation{ID: "org-1", Name: "Centre"}
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodPost, "/v1/organisations/org-1/users",
		`{"email":"doc@example.com","password":"initial-pass","roles":["doctor"]}`,
		"admin-1", "admin")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["organisation_id"] != "org-1" {
		t.Fatalf("unexpected body: %v", body)
	}
	roles, _ := body["roles"].([]any)
	if len(roles) != 1 || roles[0] != "doctor" {
		t.Fatalf("roles: %v", body["roles"])
	}
}

func TestProvisionMemberUserMissingOrgIs404(t *testing.T) {
	api := newTestAPI(t, newFakeStore())
	rr := doJSON(api, http.MethodPost, "/v1/organisations/org-missing/users",
		`{"email":"doc@example.com","password":"initial-pass"}`,
		"admin-1", "admin")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
}

func TestReplaceRolesEndpoint(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "alice@example.com", "correct-horse", "doctor")
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodPut, "/v1/users/u1/roles",
		`{"roles":["admin","annotator"]}`,
		"admin-1", "super_admin")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	got := store.roles["u1"]
	if len(got) != 2 || got[0] != "admin" || got[1] != "annotator" {
		t.Fatalf("roles: %v", got)
	}
}

func TestReplaceRolesUnknownRoleIs400(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "alice@example.com", "correct-horse", "doctor")
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodPut, "/v1/users/u1/roles",
		`{"roles":["wizard"]}`,
		"admin-1", "admin")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rr.Code)
	}
	if got := store.roles["u1"]; len(got) != 1 || got[0] != "doctor" {
		t.Fatalf("role set mutated: %v", got)
	}
}

func TestGetUserSelfAccess(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "alice@example.com", "correct-horse", "doctor")
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodGet, "/v1/users/u1", "", "u1", "doctor")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["email"] != "alice@example.com" {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, ok := body["password_hash"]; ok {
		t.Fatalf("password hash leaked")
	}

	// Another non-admin user is rejected.
	rr = doJSON(api, http.MethodGet, "/v1/users/u1", "", "u2", "doctor")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestChangePasswordSelfOnly(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "alice@example.com", "correct-horse")
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodPost, "/v1/users/u1/password",
		`{"current_password":"correct-horse","new_password":"brand-new-pass"}`,
		"admin-1", "admin")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("admin must not change another user's password: %d", rr.Code)
	}

	rr = doJSON(api, http.MethodPost, "/v1/users/u1/password",
		`{"current_password":"correct-horse","new_password":"brand-new-pass"}`,
		"u1")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if !(plainCredentials{}).Verify(store.users["u1"].PasswordHash, "brand-new-pass") {
		t.Fatalf("password not updated")
	}

	rr = doJSON(api, http.MethodPost, "/v1/users/u1/password",
		`{"current_password":"correct-horse","new_password":"another-pass"}`,
		"u1")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("stale current password must be rejected: %d", rr.Code)
	}
}

func TestUserActivationEndpoints(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "alice@example.com", "correct-horse")
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodPost, "/v1/users/u1/deactivate", "", "admin-1", "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if store.users["u1"].IsActive {
		t.Fatalf("user still active")
	}

	rr = doJSON(api, http.MethodPost, "/v1/users/u1/activate", "", "admin-1", "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if !store.users["u1"].IsActive {
		t.Fatalf("user still inactive")
	}
}

func TestOrganisationCascadeEndpoints(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "a@example.com", "correct-horse")
	seedUser(t, store, "u2", "b@example.com", "correct-horse")
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodPost, "/v1/organisations/org-1/deactivate", "", "admin-1", "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if decodeBody(t, rr)["success"] != true {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if store.users["u1"].IsActive || store.users["u2"].IsActive {
		t.Fatalf("cascade did not deactivate all users")
	}
}

func TestListUsersRequiresManagementRole(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "alice@example.com", "correct-horse")
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodGet, "/v1/users", "", "u1", "doctor")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status %d", rr.Code)
	}

	rr = doJSON(api, http.MethodGet, "/v1/users", "", "admin-1", "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLookupByUsername(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "u1", "alice@example.com", "correct-horse", "doctor")
	api := newTestAPI(t, store)

	rr := doJSON(api, http.MethodGet, "/v1/users?username=alice@example.com", "", "admin-1", "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if decodeBody(t, rr)["id"] != "u1" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}

	rr = doJSON(api, http.MethodGet, "/v1/users?username=nobody@example.com", "", "admin-1", "admin")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d", rr.Code)
	}
}
