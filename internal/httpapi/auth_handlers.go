package httpapi

import (
	"net/http"
	"strings"
	"time"

	"straxauth.org/internal/audit"
	"straxauth.org/internal/identity"
)

const tokenTTL = 15 * time.Minute

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token             string        `json:"token"`
	ExpiresAt         time.Time     `json:"expires_at"`
	PasswordTemporary bool          `json:"password_temporary"`
	User              *userResponse `json:"user"`
}

type lockoutResponse struct {
	Status            string `json:"status"`
	Message           string `json:"message,omitempty"`
	RemainingAttempts int    `json:"remaining_attempts,omitempty"`
	RemainingMinutes  int    `json:"remaining_minutes,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	outcome, user := a.svc.Authenticate(r.Context(), req.Email, req.Password)
	if outcome.Kind != identity.Admit {
		_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
			"email":   strings.ToLower(strings.TrimSpace(req.Email)),
			"outcome": outcome.Kind.String(),
		})
		writeLoginRejection(w, r, outcome)
		return
	}

	// Role claims come from the catalog assignments, not the login row.
	enriched, err := a.svc.Get(r.Context(), user.ID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	token, err := identity.GenerateToken(enriched.ID, enriched.Roles, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{
		"user_id": enriched.ID,
		"outcome": outcome.Kind.String(),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:             token,
		ExpiresAt:         time.Now().UTC().Add(tokenTTL),
		PasswordTemporary: enriched.IsPasswordTemporary,
		User:              toUserResponse(enriched),
	})
}

func writeLoginRejection(w http.ResponseWriter, r *http.Request, outcome identity.LoginOutcome) {
	body := lockoutResponse{
		Status:            outcome.Kind.String(),
		Message:           outcome.Message,
		RemainingAttempts: outcome.RemainingAttempts,
		RemainingMinutes:  outcome.RemainingMinutes,
	}
	switch outcome.Kind {
	case identity.LockedOut:
		writeJSON(w, http.StatusLocked, body)
	case identity.Deactivated:
		writeJSON(w, http.StatusForbidden, body)
	case identity.StorageFailure:
		writeError(w, r, http.StatusServiceUnavailable, "login temporarily unavailable")
	default:
		writeJSON(w, http.StatusUnauthorized, body)
	}
}

// handleLockoutStatus reports the lockout state without spending an attempt.
// Deliberately non-mutating: dashboards poll it.
func (a *API) handleLockoutStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	outcome := a.svc.LockoutStatus(r.Context(), email)
	if outcome.Kind == identity.StorageFailure {
		writeError(w, r, http.StatusServiceUnavailable, "lockout status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, lockoutResponse{
		Status:            outcome.Kind.String(),
		Message:           outcome.Message,
		RemainingAttempts: outcome.RemainingAttempts,
		RemainingMinutes:  outcome.RemainingMinutes,
	})
}
