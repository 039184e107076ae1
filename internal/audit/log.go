package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"straxauth.org/internal/identity"
	"straxauth.org/internal/obs"
)

// Event names recorded by the identity flows. Keeping them here makes the
// audit trail greppable from one place.
const (
	EventLogin              = "identity.login"
	EventLockout            = "identity.lockout"
	EventRootProvisioned    = "identity.root_user.provisioned"
	EventUserProvisioned    = "identity.user.provisioned"
	EventProfileModified    = "identity.user.profile_modified"
	EventRolesReplaced      = "identity.user.roles_replaced"
	EventActivationChanged  = "identity.user.activation_changed"
	EventOrganisationToggle = "identity.organisation.activation_changed"
	EventPasswordChanged    = "identity.user.password_changed"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the
// authenticated actor taken from context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if actorID, ok := identity.UserIDFromContext(ctx); ok {
		entry["actor_id"] = actorID
		if roles := identity.RolesFromContext(ctx); len(roles) > 0 {
			entry["actor_roles"] = roles
		}
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
