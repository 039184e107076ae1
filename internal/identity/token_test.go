package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func setTestSecret(t *testing.T) {
	t.Helper()
	t.Setenv("STRAX_AUTH_SECRET", "test-secret-value")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndParseToken(t *testing.T) {
	setTestSecret(t)

	token, err := GenerateToken("user-1", []string{"Admin", "admin", "doctor"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject %q, want user-1", claims.Subject)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "admin" || claims.Roles[1] != "doctor" {
		t.Fatalf("roles not deduplicated: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatalf("token id missing")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	setTestSecret(t)

	if _, err := GenerateToken("", nil, time.Hour); err == nil {
		t.Fatalf("expected error for empty user id")
	}
	if _, err := GenerateToken("user-1", nil, 0); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
}

func TestGenerateTokenMissingSecret(t *testing.T) {
	t.Setenv("STRAX_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-1", nil, time.Hour); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected missing-secret error, got %v", err)
	}
}

func TestParseAndValidateRejectsGarbage(t *testing.T) {
	setTestSecret(t)

	for _, token := range []string{"", "   ", "not.a.jwt"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ParseAndValidate(%q): expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestParseAndValidateRejectsExpired(t *testing.T) {
	setTestSecret(t)

	token, err := GenerateToken("user-1", nil, time.Millisecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseAndValidateRejectsWrongSecret(t *testing.T) {
	setTestSecret(t)
	token, err := GenerateToken("user-1", nil, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	t.Setenv("STRAX_AUTH_SECRET", "a-different-secret")
	ResetSecretForTests()
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithUser(context.Background(), " user-1 ", []string{"Admin", "doctor", "admin"})

	userID, ok := UserIDFromContext(ctx)
	if !ok || userID != "user-1" {
		t.Fatalf("UserIDFromContext: %q ok=%v", userID, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 || roles[0] != "admin" || roles[1] != "doctor" {
		t.Fatalf("unexpected roles: %v", roles)
	}
	if !HasRole(ctx, "ADMIN") || HasRole(ctx, "centre") || HasRole(ctx, "") {
		t.Fatalf("HasRole mismatch")
	}

	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatalf("empty context must not yield a user")
	}
	if RolesFromContext(context.Background()) != nil {
		t.Fatalf("empty context must not yield roles")
	}
}
