package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"attest/api/internal/store"
	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	redisStore, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return redisStore, s
}

func officer(id, org string) store.User {
	return store.User{ID: id, OrganizationID: org, DisplayName: "Officer", Role: "COMPLIANCE_OFFICER"}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := redisStore.SaveRefreshSession(ctx, "hash-1", officer("user-123", "org-1"), expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	user, err := redisStore.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "user-123" {
		t.Errorf("expected user-123, got %s", user.ID)
	}
	if user.OrganizationID != "org-1" {
		t.Errorf("expected org-1, got %s", user.OrganizationID)
	}
	if user.Role != "COMPLIANCE_OFFICER" {
		t.Errorf("expected COMPLIANCE_OFFICER, got %s", user.Role)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(1 * time.Millisecond)
	if err := redisStore.SaveRefreshSession(ctx, "expiring", officer("user-456", "org-1"), expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := redisStore.LookupRefreshSession(ctx, "expiring"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	if _, err := redisStore.LookupRefreshSession(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)
	if err := redisStore.SaveRefreshSession(ctx, "revoke-me", officer("user-789", "org-2"), expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	if err := redisStore.RevokeRefreshSession(ctx, "revoke-me"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := redisStore.LookupRefreshSession(ctx, "revoke-me"); err == nil {
		t.Error("expected error for revoked token, got nil")
	}

	// Revoking an unknown token is a no-op.
	if err := redisStore.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Errorf("revoke of unknown token failed: %v", err)
	}
}

func TestRoleNormalizedOnLookup(t *testing.T) {
	redisStore, s := setupTestRedis(t)
	defer redisStore.Close()
	defer s.Close()

	ctx := context.Background()
	user := store.User{ID: "user-1", OrganizationID: "org-1", Role: ""}
	if err := redisStore.SaveRefreshSession(ctx, "blank-role", user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	got, err := redisStore.LookupRefreshSession(ctx, "blank-role")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.Role != "EMPLOYEE" {
		t.Errorf("expected blank role to normalize to EMPLOYEE, got %q", got.Role)
	}
}
