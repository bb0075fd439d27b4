package session

import (
	"sync"
	"testing"
	"time"
)

func TestIssueThenValidate(t *testing.T) {
	store := New(24 * time.Hour)

	token, err := store.Issue()
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}
	if !store.Validate(token) {
		t.Fatalf("freshly issued token should validate")
	}
}

func TestValidateFailsClosed(t *testing.T) {
	store := New(24 * time.Hour)

	if store.Validate("") {
		t.Fatalf("empty token must not validate")
	}
	if store.Validate("deadbeef") {
		t.Fatalf("unknown token must not validate")
	}
}

func TestExpiredTokenEvictedWithoutResurrection(t *testing.T) {
	store := New(24 * time.Hour)
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	token, err := store.Issue()
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	now = now.Add(24*time.Hour + time.Second)
	if store.Validate(token) {
		t.Fatalf("token past TTL must not validate")
	}
	if store.Len() != 0 {
		t.Fatalf("expired entry should be evicted, have %d", store.Len())
	}

	// A second check after eviction must also fail.
	if store.Validate(token) {
		t.Fatalf("evicted token must stay invalid")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	store := New(24 * time.Hour)

	token, err := store.Issue()
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	store.Revoke(token)
	if store.Validate(token) {
		t.Fatalf("revoked token must not validate")
	}
	store.Revoke(token)
	store.Revoke("never-issued")
}

func TestTokensAreUnique(t *testing.T) {
	store := New(time.Hour)
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		token, err := store.Issue()
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token issued")
		}
		seen[token] = struct{}{}
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := New(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				token, err := store.Issue()
				if err != nil {
					t.Errorf("issue failed: %v", err)
					return
				}
				if !store.Validate(token) {
					t.Errorf("token should validate")
					return
				}
				store.Revoke(token)
			}
		}()
	}
	wg.Wait()

	if store.Len() != 0 {
		t.Fatalf("all tokens revoked, store should be empty")
	}
}
