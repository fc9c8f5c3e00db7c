package cache

import (
	"context"
	"testing"
	"time"

	"attest/api/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupCache(t *testing.T, ttl time.Duration) (*TemplateCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewWithClient(client, ttl), s
}

func publishedTemplate(org, name, language string, version int) store.FormTemplate {
	return store.FormTemplate{
		ID:             "tpl-" + name + "-" + language,
		OrganizationID: org,
		Name:           name,
		Status:         store.TemplatePublished,
		Version:        version,
		Language:       language,
	}
}

func TestSetAndGetPublished(t *testing.T) {
	c, s := setupCache(t, time.Minute)
	defer c.Close()
	defer s.Close()
	ctx := context.Background()

	tpl := publishedTemplate("org-1", "Gift Policy", "en", 2)
	if err := c.SetPublished(ctx, "en", tpl); err != nil {
		t.Fatalf("SetPublished failed: %v", err)
	}

	got, ok, err := c.GetPublished(ctx, "org-1", "Gift Policy", "en")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.ID != tpl.ID || got.Version != 2 {
		t.Errorf("cached template mismatch: %+v", got)
	}
}

func TestGetPublishedMiss(t *testing.T) {
	c, s := setupCache(t, time.Minute)
	defer c.Close()
	defer s.Close()

	_, ok, err := c.GetPublished(context.Background(), "org-1", "Unknown", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestEntriesExpire(t *testing.T) {
	c, s := setupCache(t, 5*time.Minute)
	defer c.Close()
	defer s.Close()
	ctx := context.Background()

	if err := c.SetPublished(ctx, "", publishedTemplate("org-1", "COI", "en", 1)); err != nil {
		t.Fatalf("SetPublished failed: %v", err)
	}

	s.FastForward(5*time.Minute + time.Second)

	_, ok, err := c.GetPublished(ctx, "org-1", "COI", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("entry should have expired")
	}
}

func TestInvalidateDropsAllLanguages(t *testing.T) {
	c, s := setupCache(t, time.Minute)
	defer c.Close()
	defer s.Close()
	ctx := context.Background()

	if err := c.SetPublished(ctx, "en", publishedTemplate("org-1", "Gift Policy", "en", 1)); err != nil {
		t.Fatalf("SetPublished en failed: %v", err)
	}
	if err := c.SetPublished(ctx, "de", publishedTemplate("org-1", "Gift Policy", "de", 1)); err != nil {
		t.Fatalf("SetPublished de failed: %v", err)
	}

	if err := c.Invalidate(ctx, "org-1", "Gift Policy"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	for _, lang := range []string{"en", "de"} {
		if _, ok, _ := c.GetPublished(ctx, "org-1", "Gift Policy", lang); ok {
			t.Errorf("expected %s variant to be dropped", lang)
		}
	}
}

func TestTenantsDoNotShareEntries(t *testing.T) {
	c, s := setupCache(t, time.Minute)
	defer c.Close()
	defer s.Close()
	ctx := context.Background()

	if err := c.SetPublished(ctx, "en", publishedTemplate("org-1", "Gift Policy", "en", 3)); err != nil {
		t.Fatalf("SetPublished failed: %v", err)
	}

	if _, ok, _ := c.GetPublished(ctx, "org-2", "Gift Policy", "en"); ok {
		t.Error("org-2 must not see org-1's cache entry")
	}
}
