package middleware

import (
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func setupLimitedApp(t *testing.T, limit int) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	app := fiber.New()
	app.Post("/generate", NewRateLimiter(rdb).GenerateLimit(limit), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app, mr
}

func post(t *testing.T, app *fiber.App) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, "/generate", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	app, _ := setupLimitedApp(t, 2)

	for i := 0; i < 2; i++ {
		resp := post(t, app)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}

	resp := post(t, app)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimiter_Headers(t *testing.T) {
	app, mr := setupLimitedApp(t, 5)

	resp := post(t, app)
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("expected 4 remaining, got %q", got)
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("expected limit 5, got %q", got)
	}
	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter, got %v", keys)
	}
	if mr.TTL(keys[0]) <= 0 {
		t.Errorf("expected %s to expire", keys[0])
	}
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	app, mr := setupLimitedApp(t, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		if resp := post(t, app); resp.StatusCode != http.StatusOK {
			t.Fatalf("expected requests through while Redis is down, got %d", resp.StatusCode)
		}
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	app, _ := setupLimitedApp(t, 0)

	for i := 0; i < 3; i++ {
		if resp := post(t, app); resp.StatusCode != http.StatusOK {
			t.Fatalf("expected unlimited requests, got %d", resp.StatusCode)
		}
	}
}
