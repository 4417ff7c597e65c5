package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ubangi-pay/ubangi_switch/internal/logging"
)

// webhookApp mounts the middleware in front of a handler that counts its
// invocations, so tests can tell replays from re-executions.
func webhookApp(t *testing.T, handler fiber.Handler) (*fiber.App, *int) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	calls := 0
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/accounts/peer-a/settlements", func(c *fiber.Ctx) error {
		calls++
		return handler(c)
	})
	return app, &calls
}

func postSettlement(t *testing.T, app *fiber.App, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/accounts/peer-a/settlements", strings.NewReader(`{"scale":2,"amount":"100"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _ := webhookApp(t, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	status, _ := postSettlement(t, app, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReplaysSuccessWithoutReexecuting(t *testing.T) {
	app, calls := webhookApp(t, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"clearing_balance": "0", "prepaid_amount": "100"})
	})

	firstStatus, firstBody := postSettlement(t, app, "settle-1")
	if firstStatus != fiber.StatusOK {
		t.Fatalf("first delivery status %d", firstStatus)
	}
	replayStatus, replayBody := postSettlement(t, app, "settle-1")
	if replayStatus != fiber.StatusOK {
		t.Fatalf("replay status %d", replayStatus)
	}
	if replayBody != firstBody {
		t.Fatalf("replay body %q differs from original %q", replayBody, firstBody)
	}
	if *calls != 1 {
		t.Fatalf("handler ran %d times, want 1", *calls)
	}
}

func TestIdempotencyDistinctKeysExecuteSeparately(t *testing.T) {
	app, calls := webhookApp(t, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	postSettlement(t, app, "settle-1")
	postSettlement(t, app, "settle-2")
	if *calls != 2 {
		t.Fatalf("handler ran %d times, want 2", *calls)
	}
}

func TestIdempotencyDoesNotRecordFailures(t *testing.T) {
	fail := true
	app, calls := webhookApp(t, func(c *fiber.Ctx) error {
		if fail {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	status, _ := postSettlement(t, app, "settle-1")
	if status != fiber.StatusInternalServerError {
		t.Fatalf("first delivery status %d", status)
	}

	fail = false
	status, _ = postSettlement(t, app, "settle-1")
	if status != fiber.StatusOK {
		t.Fatalf("retry after failure status %d, want 200", status)
	}
	if *calls != 2 {
		t.Fatalf("handler ran %d times, want 2", *calls)
	}
}
