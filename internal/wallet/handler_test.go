package wallet

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func setupHandlerApp(t *testing.T, ownerIDs ...string) (*fiber.App, *serviceFixture) {
	t.Helper()
	f := newFixture(t, ownerIDs...)
	h := NewHandler(f.service)

	// Immutable keeps header and param strings valid across requests; without
	// it the fasthttp buffer reuse corrupts keys stored by the in-memory repo.
	app := fiber.New(fiber.Config{Immutable: true})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User"))
		return c.Next()
	})
	app.Get("/wallet/balance", h.Balance)
	app.Post("/wallet/deposit", h.Deposit)
	app.Post("/wallet/withdraw", h.Withdraw)
	app.Post("/wallet/transfer", h.Transfer)
	app.Post("/admin/wallets/:ownerId/freeze", h.Freeze)
	return app, f
}

func doJSON(t *testing.T, app *fiber.App, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &decoded)
	}
	return resp.StatusCode, decoded
}

func TestDepositEndpoint(t *testing.T) {
	app, _ := setupHandlerApp(t, "alice")

	status, body := doJSON(t, app, fiber.MethodPost, "/wallet/deposit", "alice", `{"amount":100,"method":"card"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", status, body)
	}
	if body["type"] != "deposit" || body["balance_after"] != float64(100) {
		t.Fatalf("unexpected response: %v", body)
	}

	status, body = doJSON(t, app, fiber.MethodGet, "/wallet/balance", "alice", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["balance"] != float64(100) || body["degraded"] != false {
		t.Fatalf("unexpected balance response: %v", body)
	}
}

func TestDepositValidation(t *testing.T) {
	app, _ := setupHandlerApp(t, "alice")

	status, _ := doJSON(t, app, fiber.MethodPost, "/wallet/deposit", "alice", `{"amount":-5,"method":"card"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("negative amount: expected 400, got %d", status)
	}
	status, _ = doJSON(t, app, fiber.MethodPost, "/wallet/deposit", "alice", `{"amount":100}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("missing method: expected 400, got %d", status)
	}
	status, _ = doJSON(t, app, fiber.MethodPost, "/wallet/deposit", "", `{"amount":100,"method":"card"}`)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("missing caller: expected 401, got %d", status)
	}
}

func TestWithdrawRejectionsMapToForbidden(t *testing.T) {
	app, _ := setupHandlerApp(t, "alice")

	if status, _ := doJSON(t, app, fiber.MethodPost, "/wallet/deposit", "alice", `{"amount":5000,"method":"card"}`); status != fiber.StatusCreated {
		t.Fatalf("deposit failed: %d", status)
	}

	// Over the daily cap configured in the fixture.
	status, _ := doJSON(t, app, fiber.MethodPost, "/wallet/withdraw", "alice", `{"amount":1500,"method":"bank"}`)
	if status != fiber.StatusForbidden {
		t.Fatalf("limit exceeded: expected 403, got %d", status)
	}
}

func TestTransferEndpointReturnsBothLegs(t *testing.T) {
	app, _ := setupHandlerApp(t, "alice", "bob")

	if status, _ := doJSON(t, app, fiber.MethodPost, "/wallet/deposit", "alice", `{"amount":200,"method":"card"}`); status != fiber.StatusCreated {
		t.Fatalf("deposit failed: %d", status)
	}

	status, body := doJSON(t, app, fiber.MethodPost, "/wallet/transfer", "alice", `{"to_owner_id":"bob","amount":80}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", status, body)
	}
	out, _ := body["out"].(map[string]any)
	in, _ := body["in"].(map[string]any)
	if out["type"] != "transfer_out" || in["type"] != "transfer_in" {
		t.Fatalf("unexpected legs: %v", body)
	}
	if out["ledger_ref"] == "" || out["ledger_ref"] != in["ledger_ref"] {
		t.Fatalf("legs must share a ledger ref: %v", body)
	}
}

func TestFreezeEndpointBlocksSubsequentDebits(t *testing.T) {
	app, _ := setupHandlerApp(t, "alice")

	if status, _ := doJSON(t, app, fiber.MethodPost, "/wallet/deposit", "alice", `{"amount":100,"method":"card"}`); status != fiber.StatusCreated {
		t.Fatalf("deposit failed: %d", status)
	}
	if status, _ := doJSON(t, app, fiber.MethodPost, "/admin/wallets/alice/freeze", "admin-1", `{"reason":"review"}`); status != fiber.StatusNoContent {
		t.Fatalf("freeze: expected 204, got %d", status)
	}
	if status, _ := doJSON(t, app, fiber.MethodPost, "/wallet/withdraw", "alice", `{"amount":10,"method":"bank"}`); status != fiber.StatusForbidden {
		t.Fatalf("withdraw after freeze: expected 403, got %d", status)
	}
}
