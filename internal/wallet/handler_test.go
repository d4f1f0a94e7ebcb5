package wallet

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/helia-care/walletd/internal/ledger"
	"github.com/helia-care/walletd/internal/logging"
)

func newHandlerApp(t *testing.T) *fiber.App {
	t.Helper()
	engine := ledger.NewEngine(ledger.NewMemoryStore(), logging.Discard())
	h := NewHandler(engine, nil)

	app := fiber.New()
	app.Get("/balance/:userId", h.Balance)
	app.Post("/deposit", h.Deposit)
	app.Post("/withdraw", h.Withdraw)
	app.Post("/transfer", h.Transfer)
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return resp.StatusCode, decoded
}

func errKind(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", body)
	}
	kind, _ := errObj["kind"].(string)
	return kind
}

func TestOperationRequiresUserID(t *testing.T) {
	app := newHandlerApp(t)

	status, body := post(t, app, "/deposit", `{"amount":"5"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if kind := errKind(t, body); kind != "bad_request" {
		t.Fatalf("kind = %s, want bad_request", kind)
	}
}

func TestOperationRejectsMalformedBody(t *testing.T) {
	app := newHandlerApp(t)

	status, body := post(t, app, "/withdraw", `{"amount":`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if kind := errKind(t, body); kind != "bad_request" {
		t.Fatalf("kind = %s, want bad_request", kind)
	}
}

func TestDepositMapsDomainErrors(t *testing.T) {
	app := newHandlerApp(t)

	status, body := post(t, app, "/deposit", `{"userId":"alice","amount":"-1"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if kind := errKind(t, body); kind != "invalid_amount" {
		t.Fatalf("kind = %s, want invalid_amount", kind)
	}
}

func TestTransferRequiresBothAccounts(t *testing.T) {
	app := newHandlerApp(t)

	status, body := post(t, app, "/transfer", `{"fromUserId":"alice","amount":"5"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if kind := errKind(t, body); kind != "bad_request" {
		t.Fatalf("kind = %s, want bad_request", kind)
	}
}
