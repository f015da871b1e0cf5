package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lalune/backend/internal/domain"
	"lalune/backend/internal/service"
	"lalune/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, decimal.Zero, service.BankAccount{Bank: "VCB", AccountNumber: "1234567890"})
	auth := NewAuthManager(testSecret, time.Hour, repo)
	return New(svc, auth, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch returned %d", rec.Code)
	}
	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return resp.CSRFToken
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s returned %d: %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func createOrderViaAPI(t *testing.T, handler http.Handler, token, csrf string) domain.Order {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, csrf, domain.OrderCreateRequest{
		ReservationID: "res-1001",
		Items: []domain.OrderLineRequest{
			{MenuItemID: "dish-pho-bo", Quantity: 2},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Order domain.Order `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	return resp.Order
}

func TestHealthz(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
}

func TestOrdersRequireBearerToken(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/orders?reservation_id=res-1001", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401 without a token", rec.Code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "staff123")
	csrf := fetchCSRFToken(t, handler)

	order := createOrderViaAPI(t, handler, token, csrf)
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("created order status = %q, want pending", order.Status)
	}

	rec := doJSON(t, handler, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/status", order.ID), token, csrf, domain.OrderStatusRequest{Status: domain.OrderStatusConfirmed})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm order returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/status", order.ID), token, csrf, domain.OrderStatusRequest{Status: domain.OrderStatusPending})
	if rec.Code != http.StatusConflict {
		t.Fatalf("illegal transition returned %d, want 409", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order returned %d", rec.Code)
	}
}

func TestCreateOrderRejectsUnknownJSONField(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "staff123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, csrf, map[string]any{
		"reservation_id": "res-1001",
		"items":          []map[string]any{{"menu_item_id": "dish-pho-bo", "quantity": 1}},
		"surprise":       true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400 for unknown field", rec.Code)
	}
}

func TestBankingPaymentWebhookFlow(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "staff123")
	csrf := fetchCSRFToken(t, handler)

	order := createOrderViaAPI(t, handler, token, csrf)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/payments", token, csrf, domain.PaymentCreateRequest{
		OrderID: order.ID,
		Method:  domain.PaymentMethodBanking,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create payment returned %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Payment domain.Payment `json:"payment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode payment: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/payments/"+created.Payment.ID+"/qr", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("payment qr returned %d: %s", rec.Code, rec.Body.String())
	}

	// The gateway posts without auth or CSRF token. A mismatched amount must
	// not settle anything.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payments/webhook", "", "", domain.WebhookRequest{
		Code:           created.Payment.Code,
		TransferAmount: created.Payment.AmountPaid.Sub(decimal.NewFromInt(1)),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("mismatched webhook returned %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payments/webhook", "", "", domain.WebhookRequest{
		Code:           created.Payment.Code,
		TransferAmount: created.Payment.AmountPaid,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook returned %d: %s", rec.Code, rec.Body.String())
	}
	var settled struct {
		Payment domain.Payment `json:"payment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &settled); err != nil {
		t.Fatalf("decode webhook response: %v", err)
	}
	if settled.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("payment status = %q, want paid", settled.Payment.Status)
	}

	// Gateway retry of the same confirmation stays a no-op.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payments/webhook", "", "", domain.WebhookRequest{
		Code:           created.Payment.Code,
		TransferAmount: created.Payment.AmountPaid,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate webhook returned %d, want 200", rec.Code)
	}
}

func TestWebhookValidatesPayload(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/payments/webhook", "", "", domain.WebhookRequest{
		Code:           "",
		TransferAmount: decimal.NewFromInt(1000),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank code returned %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payments/webhook", "", "", domain.WebhookRequest{
		Code:           "LL0000001",
		TransferAmount: decimal.Zero,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero amount returned %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payments/webhook", "", "", domain.WebhookRequest{
		Code:           "LL9999999",
		TransferAmount: decimal.NewFromInt(1000),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown code returned %d, want 404", rec.Code)
	}
}

func TestRegisterShiftOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "staff123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/registers/open", token, csrf, domain.RegisterOpenRequest{
		InitialAmount: decimal.NewFromInt(50000),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open register returned %d: %s", rec.Code, rec.Body.String())
	}
	var opened struct {
		Register domain.CashRegister `json:"register"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode register: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/registers/current", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("current register returned %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/registers/withdraw", token, csrf, domain.WithdrawRequest{
		Amount: decimal.NewFromInt(60000),
		Notes:  "too much",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overdraft returned %d, want 422", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/registers/"+opened.Register.ID+"/history?limit=10", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("register history returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/registers/"+opened.Register.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("register detail returned %d: %s", rec.Code, rec.Body.String())
	}
	var detail struct {
		Register      domain.CashRegister `json:"register"`
		LedgerBalance decimal.Decimal     `json:"ledger_balance"`
		Balanced      bool                `json:"balanced"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode register detail: %v", err)
	}
	if !detail.Balanced || !detail.LedgerBalance.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("ledger balance = %s balanced=%v, want 50000 and agreement", detail.LedgerBalance, detail.Balanced)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/registers/close", token, csrf, domain.RegisterCloseRequest{
		FinalAmount: decimal.NewFromInt(50000),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("close register returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStaffEndpointsRequireManagerRole(t *testing.T) {
	handler := newTestAPI(t)
	staffToken := loginAs(t, handler, "staff", "staff123")
	managerToken := loginAs(t, handler, "manager", "manager123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/staff", staffToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff listing as staff returned %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users/staff", managerToken, csrf, domain.StaffCreateRequest{
		Username: "newhire",
		Password: "newhire123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create staff returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/staff", managerToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff listing as manager returned %d", rec.Code)
	}
}
