package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"shelfmaster/pos/internal/auth"
	"shelfmaster/pos/internal/cache"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/store/mirror"
	"shelfmaster/pos/internal/store/remote"
)

// newTestAPI builds the API over a mirror-backed catalog and a real token
// issuer so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	seed := mirror.DefaultSeed()
	seed.Users = func(*zap.Logger) []domain.User {
		return []domain.User{
			{ID: "1", Name: "Admin User", Username: "admin", Role: domain.RoleAdmin, PINHash: mustHashPIN(t, "1234")},
			{ID: "2", Name: "John Cashier", Username: "john", Role: domain.RoleCashier, PINHash: mustHashPIN(t, "0000")},
		}
	}
	catalog := mirror.New(cache.NewMemoryKV(), seed, zap.NewNop())
	return New(catalog, auth.NewTokenIssuer("test-secret-key", time.Hour), "*", zap.NewNop())
}

// mustHashPIN generates a bcrypt hash of the given PIN or fails the test.
func mustHashPIN(t *testing.T, pin string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func login(t *testing.T, api *API, username string, pin string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": username, "pin": pin})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResult
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.SessionToken) == "" {
		t.Fatalf("expected session token in login response")
	}
	return payload.SessionToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	return login(t, api, "admin", "1234")
}

func doJSON(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "pin": "1234"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if strings.Contains(res.Body.String(), "pin_hash") {
		t.Fatalf("login response must not carry the PIN hash: %s", res.Body.String())
	}
	if res.Header().Get("X-Session-Expires-At") == "" {
		t.Fatalf("expected session expiry header")
	}
}

func TestHandleLogin_WrongPIN(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "pin": "9999"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "auth_failure" {
		t.Fatalf("expected auth_failure code, got %q", body["code"])
	}
}

func TestRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	if res := doJSON(t, api, http.MethodGet, "/api/v1/products", "", nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodGet, "/api/v1/products", "not-a-token", nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", res.Code)
	}

	cashier := login(t, api, "john", "0000")
	if res := doJSON(t, api, http.MethodGet, "/api/v1/products", cashier, nil); res.Code != http.StatusOK {
		t.Fatalf("expected 200 for cashier product list, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodGet, "/api/v1/users", cashier, nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier user list, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodDelete, "/api/v1/products/101", cashier, nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier product delete, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodPut, "/api/v1/settings", cashier, domain.Settings{StoreName: "x"}); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier settings update, got %d", res.Code)
	}
}

func TestStockAdjustment(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "john", "0000")

	res := doJSON(t, api, http.MethodPost, "/api/v1/products/101/stock-adjustments", token, map[string]int{"delta": -4})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Product.Quantity != 96 {
		t.Fatalf("expected 96 left, got %d", body.Product.Quantity)
	}

	for i := 0; i < 2; i++ {
		res := doJSON(t, api, http.MethodPost, "/api/v1/products/101/stock-adjustments", token, map[string]any{"delta": -6, "key": "tx-1#0"})
		if res.Code != http.StatusOK {
			t.Fatalf("keyed adjustment %d: expected 200, got %d", i, res.Code)
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Product.Quantity != 90 {
			t.Fatalf("keyed adjustment %d: expected 90 left, got %d", i, body.Product.Quantity)
		}
	}

	if res := doJSON(t, api, http.MethodPost, "/api/v1/products/101/stock-adjustments", token, map[string]int{"delta": 0}); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero delta, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodPost, "/api/v1/products/nope/stock-adjustments", token, map[string]int{"delta": 1}); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", res.Code)
	}
}

func TestUserAdministration(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	plain := domain.User{Name: "Mia", Username: "mia", Role: domain.RoleCashier, PINHash: "4821"}
	if res := doJSON(t, api, http.MethodPost, "/api/v1/users", token, plain); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for plaintext pin, got %d", res.Code)
	}

	plain.PINHash = mustHashPIN(t, "4821")
	res := doJSON(t, api, http.MethodPost, "/api/v1/users", token, plain)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if strings.Contains(res.Body.String(), "pin_hash") {
		t.Fatalf("created user must come back without hash")
	}

	if res := doJSON(t, api, http.MethodPut, "/api/v1/users/2/suspension", token, map[string]bool{"suspended": true}); res.Code != http.StatusOK {
		t.Fatalf("expected 200 for suspension, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "john", "pin": "0000"}); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected suspended login to fail with 401, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodDelete, "/api/v1/users/1", token, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 deleting own account, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodDelete, "/api/v1/users/2", token, nil); res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 deleting user, got %d", res.Code)
	}
}

// TestRemoteClientContract runs the terminal's HTTP client against the real
// handlers so both sides agree on routes, payloads and error codes.
func TestRemoteClientContract(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	client := remote.New(srv.URL, 2*time.Second)
	ctx := context.Background()

	if _, err := client.Login(ctx, "admin", "0000"); !errors.Is(err, domain.ErrAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if _, err := client.Login(ctx, "admin", "1234"); err != nil {
		t.Fatalf("login: %v", err)
	}

	products, err := client.ListProducts(ctx)
	if err != nil || len(products) != 4 {
		t.Fatalf("list products: %d %v", len(products), err)
	}
	if _, err := client.GetProduct(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	shift, err := client.CreateShift(ctx, domain.Shift{UserID: "1", UserName: "Admin User", StartTime: time.Now().UTC(), StartCash: decimal.NewFromInt(5000), ExpectedCash: decimal.NewFromInt(5000)})
	if err != nil {
		t.Fatalf("create shift: %v", err)
	}
	if _, err := client.CreateShift(ctx, domain.Shift{UserID: "1", StartTime: time.Now().UTC()}); !errors.Is(err, domain.ErrDuplicateActiveShift) {
		t.Fatalf("expected duplicate active shift, got %v", err)
	}

	end := time.Now().UTC()
	counted := decimal.NewFromInt(5000)
	if _, err := client.UpdateShift(ctx, shift.ID, domain.ShiftPatch{EndTime: &end, EndCash: &counted}); err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if _, err := client.UpdateShift(ctx, shift.ID, domain.ShiftPatch{EndTime: &end}); !errors.Is(err, domain.ErrStaleShiftClose) {
		t.Fatalf("expected stale close, got %v", err)
	}

	tx := domain.Transaction{ID: "tx-contract", CreatedAt: time.Now().UTC(), Items: []domain.TransactionLine{{ProductID: "101", Quantity: 2}}, Total: decimal.NewFromInt(1000)}
	if _, err := client.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	txs, err := client.ListTransactions(ctx)
	if err != nil || len(txs) != 1 || txs[0].ID != "tx-contract" {
		t.Fatalf("list transactions: %+v %v", txs, err)
	}

	if err := client.AppendAuditEntry(ctx, domain.AuditEntry{ID: "a1", At: time.Now().UTC(), Action: domain.AuditLogin, Severity: domain.SeverityLow}); err != nil {
		t.Fatalf("append audit: %v", err)
	}
	entries, err := client.ListAuditEntries(ctx)
	if err != nil || len(entries) != 1 || entries[0].UserID != "1" {
		t.Fatalf("list audit: %+v %v", entries, err)
	}

	users, err := client.ListUsers(ctx)
	if err != nil || len(users) != 2 || users[0].PINHash == "" {
		t.Fatalf("admin user listing must carry hashes for offline login: %+v %v", users, err)
	}
}
