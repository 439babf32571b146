package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store"
)

// Client talks to the Catalog/Ledger service over HTTP/JSON. Transport
// failures and 5xx responses surface as store.ErrUnavailable, 401 responses
// as store.ErrSessionRejected, and other 4xx responses map back to the
// sentinel named by the error code in the body.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token sent with every call after login.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

const loginPath = "/api/v1/auth/login"

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: no remote service configured", store.ErrUnavailable)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", store.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode %s %s: %v", store.ErrUnavailable, method, path, err)
		}
		return nil
	}

	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb)
	return statusError(path, resp.StatusCode, eb)
}

func statusError(path string, status int, eb errorBody) error {
	msg := strings.TrimSpace(eb.Error)
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: remote status %d: %s", store.ErrUnavailable, status, msg)
	}
	if status == http.StatusUnauthorized {
		sentinel := store.ErrorForCode(eb.Code)
		if sentinel == nil {
			sentinel = domain.ErrAuthFailure
		}
		if path == loginPath {
			return fmt.Errorf("%w: %s", sentinel, msg)
		}
		return fmt.Errorf("%w: %w: %s", sentinel, store.ErrSessionRejected, msg)
	}
	if sentinel := store.ErrorForCode(eb.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	switch status {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", store.ErrNotFound, msg)
	default:
		return fmt.Errorf("%w: %s", store.ErrInvalidRecord, msg)
	}
}

func escape(id string) string {
	return url.PathEscape(id)
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var out struct {
		Products []domain.Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", nil, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

func (c *Client) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var out struct {
		Product domain.Product `json:"product"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/products/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Product, nil
}

func (c *Client) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var out struct {
		Product domain.Product `json:"product"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/products", product, &out); err != nil {
		return nil, err
	}
	return &out.Product, nil
}

func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/products/"+escape(id), nil, nil)
}

type stockAdjustment struct {
	Delta int    `json:"delta"`
	Key   string `json:"key,omitempty"`
}

func (c *Client) AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	var out struct {
		Product domain.Product `json:"product"`
	}
	body := stockAdjustment{Delta: delta, Key: store.AdjustmentKey(ctx)}
	if err := c.do(ctx, http.MethodPost, "/api/v1/products/"+escape(productID)+"/stock-adjustments", body, &out); err != nil {
		return nil, err
	}
	return &out.Product, nil
}

func (c *Client) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	var out struct {
		Transactions []domain.Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions", nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

func (c *Client) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	var out struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", tx, &out); err != nil {
		return nil, err
	}
	return &out.Transaction, nil
}

func (c *Client) ListShifts(ctx context.Context) ([]domain.Shift, error) {
	var out struct {
		Shifts []domain.Shift `json:"shifts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/shifts", nil, &out); err != nil {
		return nil, err
	}
	return out.Shifts, nil
}

func (c *Client) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	var out struct {
		Shift domain.Shift `json:"shift"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/shifts", shift, &out); err != nil {
		return nil, err
	}
	return &out.Shift, nil
}

func (c *Client) UpdateShift(ctx context.Context, id string, patch domain.ShiftPatch) (*domain.Shift, error) {
	var out struct {
		Shift domain.Shift `json:"shift"`
	}
	if err := c.do(ctx, http.MethodPatch, "/api/v1/shifts/"+escape(id), patch, &out); err != nil {
		return nil, err
	}
	return &out.Shift, nil
}

func (c *Client) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	var out struct {
		Customers []domain.Customer `json:"customers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/customers", nil, &out); err != nil {
		return nil, err
	}
	return out.Customers, nil
}

func (c *Client) UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	var out struct {
		Customer domain.Customer `json:"customer"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/customers", customer, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var out struct {
		Users []domain.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) UpsertUser(ctx context.Context, user domain.User) (*domain.User, error) {
	var out struct {
		User domain.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/users", user, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/users/"+escape(id), nil, nil)
}

func (c *Client) SetUserSuspended(ctx context.Context, id string, suspended bool) (*domain.User, error) {
	var out struct {
		User domain.User `json:"user"`
	}
	body := map[string]bool{"suspended": suspended}
	if err := c.do(ctx, http.MethodPut, "/api/v1/users/"+escape(id)+"/suspension", body, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Login authenticates and keeps the returned session token for later calls.
func (c *Client) Login(ctx context.Context, username string, pin string) (*domain.LoginResult, error) {
	var out domain.LoginResult
	body := map[string]string{"username": username, "pin": pin}
	if err := c.do(ctx, http.MethodPost, loginPath, body, &out); err != nil {
		if errors.Is(err, store.ErrInvalidRecord) {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthFailure, err)
		}
		return nil, err
	}
	c.SetToken(out.SessionToken)
	return &out, nil
}

func (c *Client) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	return c.do(ctx, http.MethodPost, "/api/v1/audit-entries", entry, nil)
}

func (c *Client) ListAuditEntries(ctx context.Context) ([]domain.AuditEntry, error) {
	var out struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/audit-entries", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var out struct {
		Settings domain.Settings `json:"settings"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/settings", nil, &out); err != nil {
		return nil, err
	}
	return &out.Settings, nil
}

func (c *Client) UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	var out struct {
		Settings domain.Settings `json:"settings"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/v1/settings", settings, &out); err != nil {
		return nil, err
	}
	return &out.Settings, nil
}
