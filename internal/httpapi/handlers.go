package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"shelfmaster/pos/internal/auth"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store"
)

var hundred = decimal.NewFromInt(100)

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.catalog.ListProducts(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		if !requireAdmin(w, r) {
			return
		}
		var product domain.Product
		if err := decodeJSON(r, &product); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		saved, err := a.catalog.UpsertProduct(r.Context(), product)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": saved})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	id, action := pathID(r.URL.Path, "/api/v1/products/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("invalid product action path"))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		product, err := a.catalog.GetProduct(r.Context(), id)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case action == "" && r.Method == http.MethodDelete:
		if !requireAdmin(w, r) {
			return
		}
		if err := a.catalog.DeleteProduct(r.Context(), id); err != nil {
			a.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "stock-adjustments" && r.Method == http.MethodPost:
		var req struct {
			Delta int    `json:"delta"`
			Key   string `json:"key"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Delta == 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: delta must not be zero", store.ErrInvalidRecord))
			return
		}
		ctx := r.Context()
		if key := strings.TrimSpace(req.Key); key != "" {
			ctx = store.WithAdjustmentKey(ctx, key)
		}
		product, err := a.catalog.AdjustStock(ctx, id, req.Delta)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case action == "" || action == "stock-adjustments":
		writeMethodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: unknown product action %q", store.ErrNotFound, action))
	}
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		txs, err := a.catalog.ListTransactions(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if limit := parsePositiveLimit(raw, len(txs), 1000); limit < len(txs) {
				txs = txs[:limit]
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
	case http.MethodPost:
		var tx domain.Transaction
		if err := decodeJSON(r, &tx); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if tx.ID == "" || len(tx.Items) == 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: transaction needs an id and at least one line", store.ErrInvalidRecord))
			return
		}
		created, err := a.catalog.CreateTransaction(r.Context(), tx)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleShifts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		shifts, err := a.catalog.ListShifts(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shifts": shifts})
	case http.MethodPost:
		var shift domain.Shift
		if err := decodeJSON(r, &shift); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.catalog.CreateShift(r.Context(), shift)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"shift": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleShiftActions(w http.ResponseWriter, r *http.Request) {
	id, rest := pathID(r.URL.Path, "/api/v1/shifts/")
	if id == "" || rest != "" {
		writeError(w, http.StatusBadRequest, errors.New("invalid shift path"))
		return
	}
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}

	var patch domain.ShiftPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shift, err := a.catalog.UpdateShift(r.Context(), id, patch)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": shift})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		customers, err := a.catalog.ListCustomers(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var customer domain.Customer
		if err := decodeJSON(r, &customer); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		saved, err := a.catalog.UpsertCustomer(r.Context(), customer)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customer": saved})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleUsers hands out PIN hashes so terminals can authenticate offline.
// The route is admin-only.
func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.catalog.ListUsers(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		var user domain.User
		if err := decodeJSON(r, &user); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if user.PINHash != "" && !auth.IsPINHash(user.PINHash) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: pin_hash must be a bcrypt hash", store.ErrInvalidRecord))
			return
		}
		saved, err := a.catalog.UpsertUser(r.Context(), user)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": saved.Public()})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleUserActions(w http.ResponseWriter, r *http.Request) {
	id, action := pathID(r.URL.Path, "/api/v1/users/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("invalid user action path"))
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())

	switch {
	case action == "" && r.Method == http.MethodDelete:
		if id == actor.UserID {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: cannot delete the signed-in account", store.ErrInvalidRecord))
			return
		}
		if err := a.catalog.DeleteUser(r.Context(), id); err != nil {
			a.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "suspension" && r.Method == http.MethodPut:
		var req struct {
			Suspended bool `json:"suspended"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Suspended && id == actor.UserID {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: cannot suspend the signed-in account", store.ErrInvalidRecord))
			return
		}
		user, err := a.catalog.SetUserSuspended(r.Context(), id, req.Suspended)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user.Public()})
	case action == "" || action == "suspension":
		writeMethodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: unknown user action %q", store.ErrNotFound, action))
	}
}

func (a *API) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireAdmin(w, r) {
			return
		}
		entries, err := a.catalog.ListAuditEntries(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		if limit := parsePositiveLimit(r.URL.Query().Get("limit"), 500, 1000); limit < len(entries) {
			entries = entries[:limit]
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	case http.MethodPost:
		var entry domain.AuditEntry
		if err := decodeJSON(r, &entry); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if entry.UserID == "" {
			actor, _ := auth.ActorFromContext(r.Context())
			entry.UserID = actor.UserID
			entry.UserName = actor.Username
		}
		if err := a.catalog.AppendAuditEntry(r.Context(), entry); err != nil {
			a.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := a.catalog.GetSettings(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
	case http.MethodPut:
		if !requireAdmin(w, r) {
			return
		}
		var settings domain.Settings
		if err := decodeJSON(r, &settings); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if settings.TaxRate.IsNegative() || settings.TaxRate.GreaterThan(hundred) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrInvalidRecord))
			return
		}
		saved, err := a.catalog.UpdateSettings(r.Context(), settings)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": saved})
	default:
		writeMethodNotAllowed(w)
	}
}
