package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mybank-labs/mybank/internal/platform/httpx"
	"github.com/mybank-labs/mybank/internal/shared"
)

// IdempotencyHeader carries the client supplied key for transaction creation.
const IdempotencyHeader = "Idempotency-Key"

const idempotencyModule = "ledger"

// IdempotencyPort claims and releases request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes the ledger over JSON HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	idem     IdempotencyPort
	validate *validator.Validate
}

// NewHandler builds Handler instance. idem may be nil to disable
// Idempotency-Key handling.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	return &Handler{logger: logger, service: service, idem: idem, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.listTransactions)
		r.Post("/", h.recordTransaction)
		r.Put("/{id}", h.amendTransaction)
		r.Delete("/{id}", h.deleteTransaction)
	})
	r.Get("/accounts/{id}/budgets/{amount}", h.withinBudget)
	r.Get("/accounts/{id}/exports", h.exportCSV)
	r.Get("/accounts/{id}/balance", h.balance)
	r.Post("/accounts/{id}/reconcile", h.reconcile)
	r.Post("/accounts/{id}/generate", h.generate)
}

type recordRequest struct {
	Name      string           `json:"name" validate:"required,max=120"`
	Amount    *decimal.Decimal `json:"amount" validate:"required"`
	Type      *int16           `json:"type" validate:"required"`
	AccountID int64            `json:"account_id" validate:"required,gt=0"`
}

type amendRequest struct {
	Name   *string          `json:"name" validate:"omitempty,max=120"`
	Amount *decimal.Decimal `json:"amount" validate:"required"`
	Type   *int16           `json:"type" validate:"required"`
}

type generateRequest struct {
	Count int `json:"count" validate:"required,gt=0"`
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			h.fail(w, r, "claim idempotency key", err)
			return
		}
	}
	tx, err := h.service.RecordTransaction(r.Context(), RecordInput{
		AccountID: req.AccountID,
		Name:      req.Name,
		Amount:    *req.Amount,
		Type:      TxType(*req.Type),
	})
	if err != nil {
		if key != "" && h.idem != nil {
			if delErr := h.idem.Delete(r.Context(), key, idempotencyModule); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		h.fail(w, r, "record transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tx)
}

func (h *Handler) amendTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req amendRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tx, err := h.service.AmendTransaction(r.Context(), AmendInput{
		TransactionID: id,
		Amount:        *req.Amount,
		Type:          TxType(*req.Type),
		Name:          req.Name,
	})
	if err != nil {
		h.fail(w, r, "amend transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tx)
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteTransaction(r.Context(), id); err != nil {
		h.fail(w, r, "delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	items, page, err := h.service.ListTransactions(r.Context(), shared.ParsePageRequest(r.URL.Query()))
	if err != nil {
		h.fail(w, r, "list transactions", err)
		return
	}
	if items == nil {
		items = []TransactionView{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

func (h *Handler) withinBudget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	budget, err := decimal.NewFromString(chi.URLParam(r, "amount"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("ledger: budget must be numeric: %w", shared.ErrInvalidArgument))
		return
	}
	txs, err := h.service.TransactionsWithinBudget(r.Context(), id, budget)
	if err != nil {
		h.fail(w, r, "budget query", err)
		return
	}
	if txs == nil {
		txs = []Transaction{}
	}
	httpx.JSON(w, http.StatusOK, txs)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	// Resolve the account first so a missing one still gets a problem body.
	if _, err := h.service.Account(r.Context(), id); err != nil {
		h.fail(w, r, "export account lookup", err)
		return
	}
	httpx.CSVAttachment(w, fmt.Sprintf("transactions-%d.csv", id))
	rows, err := h.service.ExportCSV(r.Context(), id, w)
	if err != nil {
		h.logger.Error("export transactions", slog.Int64("account_id", id), slog.Any("error", err))
		return
	}
	h.logger.Debug("exported transactions", slog.Int64("account_id", id), slog.Int("rows", rows))
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	state, err := h.service.Account(r.Context(), id)
	if err != nil {
		h.fail(w, r, "account balance", err)
		return
	}
	computed, err := h.service.RecomputeBalance(r.Context(), id)
	if err != nil {
		h.fail(w, r, "recompute balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"account_id":         id,
		"balance":            state.Balance,
		"computed_balance":   computed,
		"transactions_count": state.TransactionsCount,
	})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))
	rec, err := h.service.ReconcileAccount(r.Context(), id, repair)
	if err != nil {
		h.fail(w, r, "reconcile account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req generateRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	txs, err := h.service.GenerateTransactions(r.Context(), id, req.Count, nil)
	if err != nil {
		h.fail(w, r, "generate transactions", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"account_id": id, "generated": len(txs)})
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return fmt.Errorf("ledger: malformed body: %v: %w", err, shared.ErrInvalidArgument)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("ledger: invalid fields %s: %w", strings.Join(fields, ", "), shared.ErrInvalidArgument)
		}
		return fmt.Errorf("ledger: %v: %w", err, shared.ErrInvalidArgument)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("ledger: invalid %s: %w", name, shared.ErrInvalidArgument)
	}
	return id, nil
}
