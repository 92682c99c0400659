package accounts

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mybank-labs/mybank/internal/platform/httpx"
	"github.com/mybank-labs/mybank/internal/shared"
)

// Handler exposes account endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.list)
	r.Post("/accounts", h.create)
	r.Get("/accounts/export", h.export)
	r.Get("/accounts/{id}", h.get)
}

type createRequest struct {
	Name          string           `json:"name" validate:"required,max=120"`
	UserID        int64            `json:"user_id" validate:"required,gt=0"`
	InitialAmount *decimal.Decimal `json:"initial_amount"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("accounts: malformed body: %v: %w", err, shared.ErrInvalidArgument))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			err = fmt.Errorf("accounts: invalid field %s: %w", verrs[0].Field(), shared.ErrInvalidArgument)
		}
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{Name: req.Name, UserID: req.UserID}
	if req.InitialAmount != nil {
		in.InitialAmount = *req.InitialAmount
	}
	account, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, fmt.Errorf("accounts: invalid user_id: %w", shared.ErrInvalidArgument))
			return
		}
		userID = id
	}
	accounts, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("accounts: invalid id: %w", shared.ErrInvalidArgument))
		return
	}
	account, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	httpx.CSVAttachment(w, "accounts.csv")
	rows, err := h.service.ExportCSV(r.Context(), w)
	if err != nil {
		h.logger.Error("export accounts", slog.Any("error", err))
		return
	}
	h.logger.Debug("exported accounts", slog.Int("rows", rows))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
