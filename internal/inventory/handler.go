package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ferrochem/erp/internal/platform/httpx"
	"github.com/ferrochem/erp/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/kardex", h.handleListKardex)
	r.Get("/kardex/summary", h.handleKardexSummary)
	r.Get("/kardex/export", h.handleExportKardex)
	r.Get("/kardex/{productID}", h.handleGetKardex)
	r.Get("/products/{productID}/movements", h.handleMovements)
	r.Post("/adjustments/in", h.handleAddAdjustment)
	r.Post("/adjustments/out", h.handleRemoveAdjustment)
}

type adjustmentRequest struct {
	ProductID        int64  `json:"product_id" validate:"required,gt=0"`
	SupplierID       int64  `json:"supplier_id" validate:"gte=0"`
	Quantity         int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost         string `json:"unit_cost" validate:"required"`
	LotNumber        string `json:"lot_number" validate:"max=64"`
	PublicSalePrice  int64  `json:"public_sale_price" validate:"gte=0"`
	PrivateSalePrice int64  `json:"private_sale_price" validate:"gte=0"`
	Reason           string `json:"reason" validate:"max=255"`
}

type removalRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"max=255"`
}

func (h *Handler) handleListKardex(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	entries, pagination, err := h.service.ListKardex(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries, "pagination": pagination})
}

func (h *Handler) handleKardexSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleExportKardex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="kardex.xlsx"`)
	if err := h.service.ExportKardex(r.Context(), w); err != nil {
		h.logger.ErrorContext(r.Context(), "export kardex", slog.Any("error", err))
	}
}

func (h *Handler) handleGetKardex(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.URLParamInt64(r, "productID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product", err.Error())
		return
	}
	entry, err := h.service.GetKardex(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.URLParamInt64(r, "productID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product", err.Error())
		return
	}
	filter := MovementFilter{ProductID: productID}
	if from, err := parseDate(r.URL.Query().Get("from")); err == nil {
		filter.From = from
	}
	if to, err := parseDate(r.URL.Query().Get("to")); err == nil {
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": movements})
}

func (h *Handler) handleAddAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unitCost, err := shared.ParseLocaleAmount(req.UnitCost)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.AddAdjustment(r.Context(), AdjustmentInput{
		ProductID:        req.ProductID,
		SupplierID:       req.SupplierID,
		Quantity:         req.Quantity,
		UnitCost:         unitCost,
		LotNumber:        req.LotNumber,
		PublicSalePrice:  req.PublicSalePrice,
		PrivateSalePrice: req.PrivateSalePrice,
		Reason:           req.Reason,
		ActorID:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"result":       result,
		"quantity":     result.Kardex.Quantity,
		"average_cost": result.Kardex.AverageCost,
	})
}

func (h *Handler) handleRemoveAdjustment(w http.ResponseWriter, r *http.Request) {
	var req removalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.RemoveAdjustment(r.Context(), RemovalInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movements := make([]Movement, 0, len(result.Consumptions))
	for _, c := range result.Consumptions {
		movements = append(movements, c.Movement)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"movements":    movements,
		"quantity":     result.Kardex.Quantity,
		"average_cost": result.AverageCost,
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) {
		h.logger.ErrorContext(r.Context(), "inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}

