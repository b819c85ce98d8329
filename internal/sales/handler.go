package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ferrochem/erp/internal/platform/httpx"
	"github.com/ferrochem/erp/internal/shared"
)

// Handler wires HTTP endpoints for sales module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handlePlaceOrder)
	r.Get("/check-inventory/{productID}", h.handleCheckInventory)
	r.Route("/{saleID}", func(r chi.Router) {
		r.Get("/", h.handleGetSale)
		r.Post("/accept-payment", h.handleAcceptPayment)
		r.Post("/reject-payment", h.handleRejectPayment)
		r.Post("/delivered", h.handleDelivered)
	})
}

type orderRequest struct {
	CustomerID      int64      `json:"customer_id" validate:"gte=0"`
	RoleID          int16      `json:"rol_id" validate:"required,gt=0"`
	PrivatePricing  bool       `json:"private_pricing"`
	ShippingMethod  int16      `json:"shipping_method_id" validate:"required,oneof=1 2"`
	DocumentTypeID  int64      `json:"document_type_id" validate:"gte=0"`
	DeliveryAddress string     `json:"delivery_address" validate:"required_if=ShippingMethod 2,max=255"`
	Cart            []CartLine `json:"cart" validate:"required,min=1,dive"`
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sale, err := h.service.PlaceOrder(r.Context(), OrderInput{
		CustomerID:      req.CustomerID,
		Role:            Role(req.RoleID),
		PrivatePricing:  req.PrivatePricing,
		ShippingMethod:  ShippingMethod(req.ShippingMethod),
		DocumentTypeID:  req.DocumentTypeID,
		DeliveryAddress: req.DeliveryAddress,
		Lines:           req.Cart,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"status": "Venta registrada exitosamente.", "sale_id": sale.ID, "sale": sale})
}

func (h *Handler) handleCheckInventory(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.URLParamInt64(r, "productID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product", err.Error())
		return
	}
	qty, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil || qty <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", "quantity must be a positive integer")
		return
	}
	if err := h.service.CheckProductInventory(r.Context(), productID, qty); err != nil {
		if IsStockError(err) {
			httpx.JSON(w, http.StatusOK, map[string]any{"status": "error", "message": err.Error()})
			return
		}
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Stock suficiente"})
}

func (h *Handler) handleGetSale(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.saleID(w, r)
	if !ok {
		return
	}
	sale, lines, err := h.service.GetSale(r.Context(), saleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale": sale, "products": lines})
}

func (h *Handler) handleAcceptPayment(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.saleID(w, r)
	if !ok {
		return
	}
	result, err := h.service.AcceptPayment(r.Context(), saleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleRejectPayment(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.saleID(w, r)
	if !ok {
		return
	}
	movements, err := h.service.RejectPayment(r.Context(), saleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reversal_movements": movements})
}

func (h *Handler) handleDelivered(w http.ResponseWriter, r *http.Request) {
	saleID, ok := h.saleID(w, r)
	if !ok {
		return
	}
	if err := h.service.MarkDelivered(r.Context(), saleID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) saleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := httpx.URLParamInt64(r, "saleID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Sale", err.Error())
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrConflict) {
		h.logger.ErrorContext(r.Context(), "sales request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
