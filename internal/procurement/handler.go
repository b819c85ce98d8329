package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ferrochem/erp/internal/platform/httpx"
	"github.com/ferrochem/erp/internal/shared"
)

// Handler wires HTTP endpoints for procurement module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/shoppings/{shoppingID}", func(r chi.Router) {
		r.Get("/totals", h.handleTotals)
		r.Get("/landed-costs", h.handleLandedCosts)
		r.Get("/landed-costs/export", h.handleExportLandedCosts)
		r.Get("/landed-costs/{productID}", h.handleLandedUnitCost)
		r.Put("/landed-costs", h.handleUpdateLandedCosts)
		r.Post("/stage", h.handleStage)
		r.Post("/receive", h.handleReceive)
	})
}

type stageRequest struct {
	Lines []StageLine `json:"lines" validate:"required,min=1,dive"`
}

type receiveItem struct {
	StagedItem
	ArrivalDate string `json:"arrival_date" validate:"omitempty,datetime=2006-01-02"`
}

type receiveRequest struct {
	Items []receiveItem `json:"items" validate:"required,min=1,dive"`
}

type chargeRequest struct {
	Amount     string `json:"amount"`
	DollarRate string `json:"dollar_rate"`
}

type landedCostRequest struct {
	Charges      map[string]chargeRequest `json:"charges"`
	Commission   string                   `json:"commission"`
	ExchangeRate string                   `json:"exchange_rate"`
	EuroValue    string                   `json:"euro_value"`
}

func (h *Handler) handleTotals(w http.ResponseWriter, r *http.Request) {
	shoppingID, ok := h.shoppingID(w, r)
	if !ok {
		return
	}
	totals, err := h.service.Totals(r.Context(), shoppingID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) handleLandedCosts(w http.ResponseWriter, r *http.Request) {
	shoppingID, ok := h.shoppingID(w, r)
	if !ok {
		return
	}
	rows, err := h.service.LandedCostReport(r.Context(), shoppingID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) handleExportLandedCosts(w http.ResponseWriter, r *http.Request) {
	shoppingID, ok := h.shoppingID(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="costos-`+strconv.FormatInt(shoppingID, 10)+`.xlsx"`)
	if err := h.service.ExportLandedCosts(r.Context(), shoppingID, w); err != nil {
		h.logger.ErrorContext(r.Context(), "export landed costs", slog.Int64("shopping_id", shoppingID), slog.Any("error", err))
	}
}

func (h *Handler) handleLandedUnitCost(w http.ResponseWriter, r *http.Request) {
	shoppingID, ok := h.shoppingID(w, r)
	if !ok {
		return
	}
	productID, err := httpx.URLParamInt64(r, "productID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product", err.Error())
		return
	}
	staged, _ := strconv.ParseInt(r.URL.Query().Get("staged"), 10, 64)
	cost, err := h.service.ComputeLandedUnitCost(r.Context(), shoppingID, productID, staged)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cost)
}

func (h *Handler) handleUpdateLandedCosts(w http.ResponseWriter, r *http.Request) {
	shoppingID, ok := h.shoppingID(w, r)
	if !ok {
		return
	}
	var req landedCostRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	in, err := req.parse()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	if err := h.service.UpdateLandedCosts(r.Context(), shoppingID, in); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStage(w http.ResponseWriter, r *http.Request) {
	shoppingID, ok := h.shoppingID(w, r)
	if !ok {
		return
	}
	var req stageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	staged, err := h.service.StageStock(r.Context(), shoppingID, req.Lines)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": staged})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	shoppingID, ok := h.shoppingID(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]StagedItem, 0, len(req.Items))
	for _, it := range req.Items {
		item := it.StagedItem
		if it.ArrivalDate != "" {
			item.ArrivalDate, _ = time.Parse("2006-01-02", it.ArrivalDate)
		}
		items = append(items, item)
	}
	results, err := h.service.ReceiveGoods(r.Context(), shoppingID, items)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": results})
}

func (h *Handler) shoppingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := httpx.URLParamInt64(r, "shoppingID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Shopping", err.Error())
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrConflict) {
		h.logger.ErrorContext(r.Context(), "procurement request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// parse converts locale formatted amounts; blank values count as zero.
func (req landedCostRequest) parse() (LandedCostInput, error) {
	verr := shared.NewValidationError()
	amount := func(name, raw string) decimal.Decimal {
		v, err := shared.ParseOptionalAmount(raw, decimal.Zero)
		if err != nil {
			verr.Add(name + ": " + err.Error())
		}
		return v
	}
	in := LandedCostInput{Charges: make(map[CostField]Charge, len(req.Charges))}
	for name, c := range req.Charges {
		field := CostField(name)
		if !field.Valid() {
			verr.Add("unknown cost field " + name)
			continue
		}
		in.Charges[field] = Charge{Amount: amount(name, c.Amount), DollarRate: amount(name+"_dollar", c.DollarRate)}
	}
	in.Commission = amount("commission", req.Commission)
	in.ExchangeRate = amount("exchange_rate", req.ExchangeRate)
	in.EuroValue = amount("euro_value", req.EuroValue)
	if !verr.Empty() {
		return LandedCostInput{}, verr
	}
	return in, nil
}
