package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wineops/stocksync/internal/core/domain"
	"github.com/wineops/stocksync/internal/core/service"
	"github.com/wineops/stocksync/internal/port"
)

type HTTPHandler struct {
	engine *service.Engine
}

func NewHTTPHandler(engine *service.Engine) *HTTPHandler {
	return &HTTPHandler{engine: engine}
}

// Register mounts every route on the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("GET /api/stock", h.Stock)
	mux.HandleFunc("POST /api/stock/quantity", h.UpdateQuantity)
	mux.HandleFunc("POST /api/stock/quantities", h.UpdateQuantities)
	mux.HandleFunc("POST /api/stock/threshold", h.UpdateThreshold)
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/active", h.ActiveOrders)
	mux.HandleFunc("GET /api/orders/archived", h.ArchivedOrders)
	mux.HandleFunc("POST /api/orders/{id}/send", h.MarkSent)
	mux.HandleFunc("POST /api/orders/{id}/confirm", h.ConfirmReceipt)
	mux.HandleFunc("GET /api/queue", h.PendingOperations)
	mux.HandleFunc("POST /api/queue/drain", h.Drain)
}

type quantityRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type quantitiesRequest struct {
	Quantities map[string]int `json:"quantities"`
}

type thresholdRequest struct {
	ItemID       string `json:"item_id"`
	MinThreshold int    `json:"min_threshold"`
}

type orderLineRequest struct {
	ItemID         string `json:"item_id"`
	Quantity       int    `json:"quantity"`
	Unit           string `json:"unit"`
	UnitPriceCents int    `json:"unit_price_cents"`
}

type createOrderRequest struct {
	SupplierRef string             `json:"supplier_ref"`
	Lines       []orderLineRequest `json:"lines"`
}

type confirmRequest struct {
	Overrides map[string]int `json:"overrides"`
}

type stockResponse struct {
	Success bool                `json:"success"`
	Queued  bool                `json:"queued,omitempty"`
	Message string              `json:"message,omitempty"`
	Record  *domain.StockRecord `json:"record,omitempty"`
}

func (h *HTTPHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, stockResponse{Success: false, Message: "invalid request body"})
		return
	}
	if req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, stockResponse{Success: false, Message: "item_id required"})
		return
	}

	rec, queued, err := h.engine.UpdateQuantity(r.Context(), req.ItemID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	if queued {
		writeJSON(w, http.StatusAccepted, stockResponse{Success: true, Queued: true, Message: "store unreachable, change queued"})
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{Success: true, Record: rec})
}

type batchItemResponse struct {
	ItemID  string              `json:"item_id"`
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Record  *domain.StockRecord `json:"record,omitempty"`
}

func (h *HTTPHandler) UpdateQuantities(w http.ResponseWriter, r *http.Request) {
	var req quantitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Quantities) == 0 {
		writeJSON(w, http.StatusBadRequest, stockResponse{Success: false, Message: "invalid request body"})
		return
	}
	results := h.engine.UpdateQuantities(r.Context(), req.Quantities)
	out := make([]batchItemResponse, 0, len(results))
	for _, res := range results {
		item := batchItemResponse{ItemID: res.ItemID, Success: res.Err == nil, Record: res.Record}
		if res.Err != nil {
			item.Message = userMessage(res.Err)
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, stockResponse{Success: false, Message: "invalid request body"})
		return
	}
	if req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, stockResponse{Success: false, Message: "item_id required"})
		return
	}

	rec, queued, err := h.engine.UpdateThreshold(r.Context(), req.ItemID, req.MinThreshold)
	if err != nil {
		writeError(w, err)
		return
	}
	if queued {
		writeJSON(w, http.StatusAccepted, stockResponse{Success: true, Queued: true, Message: "store unreachable, change queued"})
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{Success: true, Record: rec})
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	lines := make([]domain.OrderLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.OrderLine{
			ItemID:         l.ItemID,
			Quantity:       l.Quantity,
			Unit:           domain.Unit(l.Unit),
			UnitPriceCents: l.UnitPriceCents,
		})
	}
	order, err := h.engine.CreateOrder(r.Context(), req.SupplierRef, lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderView(order))
}

func (h *HTTPHandler) MarkSent(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.MarkSent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(order))
}

func (h *HTTPHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	result, err := h.engine.ConfirmReceipt(r.Context(), r.PathValue("id"), req.Overrides)
	if errors.Is(err, service.ErrDuplicateConfirm) {
		// duplicate confirmation is dropped silently, not an error
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "message": "confirmation already in progress"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	lines := make([]map[string]any, 0, len(result.Lines))
	for _, l := range result.Lines {
		line := map[string]any{"item_id": l.ItemID, "applied_units": l.Applied, "success": l.Err == nil}
		if l.Err != nil {
			line["message"] = userMessage(l.Err)
		}
		lines = append(lines, line)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": orderView(result.Order), "lines": lines})
}

func (h *HTTPHandler) ActiveOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.ActiveOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOrderList(w, orders)
}

func (h *HTTPHandler) ArchivedOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.ArchivedOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOrderList(w, orders)
}

func writeOrderList(w http.ResponseWriter, orders []domain.Order) {
	out := make([]orderViewBody, 0, len(orders))
	for i := range orders {
		out = append(out, orderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) Stock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stock())
}

func (h *HTTPHandler) PendingOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.engine.PendingOperations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *HTTPHandler) Drain(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Drain(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *HTTPHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"feed": string(h.engine.Status())})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type orderLineView struct {
	ItemID         string `json:"item_id"`
	Quantity       int    `json:"quantity"`
	Unit           string `json:"unit"`
	UnitPriceCents int    `json:"unit_price_cents"`
	ReceivedQty    int    `json:"received_qty"`
}

type orderViewBody struct {
	ID          string          `json:"id"`
	SupplierRef string          `json:"supplier_ref"`
	State       string          `json:"state"`
	TotalCents  int             `json:"total_cents"`
	Lines       []orderLineView `json:"lines"`
}

func orderView(o *domain.Order) orderViewBody {
	lines := make([]orderLineView, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLineView{
			ItemID:         l.ItemID,
			Quantity:       l.Quantity,
			Unit:           string(l.Unit),
			UnitPriceCents: l.UnitPriceCents,
			ReceivedQty:    l.ReceivedQty,
		})
	}
	return orderViewBody{
		ID:          o.ID,
		SupplierRef: o.SupplierRef,
		State:       string(o.State),
		TotalCents:  o.TotalCents(),
		Lines:       lines,
	}
}

// userMessage maps the error taxonomy to display text; raw store errors
// never cross this boundary.
func userMessage(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, port.ErrVersionConflict):
		return "value changed elsewhere, refreshed"
	case errors.Is(err, port.ErrUnavailable):
		return "store unreachable"
	case errors.Is(err, service.ErrOrderNotFound):
		return "order not found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "order is not in a confirmable state"
	case errors.As(err, &verr):
		return verr.Error()
	default:
		return "internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, port.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, port.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"success": false, "message": userMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
