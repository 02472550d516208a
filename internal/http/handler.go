package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"P2PEscrow/internal/apperr"
	"P2PEscrow/internal/models"
	"P2PEscrow/internal/payments"
	"P2PEscrow/internal/pricing"
	"P2PEscrow/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const userHeader = "X-User-Id"

type Handler struct {
	Services  *services.Services
	Catalogue *payments.Catalogue
	Pricing   pricing.Service
	Logger    *slog.Logger
}

type createOrderRequest struct {
	Amount          decimal.Decimal       `json:"amount"`
	Price           decimal.Decimal       `json:"price"`
	PaymentMethodID string                `json:"paymentMethodId"`
	PaymentMethod   *models.PaymentMethod `json:"paymentMethod"`
}

type orderResponse struct {
	*models.Order
	Quote *pricing.Quote `json:"quote,omitempty"`
}

type proofRequest struct {
	Proof string `json:"proof"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	FavorBuyer bool `json:"favorBuyer"`
}

type decisionResponse struct {
	OK    bool          `json:"ok"`
	Order *models.Order `json:"order,omitempty"`
}

func NewHandler(svc *services.Services, catalogue *payments.Catalogue, quotes pricing.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Services: svc, Catalogue: catalogue, Pricing: quotes, Logger: logger}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var method models.PaymentMethod
	switch {
	case req.PaymentMethod != nil:
		method = *req.PaymentMethod
	case req.PaymentMethodID != "" && h.Catalogue != nil:
		m, found := h.Catalogue.Get(req.PaymentMethodID)
		if !found {
			writeMessage(w, http.StatusBadRequest, "invalid_order", fmt.Sprintf("unknown payment method %q", req.PaymentMethodID))
			return
		}
		method = m
	default:
		writeMessage(w, http.StatusBadRequest, "invalid_order", "payment method is required")
		return
	}

	order, err := h.Services.Orders.CreateOrder(r.Context(), sellerID, req.Amount, req.Price, method)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.withQuote(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.OrderStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeMessage(w, http.StatusBadRequest, "invalid_order", fmt.Sprintf("unknown status %q", status))
		return
	}

	var (
		orders []*models.Order
		err    error
	)
	switch {
	case q.Get("seller") != "":
		orders, err = h.Services.Orders.ListOrdersBySeller(r.Context(), q.Get("seller"))
	case q.Get("buyer") != "":
		orders, err = h.Services.Orders.ListOrdersByBuyer(r.Context(), q.Get("buyer"))
	case status != "":
		orders, err = h.Services.Orders.ListOrdersByStatus(r.Context(), status)
	default:
		orders, err = h.Services.Orders.ListOpenOrders(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if status != "" {
		orders = filterStatus(orders, status)
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Services.Orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.withQuote(order))
}

func (h *Handler) RequestLock(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	escrow, err := h.Services.Escrow.RequestLock(r.Context(), chi.URLParam(r, "orderId"), buyerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, escrow)
}

func (h *Handler) BeginPayment(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	order, err := h.Services.Orders.BeginPayment(r.Context(), chi.URLParam(r, "orderId"), buyerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}
	order, err := h.Services.Orders.Cancel(r.Context(), chi.URLParam(r, "orderId"), actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.Services.Escrow.GetEscrowForOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrow)
}

func (h *Handler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req proofRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, err := h.Services.Verifications.Submit(r.Context(), chi.URLParam(r, "orderId"), buyerID, req.Proof)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) ListVerifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.Services.Verifications.ListVerifications(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*models.Verification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"verifications": list})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	verifierID, ok := requireUser(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "orderId")
	done, err := h.Services.Verifications.Verify(r.Context(), orderID, verifierID)
	h.writeDecision(w, r, orderID, done, err)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	verifierID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	orderID := chi.URLParam(r, "orderId")
	done, err := h.Services.Verifications.Reject(r.Context(), orderID, verifierID, req.Reason)
	h.writeDecision(w, r, orderID, done, err)
}

func (h *Handler) Dispute(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	orderID := chi.URLParam(r, "orderId")
	done, err := h.Services.Verifications.Dispute(r.Context(), orderID, actorID, req.Reason)
	h.writeDecision(w, r, orderID, done, err)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	resolverID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.Services.Verifications.ResolveDispute(r.Context(), chi.URLParam(r, "orderId"), req.FavorBuyer, resolverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) PaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods := []models.PaymentMethod{}
	if h.Catalogue != nil {
		methods = h.Catalogue.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"paymentMethods": methods})
}

// writeDecision reports verifier and dispute outcomes. A false result with
// no error means the order had nothing to act on.
func (h *Handler) writeDecision(w http.ResponseWriter, r *http.Request, orderID string, done bool, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if !done {
		writeJSON(w, http.StatusNotFound, decisionResponse{OK: false})
		return
	}
	order, err := h.Services.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.Logger.Warn("reload order after decision", "order_id", orderID, "error", err)
		order = nil
	}
	writeJSON(w, http.StatusOK, decisionResponse{OK: true, Order: order})
}

func (h *Handler) withQuote(order *models.Order) orderResponse {
	resp := orderResponse{Order: order}
	if q, err := h.Pricing.Quote(order); err == nil {
		resp.Quote = &q
	}
	return resp
}

// requireUser reads the caller identity. The system identity is reserved for
// internal transitions and cannot be claimed over HTTP.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	if userID == "" {
		writeMessage(w, http.StatusUnauthorized, "unauthorized", "missing user id")
		return "", false
	}
	if userID == services.SystemActor {
		writeError(w, fmt.Errorf("%w: reserved user id", apperr.ErrForbidden))
		return "", false
	}
	return userID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return false
	}
	return true
}

func filterStatus(orders []*models.Order, status models.OrderStatus) []*models.Order {
	out := orders[:0]
	for _, o := range orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}
