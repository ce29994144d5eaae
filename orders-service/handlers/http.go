package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/commercehq/order-system/orders-service/application"
	"github.com/go-chi/chi/v5"
)

// OrderHandlers contains order HTTP handlers
type OrderHandlers struct {
	createOrder     *application.CreateOrder
	getOrder        *application.GetOrder
	listUserOrders  *application.ListUserOrders
	cancelOrder     *application.CancelOrder
	getSaga         *application.GetSaga
	listActiveSagas *application.ListActiveSagas
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(
	createOrder *application.CreateOrder,
	getOrder *application.GetOrder,
	listUserOrders *application.ListUserOrders,
	cancelOrder *application.CancelOrder,
	getSaga *application.GetSaga,
	listActiveSagas *application.ListActiveSagas,
) *OrderHandlers {
	return &OrderHandlers{
		createOrder:     createOrder,
		getOrder:        getOrder,
		listUserOrders:  listUserOrders,
		cancelOrder:     cancelOrder,
		getSaga:         getSaga,
		listActiveSagas: listActiveSagas,
	}
}

// CreateOrder handles order creation requests
func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd application.CreateOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.createOrder.Execute(r.Context(), &cmd)
	if err != nil {
		if strings.Contains(err.Error(), "invalid command") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// GetOrder handles order retrieval requests
func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	query := &application.GetOrderQuery{
		OrderID: orderID,
	}

	response, err := h.getOrder.Execute(r.Context(), query)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListUserOrders handles user order listing requests
func (h *OrderHandlers) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	query := &application.ListUserOrdersQuery{
		UserID: userID,
	}

	response, err := h.listUserOrders.Execute(r.Context(), query)
	if err != nil {
		if strings.Contains(err.Error(), "invalid user ID") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CancelOrder handles order cancellation requests
func (h *OrderHandlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cmd := &application.CancelOrderCommand{
		OrderID: orderID,
		Reason:  body.Reason,
	}

	response, err := h.cancelOrder.Execute(r.Context(), cmd)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "not found"):
			http.Error(w, err.Error(), http.StatusNotFound)
		case strings.Contains(err.Error(), "cannot be cancelled"):
			http.Error(w, err.Error(), http.StatusConflict)
		case strings.Contains(err.Error(), "invalid command"):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// GetSaga handles saga state retrieval requests
func (h *OrderHandlers) GetSaga(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	if correlationID == "" {
		http.Error(w, "Correlation ID is required", http.StatusBadRequest)
		return
	}

	query := &application.GetSagaQuery{
		CorrelationID: correlationID,
	}

	response, err := h.getSaga.Execute(r.Context(), query)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListActiveSagas handles active saga listing requests
func (h *OrderHandlers) ListActiveSagas(w http.ResponseWriter, r *http.Request) {
	response, err := h.listActiveSagas.Execute(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/{id}", h.GetOrder)
		r.Post("/{id}/cancel", h.CancelOrder)
	})

	r.Get("/users/{userID}/orders", h.ListUserOrders)

	r.Route("/sagas", func(r chi.Router) {
		r.Get("/active", h.ListActiveSagas)
		r.Get("/{correlationID}", h.GetSaga)
	})
}
