package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stocksnav/stocksnav/internal/model"
)

type paymentMethodRequest struct {
	Name     string `json:"name"`
	Network  string `json:"network"`
	Address  string `json:"address"`
	IsActive bool   `json:"isActive"`
}

type paymentMethodResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Network   string `json:"network"`
	Address   string `json:"address"`
	IsActive  bool   `json:"isActive"`
	CreatedAt string `json:"createdAt"`
}

func toPaymentMethodResponse(pm model.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:        pm.ID,
		Name:      pm.Name,
		Network:   pm.Network,
		Address:   pm.Address,
		IsActive:  pm.IsActive,
		CreatedAt: pm.CreatedAt.Format(time.RFC3339),
	}
}

// ListPaymentMethods returns the published deposit destinations.
func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListPaymentMethods(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := make([]paymentMethodResponse, 0, len(methods))
	for _, pm := range methods {
		resp = append(resp, toPaymentMethodResponse(pm))
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Payment methods fetched successfully",
		Data:    resp,
	})
}

// CreatePaymentMethod publishes a deposit destination. Admin only.
func (h *Handler) CreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req paymentMethodRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Network == "" || req.Address == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	pm, err := h.service.CreatePaymentMethod(r.Context(), &model.PaymentMethod{
		Name:     req.Name,
		Network:  req.Network,
		Address:  req.Address,
		IsActive: req.IsActive,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, apiResponse{
		Success: true,
		Message: "Payment method created successfully",
		Data:    toPaymentMethodResponse(*pm),
	})
}

// UpdatePaymentMethod updates a deposit destination. Admin only.
func (h *Handler) UpdatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid payment method id")
		return
	}

	var req paymentMethodRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Network == "" || req.Address == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	pm := model.PaymentMethod{
		ID:       id,
		Name:     req.Name,
		Network:  req.Network,
		Address:  req.Address,
		IsActive: req.IsActive,
	}
	if err := h.service.UpdatePaymentMethod(r.Context(), &pm); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Payment method updated successfully",
		Data:    toPaymentMethodResponse(pm),
	})
}

// DeletePaymentMethod removes a deposit destination. Admin only.
func (h *Handler) DeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid payment method id")
		return
	}

	if err := h.service.DeletePaymentMethod(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Payment method deleted successfully"})
}
