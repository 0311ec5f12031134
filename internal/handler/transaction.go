package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stocksnav/stocksnav/internal/model"
	"github.com/stocksnav/stocksnav/internal/validation"
)

type depositRequest struct {
	Amount  float64 `json:"amount"`
	Method  string  `json:"method"`
	Receipt string  `json:"receipt"`
}

// Deposit records a pending deposit with its proof-of-payment receipt.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount <= 0 || req.Method == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	entry, err := h.service.Deposit(r.Context(), p.ID, model.DollarsToCents(req.Amount),
		req.Method, req.Receipt, idempotencyKey(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, apiResponse{
		Success: true,
		Message: "Deposit submitted successfully",
		Data:    toEntryResponse(*entry),
	})
}

type withdrawRequest struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Recipient string  `json:"recipient"`
}

// Withdraw places a withdrawal hold on the balance.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount <= 0 || req.Method == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}
	if !validation.IsValidWalletAddress(req.Recipient) {
		h.writeError(w, http.StatusBadRequest, "Invalid recipient address")
		return
	}

	entry, err := h.service.Withdraw(r.Context(), p.ID, model.DollarsToCents(req.Amount),
		req.Method, req.Recipient, idempotencyKey(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, apiResponse{
		Success: true,
		Message: "Withdrawal requested successfully",
		Data:    toEntryResponse(*entry),
	})
}

type moderationRequest struct {
	TransactionID int64  `json:"transactionId"`
	Status        string `json:"status"`
}

func (req *moderationRequest) approve() (bool, bool) {
	switch req.Status {
	case string(model.LedgerStatusCompleted):
		return true, true
	case string(model.LedgerStatusFailed):
		return false, true
	default:
		return false, false
	}
}

// ModerateDeposit approves or rejects a pending deposit. Admin only.
func (h *Handler) ModerateDeposit(w http.ResponseWriter, r *http.Request) {
	var req moderationRequest
	if err := decodeBody(r, &req); err != nil || req.TransactionID <= 0 {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}
	approve, ok := req.approve()
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Status must be completed or failed")
		return
	}

	entry, err := h.service.ModerateDeposit(r.Context(), req.TransactionID, approve)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Deposit " + string(entry.Status),
		Data:    toEntryResponse(*entry),
	})
}

// ModerateWithdrawal approves or rejects a pending withdrawal. Admin only.
func (h *Handler) ModerateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req moderationRequest
	if err := decodeBody(r, &req); err != nil || req.TransactionID <= 0 {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}
	approve, ok := req.approve()
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Status must be completed or failed")
		return
	}

	entry, err := h.service.ModerateWithdrawal(r.Context(), req.TransactionID, approve)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Withdrawal " + string(entry.Status),
		Data:    toEntryResponse(*entry),
	})
}

// GetUserTransactions returns the current account's ledger entries.
func (h *Handler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListAccountEntries(r.Context(), p.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Transactions fetched successfully",
		Data:    toEntryResponses(entries),
	})
}

// GetAllTransactions returns every ledger entry. Admin only.
func (h *Handler) GetAllTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListAllEntries(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Transactions fetched successfully",
		Data:    toEntryResponses(entries),
	})
}

// GetTransaction returns one ledger entry with a receipt link when present.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	entry, err := h.service.GetEntry(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := toEntryResponse(*entry)
	if entry.ReceiptKey != "" {
		link, err := h.service.ReceiptURL(r.Context(), entry.ReceiptKey)
		if err != nil {
			h.logger.Warn("presign receipt", zap.Error(err))
		} else {
			resp.ReceiptURL = link
		}
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Transaction fetched successfully",
		Data:    resp,
	})
}
