package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stocksnav/stocksnav/internal/model"
)

func tradeIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "tradeID"), 10, 64)
	return id, err == nil && id > 0
}

type createTradeRequest struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	InvestmentAmount float64 `json:"investmentAmount"`
}

// CreateTrade opens a simulated position, debiting the investment amount.
func (h *Handler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req createTradeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Symbol == "" || req.Name == "" || req.InvestmentAmount <= 0 {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	trade, err := h.service.OpenTrade(r.Context(), p.ID, req.Symbol, req.Name,
		model.DollarsToCents(req.InvestmentAmount), idempotencyKey(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, apiResponse{
		Success: true,
		Message: "Trade created successfully",
		Data:    toTradeResponse(*trade),
	})
}

type claimProfitRequest struct {
	TradeID int64 `json:"tradeId"`
}

// ClaimProfit credits the trade's current value back to the balance and
// completes the trade.
func (h *Handler) ClaimProfit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req claimProfitRequest
	if err := decodeBody(r, &req); err != nil || req.TradeID <= 0 {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	entry, err := h.service.ClaimProfit(r.Context(), p, req.TradeID, idempotencyKey(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Profit claimed successfully",
		Data:    toEntryResponse(*entry),
	})
}

// PauseTrade stops a running trade.
func (h *Handler) PauseTrade(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := tradeIDParam(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid trade id")
		return
	}

	trade, err := h.service.PauseTrade(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Trade paused successfully",
		Data:    toTradeResponse(*trade),
	})
}

// ResumeTrade restarts a paused trade.
func (h *Handler) ResumeTrade(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := tradeIDParam(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid trade id")
		return
	}

	trade, err := h.service.ResumeTrade(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Trade resumed successfully",
		Data:    toTradeResponse(*trade),
	})
}

type updateCurrentValueRequest struct {
	CurrentValue float64 `json:"currentValue"`
}

// UpdateCurrentValue sets the simulated current value of a trade. Admin only.
func (h *Handler) UpdateCurrentValue(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeIDParam(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid trade id")
		return
	}

	var req updateCurrentValueRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	trade, err := h.service.SetTradeValue(r.Context(), id, model.DollarsToCents(req.CurrentValue))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Trade updated successfully",
		Data:    toTradeResponse(*trade),
	})
}

// DeleteTrade force-closes a trade, forfeiting its remaining value. The caller
// must confirm the destructive action with ?confirm=true.
func (h *Handler) DeleteTrade(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := tradeIDParam(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid trade id")
		return
	}
	if r.URL.Query().Get("confirm") != "true" {
		h.writeError(w, http.StatusBadRequest, "Closing a trade forfeits its remaining value; repeat the request with confirm=true")
		return
	}

	if err := h.service.ForceCloseTrade(r.Context(), p, id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Trade closed successfully",
	})
}

// GetUserTrades returns the current account's trades.
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	trades, err := h.service.ListAccountTrades(r.Context(), p.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Trades fetched successfully",
		Data:    toTradeResponses(trades),
	})
}

// GetAllTrades returns every trade on the platform. Admin only.
func (h *Handler) GetAllTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.service.ListAllTrades(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Trades fetched successfully",
		Data:    toTradeResponses(trades),
	})
}
