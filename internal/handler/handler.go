// Package handler contains the HTTP handlers of the trading platform API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stocksnav/stocksnav/internal/ledger"
	"github.com/stocksnav/stocksnav/internal/middleware"
	"github.com/stocksnav/stocksnav/internal/model"
	"github.com/stocksnav/stocksnav/internal/repository"
	"github.com/stocksnav/stocksnav/internal/service"
)

// Service defines the business-logic contract used by the HTTP handlers.
type Service interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.Account, error)
	VerifyOTP(ctx context.Context, accountID int64, otp string) (*model.Account, error)
	Login(ctx context.Context, email, password string) (*model.Account, error)
	AdminLogin(ctx context.Context, email, password string) (*model.Account, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, password string) error
	ChangePassword(ctx context.Context, accountID int64, oldPassword, newPassword string) error
	GetAccount(ctx context.Context, id int64) (*model.Account, error)

	OpenTrade(ctx context.Context, accountID int64, symbol, name string, amount int64, idempotencyKey string) (*model.Trade, error)
	ClaimProfit(ctx context.Context, p model.Principal, tradeID int64, idempotencyKey string) (*model.LedgerEntry, error)
	PauseTrade(ctx context.Context, p model.Principal, tradeID int64) (*model.Trade, error)
	ResumeTrade(ctx context.Context, p model.Principal, tradeID int64) (*model.Trade, error)
	SetTradeValue(ctx context.Context, tradeID, value int64) (*model.Trade, error)
	ForceCloseTrade(ctx context.Context, p model.Principal, tradeID int64) error
	ListAccountTrades(ctx context.Context, accountID int64) ([]model.Trade, error)
	ListAllTrades(ctx context.Context) ([]model.Trade, error)

	Deposit(ctx context.Context, accountID, amount int64, method, receipt, idempotencyKey string) (*model.LedgerEntry, error)
	Withdraw(ctx context.Context, accountID, amount int64, method, recipient, idempotencyKey string) (*model.LedgerEntry, error)
	ModerateDeposit(ctx context.Context, entryID int64, approve bool) (*model.LedgerEntry, error)
	ModerateWithdrawal(ctx context.Context, entryID int64, approve bool) (*model.LedgerEntry, error)
	GetEntry(ctx context.Context, p model.Principal, entryID int64) (*model.LedgerEntry, error)
	ListAccountEntries(ctx context.Context, accountID int64) ([]model.LedgerEntry, error)
	ListAllEntries(ctx context.Context) ([]model.LedgerEntry, error)
	ReceiptURL(ctx context.Context, key string) (string, error)

	ListAccounts(ctx context.Context) ([]model.Account, error)
	SetAccountActive(ctx context.Context, accountID int64, active bool) error
	SetAccountAdmin(ctx context.Context, accountID int64, admin bool) error
	DeleteAccount(ctx context.Context, accountID int64) error
	SetAccountBalance(ctx context.Context, accountID, balance int64) (*model.LedgerEntry, error)
	AdjustAccountBonus(ctx context.Context, accountID, amount int64, add bool) (*model.LedgerEntry, error)
	UpdateProfile(ctx context.Context, accountID int64, in service.ProfileInput) (*model.Account, error)

	CreatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) (*model.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context) ([]model.PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) error
	DeletePaymentMethod(ctx context.Context, id int64) error
}

// Handler implements the HTTP handlers of the platform API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	tokenTTL       time.Duration
	adminTokenTTL  time.Duration
}

// NewHandler creates a new HTTP handler.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, tokenTTL, adminTokenTTL time.Duration) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		tokenTTL:       tokenTTL,
		adminTokenTTL:  adminTokenTTL,
	}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, apiResponse{Success: false, Message: message})
}

// writeServiceError translates domain errors to HTTP statuses. Unknown errors
// are logged and reported with a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrTradeNotFound),
		errors.Is(err, repository.ErrEntryNotFound),
		errors.Is(err, repository.ErrPaymentMethodNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, repository.ErrEmailExists),
		errors.Is(err, repository.ErrAccountBusy),
		errors.Is(err, ledger.ErrAlreadyProcessed),
		errors.Is(err, ledger.ErrWithdrawalPending):
		h.writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrWrongEntryType),
		errors.Is(err, ledger.ErrTradeNotRunning),
		errors.Is(err, ledger.ErrTradeNotPaused),
		errors.Is(err, ledger.ErrTradeClosed),
		errors.Is(err, ledger.ErrNothingToClaim),
		errors.Is(err, ledger.ErrTradeNotLosing),
		errors.Is(err, service.ErrInvalidOTP),
		errors.Is(err, service.ErrOTPExpired):
		h.writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, service.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, err.Error())

	case errors.Is(err, ledger.ErrAccountInactive),
		errors.Is(err, service.ErrNotAdmin),
		errors.Is(err, service.ErrForbidden):
		h.writeError(w, http.StatusForbidden, err.Error())

	default:
		h.logger.Error("internal error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Something went wrong")
	}
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized, please login to continue")
	}
	return p, ok
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

type accountResponse struct {
	ID                   int64   `json:"id"`
	FirstName            string  `json:"firstName"`
	LastName             string  `json:"lastName"`
	Email                string  `json:"email"`
	Phone                string  `json:"phone"`
	Country              string  `json:"country"`
	City                 string  `json:"city"`
	Address              string  `json:"address"`
	Avatar               string  `json:"avatar"`
	AvailableBalance     float64 `json:"availableBalance"`
	Bonus                float64 `json:"bonus"`
	IsActive             bool    `json:"isActive"`
	IsAdmin              bool    `json:"isAdmin"`
	IsVerified           bool    `json:"isVerified"`
	HasPendingWithdrawal bool    `json:"hasPendingWithdrawal"`
	CreatedAt            string  `json:"createdAt"`
}

func toAccountResponse(a model.Account) accountResponse {
	return accountResponse{
		ID:                   a.ID,
		FirstName:            a.FirstName,
		LastName:             a.LastName,
		Email:                a.Email,
		Phone:                a.Phone,
		Country:              a.Country,
		City:                 a.City,
		Address:              a.Address,
		Avatar:               a.Avatar,
		AvailableBalance:     model.CentsToDollars(a.AvailableBalance),
		Bonus:                model.CentsToDollars(a.Bonus),
		IsActive:             a.IsActive,
		IsAdmin:              a.IsAdmin,
		IsVerified:           a.IsVerified,
		HasPendingWithdrawal: a.HasPendingWithdrawal,
		CreatedAt:            a.CreatedAt.Format(time.RFC3339),
	}
}

type tradeResponse struct {
	ID               int64   `json:"id"`
	AccountID        int64   `json:"userId"`
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	InvestmentAmount float64 `json:"investmentAmount"`
	CurrentValue     float64 `json:"currentValue"`
	Status           string  `json:"status"`
	CreatedAt        string  `json:"createdAt"`
	ClosedAt         string  `json:"closedAt,omitempty"`
}

func toTradeResponse(t model.Trade) tradeResponse {
	resp := tradeResponse{
		ID:               t.ID,
		AccountID:        t.AccountID,
		Symbol:           t.Symbol,
		Name:             t.Name,
		InvestmentAmount: model.CentsToDollars(t.InvestmentAmount),
		CurrentValue:     model.CentsToDollars(t.CurrentValue),
		Status:           string(t.Status),
		CreatedAt:        t.CreatedAt.Format(time.RFC3339),
	}
	if t.ClosedAt != nil {
		resp.ClosedAt = t.ClosedAt.Format(time.RFC3339)
	}
	return resp
}

func toTradeResponses(trades []model.Trade) []tradeResponse {
	resp := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		resp = append(resp, toTradeResponse(t))
	}
	return resp
}

type entryResponse struct {
	ID          int64   `json:"id"`
	AccountID   int64   `json:"userId"`
	TradeID     *int64  `json:"tradeId,omitempty"`
	Amount      float64 `json:"amount"`
	Fee         float64 `json:"fee"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Method      string  `json:"method"`
	Recipient   string  `json:"recipient,omitempty"`
	Reference   string  `json:"reference"`
	Description string  `json:"description"`
	ReceiptURL  string  `json:"receiptUrl,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

func toEntryResponse(e model.LedgerEntry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		AccountID:   e.AccountID,
		TradeID:     e.TradeID,
		Amount:      model.CentsToDollars(e.Amount),
		Fee:         model.CentsToDollars(e.Fee),
		Type:        string(e.Type),
		Status:      string(e.Status),
		Method:      e.Method,
		Recipient:   e.Recipient,
		Reference:   e.Reference,
		Description: e.Description,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryResponses(entries []model.LedgerEntry) []entryResponse {
	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toEntryResponse(e))
	}
	return resp
}
