package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stocksnav/stocksnav/internal/model"
	"github.com/stocksnav/stocksnav/internal/service"
	"github.com/stocksnav/stocksnav/internal/validation"
)

func userIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	return id, err == nil && id > 0
}

type balanceResponse struct {
	AvailableBalance float64 `json:"availableBalance"`
	Bonus            float64 `json:"bonus"`
}

// GetBalance returns the current account's available balance and bonus.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	acc, err := h.service.GetAccount(r.Context(), p.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Balance fetched successfully",
		Data: balanceResponse{
			AvailableBalance: model.CentsToDollars(acc.AvailableBalance),
			Bonus:            model.CentsToDollars(acc.Bonus),
		},
	})
}

// GetAllUsers returns every account. Admin only.
func (h *Handler) GetAllUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Users fetched successfully",
		Data:    resp,
	})
}

type updateBalanceRequest struct {
	Balance float64 `json:"balance"`
}

// UpdateUserBalance sets an account's available balance. Admin only.
func (h *Handler) UpdateUserBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req updateBalanceRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Balance < 0 {
		h.writeError(w, http.StatusBadRequest, "Balance cannot be negative")
		return
	}

	entry, err := h.service.SetAccountBalance(r.Context(), id, model.DollarsToCents(req.Balance))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Balance updated successfully",
		Data:    toEntryResponse(*entry),
	})
}

type updateBonusRequest struct {
	Bonus float64 `json:"bonus"`
	Type  string  `json:"type"`
}

// UpdateUserBonus adds to or subtracts from an account's bonus. Admin only.
func (h *Handler) UpdateUserBonus(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req updateBonusRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Bonus <= 0 {
		h.writeError(w, http.StatusBadRequest, "Bonus must be positive")
		return
	}
	if req.Type != "add" && req.Type != "subtract" {
		h.writeError(w, http.StatusBadRequest, "Type must be add or subtract")
		return
	}

	entry, err := h.service.AdjustAccountBonus(r.Context(), id, model.DollarsToCents(req.Bonus), req.Type == "add")
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Bonus updated successfully",
		Data:    toEntryResponse(*entry),
	})
}

func (h *Handler) setUserActive(w http.ResponseWriter, r *http.Request, active bool, message string) {
	id, ok := userIDParam(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	if err := h.service.SetAccountActive(r.Context(), id, active); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: message})
}

// ActivateUser re-enables a deactivated account. Admin only.
func (h *Handler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	h.setUserActive(w, r, true, "User activated successfully")
}

// DeactivateUser blocks an account from trading and transacting. Admin only.
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	h.setUserActive(w, r, false, "User deactivated successfully")
}

func (h *Handler) setUserAdmin(w http.ResponseWriter, r *http.Request, admin bool, message string) {
	id, ok := userIDParam(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	if err := h.service.SetAccountAdmin(r.Context(), id, admin); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: message})
}

// MakeUserAdmin grants the admin role. Admin only.
func (h *Handler) MakeUserAdmin(w http.ResponseWriter, r *http.Request) {
	h.setUserAdmin(w, r, true, "User promoted successfully")
}

// RemoveUserAdmin revokes the admin role. Admin only.
func (h *Handler) RemoveUserAdmin(w http.ResponseWriter, r *http.Request) {
	h.setUserAdmin(w, r, false, "User demoted successfully")
}

// DeleteUser removes an account. Accounts with open trades or a pending
// withdrawal are refused. Admin only.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	if err := h.service.DeleteAccount(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "User deleted successfully"})
}

type updateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Address   string `json:"address"`
	Avatar    string `json:"avatar"`
}

// UpdateProfile updates the current account's contact details and avatar.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}
	if !validation.IsValidEmail(req.Email) {
		h.writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	acc, err := h.service.UpdateProfile(r.Context(), p.ID, service.ProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Country:   req.Country,
		City:      req.City,
		Address:   req.Address,
		NewAvatar: req.Avatar,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Profile updated successfully",
		Data:    toAccountResponse(*acc),
	})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword replaces the current account's password.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeBody(r, &req); err != nil || req.OldPassword == "" || req.NewPassword == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	if err := h.service.ChangePassword(r.Context(), p.ID, req.OldPassword, req.NewPassword); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Password changed successfully"})
}
