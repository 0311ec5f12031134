package handler

import (
	"net/http"

	"github.com/stocksnav/stocksnav/internal/model"
	"github.com/stocksnav/stocksnav/internal/service"
	"github.com/stocksnav/stocksnav/internal/validation"
)

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Phone     string `json:"phone"`
	Country   string `json:"country"`
}

type authData struct {
	Account accountResponse `json:"account"`
	Token   string          `json:"token"`
}

// Register creates a new account and returns it with a bearer token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.FirstName == "" || req.LastName == "" || req.Email == "" ||
		req.Password == "" || req.Phone == "" || req.Country == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}
	if !validation.IsValidEmail(req.Email) {
		h.writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	acc, err := h.service.Register(r.Context(), service.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Phone:     req.Phone,
		Country:   req.Country,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	token, err := h.authMiddleware.IssueToken(model.Principal{ID: acc.ID}, h.tokenTTL)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, apiResponse{
		Success: true,
		Message: "User registered successfully",
		Data:    authData{Account: toAccountResponse(*acc), Token: token},
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates a user and returns a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, false)
}

// AdminLogin authenticates an administrator and returns a bearer token.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, true)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, admin bool) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	var (
		acc, err = h.service.Login(r.Context(), req.Email, req.Password)
		ttl      = h.tokenTTL
		message  = "Login successful"
	)
	if admin {
		acc, err = h.service.AdminLogin(r.Context(), req.Email, req.Password)
		ttl = h.adminTokenTTL
		message = "Admin login successful"
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	token, err := h.authMiddleware.IssueToken(model.Principal{ID: acc.ID, IsAdmin: acc.IsAdmin}, ttl)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: message,
		Data:    authData{Account: toAccountResponse(*acc), Token: token},
	})
}

type verifyRequest struct {
	OTP string `json:"otp"`
}

// VerifyOTP confirms the emailed verification code for the current account.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if err := decodeBody(r, &req); err != nil || req.OTP == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	acc, err := h.service.VerifyOTP(r.Context(), p.ID, req.OTP)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "OTP verified successfully",
		Data:    toAccountResponse(*acc),
	})
}

// CheckAuth returns the current account.
func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
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
		Message: "User authenticated",
		Data:    toAccountResponse(*acc),
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword emails a password-reset link.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeBody(r, &req); err != nil || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Reset link sent successfully. Please check your email.",
	})
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// ResetPassword sets a new password using the emailed reset code.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeBody(r, &req); err != nil || req.Email == "" || req.Code == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Email, req.Code, req.Password); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Password reset successfully",
	})
}
