package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/stocksnav/stocksnav/internal/middleware"
)

// SetupRouter configures the HTTP routes and middleware of the platform API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/admin-login", h.AdminLogin)
			r.Post("/forgot-password", h.ForgotPassword)
			r.Post("/reset-password", h.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)
				r.Post("/verify", h.VerifyOTP)
				r.Get("/check", h.CheckAuth)
			})
		})

		r.Route("/trade", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/create", h.CreateTrade)
			r.Post("/claim-profit", h.ClaimProfit)
			r.Put("/pause/{tradeID}", h.PauseTrade)
			r.Put("/resume/{tradeID}", h.ResumeTrade)
			r.Delete("/delete/{tradeID}", h.DeleteTrade)
			r.Get("/user", h.GetUserTrades)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.RequireAdmin)
				r.Put("/update-current-value/{tradeID}", h.UpdateCurrentValue)
				r.Get("/all", h.GetAllTrades)
			})
		})

		r.Route("/transaction", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/deposit", h.Deposit)
			r.Post("/withdraw", h.Withdraw)
			r.Get("/user", h.GetUserTransactions)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.RequireAdmin)
				r.Post("/approve-or-reject", h.ModerateDeposit)
				r.Post("/approve-or-reject-withdrawal", h.ModerateWithdrawal)
				r.Get("/all", h.GetAllTransactions)
			})

			r.Get("/{id}", h.GetTransaction)
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/balance", h.GetBalance)
			r.Put("/update-profile", h.UpdateProfile)
			r.Put("/change-password", h.ChangePassword)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.RequireAdmin)
				r.Get("/all", h.GetAllUsers)
				r.Put("/update-balance/{userID}", h.UpdateUserBalance)
				r.Put("/update-bonus/{userID}", h.UpdateUserBonus)
				r.Post("/activate/{userID}", h.ActivateUser)
				r.Post("/deactivate/{userID}", h.DeactivateUser)
				r.Post("/make-admin/{userID}", h.MakeUserAdmin)
				r.Post("/remove-admin/{userID}", h.RemoveUserAdmin)
				r.Delete("/delete/{userID}", h.DeleteUser)
			})
		})

		r.Route("/payment-method", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/", h.ListPaymentMethods)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.RequireAdmin)
				r.Post("/", h.CreatePaymentMethod)
				r.Put("/{id}", h.UpdatePaymentMethod)
				r.Delete("/{id}", h.DeletePaymentMethod)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, "Not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
