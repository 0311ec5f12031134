package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stocksnav/stocksnav/internal/model"
)

const otpTTL = 10 * time.Minute

// RegisterInput carries the fields required to create an account.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Phone     string
	Country   string
}

// Register creates a new account, generates a verification code and emails it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	otp, err := randomDigits(6)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	acc := &model.Account{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: hash,
		Phone:        in.Phone,
		Country:      in.Country,
		Avatar: "https://ui-avatars.com/api/?background=13a870&color=fff&name=" +
			url.QueryEscape(in.FirstName+" "+in.LastName),
		OTP:          otp,
		OTPExpiresAt: time.Now().Add(otpTTL),
	}

	id, err := s.repo.CreateAccount(ctx, acc)
	if err != nil {
		return nil, err
	}
	acc.ID = id
	acc.IsActive = true

	s.sendMail(ctx, acc.Email, acc.FirstName+" "+acc.LastName,
		"Email Verification",
		fmt.Sprintf("<p>Hi %s,</p><p>Your verification code is <b>%s</b>. It expires in 10 minutes.</p>", acc.FirstName, otp))

	return acc, nil
}

// VerifyOTP checks the emailed verification code and marks the account
// verified.
func (s *Service) VerifyOTP(ctx context.Context, accountID int64, otp string) (*model.Account, error) {
	acc, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.OTP == "" || acc.OTP != otp {
		return nil, ErrInvalidOTP
	}
	if time.Now().After(acc.OTPExpiresAt) {
		return nil, ErrOTPExpired
	}

	if err := s.repo.SetVerified(ctx, accountID); err != nil {
		return nil, err
	}
	acc.IsVerified = true
	acc.OTP = ""
	return acc, nil
}

// Login authenticates a user by email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*model.Account, error) {
	acc, err := s.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return acc, nil
}

// AdminLogin authenticates an administrator.
func (s *Service) AdminLogin(ctx context.Context, email, password string) (*model.Account, error) {
	acc, err := s.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !acc.IsAdmin {
		return nil, ErrNotAdmin
	}
	return acc, nil
}

// ForgotPassword emails a reset link containing a one-time code.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	acc, err := s.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}

	code, err := randomDigits(8)
	if err != nil {
		return fmt.Errorf("generate reset code: %w", err)
	}

	if err := s.repo.SetOTP(ctx, acc.ID, code, time.Now().Add(30*time.Minute)); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/new-password?email=%s&code=%s", s.frontendURL, url.QueryEscape(email), code)
	s.sendMail(ctx, acc.Email, acc.FirstName+" "+acc.LastName,
		"Reset Password",
		fmt.Sprintf("<p>Hi %s,</p><p>Reset your password <a href=%q>here</a>. The link expires in 30 minutes.</p>", acc.FirstName, link))

	return nil
}

// ResetPassword sets a new password after checking the emailed reset code.
func (s *Service) ResetPassword(ctx context.Context, email, code, password string) error {
	acc, err := s.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}
	if acc.OTP == "" || acc.OTP != code {
		return ErrInvalidOTP
	}
	if time.Now().After(acc.OTPExpiresAt) {
		return ErrOTPExpired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, acc.ID, hash); err != nil {
		return err
	}
	// Invalidate the code so the link is single-use.
	return s.repo.SetOTP(ctx, acc.ID, "", time.Now())
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, accountID int64, oldPassword, newPassword string) error {
	acc, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, accountID, hash)
}

// GetAccount returns the account with the given id.
func (s *Service) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.repo.GetAccountByID(ctx, id)
}

func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
