// Package service implements the business logic of the trading platform.
package service

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/stocksnav/stocksnav/internal/model"
	"github.com/stocksnav/stocksnav/internal/repository"
)

var (
	// ErrInvalidCredentials is returned when the email or password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAdmin is returned when an admin login is attempted by a regular
	// account.
	ErrNotAdmin = errors.New("account is not an administrator")
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("operation not permitted")
	// ErrInvalidOTP is returned when a verification code does not match.
	ErrInvalidOTP = errors.New("invalid verification code")
	// ErrOTPExpired is returned when a verification code is past its expiry.
	ErrOTPExpired = errors.New("verification code expired")
)

// Repository is the data-access contract used by the service. The Mutate*
// methods are the only write path for account balances, bonuses and the
// pending-withdrawal flag.
type Repository interface {
	Close() error

	CreateAccount(ctx context.Context, acc *model.Account) (int64, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByID(ctx context.Context, id int64) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	UpdateProfile(ctx context.Context, acc *model.Account) error
	UpdatePassword(ctx context.Context, id int64, hash []byte) error
	SetOTP(ctx context.Context, id int64, otp string, expiresAt time.Time) error
	SetVerified(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	SetAdmin(ctx context.Context, id int64, admin bool) error
	DeleteAccount(ctx context.Context, id int64) error

	MutateAccount(ctx context.Context, accountID int64, fn repository.MutationFunc) (*model.LedgerEntry, error)
	MutateAccountWithEntry(ctx context.Context, entryID int64, fn repository.EntryMutationFunc) (*model.LedgerEntry, error)
	MutateAccountWithTrade(ctx context.Context, tradeID int64, fn repository.TradeMutationFunc) (*model.LedgerEntry, error)

	GetTradeByID(ctx context.Context, id int64) (*model.Trade, error)
	ListTradesByAccount(ctx context.Context, accountID int64) ([]model.Trade, error)
	ListTrades(ctx context.Context) ([]model.Trade, error)

	GetEntryByID(ctx context.Context, id int64) (*model.LedgerEntry, error)
	ListEntriesByAccount(ctx context.Context, accountID int64) ([]model.LedgerEntry, error)
	ListEntries(ctx context.Context) ([]model.LedgerEntry, error)

	CreatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) (int64, error)
	ListPaymentMethods(ctx context.Context) ([]model.PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) error
	DeletePaymentMethod(ctx context.Context, id int64) error
}

// Mailer delivers transactional email. Delivery is best-effort: failures are
// logged and never fail the request that triggered them.
type Mailer interface {
	Send(ctx context.Context, to, toName, subject, html string) error
}

// ObjectStore stores uploaded images and produces read links.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Service contains the business logic of the trading platform.
type Service struct {
	repo        Repository
	mailer      Mailer
	store       ObjectStore
	logger      *zap.Logger
	frontendURL string
}

// New creates a Service. Mailer and store may be nil, in which case email
// delivery and image upload are disabled.
func New(repo Repository, mailer Mailer, store ObjectStore, logger *zap.Logger, frontendURL string) *Service {
	return &Service{
		repo:        repo,
		mailer:      mailer,
		store:       store,
		logger:      logger,
		frontendURL: frontendURL,
	}
}

// Close releases the service's resources.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) sendMail(ctx context.Context, to, toName, subject, html string) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.Send(ctx, to, toName, subject, html); err != nil {
		s.logger.Warn("send mail", zap.Error(err), zap.String("to", to), zap.String("subject", subject))
	}
}
