package service

import (
	"context"
	"time"

	"github.com/stocksnav/stocksnav/internal/ledger"
	"github.com/stocksnav/stocksnav/internal/model"
)

const avatarLinkTTL = 7 * 24 * time.Hour

// ListAccounts returns every account on the platform.
func (s *Service) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.repo.ListAccounts(ctx)
}

// SetAccountActive activates or deactivates an account.
func (s *Service) SetAccountActive(ctx context.Context, accountID int64, active bool) error {
	return s.repo.SetActive(ctx, accountID, active)
}

// SetAccountAdmin grants or revokes the admin role.
func (s *Service) SetAccountAdmin(ctx context.Context, accountID int64, admin bool) error {
	return s.repo.SetAdmin(ctx, accountID, admin)
}

// DeleteAccount removes an account. Accounts with open trades or a pending
// withdrawal are refused.
func (s *Service) DeleteAccount(ctx context.Context, accountID int64) error {
	return s.repo.DeleteAccount(ctx, accountID)
}

// SetAccountBalance sets an absolute available balance and records the applied
// delta in the ledger.
func (s *Service) SetAccountBalance(ctx context.Context, accountID, balance int64) (*model.LedgerEntry, error) {
	ref := reference("ADJ", "")

	return s.repo.MutateAccount(ctx, accountID, func(acc model.Account) (*ledger.Mutation, error) {
		return ledger.SetBalance(acc, balance, ref)
	})
}

// AdjustAccountBonus adds or subtracts a bonus, mirroring the change into the
// available balance.
func (s *Service) AdjustAccountBonus(ctx context.Context, accountID, amount int64, add bool) (*model.LedgerEntry, error) {
	ref := reference("BONUS", "")

	return s.repo.MutateAccount(ctx, accountID, func(acc model.Account) (*ledger.Mutation, error) {
		return ledger.AdjustBonus(acc, amount, add, ref)
	})
}

// ProfileInput carries the editable profile fields.
type ProfileInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Country   string
	City      string
	Address   string
	NewAvatar string
}

// UpdateProfile updates the account's contact fields and optionally replaces
// the avatar image.
func (s *Service) UpdateProfile(ctx context.Context, accountID int64, in ProfileInput) (*model.Account, error) {
	acc, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if in.NewAvatar != "" {
		key, err := s.uploadImage(ctx, "avatars", in.NewAvatar)
		if err != nil {
			return nil, err
		}
		if key != "" {
			link, err := s.store.PresignGet(ctx, key, avatarLinkTTL)
			if err != nil {
				return nil, err
			}
			acc.Avatar = link
		}
	}

	acc.FirstName = in.FirstName
	acc.LastName = in.LastName
	acc.Email = in.Email
	acc.Phone = in.Phone
	acc.Country = in.Country
	acc.City = in.City
	acc.Address = in.Address

	if err := s.repo.UpdateProfile(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// CreatePaymentMethod publishes a deposit destination.
func (s *Service) CreatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) (*model.PaymentMethod, error) {
	id, err := s.repo.CreatePaymentMethod(ctx, pm)
	if err != nil {
		return nil, err
	}
	pm.ID = id
	return pm, nil
}

// ListPaymentMethods returns the published deposit destinations.
func (s *Service) ListPaymentMethods(ctx context.Context) ([]model.PaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx)
}

// UpdatePaymentMethod updates a deposit destination.
func (s *Service) UpdatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) error {
	return s.repo.UpdatePaymentMethod(ctx, pm)
}

// DeletePaymentMethod removes a deposit destination.
func (s *Service) DeletePaymentMethod(ctx context.Context, id int64) error {
	return s.repo.DeletePaymentMethod(ctx, id)
}
