package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/stocksnav/stocksnav/internal/ledger"
	"github.com/stocksnav/stocksnav/internal/model"
)

// reference returns the ledger reference for a mutation: the caller-provided
// idempotency key when present, otherwise a fresh prefixed uuid.
func reference(prefix, idempotencyKey string) string {
	if idempotencyKey != "" {
		return idempotencyKey
	}
	return prefix + "-" + uuid.NewString()
}

func ownedBy(p model.Principal, accountID int64) error {
	if p.IsAdmin || p.ID == accountID {
		return nil
	}
	return ErrForbidden
}

// OpenTrade debits the investment amount and opens a running trade.
func (s *Service) OpenTrade(ctx context.Context, accountID int64, symbol, name string, amount int64, idempotencyKey string) (*model.Trade, error) {
	ref := reference("TR", idempotencyKey)

	entry, err := s.repo.MutateAccount(ctx, accountID, func(acc model.Account) (*ledger.Mutation, error) {
		return ledger.OpenTrade(acc, symbol, name, amount, ref)
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetTradeByID(ctx, *entry.TradeID)
}

// ClaimProfit credits the trade's current value and completes it.
func (s *Service) ClaimProfit(ctx context.Context, p model.Principal, tradeID int64, idempotencyKey string) (*model.LedgerEntry, error) {
	ref := reference("TR", idempotencyKey)

	return s.repo.MutateAccountWithTrade(ctx, tradeID, func(acc model.Account, trade model.Trade) (*ledger.Mutation, error) {
		if err := ownedBy(p, trade.AccountID); err != nil {
			return nil, err
		}
		return ledger.ClaimProfit(acc, trade, ref)
	})
}

// PauseTrade stops a running trade.
func (s *Service) PauseTrade(ctx context.Context, p model.Principal, tradeID int64) (*model.Trade, error) {
	return s.toggleTrade(ctx, p, tradeID, ledger.PauseTrade)
}

// ResumeTrade restarts a paused trade.
func (s *Service) ResumeTrade(ctx context.Context, p model.Principal, tradeID int64) (*model.Trade, error) {
	return s.toggleTrade(ctx, p, tradeID, ledger.ResumeTrade)
}

func (s *Service) toggleTrade(ctx context.Context, p model.Principal, tradeID int64, op func(model.Trade) (*ledger.Mutation, error)) (*model.Trade, error) {
	_, err := s.repo.MutateAccountWithTrade(ctx, tradeID, func(acc model.Account, trade model.Trade) (*ledger.Mutation, error) {
		if err := ownedBy(p, trade.AccountID); err != nil {
			return nil, err
		}
		return op(trade)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetTradeByID(ctx, tradeID)
}

// SetTradeValue sets the simulated current value of a trade. Routes expose
// this to administrators only.
func (s *Service) SetTradeValue(ctx context.Context, tradeID, value int64) (*model.Trade, error) {
	_, err := s.repo.MutateAccountWithTrade(ctx, tradeID, func(acc model.Account, trade model.Trade) (*ledger.Mutation, error) {
		return ledger.SetTradeValue(trade, value)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetTradeByID(ctx, tradeID)
}

// ForceCloseTrade terminates a trade, forfeiting its remaining value. Owners
// may only close losing trades; administrators may close any trade.
func (s *Service) ForceCloseTrade(ctx context.Context, p model.Principal, tradeID int64) error {
	_, err := s.repo.MutateAccountWithTrade(ctx, tradeID, func(acc model.Account, trade model.Trade) (*ledger.Mutation, error) {
		if err := ownedBy(p, trade.AccountID); err != nil {
			return nil, err
		}
		return ledger.ForceClose(trade, p.IsAdmin)
	})
	return err
}

// ListAccountTrades returns the trades of one account.
func (s *Service) ListAccountTrades(ctx context.Context, accountID int64) ([]model.Trade, error) {
	return s.repo.ListTradesByAccount(ctx, accountID)
}

// ListAllTrades returns every trade on the platform.
func (s *Service) ListAllTrades(ctx context.Context) ([]model.Trade, error) {
	return s.repo.ListTrades(ctx)
}
