// Package ledger computes balance mutations. Every change to an account's
// available balance, bonus or pending-withdrawal flag is expressed as a
// Mutation produced by one of the functions here; the repository applies a
// Mutation together with its ledger entry in a single database transaction
// while holding a lock on the account row.
package ledger

import (
	"errors"
	"fmt"

	"github.com/stocksnav/stocksnav/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a debit would take the available
	// balance or bonus below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountInactive is returned when the account is deactivated.
	ErrAccountInactive = errors.New("account is not active")
	// ErrInvalidAmount is returned for non-positive or negative amounts where
	// a positive one is required.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrWithdrawalPending is returned when a withdrawal is requested while
	// another one is still awaiting moderation.
	ErrWithdrawalPending = errors.New("a withdrawal is already pending")
	// ErrAlreadyProcessed is returned when a moderation decision targets an
	// entry that is no longer pending.
	ErrAlreadyProcessed = errors.New("transaction already processed")
	// ErrWrongEntryType is returned when a moderation decision targets an
	// entry of the wrong type.
	ErrWrongEntryType = errors.New("wrong transaction type")
	// ErrTradeNotRunning is returned when pausing a trade that is not running.
	ErrTradeNotRunning = errors.New("trade is not running")
	// ErrTradeNotPaused is returned when resuming a trade that is not paused.
	ErrTradeNotPaused = errors.New("trade is not paused")
	// ErrTradeClosed is returned when operating on a completed trade.
	ErrTradeClosed = errors.New("trade is already closed")
	// ErrNothingToClaim is returned when claiming profit from a trade whose
	// current value is zero or negative.
	ErrNothingToClaim = errors.New("nothing to claim")
	// ErrTradeNotLosing is returned when a non-admin tries to force-close a
	// trade whose current value has not fallen below the investment.
	ErrTradeNotLosing = errors.New("trade is not at a loss")
)

// EntryDraft describes the ledger entry to insert alongside a mutation.
// Amount is a signed cent delta.
type EntryDraft struct {
	Type        model.LedgerType
	Status      model.LedgerStatus
	Amount      int64
	Fee         int64
	Method      string
	Recipient   string
	Reference   string
	Description string
	ReceiptKey  string
}

// TradeDraft describes a trade to create within the same transaction as the
// mutation that funds it.
type TradeDraft struct {
	Symbol           string
	Name             string
	InvestmentAmount int64
}

// Mutation is the full set of changes to apply atomically: account field
// deltas, an optional ledger entry insert, an optional trade insert, and
// optional updates to the locked trade or ledger entry.
type Mutation struct {
	BalanceDelta         int64
	BonusDelta           int64
	SetBalance           *int64
	SetPendingWithdrawal *bool
	Entry                *EntryDraft
	NewTrade             *TradeDraft
	TradeStatus          *model.TradeStatus
	TradeValue           *int64
	EntryStatus          *model.LedgerStatus
	EntryDescription     *string
}

// Apply returns the account's financial fields after the mutation, rejecting
// results that would violate the non-negative invariants. The repository calls
// this inside the transaction; tests use it to model an account directly.
func (m *Mutation) Apply(acc model.Account) (model.Account, error) {
	if m.SetBalance != nil {
		acc.AvailableBalance = *m.SetBalance
	} else {
		acc.AvailableBalance += m.BalanceDelta
	}
	acc.Bonus += m.BonusDelta

	if acc.AvailableBalance < 0 || acc.Bonus < 0 {
		return model.Account{}, ErrInsufficientFunds
	}
	if m.SetPendingWithdrawal != nil {
		acc.HasPendingWithdrawal = *m.SetPendingWithdrawal
	}
	return acc, nil
}

func active(acc model.Account) error {
	if !acc.IsActive {
		return ErrAccountInactive
	}
	return nil
}

func tradeOpen(trade model.Trade) error {
	if trade.Status == model.TradeStatusCompleted {
		return ErrTradeClosed
	}
	return nil
}

func pendingOfType(entry model.LedgerEntry, t model.LedgerType) error {
	if entry.Type != t {
		return ErrWrongEntryType
	}
	if entry.Status != model.LedgerStatusPending {
		return ErrAlreadyProcessed
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// OpenTrade debits the investment amount and creates a running trade.
func OpenTrade(acc model.Account, symbol, name string, amount int64, reference string) (*Mutation, error) {
	if err := active(acc); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if acc.AvailableBalance < amount {
		return nil, ErrInsufficientFunds
	}

	return &Mutation{
		BalanceDelta: -amount,
		NewTrade: &TradeDraft{
			Symbol:           symbol,
			Name:             name,
			InvestmentAmount: amount,
		},
		Entry: &EntryDraft{
			Type:        model.LedgerTypeTrade,
			Status:      model.LedgerStatusCompleted,
			Amount:      -amount,
			Method:      "trade",
			Reference:   reference,
			Description: fmt.Sprintf("You invested $%.2f in %s", model.CentsToDollars(amount), name),
		},
	}, nil
}

// ClaimProfit credits the trade's current value back to the account and marks
// the trade completed. Valid only while the trade is running or paused and
// holds a positive value.
func ClaimProfit(acc model.Account, trade model.Trade, reference string) (*Mutation, error) {
	if err := active(acc); err != nil {
		return nil, err
	}
	if err := tradeOpen(trade); err != nil {
		return nil, err
	}
	if trade.CurrentValue <= 0 {
		return nil, ErrNothingToClaim
	}

	return &Mutation{
		BalanceDelta: trade.CurrentValue,
		TradeStatus:  ptr(model.TradeStatusCompleted),
		Entry: &EntryDraft{
			Type:        model.LedgerTypeProfitClaim,
			Status:      model.LedgerStatusCompleted,
			Amount:      trade.CurrentValue,
			Method:      "trade",
			Reference:   reference,
			Description: fmt.Sprintf("You claimed $%.2f from %s", model.CentsToDollars(trade.CurrentValue), trade.Name),
		},
	}, nil
}

// PauseTrade moves a running trade to paused. No balance effect.
func PauseTrade(trade model.Trade) (*Mutation, error) {
	if trade.Status != model.TradeStatusRunning {
		return nil, ErrTradeNotRunning
	}
	return &Mutation{TradeStatus: ptr(model.TradeStatusPaused)}, nil
}

// ResumeTrade moves a paused trade back to running. No balance effect.
func ResumeTrade(trade model.Trade) (*Mutation, error) {
	if trade.Status != model.TradeStatusPaused {
		return nil, ErrTradeNotPaused
	}
	return &Mutation{TradeStatus: ptr(model.TradeStatusRunning)}, nil
}

// SetTradeValue sets the simulated current value of an open trade.
func SetTradeValue(trade model.Trade, value int64) (*Mutation, error) {
	if err := tradeOpen(trade); err != nil {
		return nil, err
	}
	if value < 0 {
		return nil, ErrInvalidAmount
	}
	return &Mutation{TradeValue: ptr(value)}, nil
}

// ForceClose terminates a trade without crediting anything back: the remaining
// current value is forfeited. Non-admin callers may only close losing trades.
func ForceClose(trade model.Trade, isAdmin bool) (*Mutation, error) {
	if err := tradeOpen(trade); err != nil {
		return nil, err
	}
	if !isAdmin && trade.CurrentValue >= trade.InvestmentAmount {
		return nil, ErrTradeNotLosing
	}
	return &Mutation{TradeStatus: ptr(model.TradeStatusCompleted)}, nil
}

// RequestDeposit records a pending deposit entry. The balance is credited only
// when an administrator approves the deposit.
func RequestDeposit(acc model.Account, amount int64, method, receiptKey, reference string) (*Mutation, error) {
	if err := active(acc); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	return &Mutation{
		Entry: &EntryDraft{
			Type:        model.LedgerTypeDeposit,
			Status:      model.LedgerStatusPending,
			Amount:      amount,
			Method:      method,
			Recipient:   acc.Email,
			Reference:   reference,
			ReceiptKey:  receiptKey,
			Description: fmt.Sprintf("You deposited $%.2f via %s", model.CentsToDollars(amount), method),
		},
	}, nil
}

// RequestWithdrawal places a hold: the amount is debited immediately, the
// pending-withdrawal flag is set, and the entry waits for moderation. Only one
// withdrawal may be outstanding per account.
func RequestWithdrawal(acc model.Account, amount int64, method, recipient, reference string) (*Mutation, error) {
	if err := active(acc); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if acc.HasPendingWithdrawal {
		return nil, ErrWithdrawalPending
	}
	if acc.AvailableBalance < amount {
		return nil, ErrInsufficientFunds
	}

	return &Mutation{
		BalanceDelta:         -amount,
		SetPendingWithdrawal: ptr(true),
		Entry: &EntryDraft{
			Type:        model.LedgerTypeWithdrawal,
			Status:      model.LedgerStatusPending,
			Amount:      -amount,
			Method:      method,
			Recipient:   recipient,
			Reference:   reference,
			Description: fmt.Sprintf("You withdrew $%.2f via %s", model.CentsToDollars(amount), method),
		},
	}, nil
}

// ApproveDeposit credits a pending deposit exactly once and completes it.
// Deactivated accounts cannot be credited; the deposit stays pending until the
// account is reactivated or the deposit is rejected.
func ApproveDeposit(acc model.Account, entry model.LedgerEntry) (*Mutation, error) {
	if err := active(acc); err != nil {
		return nil, err
	}
	if err := pendingOfType(entry, model.LedgerTypeDeposit); err != nil {
		return nil, err
	}

	return &Mutation{
		BalanceDelta: entry.Amount,
		EntryStatus:  ptr(model.LedgerStatusCompleted),
		EntryDescription: ptr(fmt.Sprintf("Your deposit of $%.2f via %s was completed",
			model.CentsToDollars(entry.Amount), entry.Method)),
	}, nil
}

// RejectDeposit fails a pending deposit with no balance effect.
func RejectDeposit(acc model.Account, entry model.LedgerEntry) (*Mutation, error) {
	if err := pendingOfType(entry, model.LedgerTypeDeposit); err != nil {
		return nil, err
	}

	return &Mutation{
		EntryStatus: ptr(model.LedgerStatusFailed),
		EntryDescription: ptr(fmt.Sprintf("Your deposit of $%.2f via %s was rejected",
			model.CentsToDollars(entry.Amount), entry.Method)),
	}, nil
}

// ApproveWithdrawal completes a pending withdrawal. The amount was already
// debited when the hold was placed, so only the flag is cleared.
func ApproveWithdrawal(acc model.Account, entry model.LedgerEntry) (*Mutation, error) {
	if err := active(acc); err != nil {
		return nil, err
	}
	if err := pendingOfType(entry, model.LedgerTypeWithdrawal); err != nil {
		return nil, err
	}

	return &Mutation{
		SetPendingWithdrawal: ptr(false),
		EntryStatus:          ptr(model.LedgerStatusCompleted),
		EntryDescription: ptr(fmt.Sprintf("Your withdrawal of $%.2f via %s was completed",
			model.CentsToDollars(-entry.Amount), entry.Method)),
	}, nil
}

// RejectWithdrawal fails a pending withdrawal and restores the held amount.
// Unlike approval it works on deactivated accounts too, so a hold can always
// be unwound.
func RejectWithdrawal(acc model.Account, entry model.LedgerEntry) (*Mutation, error) {
	if err := pendingOfType(entry, model.LedgerTypeWithdrawal); err != nil {
		return nil, err
	}

	return &Mutation{
		// entry.Amount is the negative hold delta, so subtracting it credits
		// the amount back.
		BalanceDelta:         -entry.Amount,
		SetPendingWithdrawal: ptr(false),
		EntryStatus:          ptr(model.LedgerStatusFailed),
		EntryDescription: ptr(fmt.Sprintf("Your withdrawal of $%.2f via %s was rejected",
			model.CentsToDollars(-entry.Amount), entry.Method)),
	}, nil
}

// AdjustBonus adds or subtracts a bonus, mirroring the change into the
// available balance.
func AdjustBonus(acc model.Account, amount int64, add bool, reference string) (*Mutation, error) {
	if err := active(acc); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	delta := amount
	description := fmt.Sprintf("You received $%.2f as bonus", model.CentsToDollars(amount))
	if !add {
		delta = -amount
		description = fmt.Sprintf("A bonus of $%.2f was revoked", model.CentsToDollars(amount))
		if acc.Bonus < amount || acc.AvailableBalance < amount {
			return nil, ErrInsufficientFunds
		}
	}

	return &Mutation{
		BalanceDelta: delta,
		BonusDelta:   delta,
		Entry: &EntryDraft{
			Type:        model.LedgerTypeBonus,
			Status:      model.LedgerStatusCompleted,
			Amount:      delta,
			Method:      "bonus",
			Reference:   reference,
			Description: description,
		},
	}, nil
}

// SetBalance sets the available balance to an absolute value. The entry amount
// is the applied delta so the ledger still sums to the balance.
func SetBalance(acc model.Account, balance int64, reference string) (*Mutation, error) {
	if err := active(acc); err != nil {
		return nil, err
	}
	if balance < 0 {
		return nil, ErrInvalidAmount
	}

	return &Mutation{
		SetBalance: ptr(balance),
		Entry: &EntryDraft{
			Type:        model.LedgerTypeBonus,
			Status:      model.LedgerStatusCompleted,
			Amount:      balance - acc.AvailableBalance,
			Method:      "adjustment",
			Reference:   reference,
			Description: fmt.Sprintf("Your balance was set to $%.2f by an administrator", model.CentsToDollars(balance)),
		},
	}, nil
}
