package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stocksnav/stocksnav/internal/ledger"
	"github.com/stocksnav/stocksnav/internal/model"
)

// MutationFunc computes a mutation from the locked account snapshot.
type MutationFunc func(acc model.Account) (*ledger.Mutation, error)

// EntryMutationFunc computes a mutation from a locked ledger entry and its
// locked owning account.
type EntryMutationFunc func(acc model.Account, entry model.LedgerEntry) (*ledger.Mutation, error)

// TradeMutationFunc computes a mutation from a locked trade and its locked
// owning account.
type TradeMutationFunc func(acc model.Account, trade model.Trade) (*ledger.Mutation, error)

// MutateAccount locks the account row, runs fn on the snapshot and applies the
// resulting mutation together with its ledger entry in one transaction.
// Concurrent mutations of the same account serialize on the row lock, so the
// snapshot fn sees is always current.
func (r *Repository) MutateAccount(ctx context.Context, accountID int64, fn MutationFunc) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		entry, err = r.mutate(ctx, accountID, 0, 0, func(acc model.Account, _ *model.LedgerEntry, _ *model.Trade) (*ledger.Mutation, error) {
			return fn(acc)
		})
		return err
	})
	return entry, err
}

// MutateAccountWithEntry locks the ledger entry, then its owning account, and
// applies the mutation fn computes from both. Used by deposit and withdrawal
// moderation.
func (r *Repository) MutateAccountWithEntry(ctx context.Context, entryID int64, fn EntryMutationFunc) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		entry, err = r.mutate(ctx, 0, entryID, 0, func(acc model.Account, e *model.LedgerEntry, _ *model.Trade) (*ledger.Mutation, error) {
			return fn(acc, *e)
		})
		return err
	})
	return entry, err
}

// MutateAccountWithTrade locks the trade, then its owning account, and applies
// the mutation fn computes from both. Used by the trade lifecycle.
func (r *Repository) MutateAccountWithTrade(ctx context.Context, tradeID int64, fn TradeMutationFunc) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		entry, err = r.mutate(ctx, 0, 0, tradeID, func(acc model.Account, _ *model.LedgerEntry, t *model.Trade) (*ledger.Mutation, error) {
			return fn(acc, *t)
		})
		return err
	})
	return entry, err
}

type mutateFunc func(acc model.Account, entry *model.LedgerEntry, trade *model.Trade) (*ledger.Mutation, error)

// mutate is the single write path for account financial fields. Child rows
// (entry or trade) are locked before the account so all callers take locks in
// the same order.
func (r *Repository) mutate(ctx context.Context, accountID, entryID, tradeID int64, fn mutateFunc) (*model.LedgerEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var lockedEntry *model.LedgerEntry
	if entryID != 0 {
		row := tx.QueryRow(ctx,
			`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, entryID)
		lockedEntry, err = scanEntry(row)
		if err != nil {
			return nil, err
		}
		accountID = lockedEntry.AccountID
	}

	var lockedTrade *model.Trade
	if tradeID != 0 {
		row := tx.QueryRow(ctx,
			`SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, tradeID)
		lockedTrade, err = scanTrade(row)
		if err != nil {
			return nil, err
		}
		accountID = lockedTrade.AccountID
	}

	row := tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	acc, err := scanAccount(row)
	if err != nil {
		return nil, err
	}

	mut, err := fn(*acc, lockedEntry, lockedTrade)
	if err != nil {
		return nil, err
	}

	entry, err := r.apply(ctx, tx, *acc, lockedEntry, lockedTrade, mut)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return entry, nil
}

func (r *Repository) apply(ctx context.Context, tx pgx.Tx, acc model.Account, lockedEntry *model.LedgerEntry, lockedTrade *model.Trade, mut *ledger.Mutation) (*model.LedgerEntry, error) {
	updated, err := mut.Apply(acc)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET available_balance = $2, bonus = $3, has_pending_withdrawal = $4 WHERE id = $1`,
		acc.ID, updated.AvailableBalance, updated.Bonus, updated.HasPendingWithdrawal,
	)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}

	var entryTradeID *int64
	if lockedTrade != nil {
		entryTradeID = &lockedTrade.ID
	}

	if mut.NewTrade != nil {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO trades (account_id, symbol, name, investment_amount, current_value, status)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			acc.ID, mut.NewTrade.Symbol, mut.NewTrade.Name, mut.NewTrade.InvestmentAmount,
			mut.NewTrade.InvestmentAmount, string(model.TradeStatusRunning),
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert trade: %w", err)
		}
		entryTradeID = &id
	}

	if lockedTrade != nil && (mut.TradeStatus != nil || mut.TradeValue != nil) {
		status := lockedTrade.Status
		if mut.TradeStatus != nil {
			status = *mut.TradeStatus
		}
		value := lockedTrade.CurrentValue
		if mut.TradeValue != nil {
			value = *mut.TradeValue
		}
		_, err := tx.Exec(ctx,
			`UPDATE trades
			 SET status = $2, current_value = $3,
			     closed_at = CASE WHEN $2 = 'completed' THEN now() ELSE closed_at END
			 WHERE id = $1`,
			lockedTrade.ID, string(status), value,
		)
		if err != nil {
			return nil, fmt.Errorf("update trade: %w", err)
		}
	}

	var result *model.LedgerEntry

	if mut.Entry != nil {
		row := tx.QueryRow(ctx,
			`INSERT INTO ledger_entries (account_id, trade_id, amount, fee, type, status, method, recipient, reference, description, receipt_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING `+entryColumns,
			acc.ID, entryTradeID, mut.Entry.Amount, mut.Entry.Fee, string(mut.Entry.Type),
			string(mut.Entry.Status), mut.Entry.Method, mut.Entry.Recipient, mut.Entry.Reference,
			mut.Entry.Description, mut.Entry.ReceiptKey,
		)
		result, err = scanEntry(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return nil, fmt.Errorf("%w: duplicate reference %s", ledger.ErrAlreadyProcessed, mut.Entry.Reference)
			}
			return nil, fmt.Errorf("insert ledger entry: %w", err)
		}
	}

	if lockedEntry != nil && (mut.EntryStatus != nil || mut.EntryDescription != nil) {
		status := lockedEntry.Status
		if mut.EntryStatus != nil {
			status = *mut.EntryStatus
		}
		description := lockedEntry.Description
		if mut.EntryDescription != nil {
			description = *mut.EntryDescription
		}
		row := tx.QueryRow(ctx,
			`UPDATE ledger_entries SET status = $2, description = $3 WHERE id = $1
			 RETURNING `+entryColumns,
			lockedEntry.ID, string(status), description,
		)
		result, err = scanEntry(row)
		if err != nil {
			return nil, fmt.Errorf("update ledger entry: %w", err)
		}
	}

	return result, nil
}
