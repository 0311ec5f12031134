// Package repository implements the PostgreSQL data store. All writes to an
// account's financial fields go through the Mutate* methods in mutation.go,
// which serialize on the account row.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/stocksnav/stocksnav/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrEmailExists is returned when registering an email that is taken.
	ErrEmailExists = errors.New("email already registered")
	// ErrAccountNotFound is returned when no account matches the lookup.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTradeNotFound is returned when no trade matches the lookup.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrEntryNotFound is returned when no ledger entry matches the lookup.
	ErrEntryNotFound = errors.New("transaction not found")
	// ErrPaymentMethodNotFound is returned when no payment method matches.
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	// ErrAccountBusy is returned when deleting an account that still has open
	// trades or a pending withdrawal.
	ErrAccountBusy = errors.New("account has open trades or a pending withdrawal")
)

// Repository provides access to the PostgreSQL store.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a repository and initializes the schema through migrations.
func New(dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &Repository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *Repository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry retries transient failures: serialization conflicts, deadlocks and
// dropped connections. Domain errors pass through untouched.
func (r *Repository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

const accountColumns = `id, first_name, last_name, email, password_hash, phone, country, city, address, avatar,
	available_balance, bonus, is_active, is_admin, is_verified, has_pending_withdrawal, otp, otp_expires_at, created_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.PasswordHash, &a.Phone, &a.Country,
		&a.City, &a.Address, &a.Avatar, &a.AvailableBalance, &a.Bonus, &a.IsActive, &a.IsAdmin,
		&a.IsVerified, &a.HasPendingWithdrawal, &a.OTP, &a.OTPExpiresAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// CreateAccount inserts a new account and returns its id.
func (r *Repository) CreateAccount(ctx context.Context, acc *model.Account) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (first_name, last_name, email, password_hash, phone, country, avatar, otp, otp_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		acc.FirstName, acc.LastName, acc.Email, acc.PasswordHash, acc.Phone, acc.Country,
		acc.Avatar, acc.OTP, acc.OTPExpiresAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrEmailExists, acc.Email)
		}
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// GetAccountByEmail returns the account registered under the given email.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// GetAccountByID returns the account with the given id.
func (r *Repository) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// ListAccounts returns all accounts, newest first.
func (r *Repository) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return accounts, nil
}

// UpdateProfile updates the account's contact fields.
func (r *Repository) UpdateProfile(ctx context.Context, acc *model.Account) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts
		 SET first_name = $2, last_name = $3, email = $4, phone = $5, country = $6, city = $7, address = $8, avatar = $9
		 WHERE id = $1`,
		acc.ID, acc.FirstName, acc.LastName, acc.Email, acc.Phone, acc.Country, acc.City, acc.Address, acc.Avatar,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrEmailExists, acc.Email)
		}
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash []byte) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetOTP stores a one-time code with its expiry.
func (r *Repository) SetOTP(ctx context.Context, id int64, otp string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET otp = $2, otp_expires_at = $3 WHERE id = $1`, id, otp, expiresAt)
	if err != nil {
		return fmt.Errorf("set otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetVerified marks the account email as verified and clears the code.
func (r *Repository) SetVerified(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET is_verified = TRUE, otp = '' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetActive toggles whether the account may transact.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetAdmin grants or revokes the admin role.
func (r *Repository) SetAdmin(ctx context.Context, id int64, admin bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET is_admin = $2 WHERE id = $1`, id, admin)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes an account together with its trades and ledger
// entries. Accounts with open trades or a pending withdrawal are refused.
func (r *Repository) DeleteAccount(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var pending bool
	err = tx.QueryRow(ctx,
		`SELECT has_pending_withdrawal FROM accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&pending)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lock account: %w", err)
	}
	if pending {
		return ErrAccountBusy
	}

	var openTrades int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE account_id = $1 AND status <> $2`,
		id, string(model.TradeStatusCompleted),
	).Scan(&openTrades)
	if err != nil {
		return fmt.Errorf("count open trades: %w", err)
	}
	if openTrades > 0 {
		return ErrAccountBusy
	}

	if _, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const tradeColumns = `id, account_id, symbol, name, investment_amount, current_value, status, created_at, closed_at`

func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var status string
	err := row.Scan(&t.ID, &t.AccountID, &t.Symbol, &t.Name, &t.InvestmentAmount,
		&t.CurrentValue, &status, &t.CreatedAt, &t.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	t.Status = model.TradeStatus(status)
	return &t, nil
}

// GetTradeByID returns the trade with the given id.
func (r *Repository) GetTradeByID(ctx context.Context, id int64) (*model.Trade, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	return scanTrade(row)
}

// ListTradesByAccount returns the account's trades, newest first.
func (r *Repository) ListTradesByAccount(ctx context.Context, accountID int64) ([]model.Trade, error) {
	return r.listTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
}

// ListTrades returns all trades, newest first.
func (r *Repository) ListTrades(ctx context.Context) ([]model.Trade, error) {
	return r.listTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades ORDER BY created_at DESC`)
}

func (r *Repository) listTrades(ctx context.Context, query string, args ...any) ([]model.Trade, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select trades: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return trades, nil
}

const entryColumns = `id, account_id, trade_id, amount, fee, type, status, method, recipient, reference, description, receipt_key, created_at`

func scanEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var entryType, status string
	err := row.Scan(&e.ID, &e.AccountID, &e.TradeID, &e.Amount, &e.Fee, &entryType, &status,
		&e.Method, &e.Recipient, &e.Reference, &e.Description, &e.ReceiptKey, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.Type = model.LedgerType(entryType)
	e.Status = model.LedgerStatus(status)
	return &e, nil
}

// GetEntryByID returns the ledger entry with the given id.
func (r *Repository) GetEntryByID(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	return scanEntry(row)
}

// ListEntriesByAccount returns the account's ledger entries, newest first.
func (r *Repository) ListEntriesByAccount(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	return r.listEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
}

// ListEntries returns all ledger entries, newest first.
func (r *Repository) ListEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	return r.listEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries ORDER BY created_at DESC`)
}

func (r *Repository) listEntries(ctx context.Context, query string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

// CreatePaymentMethod inserts a deposit payment method.
func (r *Repository) CreatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payment_methods (name, network, address, is_active) VALUES ($1, $2, $3, $4) RETURNING id`,
		pm.Name, pm.Network, pm.Address, pm.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create payment method: %w", err)
	}
	return id, nil
}

// ListPaymentMethods returns all payment methods.
func (r *Repository) ListPaymentMethods(ctx context.Context) ([]model.PaymentMethod, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, network, address, is_active, created_at FROM payment_methods ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select payment methods: %w", err)
	}
	defer rows.Close()

	var methods []model.PaymentMethod
	for rows.Next() {
		var pm model.PaymentMethod
		if err := rows.Scan(&pm.ID, &pm.Name, &pm.Network, &pm.Address, &pm.IsActive, &pm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		methods = append(methods, pm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return methods, nil
}

// UpdatePaymentMethod updates a deposit payment method.
func (r *Repository) UpdatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payment_methods SET name = $2, network = $3, address = $4, is_active = $5 WHERE id = $1`,
		pm.ID, pm.Name, pm.Network, pm.Address, pm.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentMethodNotFound
	}
	return nil
}

// DeletePaymentMethod removes a deposit payment method.
func (r *Repository) DeletePaymentMethod(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM payment_methods WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentMethodNotFound
	}
	return nil
}
