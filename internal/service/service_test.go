package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/stocksnav/stocksnav/internal/ledger"
	"github.com/stocksnav/stocksnav/internal/model"
	"github.com/stocksnav/stocksnav/internal/repository"
)

// fakeRepo is an in-memory Repository. Mutate* methods serialize on a mutex
// and apply mutations the same way the database transaction does.
type fakeRepo struct {
	mu       sync.Mutex
	accounts map[int64]*model.Account
	trades   map[int64]*model.Trade
	entries  map[int64]*model.LedgerEntry
	refs     map[string]bool
	nextID   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		accounts: make(map[int64]*model.Account),
		trades:   make(map[int64]*model.Trade),
		entries:  make(map[int64]*model.LedgerEntry),
		refs:     make(map[string]bool),
		nextID:   1,
	}
}

func (f *fakeRepo) id() int64 {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeRepo) addAccount(acc model.Account) *model.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc.ID == 0 {
		acc.ID = f.id()
	}
	f.accounts[acc.ID] = &acc
	return &acc
}

func (f *fakeRepo) addEntry(entry model.LedgerEntry) *model.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.ID == 0 {
		entry.ID = f.id()
	}
	f.entries[entry.ID] = &entry
	f.refs[entry.Reference] = true
	return &entry
}

func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) CreateAccount(ctx context.Context, acc *model.Account) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.accounts {
		if existing.Email == acc.Email {
			return 0, repository.ErrEmailExists
		}
	}
	stored := *acc
	stored.ID = f.id()
	stored.IsActive = true
	f.accounts[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeRepo) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acc := range f.accounts {
		if acc.Email == email {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (f *fakeRepo) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (f *fakeRepo) ListAccounts(ctx context.Context) ([]model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Account, 0, len(f.accounts))
	for _, acc := range f.accounts {
		out = append(out, *acc)
	}
	return out, nil
}

func (f *fakeRepo) UpdateProfile(ctx context.Context, acc *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.accounts[acc.ID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	stored.FirstName = acc.FirstName
	stored.LastName = acc.LastName
	stored.Email = acc.Email
	stored.Phone = acc.Phone
	stored.Country = acc.Country
	stored.City = acc.City
	stored.Address = acc.Address
	stored.Avatar = acc.Avatar
	return nil
}

func (f *fakeRepo) UpdatePassword(ctx context.Context, id int64, hash []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	acc.PasswordHash = hash
	return nil
}

func (f *fakeRepo) SetOTP(ctx context.Context, id int64, otp string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	acc.OTP = otp
	acc.OTPExpiresAt = expiresAt
	return nil
}

func (f *fakeRepo) SetVerified(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	acc.IsVerified = true
	acc.OTP = ""
	return nil
}

func (f *fakeRepo) SetActive(ctx context.Context, id int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	acc.IsActive = active
	return nil
}

func (f *fakeRepo) SetAdmin(ctx context.Context, id int64, admin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	acc.IsAdmin = admin
	return nil
}

func (f *fakeRepo) DeleteAccount(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if acc.HasPendingWithdrawal {
		return repository.ErrAccountBusy
	}
	for _, trade := range f.trades {
		if trade.AccountID == id && trade.Status != model.TradeStatusCompleted {
			return repository.ErrAccountBusy
		}
	}
	delete(f.accounts, id)
	return nil
}

func (f *fakeRepo) MutateAccount(ctx context.Context, accountID int64, fn repository.MutationFunc) (*model.LedgerEntry, error) {
	return f.mutate(accountID, 0, 0, func(acc model.Account, _ *model.LedgerEntry, _ *model.Trade) (*ledger.Mutation, error) {
		return fn(acc)
	})
}

func (f *fakeRepo) MutateAccountWithEntry(ctx context.Context, entryID int64, fn repository.EntryMutationFunc) (*model.LedgerEntry, error) {
	return f.mutate(0, entryID, 0, func(acc model.Account, e *model.LedgerEntry, _ *model.Trade) (*ledger.Mutation, error) {
		return fn(acc, *e)
	})
}

func (f *fakeRepo) MutateAccountWithTrade(ctx context.Context, tradeID int64, fn repository.TradeMutationFunc) (*model.LedgerEntry, error) {
	return f.mutate(0, 0, tradeID, func(acc model.Account, _ *model.LedgerEntry, t *model.Trade) (*ledger.Mutation, error) {
		return fn(acc, *t)
	})
}

func (f *fakeRepo) mutate(accountID, entryID, tradeID int64, fn func(model.Account, *model.LedgerEntry, *model.Trade) (*ledger.Mutation, error)) (*model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var lockedEntry *model.LedgerEntry
	if entryID != 0 {
		e, ok := f.entries[entryID]
		if !ok {
			return nil, repository.ErrEntryNotFound
		}
		lockedEntry = e
		accountID = e.AccountID
	}

	var lockedTrade *model.Trade
	if tradeID != 0 {
		t, ok := f.trades[tradeID]
		if !ok {
			return nil, repository.ErrTradeNotFound
		}
		lockedTrade = t
		accountID = t.AccountID
	}

	acc, ok := f.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}

	mut, err := fn(*acc, lockedEntry, lockedTrade)
	if err != nil {
		return nil, err
	}

	updated, err := mut.Apply(*acc)
	if err != nil {
		return nil, err
	}
	acc.AvailableBalance = updated.AvailableBalance
	acc.Bonus = updated.Bonus
	acc.HasPendingWithdrawal = updated.HasPendingWithdrawal

	var entryTradeID *int64
	if lockedTrade != nil {
		entryTradeID = &lockedTrade.ID
	}

	if mut.NewTrade != nil {
		trade := &model.Trade{
			ID:               f.id(),
			AccountID:        acc.ID,
			Symbol:           mut.NewTrade.Symbol,
			Name:             mut.NewTrade.Name,
			InvestmentAmount: mut.NewTrade.InvestmentAmount,
			CurrentValue:     mut.NewTrade.InvestmentAmount,
			Status:           model.TradeStatusRunning,
			CreatedAt:        time.Now(),
		}
		f.trades[trade.ID] = trade
		entryTradeID = &trade.ID
	}

	if lockedTrade != nil {
		if mut.TradeStatus != nil {
			lockedTrade.Status = *mut.TradeStatus
			if *mut.TradeStatus == model.TradeStatusCompleted {
				now := time.Now()
				lockedTrade.ClosedAt = &now
			}
		}
		if mut.TradeValue != nil {
			lockedTrade.CurrentValue = *mut.TradeValue
		}
	}

	var result *model.LedgerEntry

	if mut.Entry != nil {
		if f.refs[mut.Entry.Reference] {
			return nil, fmt.Errorf("%w: duplicate reference %s", ledger.ErrAlreadyProcessed, mut.Entry.Reference)
		}
		result = &model.LedgerEntry{
			ID:          f.id(),
			AccountID:   acc.ID,
			TradeID:     entryTradeID,
			Amount:      mut.Entry.Amount,
			Fee:         mut.Entry.Fee,
			Type:        mut.Entry.Type,
			Status:      mut.Entry.Status,
			Method:      mut.Entry.Method,
			Recipient:   mut.Entry.Recipient,
			Reference:   mut.Entry.Reference,
			Description: mut.Entry.Description,
			ReceiptKey:  mut.Entry.ReceiptKey,
			CreatedAt:   time.Now(),
		}
		f.entries[result.ID] = result
		f.refs[result.Reference] = true
	}

	if lockedEntry != nil {
		if mut.EntryStatus != nil {
			lockedEntry.Status = *mut.EntryStatus
		}
		if mut.EntryDescription != nil {
			lockedEntry.Description = *mut.EntryDescription
		}
		cp := *lockedEntry
		result = &cp
	}

	return result, nil
}

func (f *fakeRepo) GetTradeByID(ctx context.Context, id int64) (*model.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trade, ok := f.trades[id]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	cp := *trade
	return &cp, nil
}

func (f *fakeRepo) ListTradesByAccount(ctx context.Context, accountID int64) ([]model.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Trade
	for _, trade := range f.trades {
		if trade.AccountID == accountID {
			out = append(out, *trade)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListTrades(ctx context.Context) ([]model.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Trade, 0, len(f.trades))
	for _, trade := range f.trades {
		out = append(out, *trade)
	}
	return out, nil
}

func (f *fakeRepo) GetEntryByID(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return nil, repository.ErrEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

func (f *fakeRepo) ListEntriesByAccount(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LedgerEntry
	for _, entry := range f.entries {
		if entry.AccountID == accountID {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.LedgerEntry, 0, len(f.entries))
	for _, entry := range f.entries {
		out = append(out, *entry)
	}
	return out, nil
}

func (f *fakeRepo) CreatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id(), nil
}

func (f *fakeRepo) ListPaymentMethods(ctx context.Context) ([]model.PaymentMethod, error) {
	return nil, nil
}

func (f *fakeRepo) UpdatePaymentMethod(ctx context.Context, pm *model.PaymentMethod) error {
	return nil
}

func (f *fakeRepo) DeletePaymentMethod(ctx context.Context, id int64) error {
	return nil
}

// fakeMailer records sent messages.
type fakeMailer struct {
	mu       sync.Mutex
	subjects []string
}

func (m *fakeMailer) Send(ctx context.Context, to, toName, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

// fakeStore records uploaded keys.
type fakeStore struct {
	mu   sync.Mutex
	keys []string
}

func (s *fakeStore) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func (s *fakeStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

func newTestService(repo *fakeRepo) (*Service, *fakeMailer) {
	mailer := &fakeMailer{}
	return New(repo, mailer, &fakeStore{}, zap.NewNop(), "https://app.example.com"), mailer
}

func owner(id int64) model.Principal { return model.Principal{ID: id} }

func admin() model.Principal { return model.Principal{ID: 999, IsAdmin: true} }

func TestRegisterAndLogin(t *testing.T) {
	repo := newFakeRepo()
	svc, mailer := newTestService(repo)
	ctx := context.Background()

	acc, err := svc.Register(ctx, RegisterInput{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane@example.com",
		Password:  "s3cret",
		Phone:     "+15550100",
		Country:   "US",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acc.ID == 0 {
		t.Fatalf("account id not assigned")
	}
	if len(acc.OTP) != 6 {
		t.Fatalf("otp length = %d, want 6", len(acc.OTP))
	}
	if len(mailer.subjects) != 1 || mailer.subjects[0] != "Email Verification" {
		t.Fatalf("verification mail not sent: %v", mailer.subjects)
	}

	if _, err := svc.Login(ctx, "jane@example.com", "s3cret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Login(ctx, "jane@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: error = %v, want %v", err, ErrInvalidCredentials)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: error = %v, want %v", err, ErrInvalidCredentials)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	in := RegisterInput{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", Password: "pw"}
	if _, err := svc.Register(ctx, in); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(ctx, in); !errors.Is(err, repository.ErrEmailExists) {
		t.Fatalf("second register: error = %v, want %v", err, repository.ErrEmailExists)
	}
}

func TestVerifyOTP(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{
		Email:        "jane@example.com",
		IsActive:     true,
		OTP:          "123456",
		OTPExpiresAt: time.Now().Add(5 * time.Minute),
	})

	if _, err := svc.VerifyOTP(ctx, acc.ID, "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("wrong code: error = %v, want %v", err, ErrInvalidOTP)
	}

	verified, err := svc.VerifyOTP(ctx, acc.ID, "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified.IsVerified {
		t.Fatalf("account not marked verified")
	}

	expired := repo.addAccount(model.Account{
		Email:        "old@example.com",
		IsActive:     true,
		OTP:          "654321",
		OTPExpiresAt: time.Now().Add(-time.Minute),
	})
	if _, err := svc.VerifyOTP(ctx, expired.ID, "654321"); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expired code: error = %v, want %v", err, ErrOTPExpired)
	}
}

func TestAdminLogin(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	repo.addAccount(model.Account{Email: "user@example.com", PasswordHash: hash, IsActive: true})
	repo.addAccount(model.Account{Email: "admin@example.com", PasswordHash: hash, IsActive: true, IsAdmin: true})

	if _, err := svc.AdminLogin(ctx, "admin@example.com", "pw"); err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if _, err := svc.AdminLogin(ctx, "user@example.com", "pw"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("regular user: error = %v, want %v", err, ErrNotAdmin)
	}
}

func TestOpenTradeAndClaim(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 100_000})

	trade, err := svc.OpenTrade(ctx, acc.ID, "AAPL", "Apple Inc.", 40_000, "")
	if err != nil {
		t.Fatalf("open trade: %v", err)
	}
	if trade.Status != model.TradeStatusRunning {
		t.Fatalf("trade status = %s, want running", trade.Status)
	}
	if trade.CurrentValue != 40_000 {
		t.Fatalf("current value = %d, want 40000", trade.CurrentValue)
	}

	got, _ := repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 60_000 {
		t.Fatalf("balance = %d, want 60000", got.AvailableBalance)
	}

	if _, err := svc.SetTradeValue(ctx, trade.ID, 70_000); err != nil {
		t.Fatalf("set trade value: %v", err)
	}

	entry, err := svc.ClaimProfit(ctx, owner(acc.ID), trade.ID, "")
	if err != nil {
		t.Fatalf("claim profit: %v", err)
	}
	if entry.Amount != 70_000 {
		t.Fatalf("claim amount = %d, want 70000", entry.Amount)
	}

	got, _ = repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 130_000 {
		t.Fatalf("balance after claim = %d, want 130000", got.AvailableBalance)
	}

	// The trade stays as a completed row rather than being removed.
	closed, _ := repo.GetTradeByID(ctx, trade.ID)
	if closed.Status != model.TradeStatusCompleted {
		t.Fatalf("trade status after claim = %s, want completed", closed.Status)
	}

	if _, err := svc.ClaimProfit(ctx, owner(acc.ID), trade.ID, ""); !errors.Is(err, ledger.ErrTradeClosed) {
		t.Fatalf("second claim: error = %v, want %v", err, ledger.ErrTradeClosed)
	}
}

func TestClaimProfit_OtherUserForbidden(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 100_000})
	trade, err := svc.OpenTrade(ctx, acc.ID, "AAPL", "Apple Inc.", 40_000, "")
	if err != nil {
		t.Fatalf("open trade: %v", err)
	}

	intruder := repo.addAccount(model.Account{Email: "evil@example.com", IsActive: true})
	if _, err := svc.ClaimProfit(ctx, owner(intruder.ID), trade.ID, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("error = %v, want %v", err, ErrForbidden)
	}

	// Administrators may act on any trade.
	if _, err := svc.ClaimProfit(ctx, admin(), trade.ID, ""); err != nil {
		t.Fatalf("admin claim: %v", err)
	}
}

func TestForceCloseTrade(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 100_000})

	winning, err := svc.OpenTrade(ctx, acc.ID, "AAPL", "Apple Inc.", 30_000, "")
	if err != nil {
		t.Fatalf("open trade: %v", err)
	}
	if err := svc.ForceCloseTrade(ctx, owner(acc.ID), winning.ID); !errors.Is(err, ledger.ErrTradeNotLosing) {
		t.Fatalf("owner closing non-losing trade: error = %v, want %v", err, ledger.ErrTradeNotLosing)
	}

	losing, err := svc.OpenTrade(ctx, acc.ID, "TSLA", "Tesla Inc.", 30_000, "")
	if err != nil {
		t.Fatalf("open trade: %v", err)
	}
	if _, err := svc.SetTradeValue(ctx, losing.ID, 10_000); err != nil {
		t.Fatalf("set trade value: %v", err)
	}

	balanceBefore, _ := repo.GetAccountByID(ctx, acc.ID)
	if err := svc.ForceCloseTrade(ctx, owner(acc.ID), losing.ID); err != nil {
		t.Fatalf("force close losing trade: %v", err)
	}

	// Forfeiture: nothing is credited back.
	balanceAfter, _ := repo.GetAccountByID(ctx, acc.ID)
	if balanceAfter.AvailableBalance != balanceBefore.AvailableBalance {
		t.Fatalf("balance changed on force close: %d -> %d", balanceBefore.AvailableBalance, balanceAfter.AvailableBalance)
	}

	// Admins can close any open trade.
	if err := svc.ForceCloseTrade(ctx, admin(), winning.ID); err != nil {
		t.Fatalf("admin force close: %v", err)
	}
}

func TestPauseResumeTrade(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 100_000})
	trade, err := svc.OpenTrade(ctx, acc.ID, "AAPL", "Apple Inc.", 40_000, "")
	if err != nil {
		t.Fatalf("open trade: %v", err)
	}

	paused, err := svc.PauseTrade(ctx, owner(acc.ID), trade.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != model.TradeStatusPaused {
		t.Fatalf("status = %s, want paused", paused.Status)
	}

	resumed, err := svc.ResumeTrade(ctx, owner(acc.ID), trade.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != model.TradeStatusRunning {
		t.Fatalf("status = %s, want running", resumed.Status)
	}
}

func TestDepositModeration(t *testing.T) {
	repo := newFakeRepo()
	svc, mailer := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", FirstName: "Jane", IsActive: true})

	entry, err := svc.Deposit(ctx, acc.ID, 25_000, "USDT", "", "")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if entry.Status != model.LedgerStatusPending {
		t.Fatalf("entry status = %s, want pending", entry.Status)
	}

	got, _ := repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 0 {
		t.Fatalf("balance before approval = %d, want 0", got.AvailableBalance)
	}

	approved, err := svc.ModerateDeposit(ctx, entry.ID, true)
	if err != nil {
		t.Fatalf("approve deposit: %v", err)
	}
	if approved.Status != model.LedgerStatusCompleted {
		t.Fatalf("entry status = %s, want completed", approved.Status)
	}

	got, _ = repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 25_000 {
		t.Fatalf("balance after approval = %d, want 25000", got.AvailableBalance)
	}

	// A second decision must not credit again.
	if _, err := svc.ModerateDeposit(ctx, entry.ID, true); !errors.Is(err, ledger.ErrAlreadyProcessed) {
		t.Fatalf("second approval: error = %v, want %v", err, ledger.ErrAlreadyProcessed)
	}
	got, _ = repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 25_000 {
		t.Fatalf("balance after repeat approval = %d, want 25000", got.AvailableBalance)
	}

	if len(mailer.subjects) == 0 || mailer.subjects[len(mailer.subjects)-1] != "Transaction Update" {
		t.Fatalf("moderation mail not sent: %v", mailer.subjects)
	}
}

func TestWithdrawalModeration(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 50_000})

	entry, err := svc.Withdraw(ctx, acc.ID, 20_000, "BTC", "bc1qexample", "")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	got, _ := repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 30_000 {
		t.Fatalf("balance after hold = %d, want 30000", got.AvailableBalance)
	}
	if !got.HasPendingWithdrawal {
		t.Fatalf("pending flag not set")
	}

	// Only one withdrawal at a time.
	if _, err := svc.Withdraw(ctx, acc.ID, 1000, "BTC", "bc1qexample", ""); !errors.Is(err, ledger.ErrWithdrawalPending) {
		t.Fatalf("second withdrawal: error = %v, want %v", err, ledger.ErrWithdrawalPending)
	}

	if _, err := svc.ModerateWithdrawal(ctx, entry.ID, true); err != nil {
		t.Fatalf("approve withdrawal: %v", err)
	}

	// Approval clears the flag without debiting again.
	got, _ = repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 30_000 {
		t.Fatalf("balance after approval = %d, want 30000", got.AvailableBalance)
	}
	if got.HasPendingWithdrawal {
		t.Fatalf("pending flag not cleared")
	}
}

func TestWithdrawalRejectionRefunds(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 50_000})

	entry, err := svc.Withdraw(ctx, acc.ID, 20_000, "BTC", "bc1qexample", "")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	rejected, err := svc.ModerateWithdrawal(ctx, entry.ID, false)
	if err != nil {
		t.Fatalf("reject withdrawal: %v", err)
	}
	if rejected.Status != model.LedgerStatusFailed {
		t.Fatalf("entry status = %s, want failed", rejected.Status)
	}

	got, _ := repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 50_000 {
		t.Fatalf("balance after rejection = %d, want 50000", got.AvailableBalance)
	}
	if got.HasPendingWithdrawal {
		t.Fatalf("pending flag not cleared")
	}
}

func TestIdempotencyKeyRejectsDuplicates(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 100_000})

	if _, err := svc.Deposit(ctx, acc.ID, 10_000, "USDT", "", "client-key-1"); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if _, err := svc.Deposit(ctx, acc.ID, 10_000, "USDT", "", "client-key-1"); !errors.Is(err, ledger.ErrAlreadyProcessed) {
		t.Fatalf("duplicate deposit: error = %v, want %v", err, ledger.ErrAlreadyProcessed)
	}
}

func TestGetEntry_Ownership(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true})
	entry := repo.addEntry(model.LedgerEntry{
		AccountID: acc.ID,
		Amount:    100,
		Type:      model.LedgerTypeDeposit,
		Status:    model.LedgerStatusPending,
		Reference: "DP-test",
	})

	if _, err := svc.GetEntry(ctx, owner(acc.ID), entry.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.GetEntry(ctx, admin(), entry.ID); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if _, err := svc.GetEntry(ctx, owner(acc.ID+100), entry.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger read: error = %v, want %v", err, ErrForbidden)
	}
}

func TestSetAccountBalance(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 30_000})

	entry, err := svc.SetAccountBalance(ctx, acc.ID, 45_000)
	if err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if entry.Amount != 15_000 {
		t.Fatalf("entry amount = %d, want the applied delta 15000", entry.Amount)
	}

	got, _ := repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 45_000 {
		t.Fatalf("balance = %d, want 45000", got.AvailableBalance)
	}
}

func TestDeleteAccount_RefusedWhenBusy(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 50_000})
	if _, err := svc.OpenTrade(ctx, acc.ID, "AAPL", "Apple Inc.", 10_000, ""); err != nil {
		t.Fatalf("open trade: %v", err)
	}

	if err := svc.DeleteAccount(ctx, acc.ID); !errors.Is(err, repository.ErrAccountBusy) {
		t.Fatalf("delete with open trade: error = %v, want %v", err, repository.ErrAccountBusy)
	}
}

func TestInactiveAccountCannotTransact(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", AvailableBalance: 50_000})

	if _, err := svc.OpenTrade(ctx, acc.ID, "AAPL", "Apple Inc.", 10_000, ""); !errors.Is(err, ledger.ErrAccountInactive) {
		t.Fatalf("open trade: error = %v, want %v", err, ledger.ErrAccountInactive)
	}
	if _, err := svc.Deposit(ctx, acc.ID, 10_000, "USDT", "", ""); !errors.Is(err, ledger.ErrAccountInactive) {
		t.Fatalf("deposit: error = %v, want %v", err, ledger.ErrAccountInactive)
	}
	if _, err := svc.Withdraw(ctx, acc.ID, 10_000, "BTC", "bc1qexample", ""); !errors.Is(err, ledger.ErrAccountInactive) {
		t.Fatalf("withdraw: error = %v, want %v", err, ledger.ErrAccountInactive)
	}
}

func TestConcurrentOpenTrades(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true, AvailableBalance: 100_000})

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.OpenTrade(ctx, acc.ID, "AAPL", "Apple Inc.", 30_000, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ledger.ErrInsufficientFunds) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 3 {
		t.Fatalf("succeeded opens = %d, want 3", succeeded)
	}
	got, _ := repo.GetAccountByID(ctx, acc.ID)
	if got.AvailableBalance != 10_000 {
		t.Fatalf("final balance = %d, want 10000", got.AvailableBalance)
	}
}

func TestDepositReceiptUpload(t *testing.T) {
	repo := newFakeRepo()
	store := &fakeStore{}
	svc := New(repo, nil, store, zap.NewNop(), "")
	ctx := context.Background()

	acc := repo.addAccount(model.Account{Email: "jane@example.com", IsActive: true})

	entry, err := svc.Deposit(ctx, acc.ID, 10_000, "USDT", "data:image/png;base64,aGVsbG8=", "")
	if err != nil {
		t.Fatalf("deposit with receipt: %v", err)
	}
	if entry.ReceiptKey == "" {
		t.Fatalf("receipt key not recorded")
	}
	if !strings.HasPrefix(entry.ReceiptKey, "receipts/") || !strings.HasSuffix(entry.ReceiptKey, ".png") {
		t.Fatalf("receipt key %q has wrong shape", entry.ReceiptKey)
	}
	if len(store.keys) != 1 {
		t.Fatalf("uploads = %d, want 1", len(store.keys))
	}
}
