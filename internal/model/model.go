// Package model contains the domain entities of the trading platform.
package model

import (
	"math"
	"time"
)

// Account represents a registered user of the platform. Monetary fields are
// stored in cents.
type Account struct {
	ID                   int64
	FirstName            string
	LastName             string
	Email                string
	PasswordHash         []byte
	Phone                string
	Country              string
	City                 string
	Address              string
	Avatar               string
	AvailableBalance     int64
	Bonus                int64
	IsActive             bool
	IsAdmin              bool
	IsVerified           bool
	HasPendingWithdrawal bool
	OTP                  string
	OTPExpiresAt         time.Time
	CreatedAt            time.Time
}

// Principal identifies the authenticated caller of a request.
type Principal struct {
	ID      int64
	IsAdmin bool
}

// LedgerType classifies a ledger entry.
type LedgerType string

const (
	LedgerTypeDeposit     LedgerType = "deposit"
	LedgerTypeWithdrawal  LedgerType = "withdrawal"
	LedgerTypeTrade       LedgerType = "trade"
	LedgerTypeProfitClaim LedgerType = "profit_claim"
	LedgerTypeFee         LedgerType = "fee"
	LedgerTypeBonus       LedgerType = "bonus"
)

// LedgerStatus describes the processing state of a ledger entry.
type LedgerStatus string

const (
	LedgerStatusPending    LedgerStatus = "pending"
	LedgerStatusProcessing LedgerStatus = "processing"
	LedgerStatusCompleted  LedgerStatus = "completed"
	LedgerStatusFailed     LedgerStatus = "failed"
)

// LedgerEntry is one balance-affecting event on an account. Amount is a signed
// delta in cents: credits positive, debits negative.
type LedgerEntry struct {
	ID          int64
	AccountID   int64
	TradeID     *int64
	Amount      int64
	Fee         int64
	Type        LedgerType
	Status      LedgerStatus
	Method      string
	Recipient   string
	Reference   string
	Description string
	ReceiptKey  string
	CreatedAt   time.Time
}

// TradeStatus describes the lifecycle state of a simulated position.
type TradeStatus string

const (
	TradeStatusRunning   TradeStatus = "running"
	TradeStatusPaused    TradeStatus = "paused"
	TradeStatusCompleted TradeStatus = "completed"
)

// Trade is a simulated position held by one account. InvestmentAmount is fixed
// at open; CurrentValue is adjusted by administrators.
type Trade struct {
	ID               int64
	AccountID        int64
	Symbol           string
	Name             string
	InvestmentAmount int64
	CurrentValue     int64
	Status           TradeStatus
	CreatedAt        time.Time
	ClosedAt         *time.Time
}

// PaymentMethod is a deposit destination published by administrators.
type PaymentMethod struct {
	ID        int64
	Name      string
	Network   string
	Address   string
	IsActive  bool
	CreatedAt time.Time
}

// CentsToDollars converts a cent amount to dollars for API responses.
func CentsToDollars(cents int64) float64 {
	return float64(cents) / 100
}

// DollarsToCents converts a dollar amount from an API request to cents.
func DollarsToCents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}
