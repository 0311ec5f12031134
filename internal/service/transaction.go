package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stocksnav/stocksnav/internal/ledger"
	"github.com/stocksnav/stocksnav/internal/model"
)

const receiptLinkTTL = 15 * time.Minute

// Deposit records a pending deposit with its proof-of-payment receipt. The
// balance is credited only when an administrator approves it.
func (s *Service) Deposit(ctx context.Context, accountID, amount int64, method, receipt, idempotencyKey string) (*model.LedgerEntry, error) {
	receiptKey, err := s.uploadImage(ctx, "receipts", receipt)
	if err != nil {
		return nil, err
	}

	ref := reference("DP", idempotencyKey)

	return s.repo.MutateAccount(ctx, accountID, func(acc model.Account) (*ledger.Mutation, error) {
		return ledger.RequestDeposit(acc, amount, method, receiptKey, ref)
	})
}

// Withdraw places a withdrawal hold: the amount is debited immediately and the
// entry waits for moderation.
func (s *Service) Withdraw(ctx context.Context, accountID, amount int64, method, recipient, idempotencyKey string) (*model.LedgerEntry, error) {
	ref := reference("WD", idempotencyKey)

	return s.repo.MutateAccount(ctx, accountID, func(acc model.Account) (*ledger.Mutation, error) {
		return ledger.RequestWithdrawal(acc, amount, method, recipient, ref)
	})
}

// ModerateDeposit approves or rejects a pending deposit. Approval credits the
// amount exactly once; a second decision returns ErrAlreadyProcessed.
func (s *Service) ModerateDeposit(ctx context.Context, entryID int64, approve bool) (*model.LedgerEntry, error) {
	op := ledger.RejectDeposit
	if approve {
		op = ledger.ApproveDeposit
	}
	return s.moderate(ctx, entryID, op)
}

// ModerateWithdrawal approves or rejects a pending withdrawal. Rejection
// restores the held amount; both paths clear the pending flag.
func (s *Service) ModerateWithdrawal(ctx context.Context, entryID int64, approve bool) (*model.LedgerEntry, error) {
	op := ledger.RejectWithdrawal
	if approve {
		op = ledger.ApproveWithdrawal
	}
	return s.moderate(ctx, entryID, op)
}

func (s *Service) moderate(ctx context.Context, entryID int64, op func(model.Account, model.LedgerEntry) (*ledger.Mutation, error)) (*model.LedgerEntry, error) {
	var email, name string

	entry, err := s.repo.MutateAccountWithEntry(ctx, entryID, func(acc model.Account, e model.LedgerEntry) (*ledger.Mutation, error) {
		email = acc.Email
		name = acc.FirstName + " " + acc.LastName
		return op(acc, e)
	})
	if err != nil {
		return nil, err
	}

	// Notify after commit so a delivery failure cannot roll back the decision.
	s.sendMail(ctx, email, name, "Transaction Update", "<p>"+entry.Description+"</p>")

	return entry, nil
}

// GetEntry returns one ledger entry, restricted to its owner unless the caller
// is an administrator.
func (s *Service) GetEntry(ctx context.Context, p model.Principal, entryID int64) (*model.LedgerEntry, error) {
	entry, err := s.repo.GetEntryByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(p, entry.AccountID); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListAccountEntries returns the ledger entries of one account.
func (s *Service) ListAccountEntries(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	return s.repo.ListEntriesByAccount(ctx, accountID)
}

// ListAllEntries returns every ledger entry on the platform.
func (s *Service) ListAllEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	return s.repo.ListEntries(ctx)
}

// ReceiptURL returns a short-lived link to a stored receipt image.
func (s *Service) ReceiptURL(ctx context.Context, key string) (string, error) {
	if s.store == nil || key == "" {
		return "", nil
	}
	return s.store.PresignGet(ctx, key, receiptLinkTTL)
}

// uploadImage decodes a base64 data URL and stores it, returning the object
// key. An empty input or absent store yields an empty key.
func (s *Service) uploadImage(ctx context.Context, prefix, dataURL string) (string, error) {
	if s.store == nil || dataURL == "" {
		return "", nil
	}

	contentType, payload, err := decodeDataURL(dataURL)
	if err != nil {
		return "", err
	}

	ext := "bin"
	if i := strings.Index(contentType, "/"); i > 0 {
		ext = contentType[i+1:]
	}
	key := fmt.Sprintf("%s/%s.%s", prefix, uuid.NewString(), ext)

	if err := s.store.Upload(ctx, key, contentType, bytes.NewReader(payload)); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return key, nil
}

func decodeDataURL(dataURL string) (contentType string, payload []byte, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}

	contentType, _, _ = strings.Cut(meta, ";")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	payload, err = base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}
	return contentType, payload, nil
}
