package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/playvault/backend/internal/audit"
	"github.com/playvault/backend/internal/models"
)

const (
	maxMutationAttempts = 3
	retryBackoffBase    = 25 * time.Millisecond
)

// LedgerService is the sole code path allowed to mutate an account balance.
// Every credit or debit is one indivisible unit: lock the account row, compute
// the new balance, append the transaction, bump the balance and version. Two
// concurrent debits against a stale balance can never both succeed.
type LedgerService struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: audit.NewLogger(),
	}
}

// Credit adds amount coins to the account, creating it lazily if needed.
func (s *LedgerService) Credit(ctx context.Context, accountID string, amount int64, category, description string, meta models.Metadata) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return s.mutate(ctx, accountID, amount, models.DirectionCredit, category, description, meta)
}

// Debit removes amount coins from the account. If amount exceeds the current
// balance it returns ErrInsufficientFunds without mutating any state.
func (s *LedgerService) Debit(ctx context.Context, accountID string, amount int64, category, description string, meta models.Metadata) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	return s.mutate(ctx, accountID, -amount, models.DirectionDebit, category, description, meta)
}

// mutate runs one balance mutation with bounded retry on contention.
func (s *LedgerService) mutate(ctx context.Context, accountID string, signedAmount int64, direction, category, description string, meta models.Metadata) (*models.Transaction, error) {
	var lastErr error
	for attempt := 1; attempt <= maxMutationAttempts; attempt++ {
		txn, err := s.mutateOnce(ctx, accountID, signedAmount, direction, category, description, meta)
		if err == nil {
			return txn, nil
		}
		if !isRetryableConflict(err) {
			return nil, err
		}
		lastErr = err
		log.Printf("[LEDGER] Conflict on account %s (attempt %d/%d): %v", accountID, attempt, maxMutationAttempts, err)
		if attempt < maxMutationAttempts {
			backoff := time.Duration(attempt)*retryBackoffBase + time.Duration(rand.Int63n(int64(retryBackoffBase)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	s.audit.LogError("", accountID, lastErr)
	return nil, fmt.Errorf("%w: %v", ErrTransientConflict, lastErr)
}

func (s *LedgerService) mutateOnce(ctx context.Context, accountID string, signedAmount int64, direction, category, description string, meta models.Metadata) (*models.Transaction, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	txn, err := s.ApplyTx(dbTx, accountID, signedAmount, direction, category, description, meta)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogMutation(txn.ID, accountID, txn.Amount, direction, "SUCCESS")
	return txn, nil
}

// ApplyTx appends one ledger mutation inside a caller-owned SQL transaction,
// so composite operations (debit bet, credit payout) commit or roll back as a
// single unit. signedAmount is negative for debits.
func (s *LedgerService) ApplyTx(dbTx *sql.Tx, accountID string, signedAmount int64, direction, category, description string, meta models.Metadata) (*models.Transaction, error) {
	if !models.ValidCategory(category) {
		return nil, fmt.Errorf("unknown transaction category %q", category)
	}

	account, err := s.lockAccount(dbTx, accountID)
	if err != nil {
		return nil, err
	}

	newBalance := account.Balance + signedAmount
	if newBalance < 0 {
		return nil, ErrInsufficientFunds
	}

	txn := &models.Transaction{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Direction:     direction,
		Category:      category,
		Amount:        signedAmount,
		BalanceBefore: account.Balance,
		BalanceAfter:  newBalance,
		Description:   description,
		Metadata:      meta,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.appendTransaction(dbTx, txn); err != nil {
		return nil, err
	}

	earnedDelta, spentDelta := int64(0), int64(0)
	if signedAmount > 0 {
		earnedDelta = signedAmount
	} else {
		spentDelta = -signedAmount
	}

	if err := s.updateAccountBalance(dbTx, accountID, newBalance, earnedDelta, spentDelta, account.Version); err != nil {
		return nil, err
	}

	return txn, nil
}

// GetBalance returns the current balance. Unknown accounts read as zero, not
// as an error, because accounts only exist once they transact.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// GetAccount returns the full account row, ErrNotFound if it never transacted.
func (s *LedgerService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account := &models.Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, balance, lifetime_earned, lifetime_spent, version, created_at, updated_at
		FROM accounts WHERE id = $1
	`, accountID).Scan(&account.ID, &account.Balance, &account.LifetimeEarned,
		&account.LifetimeSpent, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetHistory returns one page of the account's transaction log, newest first.
// cursor is the seq of the last transaction of the previous page (0 for the
// first page); the returned cursor restarts the scan on the next call and is
// empty when the history is exhausted.
func (s *LedgerService) GetHistory(ctx context.Context, accountID string, cursor int64, limit int) ([]models.Transaction, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT seq, id, account_id, direction, category, amount,
		       balance_before, balance_after, description, metadata, created_at
		FROM transactions
		WHERE account_id = $1`
	args := []any{accountID}
	if cursor > 0 {
		query += ` AND seq < $2`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY seq DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		page    []models.Transaction
		lastSeq int64
	)
	for rows.Next() {
		var (
			txn     models.Transaction
			seq     int64
			rawMeta []byte
		)
		if err := rows.Scan(&seq, &txn.ID, &txn.AccountID, &txn.Direction, &txn.Category,
			&txn.Amount, &txn.BalanceBefore, &txn.BalanceAfter, &txn.Description,
			&rawMeta, &txn.CreatedAt); err != nil {
			return nil, 0, err
		}
		txn.Metadata = decodeMetadata(rawMeta)
		page = append(page, txn)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	next := int64(0)
	if len(page) == limit {
		next = lastSeq
	}
	return page, next, nil
}

// FindByRequestID looks up a transaction by the request id recorded in its
// metadata, used as the durable fallback for wager deduplication.
func (s *LedgerService) FindByRequestID(ctx context.Context, accountID, requestID string) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var rawMeta []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, direction, category, amount,
		       balance_before, balance_after, description, metadata, created_at
		FROM transactions
		WHERE account_id = $1 AND metadata->>'request_id' = $2
		ORDER BY seq DESC
		LIMIT 1
	`, accountID, requestID).Scan(&txn.ID, &txn.AccountID, &txn.Direction, &txn.Category,
		&txn.Amount, &txn.BalanceBefore, &txn.BalanceAfter, &txn.Description,
		&rawMeta, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	txn.Metadata = decodeMetadata(rawMeta)
	return txn, nil
}

// BeginTx exposes a store transaction for composite operations owned by the
// economy facade.
func (s *LedgerService) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// lockAccount creates the account row if missing, then locks it for the
// duration of the enclosing SQL transaction.
func (s *LedgerService) lockAccount(dbTx *sql.Tx, accountID string) (*models.Account, error) {
	if _, err := dbTx.Exec(`
		INSERT INTO accounts (id, balance, lifetime_earned, lifetime_spent, version, created_at, updated_at)
		VALUES ($1, 0, 0, 0, 1, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING`, accountID); err != nil {
		return nil, err
	}

	account := &models.Account{}
	err := dbTx.QueryRow(`
		SELECT id, balance, lifetime_earned, lifetime_spent, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance,
		&account.LifetimeEarned, &account.LifetimeSpent, &account.Version)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *LedgerService) appendTransaction(dbTx *sql.Tx, txn *models.Transaction) error {
	metaJSON, err := txn.Metadata.Value()
	if err != nil {
		return err
	}
	_, err = dbTx.Exec(`
		INSERT INTO transactions
		(id, account_id, direction, category, amount, balance_before, balance_after, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID, txn.AccountID, txn.Direction, txn.Category, txn.Amount,
		txn.BalanceBefore, txn.BalanceAfter, txn.Description, metaJSON, txn.CreatedAt)
	return err
}

func (s *LedgerService) updateAccountBalance(dbTx *sql.Tx, accountID string, newBalance, earnedDelta, spentDelta int64, version int) error {
	result, err := dbTx.Exec(`
		UPDATE accounts
		SET balance = $1, lifetime_earned = lifetime_earned + $2,
		    lifetime_spent = lifetime_spent + $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6`,
		newBalance, earnedDelta, spentDelta, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}
	return nil
}

// isRetryableConflict reports whether err is worth one of the bounded retries:
// a serialization/deadlock failure from postgres or our own version check.
func isRetryableConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return err != nil && strings.Contains(err.Error(), "optimistic lock failed")
}

func decodeMetadata(raw []byte) models.Metadata {
	if len(raw) == 0 {
		return nil
	}
	var meta models.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return meta
}
