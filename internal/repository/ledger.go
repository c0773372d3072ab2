// Package repository persists the ledger emulator's state in PostgreSQL:
// accounts, signature statuses, issued blockhashes and the slot counter.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/atinyakov/GifHub/internal/models"
)

// ErrDuplicateSignature is returned by Commit when the signature was
// already processed.
var ErrDuplicateSignature = errors.New("signature already processed")

// PostgresLedgerRepository implements ledger persistence against a PostgreSQL database.
type PostgresLedgerRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresLedgerRepository creates a repository using the provided *sql.DB.
func NewPostgresLedgerRepository(db *sql.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{DB: db}
}

// NextSlot advances the slot counter and returns the new slot.
func (r *PostgresLedgerRepository) NextSlot(ctx context.Context) (uint64, error) {
	var slot int64
	if err := r.DB.QueryRowContext(ctx, `SELECT nextval('ledger_slot')`).Scan(&slot); err != nil {
		return 0, fmt.Errorf("NextSlot: %w", err)
	}
	return uint64(slot), nil
}

// CurrentSlot returns the last issued slot.
func (r *PostgresLedgerRepository) CurrentSlot(ctx context.Context) (uint64, error) {
	var slot int64
	if err := r.DB.QueryRowContext(ctx, `SELECT last_value FROM ledger_slot`).Scan(&slot); err != nil {
		return 0, fmt.Errorf("CurrentSlot: %w", err)
	}
	return uint64(slot), nil
}

// SaveBlockhash records a blockhash handed out to a client.
func (r *PostgresLedgerRepository) SaveBlockhash(ctx context.Context, b models.Blockhash) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO blockhashes (hash, slot) VALUES ($1, $2)`, b.Hash, int64(b.Slot))
	if err != nil {
		return fmt.Errorf("SaveBlockhash: %w", err)
	}
	return nil
}

// BlockhashExists reports whether hash was issued at or after minSlot and
// not yet pruned.
func (r *PostgresLedgerRepository) BlockhashExists(ctx context.Context, hash string, minSlot uint64) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blockhashes WHERE hash = $1 AND slot >= $2)`, hash, int64(minSlot),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("BlockhashExists: %w", err)
	}
	return exists, nil
}

// GetAccount returns the account at address, or nil if it does not exist.
func (r *PostgresLedgerRepository) GetAccount(ctx context.Context, address string) (*models.LedgerAccount, error) {
	var (
		acc      models.LedgerAccount
		lamports int64
		slot     int64
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT address, lamports, owner, executable, data, slot FROM accounts WHERE address = $1
	`, address).Scan(&acc.Address, &lamports, &acc.Owner, &acc.Executable, &acc.Data, &slot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	acc.Lamports = uint64(lamports)
	acc.Slot = uint64(slot)
	return &acc, nil
}

// Commit records the status of a processed transaction and, within the
// same database transaction, stores the accounts it wrote.
func (r *PostgresLedgerRepository) Commit(ctx context.Context, status models.SignatureStatus, writes []models.LedgerAccount) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO signatures (signature, slot, err) VALUES ($1, $2, $3)
		ON CONFLICT (signature) DO NOTHING
	`, status.Signature, int64(status.Slot), status.Err)
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateSignature
	}

	for _, acc := range writes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (address, lamports, owner, executable, data, slot)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (address) DO UPDATE SET
				lamports = EXCLUDED.lamports,
				owner = EXCLUDED.owner,
				executable = EXCLUDED.executable,
				data = EXCLUDED.data,
				slot = EXCLUDED.slot
		`, acc.Address, int64(acc.Lamports), acc.Owner, acc.Executable, acc.Data, int64(status.Slot))
		if err != nil {
			return fmt.Errorf("upsert account %s: %w", acc.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetSignatureStatuses returns the known statuses among sigs keyed by signature.
func (r *PostgresLedgerRepository) GetSignatureStatuses(ctx context.Context, sigs []string) (map[string]models.SignatureStatus, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT signature, slot, err, created_at FROM signatures WHERE signature = ANY($1)
	`, pq.Array(sigs))
	if err != nil {
		return nil, fmt.Errorf("GetSignatureStatuses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.SignatureStatus, len(sigs))
	for rows.Next() {
		var (
			st     models.SignatureStatus
			slot   int64
			errMsg sql.NullString
		)
		if err := rows.Scan(&st.Signature, &slot, &errMsg, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		st.Slot = uint64(slot)
		if errMsg.Valid {
			st.Err = &errMsg.String
		}
		out[st.Signature] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
