package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pruner drops ledger history created before cutoff and reports how many
// rows went away.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tables pruned by SQLPruner, oldest rows first.
var prunedTables = []string{"signatures", "blockhashes"}

// SQLPruner prunes signature statuses and blockhashes in PostgreSQL.
type SQLPruner struct {
	DB *sql.DB
}

// Prune deletes expired rows from every pruned table. A failing table does
// not stop the others; the first error is returned.
func (p SQLPruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var (
		total    int64
		firstErr error
	)
	for _, table := range prunedTables {
		res, err := p.DB.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < $1`, cutoff)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("prune %s: %w", table, err)
			}
			continue
		}
		if rows, err := res.RowsAffected(); err == nil {
			total += rows
		}
	}
	return total, firstErr
}

// StartRetentionCleaner prunes history older than retention every
// interval until ctx is done.
func StartRetentionCleaner(
	ctx context.Context,
	p Pruner,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := p.Prune(ctx, time.Now().Add(-retention))
				if err != nil {
					log.Error("failed to prune expired rows", zap.Error(err))
				}
				if removed > 0 {
					log.Info("pruned expired rows", zap.Int64("removed", removed))
				}
			}
		}
	}()
}
