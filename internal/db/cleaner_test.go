package db

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSQLPruner_Prune(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	cutoff := time.Now().Add(-time.Hour)
	mock.ExpectExec("DELETE FROM signatures WHERE created_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM blockhashes WHERE created_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	removed, err := SQLPruner{DB: dbMock}.Prune(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPruner_TableFailureDoesNotStopOthers(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	defer dbMock.Close()

	mock.ExpectExec("DELETE FROM signatures").
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(errors.New("db fail"))
	mock.ExpectExec("DELETE FROM blockhashes").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	removed, err := SQLPruner{DB: dbMock}.Prune(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune signatures")
	assert.Equal(t, int64(1), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type pruneFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f pruneFunc) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

func TestStartRetentionCleaner_LogsOutcome(t *testing.T) {
	tests := []struct {
		name    string
		removed int64
		err     error
		level   zapcore.Level
		message string
	}{
		{"removed rows", 4, nil, zapcore.InfoLevel, "pruned expired rows"},
		{"failure", 0, errors.New("db fail"), zapcore.ErrorLevel, "failed to prune expired rows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			retention := time.Hour
			var badCutoff atomic.Bool
			p := pruneFunc(func(_ context.Context, cutoff time.Time) (int64, error) {
				if time.Since(cutoff) < retention {
					badCutoff.Store(true)
				}
				return tt.removed, tt.err
			})

			StartRetentionCleaner(ctx, p, 5*time.Millisecond, retention, zap.New(core))

			require.Eventually(t, func() bool {
				return logs.FilterMessage(tt.message).Len() > 0
			}, time.Second, 5*time.Millisecond)
			cancel()

			entry := logs.FilterMessage(tt.message).All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.False(t, badCutoff.Load(), "cutoff must lie retention in the past")
		})
	}
}

func TestStartRetentionCleaner_NothingRemovedIsQuiet(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	p := pruneFunc(func(context.Context, time.Time) (int64, error) {
		calls.Add(1)
		return 0, nil
	})

	StartRetentionCleaner(ctx, p, 5*time.Millisecond, time.Hour, zap.New(core))

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.Zero(t, logs.Len())
}

func TestStartRetentionCleaner_CancelBeforeTicker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	p := pruneFunc(func(context.Context, time.Time) (int64, error) {
		calls.Add(1)
		return 0, nil
	})

	StartRetentionCleaner(ctx, p, 100*time.Millisecond, time.Hour, zap.NewNop())
	cancel()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}
