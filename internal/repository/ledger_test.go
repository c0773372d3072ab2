package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/atinyakov/GifHub/internal/models"
)

func setupMock(t *testing.T) (*PostgresLedgerRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresLedgerRepository(db)
	cleanup := func() {
		db.Close()
	}
	return repo, mock, cleanup
}

func TestNextSlot(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT nextval('ledger_slot')`)).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(42)))

	slot, err := repo.NextSlot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot != 42 {
		t.Errorf("expected slot 42, got %d", slot)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCurrentSlot_Error(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT last_value FROM ledger_slot`)).
		WillReturnError(errors.New("query fail"))

	_, err := repo.CurrentSlot(context.Background())
	if err == nil || !regexp.MustCompile(`CurrentSlot`).MatchString(err.Error()) {
		t.Errorf("expected CurrentSlot error, got %v", err)
	}
}

func TestBlockhashes(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO blockhashes (hash, slot) VALUES ($1, $2)`)).
		WithArgs("hash1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM blockhashes WHERE hash = $1 AND slot >= $2)`)).
		WithArgs("hash1", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM blockhashes WHERE hash = $1 AND slot >= $2)`)).
		WithArgs("hash1", int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := repo.SaveBlockhash(context.Background(), models.Blockhash{Hash: "hash1", Slot: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := repo.BlockhashExists(context.Background(), "hash1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected blockhash to exist")
	}
	ok, err = repo.BlockhashExists(context.Background(), "hash1", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("blockhash issued before minSlot must not be valid")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetAccount(t *testing.T) {
	const query = `SELECT address, lamports, owner, executable, data, slot FROM accounts WHERE address = $1`

	t.Run("found", func(t *testing.T) {
		repo, mock, cleanup := setupMock(t)
		defer cleanup()

		rows := sqlmock.NewRows([]string{"address", "lamports", "owner", "executable", "data", "slot"}).
			AddRow("acc", int64(100), "prog", false, []byte{1, 2}, int64(7))
		mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("acc").WillReturnRows(rows)

		acc, err := repo.GetAccount(context.Background(), "acc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if acc == nil || acc.Lamports != 100 || acc.Owner != "prog" || acc.Slot != 7 || len(acc.Data) != 2 {
			t.Errorf("unexpected account: %+v", acc)
		}
	})

	t.Run("missing", func(t *testing.T) {
		repo, mock, cleanup := setupMock(t)
		defer cleanup()

		mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("acc").
			WillReturnRows(sqlmock.NewRows([]string{"address", "lamports", "owner", "executable", "data", "slot"}))

		acc, err := repo.GetAccount(context.Background(), "acc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if acc != nil {
			t.Errorf("expected nil account, got %+v", acc)
		}
	})

	t.Run("error", func(t *testing.T) {
		repo, mock, cleanup := setupMock(t)
		defer cleanup()

		mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("acc").WillReturnError(errors.New("db down"))
		if _, err := repo.GetAccount(context.Background(), "acc"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestCommit_Success(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	status := models.SignatureStatus{Signature: "sig1", Slot: 5}
	writes := []models.LedgerAccount{{Address: "acc", Lamports: 10, Owner: "prog", Data: []byte{9}}}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO signatures (signature, slot, err) VALUES ($1, $2, $3)`)).
		WithArgs("sig1", int64(5), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO accounts`)).
		WithArgs("acc", int64(10), "prog", false, []byte{9}, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Commit(context.Background(), status, writes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCommit_DuplicateSignature(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO signatures`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Commit(context.Background(), models.SignatureStatus{Signature: "sig1"}, nil)
	if !errors.Is(err, ErrDuplicateSignature) {
		t.Fatalf("expected ErrDuplicateSignature, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCommit_AccountWriteFails(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO signatures`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO accounts`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Commit(context.Background(), models.SignatureStatus{Signature: "sig1"},
		[]models.LedgerAccount{{Address: "acc"}})
	if err == nil || !regexp.MustCompile(`upsert account acc`).MatchString(err.Error()) {
		t.Fatalf("expected upsert error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetSignatureStatuses(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	now := time.Now()
	sigs := []string{"a", "b", "c"}
	rows := sqlmock.NewRows([]string{"signature", "slot", "err", "created_at"}).
		AddRow("a", int64(1), nil, now).
		AddRow("b", int64(2), `{"InstructionError":[0,{"Custom":3012}]}`, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT signature, slot, err, created_at FROM signatures WHERE signature = ANY($1)`)).
		WithArgs(pq.Array(sigs)).
		WillReturnRows(rows)

	got, err := repo.GetSignatureStatuses(context.Background(), sigs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(got))
	}
	if got["a"].Err != nil || got["a"].Slot != 1 {
		t.Errorf("unexpected status a: %+v", got["a"])
	}
	if got["b"].Err == nil || *got["b"].Err != `{"InstructionError":[0,{"Custom":3012}]}` {
		t.Errorf("unexpected status b: %+v", got["b"])
	}
	if _, ok := got["c"]; ok {
		t.Error("unexpected status for c")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
