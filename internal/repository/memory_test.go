package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atinyakov/GifHub/internal/models"
)

func TestMemoryLedgerRepository(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryLedgerRepository()

	slot, _ := r.NextSlot(ctx)
	if cur, _ := r.CurrentSlot(ctx); cur != slot || slot != 1 {
		t.Fatalf("slots: next=%d current=%d", slot, cur)
	}

	if err := r.SaveBlockhash(ctx, models.Blockhash{Hash: "h", Slot: slot}); err != nil {
		t.Fatalf("SaveBlockhash: %v", err)
	}
	if ok, _ := r.BlockhashExists(ctx, "h", slot); !ok {
		t.Error("expected blockhash to exist")
	}
	if ok, _ := r.BlockhashExists(ctx, "h", slot+1); ok {
		t.Error("blockhash issued before minSlot must not be valid")
	}

	status := models.SignatureStatus{Signature: "s", Slot: 2}
	acc := models.LedgerAccount{Address: "a", Data: []byte{1}}
	if err := r.Commit(ctx, status, []models.LedgerAccount{acc}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := r.Commit(ctx, status, nil); !errors.Is(err, ErrDuplicateSignature) {
		t.Errorf("expected ErrDuplicateSignature, got %v", err)
	}

	got, _ := r.GetAccount(ctx, "a")
	if got == nil || got.Slot != 2 {
		t.Fatalf("unexpected account %+v", got)
	}
	got.Data[0] = 9
	again, _ := r.GetAccount(ctx, "a")
	if again.Data[0] != 1 {
		t.Error("GetAccount must return a copy")
	}

	statuses, _ := r.GetSignatureStatuses(ctx, []string{"s", "x"})
	if len(statuses) != 1 {
		t.Errorf("expected one status, got %d", len(statuses))
	}

	if n, err := r.Prune(ctx, time.Now().Add(time.Minute)); err != nil || n != 2 {
		t.Errorf("Prune = %d, %v; want 2, nil", n, err)
	}
	if ok, _ := r.BlockhashExists(ctx, "h", 0); ok {
		t.Error("blockhash survived pruning")
	}

	r.DeleteAccount("a")
	if acc, _ := r.GetAccount(ctx, "a"); acc != nil {
		t.Error("account survived deletion")
	}
}
