package repository

import (
	"context"
	"sync"
	"time"

	"github.com/atinyakov/GifHub/internal/models"
)

// MemoryLedgerRepository keeps ledger state in process memory. It backs
// the emulator when no database is configured and is safe for concurrent use.
type MemoryLedgerRepository struct {
	mu          sync.Mutex
	slot        uint64
	blockhashes map[string]issuedBlockhash
	accounts    map[string]models.LedgerAccount
	statuses    map[string]models.SignatureStatus
}

// NewMemoryLedgerRepository returns an empty repository.
func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{
		blockhashes: make(map[string]issuedBlockhash),
		accounts:    make(map[string]models.LedgerAccount),
		statuses:    make(map[string]models.SignatureStatus),
	}
}

func (r *MemoryLedgerRepository) NextSlot(context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slot++
	return r.slot, nil
}

func (r *MemoryLedgerRepository) CurrentSlot(context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot, nil
}

type issuedBlockhash struct {
	slot    uint64
	created time.Time
}

func (r *MemoryLedgerRepository) SaveBlockhash(_ context.Context, b models.Blockhash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockhashes[b.Hash] = issuedBlockhash{slot: b.Slot, created: time.Now()}
	return nil
}

func (r *MemoryLedgerRepository) BlockhashExists(_ context.Context, hash string, minSlot uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blockhashes[hash]
	return ok && b.slot >= minSlot, nil
}

func (r *MemoryLedgerRepository) GetAccount(_ context.Context, address string) (*models.LedgerAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[address]
	if !ok {
		return nil, nil
	}
	acc.Data = append([]byte(nil), acc.Data...)
	return &acc, nil
}

func (r *MemoryLedgerRepository) Commit(_ context.Context, status models.SignatureStatus, writes []models.LedgerAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.statuses[status.Signature]; ok {
		return ErrDuplicateSignature
	}
	status.CreatedAt = time.Now()
	r.statuses[status.Signature] = status
	for _, acc := range writes {
		acc.Slot = status.Slot
		acc.Data = append([]byte(nil), acc.Data...)
		r.accounts[acc.Address] = acc
	}
	return nil
}

func (r *MemoryLedgerRepository) GetSignatureStatuses(_ context.Context, sigs []string) (map[string]models.SignatureStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.SignatureStatus, len(sigs))
	for _, s := range sigs {
		if st, ok := r.statuses[s]; ok {
			out[s] = st
		}
	}
	return out, nil
}

// Prune drops signature statuses and blockhashes created before cutoff
// and returns how many entries were removed.
func (r *MemoryLedgerRepository) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for sig, st := range r.statuses {
		if st.CreatedAt.Before(cutoff) {
			delete(r.statuses, sig)
			n++
		}
	}
	for h, b := range r.blockhashes {
		if b.created.Before(cutoff) {
			delete(r.blockhashes, h)
			n++
		}
	}
	return n, nil
}

// DeleteAccount removes an account.
func (r *MemoryLedgerRepository) DeleteAccount(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, address)
}
