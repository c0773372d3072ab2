package models

import "time"

// LedgerAccount is an account as stored by the ledger emulator.
type LedgerAccount struct {
	Address    string
	Lamports   uint64
	Owner      string
	Executable bool
	Data       []byte
	// Slot is the slot of the last write.
	Slot uint64
}

// SignatureStatus is the outcome of a transaction processed by the
// ledger emulator. Err holds the JSON encoded transaction error, or is
// nil for a successful transaction.
type SignatureStatus struct {
	Signature string
	Slot      uint64
	Err       *string
	CreatedAt time.Time
}

// Blockhash is a recent blockhash issued by the ledger emulator.
type Blockhash struct {
	Hash                 string
	Slot                 uint64
	LastValidBlockHeight uint64
}
