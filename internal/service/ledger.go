// Package service executes transactions for the ledger emulator,
// delegating persistence to a repository.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/atinyakov/GifHub/internal/models"
	"github.com/atinyakov/GifHub/internal/program"
	"github.com/atinyakov/GifHub/internal/repository"
)

// LedgerRepository defines the persistence operations needed by the LedgerService.
type LedgerRepository interface {
	// NextSlot advances and returns the slot counter.
	NextSlot(ctx context.Context) (uint64, error)
	// CurrentSlot returns the last issued slot.
	CurrentSlot(ctx context.Context) (uint64, error)
	// SaveBlockhash records an issued blockhash.
	SaveBlockhash(ctx context.Context, b models.Blockhash) error
	// BlockhashExists reports whether hash was issued at or after minSlot.
	BlockhashExists(ctx context.Context, hash string, minSlot uint64) (bool, error)
	// GetAccount returns the account or nil if it does not exist.
	GetAccount(ctx context.Context, address string) (*models.LedgerAccount, error)
	// Commit stores the status of a transaction and the accounts it wrote.
	Commit(ctx context.Context, status models.SignatureStatus, writes []models.LedgerAccount) error
	// GetSignatureStatuses returns the known statuses keyed by signature.
	GetSignatureStatuses(ctx context.Context, sigs []string) (map[string]models.SignatureStatus, error)
}

// JSON-RPC error codes used by Solana validators.
const (
	CodeInvalidParams         = -32602
	CodePreflightFailure      = -32002
	CodeSignatureVerification = -32003
)

// Anchor error codes reported as custom program errors.
const (
	errConstraintMut               = 2000
	errConstraintSigner            = 2002
	errAccountDidNotSerialize      = 3004
	errAccountNotInitialized       = 3012
	errInstructionFallbackNotFound = 101
	errSystemAccountInUse          = 0
)

// BlockhashValidity is the number of slots a blockhash stays usable.
const BlockhashValidity = 150

// TxError is a transaction rejected by the ledger.
type TxError struct {
	Code    int
	Message string
	// Instruction and Reason describe a failed instruction; Reason is a
	// JSON value such as {"Custom":3012}. Both are empty for errors that
	// happen before execution.
	Instruction int
	Reason      string
}

func (e *TxError) Error() string {
	return e.Message
}

// StatusJSON renders the error as stored in a signature status.
func (e *TxError) StatusJSON() string {
	if e.Reason == "" {
		return fmt.Sprintf("%q", e.Message)
	}
	return fmt.Sprintf(`{"InstructionError":[%d,%s]}`, e.Instruction, e.Reason)
}

func instructionError(i int, custom uint32, msg string) *TxError {
	return &TxError{
		Code:        CodePreflightFailure,
		Message:     fmt.Sprintf("Transaction simulation failed: Error processing Instruction %d: %s", i, msg),
		Instruction: i,
		Reason:      fmt.Sprintf(`{"Custom":%d}`, custom),
	}
}

// LedgerService executes GIF program transactions. Transactions run one
// at a time.
type LedgerService struct {
	repo      LedgerRepository
	programID solana.PublicKey
	log       *zap.Logger
	mu        sync.Mutex
}

// NewLedgerService constructs a LedgerService for the program at programID.
func NewLedgerService(repo LedgerRepository, programID solana.PublicKey, log *zap.Logger) *LedgerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerService{repo: repo, programID: programID, log: log}
}

// Slot returns the current slot.
func (s *LedgerService) Slot(ctx context.Context) (uint64, error) {
	return s.repo.CurrentSlot(ctx)
}

// LatestBlockhash issues a fresh blockhash.
func (s *LedgerService) LatestBlockhash(ctx context.Context) (models.Blockhash, error) {
	slot, err := s.repo.NextSlot(ctx)
	if err != nil {
		return models.Blockhash{}, err
	}
	var h solana.Hash
	if _, err := rand.Read(h[:]); err != nil {
		return models.Blockhash{}, fmt.Errorf("generate blockhash: %w", err)
	}
	b := models.Blockhash{Hash: h.String(), Slot: slot, LastValidBlockHeight: slot + BlockhashValidity}
	if err := s.repo.SaveBlockhash(ctx, b); err != nil {
		return models.Blockhash{}, err
	}
	return b, nil
}

// AccountInfo returns the account at address, or nil if it does not exist.
func (s *LedgerService) AccountInfo(ctx context.Context, address string) (*models.LedgerAccount, error) {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return nil, &TxError{Code: CodeInvalidParams, Message: "Invalid param: " + err.Error()}
	}
	return s.repo.GetAccount(ctx, address)
}

// SignatureStatuses returns one status per signature, nil for unknown ones.
func (s *LedgerService) SignatureStatuses(ctx context.Context, sigs []string) ([]*models.SignatureStatus, error) {
	known, err := s.repo.GetSignatureStatuses(ctx, sigs)
	if err != nil {
		return nil, err
	}
	out := make([]*models.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		if st, ok := known[sig]; ok {
			out[i] = &st
		}
	}
	return out, nil
}

// SendTransaction verifies and executes a wire-format transaction and
// returns its signature. A failing transaction is rejected with a
// *TxError unless skipPreflight is set, in which case it is recorded
// with its error and changes nothing.
func (s *LedgerService) SendTransaction(ctx context.Context, raw []byte, skipPreflight bool) (string, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", &TxError{Code: CodeInvalidParams, Message: "failed to deserialize transaction: " + err.Error()}
	}
	if txErr := verify(tx); txErr != nil {
		return "", txErr
	}
	sig := tx.Signatures[0].String()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.CurrentSlot(ctx)
	if err != nil {
		return "", err
	}
	var minSlot uint64
	if current > BlockhashValidity {
		minSlot = current - BlockhashValidity
	}
	ok, err := s.repo.BlockhashExists(ctx, tx.Message.RecentBlockhash.String(), minSlot)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &TxError{Code: CodePreflightFailure, Message: "Transaction simulation failed: Blockhash not found"}
	}

	writes, txErr, err := s.execute(ctx, &tx.Message)
	if err != nil {
		return "", err
	}
	if txErr != nil && !skipPreflight {
		s.log.Info("transaction rejected", zap.String("signature", sig), zap.String("reason", txErr.Message))
		return "", txErr
	}

	slot, err := s.repo.NextSlot(ctx)
	if err != nil {
		return "", err
	}
	status := models.SignatureStatus{Signature: sig, Slot: slot}
	if txErr != nil {
		msg := txErr.StatusJSON()
		status.Err = &msg
		writes = nil
	}
	if err := s.repo.Commit(ctx, status, writes); err != nil {
		if errors.Is(err, repository.ErrDuplicateSignature) {
			return "", &TxError{Code: CodePreflightFailure, Message: "Transaction simulation failed: This transaction has already been processed"}
		}
		return "", err
	}

	s.log.Info("transaction processed", zap.String("signature", sig), zap.Uint64("slot", slot), zap.Bool("failed", txErr != nil))
	return sig, nil
}

// verify checks the message shape and every required signature.
func verify(tx *solana.Transaction) *TxError {
	msg := &tx.Message
	required := int(msg.Header.NumRequiredSignatures)
	switch {
	case required == 0 || len(tx.Signatures) == 0:
		return &TxError{Code: CodeInvalidParams, Message: "transaction has no signatures"}
	case len(tx.Signatures) != required:
		return &TxError{Code: CodeInvalidParams, Message: fmt.Sprintf("transaction has %d signatures, message requires %d", len(tx.Signatures), required)}
	case required > len(msg.AccountKeys) ||
		int(msg.Header.NumReadonlySignedAccounts) > required ||
		int(msg.Header.NumReadonlyUnsignedAccounts) > len(msg.AccountKeys)-required:
		return &TxError{Code: CodeInvalidParams, Message: "invalid message header"}
	}
	for _, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) {
			return &TxError{Code: CodeInvalidParams, Message: "invalid program index"}
		}
		for _, idx := range ix.Accounts {
			if int(idx) >= len(msg.AccountKeys) {
				return &TxError{Code: CodeInvalidParams, Message: "invalid account index"}
			}
		}
	}

	content, err := msg.MarshalBinary()
	if err != nil {
		return &TxError{Code: CodeInvalidParams, Message: "failed to encode message: " + err.Error()}
	}
	for i, sig := range tx.Signatures {
		if !sig.Verify(msg.AccountKeys[i], content) {
			return &TxError{Code: CodeSignatureVerification, Message: "Transaction signature verification failure"}
		}
	}
	return nil
}

// isSigner reports whether the account at i signed the message. Signers
// come first in the account list.
func isSigner(msg *solana.Message, i int) bool {
	return i < int(msg.Header.NumRequiredSignatures)
}

// isWritable reports whether the account at i may be written. Readonly
// accounts sit at the end of the signed and unsigned sections.
func isWritable(msg *solana.Message, i int) bool {
	signed := int(msg.Header.NumRequiredSignatures)
	if i < signed {
		return i < signed-int(msg.Header.NumReadonlySignedAccounts)
	}
	return i < len(msg.AccountKeys)-int(msg.Header.NumReadonlyUnsignedAccounts)
}

// execute runs every instruction against the current state and returns
// the accounts to write. A *TxError means the transaction fails as a whole.
func (s *LedgerService) execute(ctx context.Context, msg *solana.Message) ([]models.LedgerAccount, *TxError, error) {
	pending := make(map[string]*models.LedgerAccount)
	var order []string
	load := func(key solana.PublicKey) (*models.LedgerAccount, error) {
		if acc, ok := pending[key.String()]; ok {
			return acc, nil
		}
		return s.repo.GetAccount(ctx, key.String())
	}
	store := func(acc *models.LedgerAccount) {
		if _, ok := pending[acc.Address]; !ok {
			order = append(order, acc.Address)
		}
		pending[acc.Address] = acc
	}

	for i, ix := range msg.Instructions {
		if msg.AccountKeys[ix.ProgramIDIndex] != s.programID {
			return nil, &TxError{
				Code:        CodePreflightFailure,
				Message:     "Transaction simulation failed: Attempt to load a program that does not exist",
				Instruction: i,
				Reason:      `"InvalidProgramForExecution"`,
			}, nil
		}
		call, err := program.DecodeInstruction(ix.Data)
		if err != nil {
			return nil, instructionError(i, errInstructionFallbackNotFound, "custom program error: fallback functions are not supported"), nil
		}

		switch call.Name {
		case program.InstructionInitialize:
			if len(ix.Accounts) < 3 {
				return nil, notEnoughAccounts(i), nil
			}
			baseIdx := int(ix.Accounts[0])
			if !isSigner(msg, baseIdx) || !isSigner(msg, int(ix.Accounts[1])) {
				return nil, instructionError(i, errConstraintSigner, "A signer constraint was violated"), nil
			}
			if !isWritable(msg, baseIdx) {
				return nil, instructionError(i, errConstraintMut, "A mut constraint was violated"), nil
			}
			base := msg.AccountKeys[baseIdx]
			existing, err := load(base)
			if err != nil {
				return nil, nil, err
			}
			if existing != nil {
				return nil, instructionError(i, errSystemAccountInUse, fmt.Sprintf("account %s already in use", base)), nil
			}
			encoded, err := program.BaseAccount{}.Encode()
			if err != nil {
				return nil, nil, err
			}
			data := make([]byte, program.AccountSpace)
			copy(data, encoded)
			store(&models.LedgerAccount{
				Address:  base.String(),
				Lamports: RentExemptMinimum(program.AccountSpace),
				Owner:    s.programID.String(),
				Data:     data,
			})

		case program.InstructionAddGif:
			if len(ix.Accounts) < 2 {
				return nil, notEnoughAccounts(i), nil
			}
			baseIdx, userIdx := int(ix.Accounts[0]), int(ix.Accounts[1])
			if !isSigner(msg, userIdx) {
				return nil, instructionError(i, errConstraintSigner, "A signer constraint was violated"), nil
			}
			if !isWritable(msg, baseIdx) {
				return nil, instructionError(i, errConstraintMut, "A mut constraint was violated"), nil
			}
			acc, err := load(msg.AccountKeys[baseIdx])
			if err != nil {
				return nil, nil, err
			}
			if acc == nil || acc.Owner != s.programID.String() {
				return nil, instructionError(i, errAccountNotInitialized, "The program expected this account to be already initialized"), nil
			}
			state, err := program.DecodeBaseAccount(acc.Data)
			if err != nil {
				return nil, instructionError(i, errAccountNotInitialized, "The program expected this account to be already initialized"), nil
			}
			state.TotalGifs++
			state.GifList = append(state.GifList, program.Item{GifLink: call.Link, UserAddress: msg.AccountKeys[userIdx]})
			encoded, err := state.Encode()
			if err != nil || len(encoded) > program.AccountSpace {
				return nil, instructionError(i, errAccountDidNotSerialize, "Failed to serialize the account"), nil
			}
			updated := *acc
			updated.Data = make([]byte, program.AccountSpace)
			copy(updated.Data, encoded)
			store(&updated)
		}
	}

	writes := make([]models.LedgerAccount, 0, len(order))
	for _, addr := range order {
		writes = append(writes, *pending[addr])
	}
	return writes, nil, nil
}

func notEnoughAccounts(i int) *TxError {
	return &TxError{
		Code:        CodePreflightFailure,
		Message:     fmt.Sprintf("Transaction simulation failed: Error processing Instruction %d: insufficient account keys for instruction", i),
		Instruction: i,
		Reason:      `"NotEnoughAccountKeys"`,
	}
}

// RentExemptMinimum is the balance that keeps an account of size bytes
// rent exempt at the default rent parameters.
func RentExemptMinimum(size int) uint64 {
	const (
		accountStorageOverhead = 128
		lamportsPerByteYear    = 3480
		exemptionYears         = 2
	)
	return uint64(accountStorageOverhead+size) * lamportsPerByteYear * exemptionYears
}
