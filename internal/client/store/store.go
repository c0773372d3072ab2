// Package store is the client of the record-holding account. Every write
// is confirmed on the ledger and followed by exactly one read-back; the
// client never updates the record list from local intent.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"

	"github.com/atinyakov/GifHub/internal/client/session"
	"github.com/atinyakov/GifHub/internal/client/wallet"
	"github.com/atinyakov/GifHub/internal/failure"
	"github.com/atinyakov/GifHub/internal/models"
	"github.com/atinyakov/GifHub/internal/program"
)

// RPC is the subset of the Solana JSON-RPC API the store uses. *rpc.Client
// implements it.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

// SignerSource provides the connected wallet's signing capability.
type SignerSource interface {
	Signer() (wallet.Signer, error)
}

// Config is fixed at startup.
type Config struct {
	// ProgramID is the GIF program.
	ProgramID solana.PublicKey
	// Account is the bundled keypair of the record-holding account.
	Account solana.PrivateKey
	// Commitment is used for reads, preflight and confirmation.
	Commitment rpc.CommitmentType
	// ConfirmTimeout bounds the wait for a submitted transaction.
	ConfirmTimeout time.Duration
	// PollInterval is the delay between signature status checks.
	PollInterval time.Duration
}

// Client talks to the record-holding account.
type Client struct {
	rpc     RPC
	wallet  SignerSource
	session *session.Store
	cfg     Config
	log     *zap.Logger
}

// New returns a Client. Zero durations in cfg get defaults.
func New(r RPC, w SignerSource, s *session.Store, cfg Config, log *zap.Logger) *Client {
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentProcessed
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		rpc:     r,
		wallet:  w,
		session: s,
		cfg:     cfg,
		log:     log.With(zap.String("component", "store"), zap.String("account", cfg.Account.PublicKey().String())),
	}
}

// Account returns the address of the record-holding account.
func (c *Client) Account() solana.PublicKey {
	return c.cfg.Account.PublicKey()
}

// InitializeStore creates the record-holding account. On success, and on
// a ledger rejection (the account usually exists already), it refreshes
// the session once before returning.
func (c *Client) InitializeStore(ctx context.Context, id models.Identity) error {
	gen := c.session.Generation()
	signer, err := c.signerFor(id)
	if err != nil {
		return err
	}

	ix := program.InitializeInstruction(c.cfg.ProgramID, c.Account(), signer.PublicKey())
	sig, err := c.submit(ctx, signer, ix, wallet.KeypairSigner{Key: c.cfg.Account})
	if err != nil {
		c.log.Warn("initialize failed", zap.String("kind", failure.Kind(err)), zap.Error(err))
		if errors.Is(err, failure.ErrSubmissionRejected) {
			_, _ = c.refresh(ctx, gen)
		}
		return err
	}

	c.log.Info("store initialized", zap.Stringer("signature", sig), zap.String("identity", string(id)))
	_, _ = c.refresh(ctx, gen)
	return nil
}

// AppendEntry adds text to the record-holding account and refreshes the
// session once on success. Empty text fails with failure.ErrInvalidInput
// without any network call.
func (c *Client) AppendEntry(ctx context.Context, id models.Identity, text string) error {
	if text == "" {
		return failure.Tag(nil, failure.ErrInvalidInput, "empty entry")
	}
	gen := c.session.Generation()
	signer, err := c.signerFor(id)
	if err != nil {
		return err
	}

	ix, err := program.AddGifInstruction(c.cfg.ProgramID, c.Account(), signer.PublicKey(), text)
	if err != nil {
		return failure.Tag(err, failure.ErrInvalidInput, "build instruction")
	}
	sig, err := c.submit(ctx, signer, ix)
	if err != nil {
		c.log.Warn("append failed", zap.String("kind", failure.Kind(err)), zap.Error(err))
		return err
	}

	c.log.Info("entry appended", zap.Stringer("signature", sig), zap.String("identity", string(id)))
	_, _ = c.refresh(ctx, gen)
	return nil
}

// FetchStore reads the record-holding account. A missing account yields
// an Uninitialized list; any failure to read is failure.ErrTransport and
// never Uninitialized.
func (c *Client) FetchStore(ctx context.Context) (models.RecordList, error) {
	res, err := c.rpc.GetAccountInfoWithOpts(ctx, c.Account(), &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.cfg.Commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return models.UninitializedList(), nil
	}
	if err != nil {
		return models.UnknownList(), failure.Tag(err, failure.ErrTransport, "fetch store")
	}
	if res == nil || res.Value == nil {
		return models.UninitializedList(), nil
	}
	acc := res.Value
	if acc.Owner != c.cfg.ProgramID {
		return models.UnknownList(), failure.Tag(errors.Newf("owner %s", acc.Owner), failure.ErrTransport, "fetch store: account not owned by program")
	}
	base, err := program.DecodeBaseAccount(acc.Data.GetBinary())
	if err != nil {
		return models.UnknownList(), failure.Tag(err, failure.ErrTransport, "fetch store")
	}
	return models.NewRecordList(base.Records()), nil
}

// Refresh fetches the store and publishes the outcome into the session.
func (c *Client) Refresh(ctx context.Context) (models.RecordList, error) {
	return c.refresh(ctx, c.session.Generation())
}

func (c *Client) refresh(ctx context.Context, gen uint64) (models.RecordList, error) {
	list, err := c.FetchStore(ctx)
	if err != nil {
		c.log.Warn("fetch failed; store state unknown", zap.String("kind", failure.Kind(err)), zap.Error(err))
		c.session.ApplyFetchError(gen, err)
		return list, err
	}
	c.log.Debug("fetched store", zap.String("state", string(list.Kind)), zap.Int("count", list.Len()))
	c.session.ApplyRecords(gen, list)
	return list, nil
}

func (c *Client) signerFor(id models.Identity) (wallet.Signer, error) {
	if !id.Present() {
		return nil, failure.Tag(nil, failure.ErrNotAuthenticated, "write without identity")
	}
	signer, err := c.wallet.Signer()
	if err != nil {
		return nil, err
	}
	if signer.PublicKey().String() != string(id) {
		return nil, failure.Tag(errors.Newf("wallet is %s", signer.PublicKey()), failure.ErrNotAuthenticated, "identity does not match wallet")
	}
	return signer, nil
}

// submit signs ix with the wallet and extra signers, sends it and waits
// for the configured commitment.
func (c *Client) submit(ctx context.Context, payer wallet.Signer, ix solana.Instruction, extra ...wallet.Signer) (solana.Signature, error) {
	latest, err := c.rpc.GetLatestBlockhash(ctx, c.cfg.Commitment)
	if err != nil {
		return solana.Signature{}, failure.Tag(err, failure.ErrTransport, "get blockhash")
	}
	if latest == nil || latest.Value == nil {
		return solana.Signature{}, failure.Tag(nil, failure.ErrTransport, "get blockhash: empty result")
	}

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, latest.Value.Blockhash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return solana.Signature{}, failure.Tag(err, failure.ErrInvalidInput, "build transaction")
	}
	if err := wallet.SignTransaction(ctx, tx, append([]wallet.Signer{payer}, extra...)...); err != nil {
		if !failure.Tagged(err) {
			return solana.Signature{}, failure.Tag(err, failure.ErrWalletUnavailable, "sign transaction")
		}
		return solana.Signature{}, err
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.cfg.Commitment,
	})
	if err != nil {
		return solana.Signature{}, classifySend(err)
	}
	if err := c.confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *Client) confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		st, err := c.signatureStatus(ctx, sig)
		switch {
		case err != nil:
			lastErr = err
		case st == nil:
		case st.Err != nil:
			return errors.WithHint(
				failure.Tag(errors.Newf("%v", st.Err), failure.ErrSubmissionRejected, "transaction "+sig.String()+" failed"),
				"The ledger rejected the transaction.")
		case reached(st.ConfirmationStatus, c.cfg.Commitment):
			return nil
		}

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return failure.Tag(lastErr, failure.ErrTransport, "confirm transaction "+sig.String())
		case <-ticker.C:
		}
	}
}

func (c *Client) signatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	res, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

// confirmationRank orders confirmation levels; an unknown level ranks zero.
var confirmationRank = map[string]int{
	string(rpc.CommitmentProcessed): 1,
	string(rpc.CommitmentConfirmed): 2,
	string(rpc.CommitmentFinalized): 3,
}

// reached reports whether a transaction at status satisfies target.
func reached(status rpc.ConfirmationStatusType, target rpc.CommitmentType) bool {
	got := confirmationRank[string(status)]
	return got > 0 && got >= confirmationRank[string(target)]
}

func classifySend(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		hint := "The ledger rejected the transaction: " + rpcErr.Message
		if strings.Contains(rpcErr.Message, "already in use") {
			hint = "The store is already initialized."
		}
		return errors.WithHint(failure.Tag(err, failure.ErrSubmissionRejected, "send transaction"), hint)
	}
	return failure.Tag(err, failure.ErrTransport, "send transaction")
}
