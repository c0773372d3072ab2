package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/GifHub/internal/client/session"
	"github.com/atinyakov/GifHub/internal/client/wallet"
	"github.com/atinyakov/GifHub/internal/failure"
	"github.com/atinyakov/GifHub/internal/models"
	"github.com/atinyakov/GifHub/internal/program"
)

var errUnavailable = errors.New("ledger unavailable")

// fakeLedger executes the program's instructions in memory.
type fakeLedger struct {
	mu        sync.Mutex
	programID solana.PublicKey
	account   *program.BaseAccount

	blockhashErr error
	sendErr      error
	fetchErr     error
	statusErr    any
	neverConfirm bool

	sends   int
	fetches int
}

func (l *fakeLedger) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blockhashErr != nil {
		return nil, l.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{7}, LastValidBlockHeight: 150},
	}, nil
}

func (l *fakeLedger) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends++
	if l.sendErr != nil {
		return solana.Signature{}, l.sendErr
	}
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, err
	}
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		return solana.Signature{}, &jsonrpc.RPCError{Code: -32003, Message: "signature count mismatch"}
	}
	for i, sig := range tx.Signatures {
		if !sig.Verify(tx.Message.AccountKeys[i], message) {
			return solana.Signature{}, &jsonrpc.RPCError{Code: -32003, Message: "Transaction signature verification failure"}
		}
	}
	for _, ix := range tx.Message.Instructions {
		call, err := program.DecodeInstruction(ix.Data)
		if err != nil {
			return solana.Signature{}, &jsonrpc.RPCError{Code: -32002, Message: err.Error()}
		}
		user := tx.Message.AccountKeys[ix.Accounts[1]]
		switch call.Name {
		case program.InstructionInitialize:
			if l.account != nil {
				return solana.Signature{}, &jsonrpc.RPCError{Code: -32002, Message: "Allocate: account already in use"}
			}
			l.account = &program.BaseAccount{}
		case program.InstructionAddGif:
			l.account.TotalGifs++
			l.account.GifList = append(l.account.GifList, program.Item{GifLink: call.Link, UserAddress: user})
		}
	}
	return tx.Signatures[0], nil
}

func (l *fakeLedger) GetSignatureStatuses(_ context.Context, _ bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := &rpc.GetSignatureStatusesResult{Value: make([]*rpc.SignatureStatusesResult, len(sigs))}
	if l.neverConfirm {
		return out, nil
	}
	for i := range sigs {
		out.Value[i] = &rpc.SignatureStatusesResult{Slot: 1, ConfirmationStatus: rpc.ConfirmationStatusProcessed, Err: l.statusErr}
	}
	return out, nil
}

func (l *fakeLedger) GetAccountInfoWithOpts(_ context.Context, _ solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetches++
	if l.fetchErr != nil {
		return nil, l.fetchErr
	}
	if l.account == nil {
		return nil, rpc.ErrNotFound
	}
	encoded, err := l.account.Encode()
	if err != nil {
		return nil, err
	}
	data := make([]byte, program.AccountSpace)
	copy(data, encoded)
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{Lamports: 1, Owner: l.programID, Data: rpc.DataBytesOrJSONFromBytes(data)},
	}, nil
}

func (l *fakeLedger) counts() (sends, fetches int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends, l.fetches
}

type keypairWallet struct {
	key solana.PrivateKey
	err error
}

func (w keypairWallet) Signer() (wallet.Signer, error) {
	if w.err != nil {
		return nil, w.err
	}
	return wallet.KeypairSigner{Key: w.key}, nil
}

func newPrivateKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

type fixture struct {
	ledger  *fakeLedger
	session *session.Store
	client  *Client
	user    models.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	userKey, accountKey, programKey := newPrivateKey(t), newPrivateKey(t), newPrivateKey(t)

	ledger := &fakeLedger{programID: programKey.PublicKey()}
	s := session.New(session.Options{}, nil)
	user := models.Identity(userKey.PublicKey().String())
	s.SetIdentity(user)

	c := New(ledger, keypairWallet{key: userKey}, s, Config{
		ProgramID:      programKey.PublicKey(),
		Account:        accountKey,
		ConfirmTimeout: 200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, nil)
	return &fixture{ledger: ledger, session: s, client: c, user: user}
}

func TestFetchStore_Uninitialized(t *testing.T) {
	f := newFixture(t)

	list, err := f.client.FetchStore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Uninitialized, list.Kind)
	assert.False(t, list.Exists())
}

func TestInitializeAppendRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.client.InitializeStore(ctx, f.user))
	snap := f.session.Snapshot()
	assert.Equal(t, models.Empty, snap.Records.Kind)
	assert.Empty(t, snap.Records.Records)

	require.NoError(t, f.client.AppendEntry(ctx, f.user, "https://media.giphy.com/a.gif"))
	require.NoError(t, f.client.AppendEntry(ctx, f.user, "https://media.giphy.com/b.gif"))

	snap = f.session.Snapshot()
	require.Equal(t, models.Populated, snap.Records.Kind)
	assert.Equal(t, []models.Record{
		{Text: "https://media.giphy.com/a.gif", SubmittedBy: f.user},
		{Text: "https://media.giphy.com/b.gif", SubmittedBy: f.user},
	}, snap.Records.Records)

	sends, fetches := f.ledger.counts()
	assert.Equal(t, 3, sends)
	assert.Equal(t, 3, fetches, "each write is followed by exactly one fetch")
}

func TestInitializeStore_AlreadyExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.client.InitializeStore(ctx, f.user))
	require.NoError(t, f.client.AppendEntry(ctx, f.user, "x"))
	before := f.session.Snapshot().Records

	err := f.client.InitializeStore(ctx, f.user)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrSubmissionRejected))
	assert.Equal(t, "The store is already initialized.", failure.Message(err))

	_, fetches := f.ledger.counts()
	assert.Equal(t, 3, fetches, "rejected initialize refetches once")
	assert.Equal(t, before, f.session.Snapshot().Records)
}

func TestAppendEntry_EmptyText(t *testing.T) {
	f := newFixture(t)

	err := f.client.AppendEntry(context.Background(), f.user, "")
	assert.True(t, errors.Is(err, failure.ErrInvalidInput))
	sends, fetches := f.ledger.counts()
	assert.Zero(t, sends)
	assert.Zero(t, fetches)
}

func TestWrites_WithoutIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.client.InitializeStore(ctx, "")
	assert.True(t, errors.Is(err, failure.ErrNotAuthenticated))
	err = f.client.AppendEntry(ctx, "", "x")
	assert.True(t, errors.Is(err, failure.ErrNotAuthenticated))

	sends, _ := f.ledger.counts()
	assert.Zero(t, sends)
}

func TestWrites_IdentityMismatch(t *testing.T) {
	f := newFixture(t)
	other := newPrivateKey(t)

	err := f.client.InitializeStore(context.Background(), models.Identity(other.PublicKey().String()))
	assert.True(t, errors.Is(err, failure.ErrNotAuthenticated))
}

func TestAppendEntry_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(l *fakeLedger)
		want  error
	}{
		{"blockhash unavailable", func(l *fakeLedger) { l.blockhashErr = errUnavailable }, failure.ErrTransport},
		{"send network error", func(l *fakeLedger) { l.sendErr = errUnavailable }, failure.ErrTransport},
		{"send rejected", func(l *fakeLedger) { l.sendErr = &jsonrpc.RPCError{Code: -32002, Message: "simulation failed"} }, failure.ErrSubmissionRejected},
		{"failed on ledger", func(l *fakeLedger) { l.statusErr = map[string]any{"InstructionError": []any{0, "Custom"}} }, failure.ErrSubmissionRejected},
		{"confirmation timeout", func(l *fakeLedger) { l.neverConfirm = true }, failure.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			require.NoError(t, f.client.InitializeStore(ctx, f.user))
			before := f.session.Snapshot().Records
			_, fetchesBefore := f.ledger.counts()

			tt.setup(f.ledger)
			err := f.client.AppendEntry(ctx, f.user, "x")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			_, fetches := f.ledger.counts()
			assert.Equal(t, fetchesBefore, fetches, "failed append does not refetch")
			assert.Equal(t, before, f.session.Snapshot().Records)
		})
	}
}

func TestAppendEntry_WalletRejects(t *testing.T) {
	f := newFixture(t)
	f.client.wallet = keypairWallet{key: newPrivateKey(t), err: failure.Tag(nil, failure.ErrUserRejected, "declined")}

	err := f.client.AppendEntry(context.Background(), f.user, "x")
	assert.True(t, errors.Is(err, failure.ErrUserRejected))
}

func TestRefresh_TransportErrorIsNotUninitialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.client.InitializeStore(ctx, f.user))

	f.ledger.fetchErr = errUnavailable
	_, err := f.client.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrTransport))

	snap := f.session.Snapshot()
	assert.Equal(t, models.Unknown, snap.Records.Kind)
	assert.NotEqual(t, models.Uninitialized, snap.Records.Kind)
	assert.Error(t, snap.FetchErr)

	f.ledger.fetchErr = nil
	_, err = f.client.Refresh(ctx)
	require.NoError(t, err)
	snap = f.session.Snapshot()
	assert.Equal(t, models.Empty, snap.Records.Kind)
	assert.NoError(t, snap.FetchErr)
}

func TestFetchStore_ForeignAccount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.InitializeStore(context.Background(), f.user))
	f.ledger.programID = solana.SystemProgramID

	list, err := f.client.FetchStore(context.Background())
	assert.True(t, errors.Is(err, failure.ErrTransport))
	assert.Equal(t, models.Unknown, list.Kind)
}

type failingSigner struct {
	key solana.PublicKey
	err error
}

func (s failingSigner) PublicKey() solana.PublicKey { return s.key }

func (s failingSigner) SignMessage(context.Context, []byte) (solana.Signature, error) {
	return solana.Signature{}, s.err
}

type signerWallet struct{ signer wallet.Signer }

func (w signerWallet) Signer() (wallet.Signer, error) { return w.signer, nil }

func TestAppendEntry_SigningFailures(t *testing.T) {
	tests := []struct {
		name    string
		signErr error
		want    error
	}{
		{"untagged error becomes wallet unavailable", errors.New("device unplugged"), failure.ErrWalletUnavailable},
		{"wrapped untagged error", errors.Wrap(errors.New("device unplugged"), "ledger nano"), failure.ErrWalletUnavailable},
		{"tagged rejection is kept", errors.Wrap(failure.Tag(nil, failure.ErrUserRejected, "declined"), "sign"), failure.ErrUserRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			key, err := solana.PublicKeyFromBase58(string(f.user))
			require.NoError(t, err)
			f.client.wallet = signerWallet{failingSigner{key: key, err: tt.signErr}}

			err = f.client.AppendEntry(context.Background(), f.user, "x")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			sends, _ := f.ledger.counts()
			assert.Zero(t, sends)
		})
	}
}

func TestReached(t *testing.T) {
	tests := []struct {
		status rpc.ConfirmationStatusType
		target rpc.CommitmentType
		want   bool
	}{
		{rpc.ConfirmationStatusProcessed, rpc.CommitmentProcessed, true},
		{rpc.ConfirmationStatusProcessed, rpc.CommitmentConfirmed, false},
		{rpc.ConfirmationStatusConfirmed, rpc.CommitmentProcessed, true},
		{rpc.ConfirmationStatusFinalized, rpc.CommitmentFinalized, true},
		{rpc.ConfirmationStatusConfirmed, rpc.CommitmentFinalized, false},
		{"", rpc.CommitmentProcessed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reached(tt.status, tt.target), "%s vs %s", tt.status, tt.target)
	}
}
