// Package wallet connects the client to a wallet provider. The Gateway
// translates provider outcomes into session identity updates and tagged
// failures; providers themselves are external and opaque.
package wallet

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/atinyakov/GifHub/internal/client/session"
	"github.com/atinyakov/GifHub/internal/failure"
	"github.com/atinyakov/GifHub/internal/models"
)

// Provider errors.
var (
	// ErrNoWallet means the provider exists but holds no account.
	ErrNoWallet = errors.New("no wallet account")
	// ErrNotTrusted means a silent connect was refused because the origin
	// has not been approved before.
	ErrNotTrusted = errors.New("origin not trusted")
	// ErrRejected means the user declined the request.
	ErrRejected = errors.New("request rejected by user")
	// ErrNotConnected means a signature was requested before Connect.
	ErrNotConnected = errors.New("wallet not connected")
)

// ConnectOptions mirrors the provider's connect options.
type ConnectOptions struct {
	// OnlyIfTrusted forbids any user prompt.
	OnlyIfTrusted bool
}

// Provider is an external wallet.
type Provider interface {
	// Connect returns the public key of the wallet account.
	Connect(ctx context.Context, opts ConnectOptions) (solana.PublicKey, error)
	// SignMessage signs a transaction message with the connected account.
	SignMessage(ctx context.Context, message []byte) (solana.Signature, error)
}

// Gateway wraps a Provider. A nil provider models an environment without
// any wallet installed.
type Gateway struct {
	provider Provider
	session  *session.Store
	log      *zap.Logger
}

// NewGateway returns a gateway that publishes identities into s.
func NewGateway(p Provider, s *session.Store, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{provider: p, session: s, log: log.With(zap.String("component", "wallet"))}
}

// SilentConnect connects only if the provider already trusts this client.
// Every failure resolves to ("", false); nothing is surfaced to the user.
func (g *Gateway) SilentConnect(ctx context.Context) (models.Identity, bool) {
	if g.provider == nil {
		g.log.Debug("silent connect skipped: no wallet provider")
		return "", false
	}
	pk, err := g.provider.Connect(ctx, ConnectOptions{OnlyIfTrusted: true})
	if err != nil {
		g.log.Debug("silent connect declined", zap.Error(err))
		return "", false
	}
	id := models.Identity(pk.String())
	g.log.Info("connected", zap.String("identity", string(id)), zap.Bool("silent", true))
	g.session.SetIdentity(id)
	return id, true
}

// Connect runs an interactive connection. It fails with
// failure.ErrWalletUnavailable or failure.ErrUserRejected.
func (g *Gateway) Connect(ctx context.Context) (models.Identity, error) {
	if g.provider == nil {
		return "", failure.Tag(nil, failure.ErrWalletUnavailable, "no wallet provider")
	}
	pk, err := g.provider.Connect(ctx, ConnectOptions{})
	if err != nil {
		g.log.Warn("connect failed", zap.Error(err))
		return "", classify(err, "connect wallet")
	}
	id := models.Identity(pk.String())
	g.log.Info("connected", zap.String("identity", string(id)), zap.Bool("silent", false))
	g.session.SetIdentity(id)
	return id, nil
}

// Signer returns the signing capability of the connected identity.
func (g *Gateway) Signer() (Signer, error) {
	id := g.session.Snapshot().Identity
	if !id.Present() {
		return nil, failure.Tag(nil, failure.ErrNotAuthenticated, "no connected identity")
	}
	if g.provider == nil {
		return nil, failure.Tag(nil, failure.ErrWalletUnavailable, "no wallet provider")
	}
	pk, err := solana.PublicKeyFromBase58(string(id))
	if err != nil {
		return nil, failure.Tag(err, failure.ErrWalletUnavailable, "identity is not a public key")
	}
	return &providerSigner{provider: g.provider, key: pk}, nil
}

type providerSigner struct {
	provider Provider
	key      solana.PublicKey
}

func (s *providerSigner) PublicKey() solana.PublicKey {
	return s.key
}

func (s *providerSigner) SignMessage(ctx context.Context, message []byte) (solana.Signature, error) {
	sig, err := s.provider.SignMessage(ctx, message)
	if err != nil {
		return solana.Signature{}, classify(err, "sign transaction")
	}
	return sig, nil
}

func classify(err error, msg string) error {
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrNotTrusted) {
		return failure.Tag(err, failure.ErrUserRejected, msg)
	}
	return failure.Tag(err, failure.ErrWalletUnavailable, msg)
}
