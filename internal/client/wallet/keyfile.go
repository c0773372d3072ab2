package wallet

import (
	"context"
	"encoding/json"
	"os"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
)

// Approver asks the wallet owner to confirm requests.
type Approver interface {
	ApproveConnect(ctx context.Context, origin string, account solana.PublicKey) (bool, error)
	ApproveSign(ctx context.Context, origin string, account solana.PublicKey, size int) (bool, error)
}

// KeyfileConfig configures a KeyfileProvider.
type KeyfileConfig struct {
	// KeypairPath is a Solana CLI keypair file.
	KeypairPath string
	// TrustPath stores the origins the owner approved. Empty disables
	// remembering approvals, so silent connects always fail.
	TrustPath string
	// Origin identifies this client to the wallet.
	Origin string
	// Approver confirms interactive requests.
	Approver Approver
}

// KeyfileProvider is a wallet backed by a keypair on disk. It keeps its
// own record of trusted origins, as a browser wallet extension does.
type KeyfileProvider struct {
	cfg KeyfileConfig

	mu        sync.Mutex
	key       solana.PrivateKey
	connected bool
}

// NewKeyfileProvider returns a provider for cfg. The keypair is read
// on Connect, so a missing file surfaces as ErrNoWallet at that point.
func NewKeyfileProvider(cfg KeyfileConfig) *KeyfileProvider {
	return &KeyfileProvider{cfg: cfg}
}

type trustFile struct {
	Trusted []string `json:"trusted"`
}

// Connect implements Provider.
func (p *KeyfileProvider) Connect(ctx context.Context, opts ConnectOptions) (solana.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, err := p.keypair()
	if err != nil {
		return solana.PublicKey{}, err
	}

	trusted, err := p.isTrusted()
	if err != nil {
		return solana.PublicKey{}, err
	}
	if !trusted {
		if opts.OnlyIfTrusted {
			return solana.PublicKey{}, ErrNotTrusted
		}
		ok, err := p.cfg.Approver.ApproveConnect(ctx, p.cfg.Origin, key.PublicKey())
		if err != nil {
			return solana.PublicKey{}, errors.Wrap(err, "approve connect")
		}
		if !ok {
			return solana.PublicKey{}, ErrRejected
		}
		if err := p.trust(); err != nil {
			return solana.PublicKey{}, err
		}
	}

	p.connected = true
	return key.PublicKey(), nil
}

// SignMessage implements Provider.
func (p *KeyfileProvider) SignMessage(ctx context.Context, message []byte) (solana.Signature, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return solana.Signature{}, ErrNotConnected
	}
	ok, err := p.cfg.Approver.ApproveSign(ctx, p.cfg.Origin, p.key.PublicKey(), len(message))
	if err != nil {
		return solana.Signature{}, errors.Wrap(err, "approve sign")
	}
	if !ok {
		return solana.Signature{}, ErrRejected
	}
	return p.key.Sign(message)
}

func (p *KeyfileProvider) keypair() (solana.PrivateKey, error) {
	if p.key != nil {
		return p.key, nil
	}
	key, err := LoadKeypair(p.cfg.KeypairPath)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNoWallet
		}
		return nil, err
	}
	p.key = key
	return key, nil
}

func (p *KeyfileProvider) loadTrust() (trustFile, error) {
	var tf trustFile
	if p.cfg.TrustPath == "" {
		return tf, nil
	}
	data, err := os.ReadFile(p.cfg.TrustPath)
	if err != nil {
		if isNotExist(err) {
			return tf, nil
		}
		return tf, errors.Wrap(err, "read trust file")
	}
	if err := json.Unmarshal(data, &tf); err != nil {
		return tf, errors.Wrap(err, "parse trust file")
	}
	return tf, nil
}

func (p *KeyfileProvider) isTrusted() (bool, error) {
	tf, err := p.loadTrust()
	if err != nil {
		return false, err
	}
	return slices.Contains(tf.Trusted, p.cfg.Origin), nil
}

func (p *KeyfileProvider) trust() error {
	if p.cfg.TrustPath == "" {
		return nil
	}
	tf, err := p.loadTrust()
	if err != nil {
		return err
	}
	tf.Trusted = append(tf.Trusted, p.cfg.Origin)
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode trust file")
	}
	if err := os.WriteFile(p.cfg.TrustPath, data, 0600); err != nil {
		return errors.Wrap(err, "write trust file")
	}
	return nil
}
