package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/gagliardetto/solana-go"
)

// Signer signs transaction messages for one account. Wallet accounts sign
// outside this process, so signing goes through a message callback rather
// than a private key.
type Signer interface {
	PublicKey() solana.PublicKey
	SignMessage(ctx context.Context, message []byte) (solana.Signature, error)
}

// KeypairSigner signs with a private key held in memory.
type KeypairSigner struct {
	Key solana.PrivateKey
}

// PublicKey implements Signer.
func (k KeypairSigner) PublicKey() solana.PublicKey {
	return k.Key.PublicKey()
}

// SignMessage implements Signer.
func (k KeypairSigner) SignMessage(_ context.Context, message []byte) (solana.Signature, error) {
	return k.Key.Sign(message)
}

// SignTransaction fills every required signature of tx. Each signing
// account of the message must be covered by one of signers.
func SignTransaction(ctx context.Context, tx *solana.Transaction, signers ...Signer) error {
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	n := int(tx.Message.Header.NumRequiredSignatures)
	if n > len(tx.Message.AccountKeys) {
		return errors.Newf("message requires %d signatures but has %d accounts", n, len(tx.Message.AccountKeys))
	}
	sigs := make([]solana.Signature, n)
	for i, key := range tx.Message.AccountKeys[:n] {
		s := findSigner(signers, key)
		if s == nil {
			return errors.Newf("missing signer for %s", key)
		}
		sig, err := s.SignMessage(ctx, message)
		if err != nil {
			return err
		}
		sigs[i] = sig
	}
	tx.Signatures = sigs
	return nil
}

func findSigner(signers []Signer, key solana.PublicKey) Signer {
	for _, s := range signers {
		if s.PublicKey() == key {
			return s
		}
	}
	return nil
}

// LoadKeypair reads a Solana CLI keypair file: a JSON array of the 64
// secret key bytes. A missing file keeps os.ErrNotExist in its chain.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "load keypair %s", path)
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load keypair %s", path)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.Newf("load keypair %s: got %d bytes, want %d", path, len(key), ed25519.PrivateKeySize)
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !derived.Equal(ed25519.PrivateKey(key)) {
		return nil, errors.Newf("load keypair %s: public key does not match secret", path)
	}
	return key, nil
}

// SaveKeypair writes key in the Solana CLI format with owner-only
// permissions.
func SaveKeypair(path string, key solana.PrivateKey) error {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return errors.Wrap(err, "encode keypair")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(err, "write keypair %s", path)
	}
	return nil
}

// isNotExist reports whether err means a missing file.
func isNotExist(err error) bool {
	return oserror.IsNotExist(errors.UnwrapAll(err))
}
