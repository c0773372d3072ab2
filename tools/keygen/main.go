// Package main generates the keypairs a local GifHub setup needs (wallet,
// record-holding account, program address) under the "keys" directory.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"

	"github.com/atinyakov/GifHub/internal/client/wallet"
)

// keyNames are the files created under the keys directory.
var keyNames = []string{"wallet.json", "keypair.json", "program.json"}

func main() {
	// keys directory for storing generated keypairs
	dir := "keys"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	addrs, err := generateAll(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, name := range keyNames {
		fmt.Printf("%-13s %s\n", name, addrs[name])
	}
	fmt.Printf("Keypairs ready in ./%s\n", dir)
}

// generateAll makes sure every file in keyNames exists under dir and
// returns the address of each. Existing keypairs are kept, so rerunning
// never changes an address.
func generateAll(dir string) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	addrs := make(map[string]string, len(keyNames))
	for _, name := range keyNames {
		key, err := ensureKeypair(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		addrs[name] = key.PublicKey().String()
	}
	return addrs, nil
}

// ensureKeypair loads the keypair at path, creating it first if missing.
func ensureKeypair(path string) (solana.PrivateKey, error) {
	key, err := wallet.LoadKeypair(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err = solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	if err := wallet.SaveKeypair(path, key); err != nil {
		return nil, err
	}
	return key, nil
}
