// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// keyPair snapshots the signing material. Installation swaps the whole pair,
// so readers never observe a half-rotated state.
type keyPair struct {
	current    []byte
	currentID  string
	previous   []byte
	previousID string
}

// Keyring holds the current and previous token signing keys. Issuance always
// uses the current key; validation accepts either, which keeps tokens signed
// just before a key rotation verifiable until they expire.
type Keyring struct {
	pair atomic.Pointer[keyPair]
}

// NewKeyring returns a Keyring with key as the current signing key.
func NewKeyring(key []byte) (*Keyring, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key must not be empty")
	}
	k := &Keyring{}
	k.pair.Store(&keyPair{current: key, currentID: KeyID(key)})
	return k, nil
}

// Install demotes the current key to previous and sets key as current.
func (k *Keyring) Install(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("signing key must not be empty")
	}
	for {
		old := k.pair.Load()
		next := &keyPair{
			current:    key,
			currentID:  KeyID(key),
			previous:   old.current,
			previousID: old.currentID,
		}
		if k.pair.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Current returns the signing key and its id.
func (k *Keyring) Current() ([]byte, string) {
	p := k.pair.Load()
	return p.current, p.currentID
}

// Previous returns the demoted key and its id, or nil when no rotation has
// happened yet.
func (k *Keyring) Previous() ([]byte, string) {
	p := k.pair.Load()
	return p.previous, p.previousID
}

// KeyID derives a short stable identifier for key material, used as the JWS
// "kid" header.
func KeyID(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}
