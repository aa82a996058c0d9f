// Package signer binds audit events and proposal signatures to actor
// identities using per-actor Ed25519 keypairs.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// Keyring holds one Ed25519 keypair per actor identity. Keys are created
// lazily on first use and live for the lifetime of the process; durable key
// storage belongs to the deployment's secret manager, not this package.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

// NewKeyring creates an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PrivateKey)}
}

// keyFor returns the actor's private key, generating one if absent.
func (k *Keyring) keyFor(actor string) (ed25519.PrivateKey, error) {
	k.mu.RLock()
	key, ok := k.keys[actor]
	k.mu.RUnlock()
	if ok {
		return key, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.keys[actor]; ok {
		return key, nil
	}
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key for %q: %w", actor, err)
	}
	k.keys[actor] = key
	return key, nil
}

// Sign returns the hex-encoded Ed25519 signature of msg under the actor's key.
func (k *Keyring) Sign(actor string, msg []byte) (string, error) {
	if actor == "" {
		return "", fmt.Errorf("sign: actor is empty")
	}
	key, err := k.keyFor(actor)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(key, msg)), nil
}

// Verify reports whether sig is a valid signature of msg by the actor.
// An unknown actor or malformed signature verifies as false.
func (k *Keyring) Verify(actor string, msg []byte, sig string) bool {
	k.mu.RLock()
	key, ok := k.keys[actor]
	k.mu.RUnlock()
	if !ok {
		return false
	}

	raw, err := hex.DecodeString(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(key.Public().(ed25519.PublicKey), msg, raw)
}

// PublicKey returns the actor's public key, or false if the actor has never
// signed anything through this keyring.
func (k *Keyring) PublicKey(actor string) (ed25519.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[actor]
	if !ok {
		return nil, false
	}
	return key.Public().(ed25519.PublicKey), true
}

// Known reports whether the keyring holds a key for the actor.
func (k *Keyring) Known(actor string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[actor]
	return ok
}
