package issuer

import (
	"crypto/rsa"
	"sync"

	"github.com/google/uuid"

	"go.oidclab.dev/implicit/internal/crypto"
	"go.oidclab.dev/implicit/jwks"
)

// KeySet holds the issuer's RSA signing keys. Tokens are always signed with
// the current key, but the previous key stays in the advertised set after a
// rotation so tokens signed before the rotation keep verifying until they
// expire.
//
// Reads vastly outnumber rotations, so an RWMutex is enough; readers see
// either the old or the new set, never a partially updated one.
type KeySet struct {
	mu            sync.RWMutex
	keys          map[string]*rsa.PrivateKey
	currentKeyID  string
	previousKeyID string
}

// NewKeySet generates the initial signing key.
func NewKeySet() (*KeySet, error) {
	ks := &KeySet{keys: make(map[string]*rsa.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// SigningKey returns the current key id and private key.
func (ks *KeySet) SigningKey() (string, *rsa.PrivateKey) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.currentKeyID, ks.keys[ks.currentKeyID]
}

// PublicKey returns the public key for kid, or false when the kid is not in
// the advertised set.
func (ks *KeySet) PublicKey(kid string) (*rsa.PublicKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	priv, ok := ks.keys[kid]
	if !ok {
		return nil, false
	}
	return &priv.PublicKey, true
}

// JWKS returns the advertised public key set, current key first.
func (ks *KeySet) JWKS() jwks.JSONWebKeySet {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var set jwks.JSONWebKeySet
	if key, ok := ks.keys[ks.currentKeyID]; ok {
		set.Keys = append(set.Keys, jwks.FromRSAPublicKey(ks.currentKeyID, &key.PublicKey))
	}
	if key, ok := ks.keys[ks.previousKeyID]; ok {
		set.Keys = append(set.Keys, jwks.FromRSAPublicKey(ks.previousKeyID, &key.PublicKey))
	}
	return set
}

// Rotate generates a new signing key and makes it current. The key it
// replaces remains advertised; any key older than that is dropped.
func (ks *KeySet) Rotate() error {
	key, err := crypto.GenerateRSAKey()
	if err != nil {
		return err
	}
	newKeyID := uuid.NewString()

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.previousKeyID != "" {
		delete(ks.keys, ks.previousKeyID)
	}
	ks.previousKeyID = ks.currentKeyID
	ks.keys[newKeyID] = key
	ks.currentKeyID = newKeyID

	return nil
}
