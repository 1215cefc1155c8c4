// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package caps

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/ed25519"

	"github.com/gridvault/gridvault/pkg/grid"
)

// KeySize is the size of the symmetric keys in the capability key schedule.
const KeySize = 32

// Key is a symmetric key in the capability key schedule.
type Key [KeySize]byte

// derivation tags for the one-way key schedule
const (
	tagContentKey   = "gridvault content key v1"
	tagReadKey      = "gridvault read key v1"
	tagStorageIndex = "gridvault storage index v1"
	tagWriteEnabler = "gridvault write enabler v1"
)

// NewKey generates a random key.
func NewKey() (*Key, error) {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return nil, Error.Wrap(err)
	}
	return &key, nil
}

// DeriveContentKey derives an immutable file's read key from its content.
// Identical content always maps to the same key, and through it the same
// storage index and byte-identical shares, so a retried upload is
// idempotent to place.
func DeriveContentKey(content []byte) *Key {
	digest := sha256.Sum256(content)
	mac := hmac.New(sha256.New, digest[:])
	_, _ = mac.Write([]byte(tagContentKey))
	var key Key
	copy(key[:], mac.Sum(nil))
	return &key
}

// KeyFromBytes converts a byte slice to a key.
func KeyFromBytes(data []byte) (*Key, error) {
	if len(data) != KeySize {
		return nil, Error.New("invalid key length %d", len(data))
	}
	var key Key
	copy(key[:], data)
	return &key, nil
}

// Bytes returns the key as a byte slice.
func (key *Key) Bytes() []byte { return append([]byte{}, key[:]...) }

// deriveKey computes a tagged one-way derivation of key. Recovering key
// from the result requires inverting HMAC-SHA256.
func deriveKey(key *Key, tag string) *Key {
	mac := hmac.New(sha256.New, key[:])
	_, _ = mac.Write([]byte(tag))
	var derived Key
	copy(derived[:], mac.Sum(nil))
	return &derived
}

// DeriveReadKey derives the read key from a write key.
func DeriveReadKey(writeKey *Key) *Key {
	return deriveKey(writeKey, tagReadKey)
}

// DeriveStorageIndex derives the storage index peers use to name the
// object from its read key.
func DeriveStorageIndex(readKey *Key) grid.StorageIndex {
	derived := deriveKey(readKey, tagStorageIndex)
	var index grid.StorageIndex
	copy(index[:], derived[:grid.StorageIndexSize])
	return index
}

// DeriveWriteEnabler derives the per-peer write enabler a peer stores with
// a mutable slot. Peers learn nothing about the write key from it, and an
// enabler captured from one peer is useless at another.
func DeriveWriteEnabler(writeKey *Key, peer grid.PeerID) []byte {
	mac := hmac.New(sha256.New, writeKey[:])
	_, _ = mac.Write([]byte(tagWriteEnabler))
	_, _ = mac.Write(peer[:])
	return mac.Sum(nil)
}

// SigningKey returns the ed25519 key a mutable file's slot headers are
// signed with, deterministically derived from the write key.
func SigningKey(writeKey *Key) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(writeKey[:])
}

// Fingerprint returns the digest of a mutable file's public verification
// key, as embedded into read and verify capabilities.
func Fingerprint(public ed25519.PublicKey) []byte {
	digest := sha256.Sum256(public)
	return digest[:]
}
