// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package caps

import (
	"encoding/binary"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/gridvault/gridvault/pkg/grid"
)

// contentNonce derives the secretbox nonce for an object version. Each
// (read key, version) pair encrypts at most once, so the deterministic
// nonce is safe and keeps encode output byte-identical across repairs.
func contentNonce(index grid.StorageIndex, version uint64) *[24]byte {
	var nonce [24]byte
	copy(nonce[:], index[:])
	binary.BigEndian.PutUint64(nonce[16:], version)
	return &nonce
}

// EncryptContent encrypts plaintext under the read key. Immutable files
// use version 0; mutable files use the slot version being published.
func EncryptContent(readKey *Key, index grid.StorageIndex, version uint64, plaintext []byte) []byte {
	return secretbox.Seal(nil, plaintext, contentNonce(index, version), (*[32]byte)(readKey))
}

// DecryptContent decrypts and authenticates ciphertext under the read key.
func DecryptContent(readKey *Key, index grid.StorageIndex, version uint64, ciphertext []byte) ([]byte, error) {
	plaintext, ok := secretbox.Open(nil, ciphertext, contentNonce(index, version), (*[32]byte)(readKey))
	if !ok {
		return nil, ErrIntegrityFailure.New("content failed authenticated decryption")
	}
	// secretbox.Open returns nil for an empty message
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
