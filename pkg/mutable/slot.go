// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package mutable

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/ed25519"

	"github.com/gridvault/gridvault/pkg/caps"
	"github.com/gridvault/gridvault/pkg/erasure"
	"github.com/gridvault/gridvault/pkg/grid"
)

// Header is the signed portion of a slot payload. Every peer holding the
// slot stores an identical header for a given version; only the trailing
// share differs. The signature covers the header bytes, binding the
// version, the redundancy parameters and every share digest to the
// writer's key.
type Header struct {
	Version          uint64
	Scheme           grid.RedundancyScheme
	Size             int64
	CiphertextDigest []byte
	ShareDigests     [][]byte
	PublicKey        ed25519.PublicKey
}

func (header *Header) marshal() []byte {
	size := 2 + 8 + 8 + caps.DigestSize + len(header.ShareDigests)*caps.DigestSize + ed25519.PublicKeySize
	out := make([]byte, 0, size)
	out = append(out, byte(header.Scheme.RequiredShares), byte(header.Scheme.TotalShares))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], header.Version)
	out = append(out, buf[:]...)
	binary.BigEndian.PutUint64(buf[:], uint64(header.Size))
	out = append(out, buf[:]...)
	out = append(out, header.CiphertextDigest...)
	for _, digest := range header.ShareDigests {
		out = append(out, digest...)
	}
	out = append(out, header.PublicKey...)
	return out
}

// Sign serializes the header and appends an ed25519 signature over it.
func (header *Header) Sign(private ed25519.PrivateKey) []byte {
	signed := header.marshal()
	return append(signed, ed25519.Sign(private, signed)...)
}

// packSlot appends one peer's share to a signed header.
func packSlot(signedHeader []byte, share erasure.Share) []byte {
	out := make([]byte, 0, len(signedHeader)+1+len(share.Data))
	out = append(out, signedHeader...)
	out = append(out, byte(share.Number))
	return append(out, share.Data...)
}

// parseSlot splits a slot payload into its header, the signed header
// bytes (including the signature, for reuse during repair) and the share,
// checking the embedded signature. A payload that fails any structural or
// signature check is treated as corrupt.
func parseSlot(payload []byte) (_ *Header, signedHeader []byte, _ erasure.Share, err error) {
	fixed := 2 + 8 + 8
	if len(payload) < fixed+caps.DigestSize+ed25519.PublicKeySize+ed25519.SignatureSize+1 {
		return nil, nil, erasure.Share{}, caps.ErrIntegrityFailure.New("slot payload too short")
	}

	header := &Header{
		Scheme: grid.RedundancyScheme{
			RequiredShares: int(payload[0]),
			TotalShares:    int(payload[1]),
		},
		Version: binary.BigEndian.Uint64(payload[2:10]),
		Size:    int64(binary.BigEndian.Uint64(payload[10:18])),
	}
	if err := header.Scheme.Validate(); err != nil {
		return nil, nil, erasure.Share{}, caps.ErrIntegrityFailure.Wrap(err)
	}

	headerLen := fixed + (1+header.Scheme.TotalShares)*caps.DigestSize + ed25519.PublicKeySize
	if len(payload) < headerLen+ed25519.SignatureSize+1 {
		return nil, nil, erasure.Share{}, caps.ErrIntegrityFailure.New("slot payload too short for scheme")
	}

	rest := payload[fixed:]
	header.CiphertextDigest = append([]byte{}, rest[:caps.DigestSize]...)
	rest = rest[caps.DigestSize:]
	for i := 0; i < header.Scheme.TotalShares; i++ {
		header.ShareDigests = append(header.ShareDigests, append([]byte{}, rest[:caps.DigestSize]...))
		rest = rest[caps.DigestSize:]
	}
	header.PublicKey = ed25519.PublicKey(append([]byte{}, rest[:ed25519.PublicKeySize]...))

	headerBytes := payload[:headerLen]
	signature := payload[headerLen : headerLen+ed25519.SignatureSize]
	if !ed25519.Verify(header.PublicKey, headerBytes, signature) {
		return nil, nil, erasure.Share{}, caps.ErrIntegrityFailure.New("slot signature invalid")
	}

	body := payload[headerLen+ed25519.SignatureSize:]
	share := erasure.Share{
		Number: int(body[0]),
		Data:   append([]byte{}, body[1:]...),
	}
	if share.Number >= header.Scheme.TotalShares {
		return nil, nil, erasure.Share{}, caps.ErrIntegrityFailure.New("share number %d out of range", share.Number)
	}
	if err := erasure.VerifyShare(share, header.ShareDigests[share.Number]); err != nil {
		return nil, nil, erasure.Share{}, err
	}
	return header, payload[:headerLen+ed25519.SignatureSize], share, nil
}

func contentDigest(data []byte) []byte {
	digest := sha256.Sum256(data)
	return digest[:]
}

// verifyCiphertext checks reconstructed ciphertext against the digest the
// writer signed into the header.
func verifyCiphertext(header *Header, ciphertext []byte) error {
	if !bytes.Equal(contentDigest(ciphertext), header.CiphertextDigest) {
		return caps.ErrIntegrityFailure.New("reconstructed ciphertext digest mismatch for version %d", header.Version)
	}
	return nil
}
