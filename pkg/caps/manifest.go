// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package caps

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/gridvault/gridvault/pkg/erasure"
	"github.com/gridvault/gridvault/pkg/grid"
)

// Manifest binds a file's redundancy parameters, its ciphertext digest and
// the digest of every share. Each stored share carries a copy of the
// manifest, and the manifest's root digest is committed into read and
// verify capabilities, so any fetched share can be validated locally at
// both the fragment and the whole-object level.
type Manifest struct {
	Scheme           grid.RedundancyScheme
	Size             int64
	CiphertextDigest []byte
	ShareDigests     [][]byte
}

// NewManifest builds the manifest for a set of encoded shares.
func NewManifest(scheme grid.RedundancyScheme, size int64, ciphertext []byte, shares []erasure.Share) (*Manifest, error) {
	if len(shares) != scheme.TotalShares {
		return nil, Error.New("share count %d does not match scheme total %d", len(shares), scheme.TotalShares)
	}
	manifest := &Manifest{
		Scheme:           grid.RedundancyScheme{RequiredShares: scheme.RequiredShares, TotalShares: scheme.TotalShares},
		Size:             size,
		CiphertextDigest: contentDigest(ciphertext),
		ShareDigests:     make([][]byte, len(shares)),
	}
	for _, share := range shares {
		if share.Number < 0 || share.Number >= len(shares) {
			return nil, Error.New("share number %d out of range", share.Number)
		}
		manifest.ShareDigests[share.Number] = erasure.ShareDigest(share.Data)
	}
	return manifest, nil
}

// Marshal serializes the manifest.
func (manifest *Manifest) Marshal() []byte {
	size := 2 + 8 + DigestSize + len(manifest.ShareDigests)*DigestSize
	out := make([]byte, 0, size)
	out = append(out, byte(manifest.Scheme.RequiredShares), byte(manifest.Scheme.TotalShares))
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(manifest.Size))
	out = append(out, sizeBuf[:]...)
	out = append(out, manifest.CiphertextDigest...)
	for _, digest := range manifest.ShareDigests {
		out = append(out, digest...)
	}
	return out
}

// ParseManifest deserializes a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) < 2+8+DigestSize {
		return nil, Error.New("manifest too short")
	}
	manifest := &Manifest{
		Scheme: grid.RedundancyScheme{
			RequiredShares: int(data[0]),
			TotalShares:    int(data[1]),
		},
		Size: int64(binary.BigEndian.Uint64(data[2:10])),
	}
	rest := data[10:]
	manifest.CiphertextDigest = append([]byte{}, rest[:DigestSize]...)
	rest = rest[DigestSize:]

	if err := manifest.Scheme.Validate(); err != nil {
		return nil, Error.Wrap(err)
	}
	if len(rest) != manifest.Scheme.TotalShares*DigestSize {
		return nil, Error.New("manifest digest section has wrong length %d", len(rest))
	}
	for i := 0; i < manifest.Scheme.TotalShares; i++ {
		manifest.ShareDigests = append(manifest.ShareDigests, append([]byte{}, rest[i*DigestSize:(i+1)*DigestSize]...))
	}
	return manifest, nil
}

// Root returns the manifest root digest.
func (manifest *Manifest) Root() []byte {
	digest := sha256.Sum256(manifest.Marshal())
	return digest[:]
}

// VerifyShare checks a share payload against the manifest before it is
// handed to the decoder.
func (manifest *Manifest) VerifyShare(share erasure.Share) error {
	if share.Number < 0 || share.Number >= len(manifest.ShareDigests) {
		return erasure.ErrCorruptShare.New("share number %d out of range", share.Number)
	}
	return erasure.VerifyShare(share, manifest.ShareDigests[share.Number])
}

// VerifyCiphertext checks reconstructed ciphertext against the digest
// computed before encoding. A mismatch means the decode produced wrong
// content and must never be exposed to the caller.
func (manifest *Manifest) VerifyCiphertext(ciphertext []byte) error {
	if !bytes.Equal(contentDigest(ciphertext), manifest.CiphertextDigest) {
		return ErrIntegrityFailure.New("reconstructed ciphertext digest mismatch")
	}
	return nil
}

func contentDigest(data []byte) []byte {
	digest := sha256.Sum256(data)
	return digest[:]
}
