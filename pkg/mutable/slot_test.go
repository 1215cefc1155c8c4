// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package mutable

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/gridvault/gridvault/internal/testrand"
	"github.com/gridvault/gridvault/pkg/caps"
	"github.com/gridvault/gridvault/pkg/erasure"
	"github.com/gridvault/gridvault/pkg/grid"
)

func makeSignedSlot(t *testing.T) (*Header, []byte, erasure.Share) {
	scheme := grid.RedundancyScheme{RequiredShares: 3, TotalShares: 6}
	codec, err := erasure.NewCodec(scheme.RequiredShares, scheme.TotalShares)
	require.NoError(t, err)

	ciphertext := testrand.Bytes(2048)
	shares, err := codec.Encode(ciphertext)
	require.NoError(t, err)

	public, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	header := &Header{
		Version:          7,
		Scheme:           scheme,
		Size:             2048,
		CiphertextDigest: contentDigest(ciphertext),
		ShareDigests:     make([][]byte, len(shares)),
		PublicKey:        public,
	}
	for _, share := range shares {
		header.ShareDigests[share.Number] = erasure.ShareDigest(share.Data)
	}
	return header, header.Sign(private), shares[4]
}

func TestSlotPackParseRoundTrip(t *testing.T) {
	header, signedHeader, share := makeSignedSlot(t)

	parsed, parsedSigned, parsedShare, err := parseSlot(packSlot(signedHeader, share))
	require.NoError(t, err)

	assert.Equal(t, header.Version, parsed.Version)
	assert.Equal(t, header.Scheme, parsed.Scheme)
	assert.Equal(t, header.Size, parsed.Size)
	assert.Equal(t, header.CiphertextDigest, parsed.CiphertextDigest)
	assert.Equal(t, header.ShareDigests, parsed.ShareDigests)
	assert.Equal(t, []byte(header.PublicKey), []byte(parsed.PublicKey))

	assert.Equal(t, share.Number, parsedShare.Number)
	assert.Equal(t, share.Data, parsedShare.Data)

	// the signed header bytes survive verbatim so repair can reuse them
	assert.Equal(t, signedHeader, parsedSigned)
}

func TestParseSlotRejectsTampering(t *testing.T) {
	_, signedHeader, share := makeSignedSlot(t)

	// flipping a signed byte fails signature verification
	tampered := packSlot(signedHeader, share)
	tampered[3] ^= 0x01
	_, _, _, err := parseSlot(tampered)
	assert.True(t, caps.ErrIntegrityFailure.Has(err))

	// flipping a share byte fails the digest check
	corrupted := packSlot(signedHeader, share)
	corrupted[len(corrupted)-1] ^= 0x01
	_, _, _, err = parseSlot(corrupted)
	assert.True(t, erasure.ErrCorruptShare.Has(err))

	// truncated payloads never panic
	_, _, _, err = parseSlot(packSlot(signedHeader, share)[:10])
	assert.True(t, caps.ErrIntegrityFailure.Has(err))
}
