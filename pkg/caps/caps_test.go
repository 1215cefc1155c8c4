// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package caps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridvault/gridvault/internal/testrand"
	"github.com/gridvault/gridvault/pkg/erasure"
	"github.com/gridvault/gridvault/pkg/grid"
)

var testScheme = grid.RedundancyScheme{RequiredShares: 3, TotalShares: 10}

func makeImmutableRead(t *testing.T) *Capability {
	readKey, err := NewKey()
	require.NoError(t, err)
	root := testrand.Bytes(DigestSize)
	capability, err := NewImmutableRead(testScheme, 12345, readKey, root)
	require.NoError(t, err)
	return capability
}

func TestStringRoundTrip(t *testing.T) {
	immutableRead := makeImmutableRead(t)
	immutableVerify, err := immutableRead.Verify()
	require.NoError(t, err)

	mutableWrite, err := NewMutableWrite(testScheme)
	require.NoError(t, err)
	mutableRead, err := mutableWrite.Read()
	require.NoError(t, err)
	mutableVerify, err := mutableRead.Verify()
	require.NoError(t, err)

	for _, capability := range []*Capability{
		immutableRead, immutableVerify,
		mutableWrite, mutableRead, mutableVerify,
	} {
		s := capability.String()
		parsed, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, parsed.String(), "round trip changed the string")
		assert.Equal(t, capability.Kind, parsed.Kind)
		assert.Equal(t, capability.Tier, parsed.Tier)
		assert.Equal(t, capability.Index, parsed.Index)
	}
}

func TestStringLengthByTier(t *testing.T) {
	mutableWrite, err := NewMutableWrite(testScheme)
	require.NoError(t, err)
	mutableRead, err := mutableWrite.Read()
	require.NoError(t, err)
	mutableVerify, err := mutableRead.Verify()
	require.NoError(t, err)

	assert.True(t, len(mutableWrite.String()) > len(mutableRead.String()))
	assert.True(t, len(mutableRead.String()) > len(mutableVerify.String()))
}

func TestDowngradeOnly(t *testing.T) {
	mutableWrite, err := NewMutableWrite(testScheme)
	require.NoError(t, err)

	mutableRead, err := mutableWrite.Read()
	require.NoError(t, err)
	assert.Nil(t, mutableRead.WriteKey)
	assert.False(t, mutableRead.AllowsWrite())
	assert.True(t, mutableRead.AllowsRead())

	mutableVerify, err := mutableRead.Verify()
	require.NoError(t, err)
	assert.Nil(t, mutableVerify.WriteKey)
	assert.Nil(t, mutableVerify.ReadKey)
	assert.False(t, mutableVerify.AllowsRead())

	// upgrading is undefined: no read derivation exists from verify
	_, err = mutableVerify.Read()
	assert.True(t, ErrInvalidCapability.Has(err))

	// a verify string must parse to a verify capability with no keys
	parsed, err := Parse(mutableVerify.String())
	require.NoError(t, err)
	assert.Nil(t, parsed.ReadKey)
	assert.Nil(t, parsed.WriteKey)
}

func TestParseRejectsTamperedStrings(t *testing.T) {
	capability := makeImmutableRead(t)
	s := capability.String()

	_, err := Parse("grid:r:not-base58-???")
	assert.True(t, ErrInvalidCapability.Has(err))

	_, err = Parse("vault:r:abc")
	assert.True(t, ErrInvalidCapability.Has(err))

	// tag/tier mismatch
	_, err = Parse("grid:v:" + s[len("grid:r:"):])
	assert.True(t, ErrInvalidCapability.Has(err))

	// flip a character so the base58 checksum fails
	tampered := []byte(s)
	last := len(tampered) - 1
	if tampered[last] == 'a' {
		tampered[last] = 'b'
	} else {
		tampered[last] = 'a'
	}
	_, err = Parse(string(tampered))
	assert.True(t, ErrInvalidCapability.Has(err))
}

func TestWriteToReadIsDeterministic(t *testing.T) {
	mutableWrite, err := NewMutableWrite(testScheme)
	require.NoError(t, err)

	first, err := mutableWrite.Read()
	require.NoError(t, err)
	second, err := Parse(mutableWrite.String())
	require.NoError(t, err)
	secondRead, err := second.Read()
	require.NoError(t, err)

	assert.Equal(t, first.String(), secondRead.String())
}

func TestManifestVerification(t *testing.T) {
	scheme := grid.RedundancyScheme{RequiredShares: 2, TotalShares: 4}
	codec, err := erasure.NewCodec(scheme.RequiredShares, scheme.TotalShares)
	require.NoError(t, err)

	ciphertext := testrand.Bytes(4096)
	shares, err := codec.Encode(ciphertext)
	require.NoError(t, err)

	manifest, err := NewManifest(scheme, int64(len(ciphertext)), ciphertext, shares)
	require.NoError(t, err)

	parsed, err := ParseManifest(manifest.Marshal())
	require.NoError(t, err)
	assert.Equal(t, manifest.Root(), parsed.Root())

	for _, share := range shares {
		require.NoError(t, manifest.VerifyShare(share))
	}

	corrupted := erasure.Share{Number: 1, Data: append([]byte{}, shares[1].Data...)}
	corrupted.Data[0] ^= 0x01
	assert.True(t, erasure.ErrCorruptShare.Has(manifest.VerifyShare(corrupted)))

	require.NoError(t, manifest.VerifyCiphertext(ciphertext))
	wrong := append([]byte{}, ciphertext...)
	wrong[7] ^= 0x01
	assert.True(t, ErrIntegrityFailure.Has(manifest.VerifyCiphertext(wrong)))
}

func TestEncryptDecryptContent(t *testing.T) {
	readKey, err := NewKey()
	require.NoError(t, err)
	index := testrand.StorageIndex()
	plaintext := testrand.Bytes(1024)

	ciphertext := EncryptContent(readKey, index, 0, plaintext)
	decrypted, err := DecryptContent(readKey, index, 0, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	// deterministic: repair depends on identical ciphertext
	assert.Equal(t, ciphertext, EncryptContent(readKey, index, 0, plaintext))

	// an empty message round-trips to a non-nil empty slice
	empty, err := DecryptContent(readKey, index, 0, EncryptContent(readKey, index, 0, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte{}, empty)

	// tampered ciphertext fails authentication
	ciphertext[3] ^= 0x01
	_, err = DecryptContent(readKey, index, 0, ciphertext)
	assert.True(t, ErrIntegrityFailure.Has(err))

	// wrong version fails authentication
	ciphertext[3] ^= 0x01
	_, err = DecryptContent(readKey, index, 1, ciphertext)
	assert.True(t, ErrIntegrityFailure.Has(err))
}
