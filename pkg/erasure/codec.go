// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package erasure

import (
	"crypto/sha256"
	"crypto/subtle"
	"sort"

	"github.com/vivint/infectious"
)

// Share is one erasure coded fragment of a file's ciphertext.
type Share struct {
	// Number is the share index, 0..n-1.
	Number int
	// Data is the share payload.
	Data []byte
}

// Codec encodes byte slices into k-of-n Reed-Solomon shares and decodes
// them again. Encoding is deterministic: the same input and scheme always
// produce byte-identical shares, which lets repair regenerate a missing
// share without disturbing the surviving ones.
type Codec struct {
	fc *infectious.FEC
}

// NewCodec creates a codec where any required out of total shares suffice
// to reconstruct the original bytes.
func NewCodec(required, total int) (*Codec, error) {
	if required < 1 || required > total {
		return nil, Error.New("invalid scheme %d of %d", required, total)
	}
	fc, err := infectious.NewFEC(required, total)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Codec{fc: fc}, nil
}

// RequiredCount returns the number of shares required for decoding.
func (codec *Codec) RequiredCount() int { return codec.fc.Required() }

// TotalCount returns the number of shares produced by encoding.
func (codec *Codec) TotalCount() int { return codec.fc.Total() }

// Encode splits data into TotalCount shares.
func (codec *Codec) Encode(data []byte) ([]Share, error) {
	padded := pad(data, codec.fc.Required())

	shares := make([]Share, 0, codec.fc.Total())
	err := codec.fc.Encode(padded, func(share infectious.Share) {
		shares = append(shares, Share{
			Number: share.Number,
			Data:   append([]byte{}, share.Data...),
		})
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	sort.Slice(shares, func(i, k int) bool { return shares[i].Number < shares[k].Number })
	return shares, nil
}

// Decode reconstructs the original bytes from any RequiredCount distinct
// shares. It returns ErrInsufficientShares when too few distinct shares
// are supplied.
func (codec *Codec) Decode(shares []Share) ([]byte, error) {
	distinct := distinctShares(shares)
	if len(distinct) < codec.fc.Required() {
		return nil, ErrInsufficientShares.New("have %d, need %d", len(distinct), codec.fc.Required())
	}

	in := make([]infectious.Share, 0, len(distinct))
	for _, share := range distinct {
		in = append(in, infectious.Share{
			Number: share.Number,
			Data:   append([]byte{}, share.Data...),
		})
	}

	padded, err := codec.fc.Decode(nil, in)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return unpad(padded)
}

// Rebuild regenerates the shares with the given numbers from any
// RequiredCount surviving shares. Surviving shares are not modified.
func (codec *Codec) Rebuild(survivors []Share, missing []int) ([]Share, error) {
	data, err := codec.Decode(survivors)
	if err != nil {
		return nil, err
	}
	// encoding is deterministic, so re-encoding reproduces every missing
	// share byte for byte
	all, err := codec.Encode(data)
	if err != nil {
		return nil, err
	}

	rebuilt := make([]Share, 0, len(missing))
	for _, num := range missing {
		if num < 0 || num >= len(all) {
			return nil, Error.New("share number %d out of range", num)
		}
		rebuilt = append(rebuilt, all[num])
	}
	return rebuilt, nil
}

// ShareDigest returns the digest a share payload is verified against.
func ShareDigest(data []byte) []byte {
	digest := sha256.Sum256(data)
	return digest[:]
}

// VerifyShare checks a share payload against its expected digest, returning
// ErrCorruptShare on mismatch. It must be called before a share is handed
// to Decode.
func VerifyShare(share Share, expected []byte) error {
	digest := ShareDigest(share.Data)
	if subtle.ConstantTimeCompare(digest, expected) != 1 {
		return ErrCorruptShare.New("share %d digest mismatch", share.Number)
	}
	return nil
}

// distinctShares drops duplicate share numbers, keeping the first of each.
func distinctShares(shares []Share) []Share {
	seen := make(map[int]bool, len(shares))
	distinct := make([]Share, 0, len(shares))
	for _, share := range shares {
		if seen[share.Number] {
			continue
		}
		seen[share.Number] = true
		distinct = append(distinct, share)
	}
	return distinct
}
