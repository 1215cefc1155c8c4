// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package caps

import (
	"bytes"

	"golang.org/x/crypto/ed25519"

	"github.com/gridvault/gridvault/pkg/grid"
)

// Kind distinguishes immutable files from mutable slots.
type Kind int8

// capability kinds
const (
	KindImmutable Kind = 1
	KindMutable   Kind = 2
)

// Tier is the permission level a capability grants. Higher tiers can
// derive lower ones locally; the reverse requires inverting a one-way
// function.
type Tier int8

// capability tiers
const (
	TierVerify Tier = 1
	TierRead   Tier = 2
	TierWrite  Tier = 3
)

// String returns the tier tag used in capability strings.
func (tier Tier) String() string {
	switch tier {
	case TierWrite:
		return "w"
	case TierRead:
		return "r"
	case TierVerify:
		return "v"
	}
	return "?"
}

// DigestSize is the size of root digests and fingerprints.
const DigestSize = 32

// Capability names an object on the grid and grants a permission tier.
// It carries all material needed to validate a fetched object without
// contacting a third party.
type Capability struct {
	Kind Kind
	Tier Tier

	// Scheme carries the redundancy parameters needed to reconstruct.
	// HappyShares is a placement policy, not object identity, and is
	// never part of a capability.
	Scheme grid.RedundancyScheme

	// Size is the plaintext size in bytes. Zero for mutable files,
	// whose size varies per version.
	Size int64

	// Index is where peers store the object.
	Index grid.StorageIndex

	// WriteKey is present at TierWrite only.
	WriteKey *Key
	// ReadKey is present at TierRead and above.
	ReadKey *Key

	// Root is the manifest root digest for immutable files, present at
	// TierRead and TierVerify.
	Root []byte
	// Fingerprint is the verification key digest for mutable files.
	Fingerprint []byte
}

// NewImmutableRead builds the read capability for an immutable file from
// its read key and manifest root. The storage index is derived.
func NewImmutableRead(scheme grid.RedundancyScheme, size int64, readKey *Key, root []byte) (*Capability, error) {
	if err := scheme.Validate(); err != nil {
		return nil, ErrInvalidCapability.Wrap(err)
	}
	if len(root) != DigestSize {
		return nil, ErrInvalidCapability.New("invalid root digest length %d", len(root))
	}
	return &Capability{
		Kind:    KindImmutable,
		Tier:    TierRead,
		Scheme:  grid.RedundancyScheme{RequiredShares: scheme.RequiredShares, TotalShares: scheme.TotalShares},
		Size:    size,
		Index:   DeriveStorageIndex(readKey),
		ReadKey: readKey,
		Root:    append([]byte{}, root...),
	}, nil
}

// NewMutableWrite creates the write capability for a new mutable file,
// generating a fresh write key.
func NewMutableWrite(scheme grid.RedundancyScheme) (*Capability, error) {
	if err := scheme.Validate(); err != nil {
		return nil, ErrInvalidCapability.Wrap(err)
	}
	writeKey, err := NewKey()
	if err != nil {
		return nil, err
	}
	readKey := DeriveReadKey(writeKey)
	public := SigningKey(writeKey).Public().(ed25519.PublicKey)
	return &Capability{
		Kind:        KindMutable,
		Tier:        TierWrite,
		Scheme:      grid.RedundancyScheme{RequiredShares: scheme.RequiredShares, TotalShares: scheme.TotalShares},
		Index:       DeriveStorageIndex(readKey),
		WriteKey:    writeKey,
		ReadKey:     readKey,
		Fingerprint: Fingerprint(public),
	}, nil
}

// AllowsWrite reports whether the capability grants rewrite access.
func (cap *Capability) AllowsWrite() bool { return cap.Tier >= TierWrite }

// AllowsRead reports whether the capability grants content access.
func (cap *Capability) AllowsRead() bool { return cap.Tier >= TierRead }

// Read returns the read capability derived from this one. Deriving read
// access from a verify capability is impossible by construction.
func (cap *Capability) Read() (*Capability, error) {
	switch cap.Tier {
	case TierRead:
		clone := *cap
		return &clone, nil
	case TierWrite:
		clone := *cap
		clone.Tier = TierRead
		clone.WriteKey = nil
		if clone.ReadKey == nil {
			clone.ReadKey = DeriveReadKey(cap.WriteKey)
		}
		return &clone, nil
	}
	return nil, ErrInvalidCapability.New("cannot derive read from %s tier", cap.Tier)
}

// Verify returns the verify capability derived from this one.
func (cap *Capability) Verify() (*Capability, error) {
	if cap.Tier < TierVerify {
		return nil, ErrInvalidCapability.New("cannot derive verify from %s tier", cap.Tier)
	}
	clone := *cap
	clone.Tier = TierVerify
	clone.WriteKey = nil
	clone.ReadKey = nil
	return &clone, nil
}

// VerifyRoot checks a fetched manifest root against the capability.
func (cap *Capability) VerifyRoot(root []byte) error {
	if cap.Kind != KindImmutable {
		return ErrInvalidCapability.New("root verification is for immutable files")
	}
	if !bytes.Equal(cap.Root, root) {
		return ErrIntegrityFailure.New("manifest root does not match capability")
	}
	return nil
}

// VerifyPublicKey checks a fetched verification key against the
// capability's fingerprint.
func (cap *Capability) VerifyPublicKey(public ed25519.PublicKey) error {
	if cap.Kind != KindMutable {
		return ErrInvalidCapability.New("fingerprint verification is for mutable files")
	}
	if !bytes.Equal(cap.Fingerprint, Fingerprint(public)) {
		return ErrIntegrityFailure.New("verification key does not match capability fingerprint")
	}
	return nil
}
