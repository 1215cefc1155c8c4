// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package caps

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/ed25519"

	"github.com/gridvault/gridvault/pkg/grid"
)

// capability strings look like grid:w:..., grid:r:..., grid:v:... where the
// trailing part is the base58 check encoded binary payload. The check
// encoding's version byte carries the tier and is cross-checked against the
// textual tag.
const stringPrefix = "grid"

// String serializes the capability. Parse(cap.String()) round-trips
// exactly.
func (cap *Capability) String() string {
	payload := cap.payload()
	return stringPrefix + ":" + cap.Tier.String() + ":" + base58.CheckEncode(payload, byte(cap.Tier))
}

func (cap *Capability) payload() []byte {
	var out []byte
	out = append(out, byte(cap.Kind), byte(cap.Scheme.RequiredShares), byte(cap.Scheme.TotalShares))

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(cap.Size))
	out = append(out, sizeBuf[:]...)

	switch {
	case cap.Kind == KindImmutable && cap.Tier == TierRead:
		out = append(out, cap.ReadKey[:]...)
		out = append(out, cap.Root...)
	case cap.Kind == KindImmutable && cap.Tier == TierVerify:
		out = append(out, cap.Index[:]...)
		out = append(out, cap.Root...)
	case cap.Kind == KindMutable && cap.Tier == TierWrite:
		out = append(out, cap.WriteKey[:]...)
		out = append(out, cap.Index[:]...)
		out = append(out, cap.Fingerprint...)
	case cap.Kind == KindMutable && cap.Tier == TierRead:
		out = append(out, cap.ReadKey[:]...)
		out = append(out, cap.Fingerprint...)
	case cap.Kind == KindMutable && cap.Tier == TierVerify:
		out = append(out, cap.Index[:]...)
		out = append(out, cap.Fingerprint...)
	}
	return out
}

// Parse deserializes a capability string, validating the tag, the payload
// layout and every derivable field.
func Parse(s string) (*Capability, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != stringPrefix {
		return nil, ErrInvalidCapability.New("malformed capability string")
	}

	payload, version, err := base58.CheckDecode(parts[2])
	if err != nil {
		return nil, ErrInvalidCapability.New("undecodable capability: %v", err)
	}

	tier := Tier(version)
	if tier.String() != parts[1] {
		return nil, ErrInvalidCapability.New("tier tag %q does not match payload", parts[1])
	}

	if len(payload) < 11 {
		return nil, ErrInvalidCapability.New("capability payload too short")
	}
	cap := &Capability{
		Kind: Kind(payload[0]),
		Tier: tier,
		Scheme: grid.RedundancyScheme{
			RequiredShares: int(payload[1]),
			TotalShares:    int(payload[2]),
		},
		Size: int64(binary.BigEndian.Uint64(payload[3:11])),
	}
	if err := cap.Scheme.Validate(); err != nil {
		return nil, ErrInvalidCapability.Wrap(err)
	}
	rest := payload[11:]

	switch {
	case cap.Kind == KindImmutable && cap.Tier == TierRead:
		if len(rest) != KeySize+DigestSize {
			return nil, ErrInvalidCapability.New("wrong payload length for immutable read")
		}
		cap.ReadKey, _ = KeyFromBytes(rest[:KeySize])
		cap.Root = append([]byte{}, rest[KeySize:]...)
		cap.Index = DeriveStorageIndex(cap.ReadKey)

	case cap.Kind == KindImmutable && cap.Tier == TierVerify:
		if len(rest) != grid.StorageIndexSize+DigestSize {
			return nil, ErrInvalidCapability.New("wrong payload length for immutable verify")
		}
		cap.Index, _ = grid.StorageIndexFromBytes(rest[:grid.StorageIndexSize])
		cap.Root = append([]byte{}, rest[grid.StorageIndexSize:]...)

	case cap.Kind == KindMutable && cap.Tier == TierWrite:
		if len(rest) != KeySize+grid.StorageIndexSize+DigestSize {
			return nil, ErrInvalidCapability.New("wrong payload length for mutable write")
		}
		cap.WriteKey, _ = KeyFromBytes(rest[:KeySize])
		cap.ReadKey = DeriveReadKey(cap.WriteKey)
		cap.Index = DeriveStorageIndex(cap.ReadKey)
		cap.Fingerprint = Fingerprint(SigningKey(cap.WriteKey).Public().(ed25519.PublicKey))

		// embedded copies must agree with the derivations
		if !bytes.Equal(cap.Index[:], rest[KeySize:KeySize+grid.StorageIndexSize]) ||
			!bytes.Equal(cap.Fingerprint, rest[KeySize+grid.StorageIndexSize:]) {
			return nil, ErrInvalidCapability.New("derived fields do not match payload")
		}

	case cap.Kind == KindMutable && cap.Tier == TierRead:
		if len(rest) != KeySize+DigestSize {
			return nil, ErrInvalidCapability.New("wrong payload length for mutable read")
		}
		cap.ReadKey, _ = KeyFromBytes(rest[:KeySize])
		cap.Fingerprint = append([]byte{}, rest[KeySize:]...)
		cap.Index = DeriveStorageIndex(cap.ReadKey)

	case cap.Kind == KindMutable && cap.Tier == TierVerify:
		if len(rest) != grid.StorageIndexSize+DigestSize {
			return nil, ErrInvalidCapability.New("wrong payload length for mutable verify")
		}
		cap.Index, _ = grid.StorageIndexFromBytes(rest[:grid.StorageIndexSize])
		cap.Fingerprint = append([]byte{}, rest[grid.StorageIndexSize:]...)

	default:
		return nil, ErrInvalidCapability.New("unknown kind %d tier %d", cap.Kind, cap.Tier)
	}

	return cap, nil
}
