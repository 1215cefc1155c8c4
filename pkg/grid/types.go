// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package grid

import (
	"encoding/json"

	"github.com/btcsuite/btcutil/base58"
	"github.com/zeebo/errs"
)

var (
	// Error is the default grid errs class.
	Error = errs.Class("grid error")

	// ErrFileLost is returned when fewer shares survive than a file's
	// scheme requires, making it unreconstructable.
	ErrFileLost = errs.Class("file lost")
)

// version bytes for base58 check encoding
const (
	peerIDVersion       = 0x50 // 'P'
	storageIndexVersion = 0x53 // 'S'
)

// PeerIDSize is the number of bytes in a peer id.
const PeerIDSize = 32

// PeerID is the unique identity of a storage peer.
type PeerID [PeerIDSize]byte

// StorageIndexSize is the number of bytes in a storage index.
const StorageIndexSize = 16

// StorageIndex names a stored object on the grid. For immutable files it is
// derived from the read key, for mutable files from the write key, so peers
// learn nothing about content or keys from it.
type StorageIndex [StorageIndexSize]byte

// Bytes returns the peer id as a byte slice.
func (id PeerID) Bytes() []byte { return append([]byte{}, id[:]...) }

// IsZero returns whether the peer id is the zero value.
func (id PeerID) IsZero() bool { return id == PeerID{} }

// String returns the base58 check encoded peer id.
func (id PeerID) String() string { return base58.CheckEncode(id[:], peerIDVersion) }

// PeerIDFromBytes converts a byte slice to a peer id.
func PeerIDFromBytes(data []byte) (PeerID, error) {
	var id PeerID
	if len(data) != PeerIDSize {
		return id, Error.New("invalid peer id length %d", len(data))
	}
	copy(id[:], data)
	return id, nil
}

// PeerIDFromString parses a base58 check encoded peer id.
func PeerIDFromString(s string) (PeerID, error) {
	data, version, err := base58.CheckDecode(s)
	if err != nil {
		return PeerID{}, Error.Wrap(err)
	}
	if version != peerIDVersion {
		return PeerID{}, Error.New("invalid peer id version %d", version)
	}
	return PeerIDFromBytes(data)
}

// MarshalJSON implements json.Marshaler.
func (id PeerID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *PeerID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return Error.Wrap(err)
	}
	parsed, err := PeerIDFromString(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Bytes returns the storage index as a byte slice.
func (index StorageIndex) Bytes() []byte { return append([]byte{}, index[:]...) }

// IsZero returns whether the storage index is the zero value.
func (index StorageIndex) IsZero() bool { return index == StorageIndex{} }

// String returns the base58 check encoded storage index.
func (index StorageIndex) String() string {
	return base58.CheckEncode(index[:], storageIndexVersion)
}

// StorageIndexFromBytes converts a byte slice to a storage index.
func StorageIndexFromBytes(data []byte) (StorageIndex, error) {
	var index StorageIndex
	if len(data) != StorageIndexSize {
		return index, Error.New("invalid storage index length %d", len(data))
	}
	copy(index[:], data)
	return index, nil
}

// StorageIndexFromString parses a base58 check encoded storage index.
func StorageIndexFromString(s string) (StorageIndex, error) {
	data, version, err := base58.CheckDecode(s)
	if err != nil {
		return StorageIndex{}, Error.Wrap(err)
	}
	if version != storageIndexVersion {
		return StorageIndex{}, Error.New("invalid storage index version %d", version)
	}
	return StorageIndexFromBytes(data)
}

// MarshalJSON implements json.Marshaler.
func (index StorageIndex) MarshalJSON() ([]byte, error) {
	return json.Marshal(index.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (index *StorageIndex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return Error.Wrap(err)
	}
	parsed, err := StorageIndexFromString(s)
	if err != nil {
		return err
	}
	*index = parsed
	return nil
}
