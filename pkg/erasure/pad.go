// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package erasure

import (
	"bytes"
	"encoding/binary"
)

const uint32Size = 4

// makePadding creates a slice of padding bytes. The last four bytes contain
// the count of the total padding bytes added, big endian.
func makePadding(paddingSize int) []byte {
	padding := bytes.Repeat([]byte{0}, paddingSize)
	binary.BigEndian.PutUint32(padding[paddingSize-uint32Size:], uint32(paddingSize))
	return padding
}

// calculatePaddingSize calculates how many bytes of padding are needed to
// bring dataLen plus the padding trailer up to a multiple of blockSize.
func calculatePaddingSize(dataLen, blockSize int) int {
	amount := dataLen + uint32Size
	r := amount % blockSize
	padding := uint32Size
	if r > 0 {
		padding += blockSize - r
	}
	return padding
}

// pad returns data extended to a multiple of blockSize with a
// self-describing trailer.
func pad(data []byte, blockSize int) []byte {
	padding := makePadding(calculatePaddingSize(len(data), blockSize))
	out := make([]byte, 0, len(data)+len(padding))
	out = append(out, data...)
	return append(out, padding...)
}

// unpad strips the padding trailer added by pad.
func unpad(data []byte) ([]byte, error) {
	if len(data) < uint32Size {
		return nil, Error.New("data too short for padding trailer")
	}
	padding := int(binary.BigEndian.Uint32(data[len(data)-uint32Size:]))
	if padding < uint32Size || padding > len(data) {
		return nil, Error.New("invalid padding size %d", padding)
	}
	return data[:len(data)-padding], nil
}
