// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package immutable

import (
	"encoding/binary"

	"github.com/gridvault/gridvault/pkg/caps"
)

// Stored share payloads are self-describing: a copy of the manifest
// travels with every share, so a single fetched share can be validated
// against a capability without any other peer.
//
// layout: manifest length (uint32 BE) | manifest | share data

func packShare(manifest []byte, data []byte) []byte {
	out := make([]byte, 0, 4+len(manifest)+len(data))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(manifest)))
	out = append(out, lenBuf[:]...)
	out = append(out, manifest...)
	return append(out, data...)
}

func unpackShare(payload []byte) (manifest, data []byte, err error) {
	if len(payload) < 4 {
		return nil, nil, caps.Error.New("share payload too short")
	}
	manifestLen := int(binary.BigEndian.Uint32(payload[:4]))
	if manifestLen < 0 || 4+manifestLen > len(payload) {
		return nil, nil, caps.Error.New("share payload manifest length out of range")
	}
	return payload[4 : 4+manifestLen], payload[4+manifestLen:], nil
}
