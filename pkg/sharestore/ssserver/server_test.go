// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package ssserver_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gridvault/gridvault/internal/testrand"
	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/sharestore"
	"github.com/gridvault/gridvault/pkg/sharestore/ssclient"
	"github.com/gridvault/gridvault/pkg/sharestore/ssserver"
	"github.com/gridvault/gridvault/storage/teststore"
)

func startPeer(t *testing.T) (ssclient.Client, func()) {
	db, err := sharestore.New(zaptest.NewLogger(t), teststore.New(), teststore.New(), sharestore.Config{})
	require.NoError(t, err)

	server := httptest.NewServer(ssserver.New(zaptest.NewLogger(t), db))

	peer := grid.PeerRecord{
		ID:      testrand.PeerID(),
		Address: strings.TrimPrefix(server.URL, "http://"),
	}
	client := ssclient.NewHTTP(zaptest.NewLogger(t), peer, ssclient.Config{})
	return client, func() {
		_ = client.Close()
		server.Close()
	}
}

func TestShareRoundTripOverWire(t *testing.T) {
	ctx := context.Background()
	client, done := startPeer(t)
	defer done()

	index := testrand.StorageIndex()
	data := testrand.Bytes(4096)

	has, err := client.HasShare(ctx, index, 3)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = client.GetShare(ctx, index, 3)
	assert.True(t, sharestore.ErrNotFound.Has(err))

	require.NoError(t, client.PutShare(ctx, index, 3, data))

	has, err = client.HasShare(ctx, index, 3)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := client.GetShare(ctx, index, 3)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, client.DeleteShare(ctx, index, 3))
	err = client.DeleteShare(ctx, index, 3)
	assert.True(t, sharestore.ErrNotFound.Has(err))
}

func TestSlotCASOverWire(t *testing.T) {
	ctx := context.Background()
	client, done := startPeer(t)
	defer done()

	index := testrand.StorageIndex()
	enabler := testrand.Bytes(32)

	_, _, err := client.GetSlot(ctx, index)
	assert.True(t, sharestore.ErrNotFound.Has(err))

	current, err := client.PutSlot(ctx, index, 0, 1, enabler, []byte("v1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, current)

	version, payload, err := client.GetSlot(ctx, index)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.Equal(t, []byte("v1"), payload)

	// stale conditional write loses and the current version comes back
	current, err = client.PutSlot(ctx, index, 0, 1, enabler, []byte("stale"))
	assert.True(t, sharestore.ErrVersionConflict.Has(err))
	assert.EqualValues(t, 1, current)

	// the newer committed version was not overwritten
	version, payload, err = client.GetSlot(ctx, index)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.Equal(t, []byte("v1"), payload)

	// wrong enabler is refused
	_, err = client.PutSlot(ctx, index, 1, 2, testrand.Bytes(32), []byte("v2"))
	assert.True(t, sharestore.ErrUnauthorized.Has(err))

	current, err = client.PutSlot(ctx, index, 1, 2, enabler, []byte("v2"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, current)
}

func TestTransportFailure(t *testing.T) {
	ctx := context.Background()
	client, done := startPeer(t)
	done() // peer is gone

	_, err := client.GetShare(ctx, testrand.StorageIndex(), 0)
	assert.True(t, ssclient.ErrTransport.Has(err))
}
