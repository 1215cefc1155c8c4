// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package mutable

import (
	"bytes"
	"context"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"

	"github.com/gridvault/gridvault/pkg/caps"
	"github.com/gridvault/gridvault/pkg/catalog"
	"github.com/gridvault/gridvault/pkg/erasure"
	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/overlay"
	"github.com/gridvault/gridvault/pkg/sharestore"
	"github.com/gridvault/gridvault/pkg/sharestore/ssclient"
)

// Store creates, reads and updates mutable slots.
type Store struct {
	log     *zap.Logger
	dial    ssclient.Dialer
	dir     overlay.Directory
	catalog *catalog.DB
	scheme  grid.RedundancyScheme
}

// NewStore creates a mutable slot store.
func NewStore(log *zap.Logger, dial ssclient.Dialer, dir overlay.Directory, files *catalog.DB, scheme grid.RedundancyScheme) (*Store, error) {
	if err := scheme.Validate(); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{
		log:     log,
		dial:    dial,
		dir:     dir,
		catalog: files,
		scheme:  scheme,
	}, nil
}

// Create allocates a new mutable slot holding initial and returns its
// write capability. The slot is committed at version 1 before the
// capability is handed out.
func (store *Store) Create(ctx context.Context, initial []byte) (_ *caps.Capability, err error) {
	defer mon.Task()(&ctx)(&err)

	capability, err := caps.NewMutableWrite(store.scheme)
	if err != nil {
		return nil, err
	}

	peers, err := overlay.PickPeers(ctx, store.dir, store.scheme.TotalShares, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if err := store.writeRound(ctx, capability, peers, 0, 1, initial); err != nil {
		return nil, err
	}

	holders := make(map[int]grid.PeerID, len(peers))
	for num, peer := range peers {
		holders[num] = peer.ID
	}
	err = store.catalog.Put(ctx, catalog.FileRecord{
		Index:       capability.Index,
		Mutable:     true,
		Scheme:      store.scheme,
		Holders:     holders,
		Fingerprint: capability.Fingerprint,
		WriteKey:    capability.WriteKey.Bytes(),
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return capability, nil
}

// Read fetches the highest committed version of a slot and returns its
// plaintext.
func (store *Store) Read(ctx context.Context, capability *caps.Capability) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	if !capability.AllowsRead() {
		return nil, caps.ErrInvalidCapability.New("read access requires a read capability")
	}
	state, err := store.readRound(ctx, capability)
	if err != nil {
		return nil, err
	}
	return store.decodeState(capability, state)
}

// Version returns the highest slot version that passes signature checks.
// It needs only verify-tier material.
func (store *Store) Version(ctx context.Context, capability *caps.Capability) (_ uint64, err error) {
	defer mon.Task()(&ctx)(&err)

	state, err := store.readRound(ctx, capability)
	if err != nil {
		return 0, err
	}
	return state.header.Version, nil
}

// Update applies fn to the slot's current content and writes the result
// as the next version. When another writer commits concurrently, the
// compare-and-swap round fails with sharestore.ErrVersionConflict and no
// partial version becomes readable.
func (store *Store) Update(ctx context.Context, capability *caps.Capability, fn func(current []byte) ([]byte, error)) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !capability.AllowsWrite() {
		return caps.ErrInvalidCapability.New("update requires a write capability")
	}

	state, err := store.readRound(ctx, capability)
	if err != nil {
		return err
	}
	current, err := store.decodeState(capability, state)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return Error.Wrap(err)
	}

	peers, err := store.holders(ctx, capability.Index)
	if err != nil {
		return err
	}
	return store.writeRound(ctx, capability, peers, state.header.Version, state.header.Version+1, next)
}

// slotState is the outcome of a read round: the winning header, its
// signed bytes, the digest-verified shares collected for it, and which
// share number each peer holding the winning version has.
type slotState struct {
	header       *Header
	signedHeader []byte
	shares       map[int][]byte
	current      map[grid.PeerID]int
	sawCorrupt   bool
}

// readRound queries every holder for the slot and keeps the highest
// version whose signature matches the capability's fingerprint.
func (store *Store) readRound(ctx context.Context, capability *caps.Capability) (*slotState, error) {
	peers, err := store.holders(ctx, capability.Index)
	if err != nil {
		return nil, err
	}
	return store.readSlots(ctx, peers, capability.Index, capability.Fingerprint)
}

// readSlots fetches the slot from the given peers and keeps the highest
// version whose signature verifies against fingerprint.
func (store *Store) readSlots(ctx context.Context, peers []grid.PeerRecord, index grid.StorageIndex, fingerprint []byte) (_ *slotState, err error) {
	defer mon.Task()(&ctx)(&err)

	type response struct {
		peer    grid.PeerID
		payload []byte
		err     error
	}
	responses := make(chan response, len(peers))
	for _, peer := range peers {
		go func(peer grid.PeerRecord) {
			payload, err := store.getSlot(ctx, peer, index)
			responses <- response{peer: peer.ID, payload: payload, err: err}
		}(peer)
	}

	// two writers racing the same version transition produce distinct
	// signed headers at the same version number, so copies are grouped
	// by the exact header they were written under
	candidates := make(map[string]*slotState)
	var sawCorrupt bool
	missing := 0
	for range peers {
		resp := <-responses
		if resp.err != nil {
			if sharestore.ErrNotFound.Has(resp.err) {
				missing++
			}
			continue
		}
		header, signedHeader, share, err := parseSlot(resp.payload)
		if err != nil {
			sawCorrupt = true
			continue
		}
		if !bytes.Equal(caps.Fingerprint(header.PublicKey), fingerprint) {
			sawCorrupt = true
			continue
		}
		state, ok := candidates[string(signedHeader)]
		if !ok {
			state = &slotState{
				header:       header,
				signedHeader: signedHeader,
				shares:       map[int][]byte{},
				current:      map[grid.PeerID]int{},
			}
			candidates[string(signedHeader)] = state
		}
		state.shares[share.Number] = share.Data
		state.current[resp.peer] = share.Number
	}

	// prefer the highest reconstructable version; headers break ties so
	// every reader settles on the same winner
	var best *slotState
	better := func(a, b *slotState) bool {
		if b == nil {
			return true
		}
		aWhole := len(a.shares) >= a.header.Scheme.RequiredShares
		bWhole := len(b.shares) >= b.header.Scheme.RequiredShares
		if aWhole != bWhole {
			return aWhole
		}
		if a.header.Version != b.header.Version {
			return a.header.Version > b.header.Version
		}
		return bytes.Compare(a.signedHeader, b.signedHeader) > 0
	}
	for _, state := range candidates {
		if better(state, best) {
			best = state
		}
	}

	if best == nil {
		if sawCorrupt {
			return nil, caps.ErrIntegrityFailure.New("no slot copy passed validation")
		}
		if missing == len(peers) {
			return nil, sharestore.ErrNotFound.New("slot %s", index)
		}
		return nil, ErrUpdateFailed.New("no holder reachable for slot %s", index)
	}
	best.sawCorrupt = sawCorrupt
	return best, nil
}

// decodeState reconstructs and decrypts a read round's winning version.
func (store *Store) decodeState(capability *caps.Capability, state *slotState) ([]byte, error) {
	if !capability.AllowsRead() {
		return nil, caps.ErrInvalidCapability.New("read access requires a read capability")
	}
	if len(state.shares) < state.header.Scheme.RequiredShares {
		if state.sawCorrupt {
			return nil, caps.ErrIntegrityFailure.New("only %d verified shares of version %d", len(state.shares), state.header.Version)
		}
		return nil, erasure.ErrInsufficientShares.New("have %d shares of version %d, need %d", len(state.shares), state.header.Version, state.header.Scheme.RequiredShares)
	}
	codec, err := erasure.NewCodec(state.header.Scheme.RequiredShares, state.header.Scheme.TotalShares)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	collected := make([]erasure.Share, 0, len(state.shares))
	for num, data := range state.shares {
		collected = append(collected, erasure.Share{Number: num, Data: data})
	}
	ciphertext, err := codec.Decode(collected)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := verifyCiphertext(state.header, ciphertext); err != nil {
		return nil, err
	}
	plaintext, err := caps.DecryptContent(capability.ReadKey, capability.Index, state.header.Version, ciphertext)
	if err != nil {
		return nil, err
	}
	if int64(len(plaintext)) != state.header.Size {
		return nil, caps.ErrIntegrityFailure.New("plaintext size %d does not match header %d", len(plaintext), state.header.Size)
	}
	return plaintext, nil
}

// writeRound encodes plaintext as newVersion and issues the conditional
// write to every holder. The round commits when a write quorum of holders
// accepts it.
func (store *Store) writeRound(ctx context.Context, capability *caps.Capability, peers []grid.PeerRecord, expectedVersion, newVersion uint64, plaintext []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	ciphertext := caps.EncryptContent(capability.ReadKey, capability.Index, newVersion, plaintext)
	codec, err := erasure.NewCodec(store.scheme.RequiredShares, store.scheme.TotalShares)
	if err != nil {
		return Error.Wrap(err)
	}
	shares, err := codec.Encode(ciphertext)
	if err != nil {
		return Error.Wrap(err)
	}

	private := caps.SigningKey(capability.WriteKey)
	header := &Header{
		Version:          newVersion,
		Scheme:           grid.RedundancyScheme{RequiredShares: store.scheme.RequiredShares, TotalShares: store.scheme.TotalShares},
		Size:             int64(len(plaintext)),
		CiphertextDigest: contentDigest(ciphertext),
		ShareDigests:     make([][]byte, len(shares)),
		PublicKey:        private.Public().(ed25519.PublicKey),
	}
	for _, share := range shares {
		header.ShareDigests[share.Number] = erasure.ShareDigest(share.Data)
	}
	signedHeader := header.Sign(private)

	type outcome struct {
		accepted        bool
		conflictVersion uint64
		conflict        bool
	}
	outcomes := make(chan outcome, len(peers))
	var group sync.WaitGroup
	for num, peer := range peers {
		if num >= len(shares) {
			break
		}
		group.Add(1)
		go func(peer grid.PeerRecord, share erasure.Share) {
			defer group.Done()
			current, err := store.putSlot(ctx, peer, capability.Index, capability.WriteKey, expectedVersion, newVersion, packSlot(signedHeader, share))
			switch {
			case err == nil:
				outcomes <- outcome{accepted: true}
			case sharestore.ErrVersionConflict.Has(err):
				outcomes <- outcome{conflict: true, conflictVersion: current}
			default:
				store.log.Debug("slot write rejected",
					zap.Stringer("peer", peer.ID),
					zap.Error(err))
				outcomes <- outcome{}
			}
		}(peer, shares[num])
	}
	group.Wait()
	close(outcomes)

	accepted := 0
	var conflictVersion uint64
	for result := range outcomes {
		if result.accepted {
			accepted++
		}
		if result.conflict && result.conflictVersion > conflictVersion {
			conflictVersion = result.conflictVersion
		}
	}

	if accepted >= store.scheme.WriteQuorum() {
		return nil
	}
	if conflictVersion >= newVersion {
		return sharestore.ErrVersionConflict.New("slot %s already at version %d", capability.Index, conflictVersion)
	}
	return ErrUpdateFailed.New("slot %s: %d of %d holders accepted version %d, quorum is %d",
		capability.Index, accepted, len(peers), newVersion, store.scheme.WriteQuorum())
}

// putSlot writes one peer's copy. A holder that missed earlier rounds
// reports a stale version; the write is replayed against the version it
// actually has, so lagging holders catch up without weakening the
// compare-and-swap against up-to-date ones.
func (store *Store) putSlot(ctx context.Context, peer grid.PeerRecord, index grid.StorageIndex, writeKey *caps.Key, expectedVersion, newVersion uint64, payload []byte) (currentVersion uint64, err error) {
	client, err := store.dial(ctx, peer)
	if err != nil {
		store.observe(ctx, peer.ID, ssclient.ErrTransport.Wrap(err))
		return 0, ssclient.ErrTransport.Wrap(err)
	}
	defer func() { _ = client.Close() }()

	enabler := caps.DeriveWriteEnabler(writeKey, peer.ID)
	current, err := client.PutSlot(ctx, index, expectedVersion, newVersion, enabler, payload)
	if sharestore.ErrVersionConflict.Has(err) && current != expectedVersion && current < newVersion {
		current, err = client.PutSlot(ctx, index, current, newVersion, enabler, payload)
	}
	store.observe(ctx, peer.ID, err)
	return current, err
}

func (store *Store) getSlot(ctx context.Context, peer grid.PeerRecord, index grid.StorageIndex) (_ []byte, err error) {
	client, err := store.dial(ctx, peer)
	if err != nil {
		store.observe(ctx, peer.ID, ssclient.ErrTransport.Wrap(err))
		return nil, ssclient.ErrTransport.Wrap(err)
	}
	defer func() { _ = client.Close() }()

	_, payload, err := client.GetSlot(ctx, index)
	store.observe(ctx, peer.ID, err)
	return payload, err
}

func (store *Store) observe(ctx context.Context, peer grid.PeerID, err error) {
	if ssclient.ErrTransport.Has(err) {
		_ = store.dir.RecordFailure(ctx, peer)
		return
	}
	_ = store.dir.RecordSuccess(ctx, peer)
}

// Health probes a slot's registered holders and returns the share
// numbers held at the highest committed version.
func (store *Store) Health(ctx context.Context, record catalog.FileRecord) (healthy []int, err error) {
	defer mon.Task()(&ctx)(&err)

	peers, err := store.recordHolders(ctx, record)
	if err != nil {
		return nil, err
	}
	state, err := store.readSlots(ctx, peers, record.Index, record.Fingerprint)
	if sharestore.ErrNotFound.Has(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for num := range state.shares {
		healthy = append(healthy, num)
	}
	return healthy, nil
}

// Repair brings every registered holder back to the slot's highest
// committed version. The current version is re-validated across the
// holders first, and the writer's signed header is reused unchanged, so
// repair never publishes a version the writer did not sign.
func (store *Store) Repair(ctx context.Context, record catalog.FileRecord) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(record.WriteKey) == 0 {
		return Error.New("no write authority retained for slot %s", record.Index)
	}
	writeKey, err := caps.KeyFromBytes(record.WriteKey)
	if err != nil {
		return Error.Wrap(err)
	}

	peers, err := store.recordHolders(ctx, record)
	if err != nil {
		return err
	}
	state, err := store.readSlots(ctx, peers, record.Index, record.Fingerprint)
	if sharestore.ErrNotFound.Has(err) {
		return grid.ErrFileLost.New("%s: no slot copy survives", record.Index)
	}
	if err != nil {
		return err
	}
	if len(state.shares) < state.header.Scheme.RequiredShares {
		if state.sawCorrupt {
			return caps.ErrIntegrityFailure.New("%s: only %d verified shares of version %d", record.Index, len(state.shares), state.header.Version)
		}
		return grid.ErrFileLost.New("%s: %d of %d required shares survive at version %d", record.Index, len(state.shares), state.header.Scheme.RequiredShares, state.header.Version)
	}

	var missing []int
	for num := 0; num < state.header.Scheme.TotalShares; num++ {
		if _, ok := state.shares[num]; !ok {
			missing = append(missing, num)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	codec, err := erasure.NewCodec(state.header.Scheme.RequiredShares, state.header.Scheme.TotalShares)
	if err != nil {
		return Error.Wrap(err)
	}
	survivors := make([]erasure.Share, 0, len(state.shares))
	for num, data := range state.shares {
		survivors = append(survivors, erasure.Share{Number: num, Data: data})
	}
	rebuilt, err := codec.Rebuild(survivors, missing)
	if err != nil {
		return Error.Wrap(err)
	}
	for _, share := range rebuilt {
		if err := erasure.VerifyShare(share, state.header.ShareDigests[share.Number]); err != nil {
			return err
		}
	}

	// lagging registered holders are refreshed first; a holder that
	// stays unreachable is replaced by a fresh peer
	var stale []grid.PeerRecord
	exclude := make(map[grid.PeerID]bool, len(peers))
	for _, peer := range peers {
		exclude[peer.ID] = true
		if _, ok := state.current[peer.ID]; !ok {
			stale = append(stale, peer)
		}
	}

	// the catalog's number mapping can lag behind the last write round,
	// which assigns numbers positionally; rebuild it from what the
	// holders actually reported before patching in replacements
	holders := make(map[int]grid.PeerID, state.header.Scheme.TotalShares)
	for peerID, num := range state.current {
		holders[num] = peerID
	}
	record.Holders = holders

	version := state.header.Version
	var group errs.Group
	for i, share := range rebuilt {
		payload := packSlot(state.signedHeader, share)
		if i < len(stale) {
			if _, err := store.putSlot(ctx, stale[i], record.Index, writeKey, version-1, version, payload); err == nil {
				record.Holders[share.Number] = stale[i].ID
				continue
			}
		}
		fresh, err := overlay.PickPeers(ctx, store.dir, 1, exclude)
		if err != nil {
			group.Add(Error.New("no replacement holder for share %d: %v", share.Number, err))
			continue
		}
		exclude[fresh[0].ID] = true
		if _, err := store.putSlot(ctx, fresh[0], record.Index, writeKey, version-1, version, payload); err != nil {
			group.Add(Error.New("refresh of share %d on %s failed: %v", share.Number, fresh[0].ID, err))
			continue
		}
		record.Holders[share.Number] = fresh[0].ID
	}
	if updateErr := store.catalog.Put(ctx, record); updateErr != nil {
		group.Add(updateErr)
	}
	return group.Err()
}

// recordHolders resolves a record's registered holders, skipping peers
// no longer present in the directory.
func (store *Store) recordHolders(ctx context.Context, record catalog.FileRecord) ([]grid.PeerRecord, error) {
	peers := make([]grid.PeerRecord, 0, len(record.Holders))
	for _, id := range record.Holders {
		peer, err := store.dir.Get(ctx, id)
		if err != nil {
			continue
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

// holders resolves the peers to contact for a slot, preferring the
// catalog's registered holder set.
func (store *Store) holders(ctx context.Context, index grid.StorageIndex) ([]grid.PeerRecord, error) {
	record, err := store.catalog.Get(ctx, index)
	if err == nil {
		peers := make([]grid.PeerRecord, 0, len(record.Holders))
		for _, id := range record.Holders {
			peer, err := store.dir.Get(ctx, id)
			if err != nil {
				continue
			}
			peers = append(peers, peer)
		}
		return peers, nil
	}
	if !catalog.ErrFileNotFound.Has(err) {
		return nil, Error.Wrap(err)
	}
	peers, err := store.dir.ListPeers(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return peers, nil
}
