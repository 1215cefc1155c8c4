// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package immutable implements the upload and download pipeline for
// immutable files: encrypt, encode, fan out, and the reverse.
package immutable

import (
	"bytes"
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/gridvault/gridvault/internal/memory"
	"github.com/gridvault/gridvault/pkg/caps"
	"github.com/gridvault/gridvault/pkg/catalog"
	"github.com/gridvault/gridvault/pkg/ec"
	"github.com/gridvault/gridvault/pkg/erasure"
	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/overlay"
)

var (
	// Error is the default immutable errs class.
	Error = errs.Class("immutable error")

	// ErrUploadIncomplete is returned when fewer peers acknowledged an
	// upload than the success threshold requires. No usable capability
	// is issued in that case.
	ErrUploadIncomplete = errs.Class("upload incomplete")

	// ErrObjectTooLarge is returned when content exceeds the configured
	// maximum object size. The check happens before encoding begins.
	ErrObjectTooLarge = errs.Class("object too large")

	mon = monkit.Package()
)

// Config contains configurable values for the immutable pipeline.
type Config struct {
	MaxObjectSize memory.Size `help:"maximum object size accepted for upload" default:"64M"`
}

// Store uploads and downloads immutable files.
type Store struct {
	log     *zap.Logger
	ec      *ec.Client
	dir     overlay.Directory
	catalog *catalog.DB
	scheme  grid.RedundancyScheme
	config  Config
}

// NewStore creates an immutable file store.
func NewStore(log *zap.Logger, ecClient *ec.Client, dir overlay.Directory, files *catalog.DB, scheme grid.RedundancyScheme, config Config) (*Store, error) {
	if err := scheme.Validate(); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{
		log:     log,
		ec:      ecClient,
		dir:     dir,
		catalog: files,
		scheme:  scheme,
		config:  config,
	}, nil
}

// Upload stores data on the grid and returns its read capability. The
// capability is released only after the success threshold of peers has
// durably acknowledged their shares; otherwise ErrUploadIncomplete is
// returned and no capability exists.
func (store *Store) Upload(ctx context.Context, data []byte) (_ *caps.Capability, err error) {
	defer mon.Task()(&ctx)(&err)

	if max := store.config.MaxObjectSize.Int64(); max > 0 && int64(len(data)) > max {
		return nil, ErrObjectTooLarge.New("%d bytes over limit %d", len(data), max)
	}

	readKey := caps.DeriveContentKey(data)
	index := caps.DeriveStorageIndex(readKey)
	ciphertext := caps.EncryptContent(readKey, index, 0, data)

	codec, err := erasure.NewCodec(store.scheme.RequiredShares, store.scheme.TotalShares)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	shares, err := codec.Encode(ciphertext)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	manifest, err := caps.NewManifest(store.scheme, int64(len(data)), ciphertext, shares)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	manifestBytes := manifest.Marshal()

	peers, err := overlay.PickPeers(ctx, store.dir, store.scheme.TotalShares, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	placements := make([]ec.Placement, 0, len(shares))
	for i, share := range shares {
		placements = append(placements, ec.Placement{
			Peer: peers[i],
			Num:  share.Number,
			Data: packShare(manifestBytes, share.Data),
		})
	}

	successful, err := store.ec.PutShares(ctx, index, placements, store.scheme.SuccessThreshold())
	if err != nil {
		// never hand out a capability for an object we cannot prove
		// is reconstructable; drop whatever partial state landed
		targets := make([]ec.Target, 0, len(successful))
		for _, placement := range successful {
			targets = append(targets, ec.Target{Peer: placement.Peer, Num: placement.Num})
		}
		if len(targets) > 0 {
			if cleanupErr := store.ec.DeleteShares(ctx, index, targets); cleanupErr != nil {
				store.log.Warn("cleanup of abandoned upload failed", zap.Error(cleanupErr))
			}
		}
		return nil, ErrUploadIncomplete.Wrap(err)
	}

	holders := make(map[int]grid.PeerID, len(placements))
	for _, placement := range placements {
		holders[placement.Num] = placement.Peer.ID
	}
	err = store.catalog.Put(ctx, catalog.FileRecord{
		Index:   index,
		Mutable: false,
		Scheme:  store.scheme,
		Holders: holders,
		Root:    manifest.Root(),
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return caps.NewImmutableRead(store.scheme, int64(len(data)), readKey, manifest.Root())
}

// Download fetches and reconstructs the file a read capability names.
func (store *Store) Download(ctx context.Context, capability *caps.Capability) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	if capability.Kind != caps.KindImmutable {
		return nil, Error.New("not an immutable capability")
	}
	if !capability.AllowsRead() {
		return nil, caps.ErrInvalidCapability.New("read access requires a read capability")
	}

	targets, err := store.targets(ctx, capability.Index, capability.Scheme)
	if err != nil {
		return nil, err
	}
	_, manifest, shares, stats, err := store.fetch(ctx, capability.Index, capability.Scheme, capability.Root, targets, capability.Scheme.RequiredShares)
	if err != nil {
		return nil, err
	}

	need := capability.Scheme.RequiredShares
	if len(shares) < need {
		if stats.Corrupt > 0 {
			return nil, caps.ErrIntegrityFailure.New("only %d of %d required shares verified, %d failed validation", len(shares), need, stats.Corrupt)
		}
		return nil, erasure.ErrInsufficientShares.New("have %d, need %d", len(shares), need)
	}

	codec, err := erasure.NewCodec(capability.Scheme.RequiredShares, capability.Scheme.TotalShares)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	collected := make([]erasure.Share, 0, len(shares))
	for num, data := range shares {
		collected = append(collected, erasure.Share{Number: num, Data: data})
	}
	ciphertext, err := codec.Decode(collected)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := manifest.VerifyCiphertext(ciphertext); err != nil {
		return nil, err
	}

	plaintext, err := caps.DecryptContent(capability.ReadKey, capability.Index, 0, ciphertext)
	if err != nil {
		return nil, err
	}
	if capability.Size > 0 && int64(len(plaintext)) != capability.Size {
		return nil, caps.ErrIntegrityFailure.New("plaintext size %d does not match capability %d", len(plaintext), capability.Size)
	}
	return plaintext, nil
}

// Check audits an object's shares using only verify-tier material. It
// returns the number of shares that exist and pass their digest checks.
func (store *Store) Check(ctx context.Context, capability *caps.Capability) (healthy int, err error) {
	defer mon.Task()(&ctx)(&err)

	if capability.Kind != caps.KindImmutable {
		return 0, Error.New("not an immutable capability")
	}

	targets, err := store.targets(ctx, capability.Index, capability.Scheme)
	if err != nil {
		return 0, err
	}
	_, _, shares, _, err := store.fetch(ctx, capability.Index, capability.Scheme, capability.Root, targets, capability.Scheme.TotalShares)
	if err != nil {
		return 0, err
	}
	return len(shares), nil
}

// fetch queries the given targets and collects digest-verified shares
// for the object, along with the manifest they agree on and its
// serialized bytes. Shares whose manifest root differs from root are
// counted as corrupt.
func (store *Store) fetch(ctx context.Context, index grid.StorageIndex, scheme grid.RedundancyScheme, root []byte, targets []ec.Target, need int) (manifestBytes []byte, _ *caps.Manifest, _ map[int][]byte, _ ec.FetchStats, err error) {
	verify := func(num int, payload []byte) error {
		fetchedBytes, data, err := unpackShare(payload)
		if err != nil {
			return err
		}
		fetched, err := caps.ParseManifest(fetchedBytes)
		if err != nil {
			return err
		}
		// peers disagreeing on the manifest root is an integrity
		// problem, never a missing-data problem
		if !bytes.Equal(fetched.Root(), root) {
			return caps.ErrIntegrityFailure.New("manifest root mismatch for share %d", num)
		}
		return fetched.VerifyShare(erasure.Share{Number: num, Data: data})
	}

	raw, stats, err := store.ec.GetShares(ctx, index, targets, need, verify)
	if err != nil {
		return nil, nil, nil, stats, Error.Wrap(err)
	}

	var manifest *caps.Manifest
	shares := make(map[int][]byte, len(raw))
	for num, payload := range raw {
		fetchedBytes, data, err := unpackShare(payload)
		if err != nil {
			continue
		}
		if manifest == nil {
			// already validated against root in verify
			manifest, err = caps.ParseManifest(fetchedBytes)
			if err != nil {
				continue
			}
			manifestBytes = fetchedBytes
		}
		shares[num] = data
	}
	return manifestBytes, manifest, shares, stats, nil
}

// Health probes a file's registered holders and returns the share
// numbers they still durably hold.
func (store *Store) Health(ctx context.Context, record catalog.FileRecord) (healthy []int, err error) {
	defer mon.Task()(&ctx)(&err)

	targets, err := store.holderTargets(ctx, record)
	if err != nil {
		return nil, err
	}
	return store.ec.HasShares(ctx, record.Index, targets)
}

// Repair restores a file to full redundancy: it regenerates exactly the
// missing share numbers from surviving shares and places them on fresh
// peers. A file that is already fully healthy is left untouched, and one
// with fewer surviving shares than its scheme requires is reported lost.
func (store *Store) Repair(ctx context.Context, record catalog.FileRecord) (err error) {
	defer mon.Task()(&ctx)(&err)

	healthy, err := store.Health(ctx, record)
	if err != nil {
		return err
	}
	held := make(map[int]bool, len(healthy))
	for _, num := range healthy {
		held[num] = true
	}
	var missing []int
	for num := 0; num < record.Scheme.TotalShares; num++ {
		if !held[num] {
			missing = append(missing, num)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if len(healthy) < record.Scheme.RequiredShares {
		return grid.ErrFileLost.New("%s: %d of %d required shares survive", record.Index, len(healthy), record.Scheme.RequiredShares)
	}

	targets, err := store.holderTargets(ctx, record)
	if err != nil {
		return err
	}
	manifestBytes, manifest, shares, stats, err := store.fetch(ctx, record.Index, record.Scheme, record.Root, targets, record.Scheme.RequiredShares)
	if err != nil {
		return err
	}
	if len(shares) < record.Scheme.RequiredShares {
		if stats.Corrupt > 0 {
			return caps.ErrIntegrityFailure.New("%s: only %d verified shares, %d failed validation", record.Index, len(shares), stats.Corrupt)
		}
		return grid.ErrFileLost.New("%s: %d of %d required shares fetched", record.Index, len(shares), record.Scheme.RequiredShares)
	}

	codec, err := erasure.NewCodec(record.Scheme.RequiredShares, record.Scheme.TotalShares)
	if err != nil {
		return Error.Wrap(err)
	}
	survivors := make([]erasure.Share, 0, len(shares))
	for num, data := range shares {
		survivors = append(survivors, erasure.Share{Number: num, Data: data})
	}
	rebuilt, err := codec.Rebuild(survivors, missing)
	if err != nil {
		return Error.Wrap(err)
	}
	for _, share := range rebuilt {
		if err := manifest.VerifyShare(share); err != nil {
			return err
		}
	}

	exclude := make(map[grid.PeerID]bool, len(record.Holders))
	for _, id := range record.Holders {
		exclude[id] = true
	}
	peers, err := overlay.PickPeers(ctx, store.dir, len(rebuilt), exclude)
	if err != nil {
		return Error.Wrap(err)
	}

	placements := make([]ec.Placement, 0, len(rebuilt))
	for i, share := range rebuilt {
		placements = append(placements, ec.Placement{
			Peer: peers[i],
			Num:  share.Number,
			Data: packShare(manifestBytes, share.Data),
		})
	}
	successful, err := store.ec.PutShares(ctx, record.Index, placements, len(placements))
	for _, placement := range successful {
		record.Holders[placement.Num] = placement.Peer.ID
	}
	if updateErr := store.catalog.Put(ctx, record); updateErr != nil {
		return Error.Wrap(errs.Combine(err, updateErr))
	}
	return Error.Wrap(err)
}

// holderTargets resolves a record's registered holders to probe targets,
// skipping holders no longer present in the peer directory.
func (store *Store) holderTargets(ctx context.Context, record catalog.FileRecord) ([]ec.Target, error) {
	targets := make([]ec.Target, 0, len(record.Holders))
	for num, peerID := range record.Holders {
		peer, err := store.dir.Get(ctx, peerID)
		if err != nil {
			continue
		}
		targets = append(targets, ec.Target{Peer: peer, Num: num})
	}
	return targets, nil
}

// targets resolves which peers to query for an object: the catalog's
// holder set when registered, otherwise every known peer is probed for
// every share number.
func (store *Store) targets(ctx context.Context, index grid.StorageIndex, scheme grid.RedundancyScheme) ([]ec.Target, error) {
	record, err := store.catalog.Get(ctx, index)
	if err == nil {
		return store.holderTargets(ctx, record)
	}
	if !catalog.ErrFileNotFound.Has(err) {
		return nil, Error.Wrap(err)
	}

	peers, err := store.dir.ListPeers(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var targets []ec.Target
	for _, peer := range peers {
		for num := 0; num < scheme.TotalShares; num++ {
			targets = append(targets, ec.Target{Peer: peer, Num: num})
		}
	}
	return targets, nil
}
