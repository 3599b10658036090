package parix

import (
	"context"
	"errors"
	"time"

	"github.com/hpcgo/parix/blobstore"
	"github.com/hpcgo/parix/checkpoint"
	"github.com/hpcgo/parix/comm"
	"github.com/hpcgo/parix/indexset"
	"github.com/hpcgo/parix/remote"
)

// ErrNilIndexSet is returned by New when an index set is missing.
var ErrNilIndexSet = errors.New("index set must not be nil")

// Exchange is the facade over a remote index registry. It couples the
// source and target index sets of one rank with the communicator of the
// process group and adds logging, metrics, and checkpoint persistence on
// top of the remote package.
type Exchange struct {
	ri     *remote.Indices
	source *indexset.ParallelIndexSet
	target *indexset.ParallelIndexSet

	metrics MetricsCollector
	logger  *Logger
}

// New creates an Exchange over the given index sets and communicator.
// Pass the same set twice when indices are sent and received on one set.
func New(source, target *indexset.ParallelIndexSet, c comm.Communicator, optFns ...Option) (*Exchange, error) {
	if source == nil || target == nil {
		return nil, ErrNilIndexSet
	}
	o := applyOptions(optFns)
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}

	logger := o.logger.WithRank(c.Rank())
	return &Exchange{
		ri:      remote.New(source, target, c, remote.WithLogger(logger.Logger)),
		source:  source,
		target:  target,
		metrics: o.metricsCollector,
		logger:  logger,
	}, nil
}

// Registry exposes the underlying remote index registry.
func (e *Exchange) Registry() *remote.Indices { return e.ri }

// Source returns the index set local indices are sent from.
func (e *Exchange) Source() *indexset.ParallelIndexSet { return e.source }

// Target returns the index set remote indices are received into.
func (e *Exchange) Target() *indexset.ParallelIndexSet { return e.target }

// Synced reports whether the registry matches its index sets.
func (e *Exchange) Synced() bool { return e.ri.Synced() }

// Peers returns the neighbour ranks in ascending order.
func (e *Exchange) Peers() []int { return e.ri.Peers() }

// Rebuild runs the collective discovery exchange. All ranks of the
// communicator must call Rebuild with the same ignorePublic value.
func (e *Exchange) Rebuild(ctx context.Context, ignorePublic bool) error {
	start := time.Now()
	err := translateError(e.ri.Rebuild(ignorePublic))
	e.metrics.RecordRebuild(e.ri.Neighbours(), time.Since(start), err)
	e.logger.LogRebuild(ctx, e.ri.Neighbours(), err)
	return err
}

// SetIndexSets replaces both index sets and frees the registry.
func (e *Exchange) SetIndexSets(source, target *indexset.ParallelIndexSet, c comm.Communicator) error {
	if source == nil || target == nil {
		return ErrNilIndexSet
	}
	e.ri.SetIndexSets(source, target, c)
	e.source, e.target = source, target
	return nil
}

// SendModifier returns a modifier for the send list of the peer.
// Taking a modifier marks the registry synced; the caller vouches that the
// edits mirror the index set.
func (e *Exchange) SendModifier(peer int, editsIndexSet bool) *remote.Modifier {
	return e.ri.SendModifier(peer, editsIndexSet)
}

// RecvModifier returns a modifier for the receive list of the peer.
func (e *Exchange) RecvModifier(peer int, editsIndexSet bool) *remote.Modifier {
	return e.ri.RecvModifier(peer, editsIndexSet)
}

// SendIterator returns a collective iterator over all send lists.
func (e *Exchange) SendIterator() *remote.CollectiveIterator {
	return e.ri.SendIterator()
}

// RecvIterator returns a collective iterator over all receive lists.
func (e *Exchange) RecvIterator() *remote.CollectiveIterator {
	return e.ri.RecvIterator()
}

// Checkpoint writes the source index set to the store under the given name.
func (e *Exchange) Checkpoint(ctx context.Context, store blobstore.Store, name string) error {
	start := time.Now()
	cs := &countingStore{Store: store}
	err := translateError(checkpoint.Write(ctx, cs, name, e.source))
	e.metrics.RecordCheckpoint(cs.putBytes, time.Since(start), err)
	e.logger.LogCheckpoint(ctx, name, cs.putBytes, err)
	return err
}

// Restore reads an index set back from the store. The caller decides how
// to install it, typically via SetIndexSets followed by a Rebuild.
func (e *Exchange) Restore(ctx context.Context, store blobstore.Store, name string) (*indexset.ParallelIndexSet, error) {
	start := time.Now()
	set, err := checkpoint.Read(ctx, store, name)
	if err != nil {
		if errors.Is(err, checkpoint.ErrBadMagic) || errors.Is(err, checkpoint.ErrBadVersion) {
			err = &ErrBadCheckpoint{Name: name, cause: err}
		} else {
			err = translateError(err)
		}
		e.metrics.RecordRestore(0, time.Since(start), err)
		e.logger.LogRestore(ctx, name, 0, err)
		return nil, err
	}
	e.metrics.RecordRestore(set.Size(), time.Since(start), nil)
	e.logger.LogRestore(ctx, name, set.Size(), nil)
	return set, nil
}

// countingStore records the size of blobs written through it.
type countingStore struct {
	blobstore.Store
	putBytes int
}

func (c *countingStore) Put(ctx context.Context, name string, data []byte) error {
	c.putBytes = len(data)
	return c.Store.Put(ctx, name, data)
}
