// Package checkpoint persists parallel index sets to a blob store.
//
// A checkpoint is an lz4 frame wrapping a small header and the index
// records of one set. The frame format carries its own block checksums, so
// no separate integrity check is stored. Restoring rebuilds the set in a
// single resize transaction.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/hpcgo/parix/blobstore"
	"github.com/hpcgo/parix/indexset"
)

var (
	// ErrBadMagic is returned when a blob does not start with a checkpoint
	// header.
	ErrBadMagic = errors.New("checkpoint: bad magic")

	// ErrBadVersion is returned when a checkpoint was written by an
	// incompatible format version.
	ErrBadVersion = errors.New("checkpoint: unsupported version")
)

var magic = [4]byte{'P', 'R', 'X', 'C'}

const (
	version = 1

	// header: magic, version, record count
	headerSize = 4 + 1 + 8

	// record: global, local, attribute, public flag
	recordSize = 8 + 8 + 1 + 1
)

// Write serializes the index set into the store under the given name. The
// set must not be in the middle of a resize.
func Write(ctx context.Context, store blobstore.Store, name string, set *indexset.ParallelIndexSet) error {
	if set.State() != indexset.Ground {
		return fmt.Errorf("checkpoint: write %q: %w", name, indexset.ErrInvalidState)
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)

	var hdr [headerSize]byte
	copy(hdr[:4], magic[:])
	hdr[4] = version
	binary.LittleEndian.PutUint64(hdr[5:], uint64(set.Size()))
	if _, err := zw.Write(hdr[:]); err != nil {
		return fmt.Errorf("checkpoint: write %q: %w", name, err)
	}

	var rec [recordSize]byte
	for p := range set.Pairs() {
		li := p.Local()
		binary.LittleEndian.PutUint64(rec[0:], uint64(p.Global()))
		binary.LittleEndian.PutUint64(rec[8:], uint64(li.Local()))
		rec[16] = byte(li.Attribute())
		rec[17] = 0
		if li.IsPublic() {
			rec[17] = 1
		}
		if _, err := zw.Write(rec[:]); err != nil {
			return fmt.Errorf("checkpoint: write %q: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("checkpoint: write %q: %w", name, err)
	}
	return store.Put(ctx, name, buf.Bytes())
}

// Read restores an index set from the store. The returned set is ground
// and carries the attributes and visibility flags of the written one.
// Records whose attribute is not Owner, Overlap or Copy are rejected, so a
// set using other attribute values can be written but not read back.
func Read(ctx context.Context, store blobstore.Store, name string) (*indexset.ParallelIndexSet, error) {
	rc, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	zr := lz4.NewReader(rc)

	var hdr [headerSize]byte
	if _, err := io.ReadFull(zr, hdr[:]); err != nil {
		return nil, fmt.Errorf("checkpoint: read %q: %w", name, err)
	}
	if !bytes.Equal(hdr[:4], magic[:]) {
		return nil, fmt.Errorf("checkpoint: read %q: %w", name, ErrBadMagic)
	}
	if hdr[4] != version {
		return nil, fmt.Errorf("checkpoint: read %q: version %d: %w", name, hdr[4], ErrBadVersion)
	}
	count := binary.LittleEndian.Uint64(hdr[5:])

	set := indexset.New()
	if err := set.BeginResize(); err != nil {
		return nil, err
	}

	var rec [recordSize]byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(zr, rec[:]); err != nil {
			return nil, fmt.Errorf("checkpoint: read %q: record %d: %w", name, i, err)
		}
		g := indexset.Global(binary.LittleEndian.Uint64(rec[0:]))
		local := int(binary.LittleEndian.Uint64(rec[8:]))
		attr := indexset.Attribute(rec[16])
		if attr < indexset.Owner || attr > indexset.Copy {
			return nil, fmt.Errorf("checkpoint: read %q: record %d: invalid attribute %d", name, i, rec[16])
		}
		public := rec[17] != 0

		if err := set.Add(g, indexset.NewLocalIndex(local, attr, public)); err != nil {
			return nil, fmt.Errorf("checkpoint: read %q: record %d: %w", name, i, err)
		}
	}

	if err := set.EndResize(); err != nil {
		return nil, fmt.Errorf("checkpoint: read %q: %w", name, err)
	}
	return set, nil
}
