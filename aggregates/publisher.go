package aggregates

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hpcgo/parix/indexset"
	"github.com/hpcgo/parix/remote"
)

// PublishTag is the communicator tag of aggregate publications.
const PublishTag = 334

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithLogger sets the logger for publication diagnostics.
func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// Publisher copies owner-held aggregate assignments to their replicas on
// neighbour ranks, walking the remote index lists of a registry.
//
// For every peer the owner side packs the aggregate global id of each
// owner-attributed entry of its send list; the replica side walks its
// receive list in the same order and stores the translated local ids on
// entries it does not own itself. Publish is collective over the
// registry's communicator.
type Publisher struct {
	m  *GlobalAggregatesMap
	ri *remote.Indices

	logger *slog.Logger
}

// NewPublisher couples a global aggregates map with the registry describing
// the sharing pattern of the fine-level index set.
func NewPublisher(m *GlobalAggregatesMap, ri *remote.Indices, opts ...PublisherOption) *Publisher {
	p := &Publisher{m: m, ri: ri, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish runs one exchange round. The registry must be synced; all ranks of
// the communicator must call Publish in the same epoch.
func (p *Publisher) Publish() error {
	if !p.ri.Synced() {
		return ErrNotSynced
	}
	c := p.ri.Communicator()

	var eg errgroup.Group
	for peer, lists := range p.ri.All() {
		msg, err := p.pack(lists.Send())
		if err != nil {
			return err
		}
		eg.Go(func() error {
			if err := c.Send(peer, PublishTag, msg); err != nil {
				return fmt.Errorf("aggregates: publish to %d: %w", peer, err)
			}
			return nil
		})
	}

	for peer, lists := range p.ri.All() {
		recv := lists.Recv()
		buf := make([]byte, 4+8*recv.Len())
		n, err := c.Recv(peer, PublishTag, buf)
		if err != nil {
			return fmt.Errorf("aggregates: receive from %d: %w", peer, err)
		}
		if err := p.scatter(peer, recv, buf[:n]); err != nil {
			return err
		}
	}
	return eg.Wait()
}

// pack collects the aggregate globals of the owner entries of one send list.
func (p *Publisher) pack(send *remote.List) ([]byte, error) {
	count := 0
	for r := range send.All() {
		if r.LocalPair().Local().Attribute() == indexset.Owner {
			count++
		}
	}
	msg := make([]byte, 4, 4+8*count)
	binary.LittleEndian.PutUint32(msg, uint32(count))
	for r := range send.All() {
		if r.LocalPair().Local().Attribute() != indexset.Owner {
			continue
		}
		g, err := p.m.Get(r.LocalPair().Local().Local())
		if err != nil {
			return nil, err
		}
		msg = binary.LittleEndian.AppendUint64(msg, uint64(g))
	}
	return msg, nil
}

// scatter walks the receive list alongside the incoming owner entries and
// stores the translated aggregate ids on non-owner replicas.
func (p *Publisher) scatter(peer int, recv *remote.List, msg []byte) error {
	if len(msg) < 4 {
		return fmt.Errorf("aggregates: truncated message from %d", peer)
	}
	count := int(binary.LittleEndian.Uint32(msg))
	msg = msg[4:]

	read := 0
	for r := range recv.All() {
		if r.Attribute() != indexset.Owner {
			continue
		}
		if read >= count || len(msg) < 8 {
			return fmt.Errorf("aggregates: message from %d short by %d entries", peer, count-read)
		}
		g := indexset.Global(binary.LittleEndian.Uint64(msg))
		msg = msg[8:]
		read++

		if r.LocalPair().Local().Attribute() == indexset.Owner {
			continue
		}
		if err := p.m.Put(g, r.LocalPair().Local().Local()); err != nil {
			return err
		}
	}
	p.logger.Debug("aggregates scattered", "peer", peer, "entries", read)
	return nil
}
