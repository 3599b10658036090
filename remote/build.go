package remote

import (
	"fmt"

	"github.com/hpcgo/parix/indexset"
	"github.com/hpcgo/parix/wire"
)

// buildRemote runs the ring discovery protocol and fills ri.peers.
//
// Every rank packs its published indices into one message. The messages
// travel around the ring: on hop h each rank forwards the message it received
// on hop h-1 and unpacks the incoming one against its own index sets. After
// size-1 hops every rank has seen every message exactly once. Even ranks send
// before receiving and odd ranks receive before sending, so the exchange
// stays deadlock free over synchronous transports.
func (ri *Indices) buildRemote(ignorePublic bool) error {
	rank := ri.comm.Rank()
	procs := ri.comm.Size()

	// With distinct index sets each message carries two blocks, the source
	// indices first and the target indices second.
	sendTwo := ri.source != ri.target

	sourcePublish := publishCount(ri.source, ignorePublic)
	destPublish := 0
	if sendTwo {
		destPublish = publishCount(ri.target, ignorePublic)
	}

	maxPublish, err := ri.comm.AllreduceMaxInt(sourcePublish + destPublish)
	if err != nil {
		return fmt.Errorf("remote: size exchange: %w", err)
	}

	bufSize := wire.BufferSize(maxPublish)
	cur := make([]byte, bufSize)
	other := make([]byte, bufSize)

	sourceProbe := probe(ri.source, ignorePublic)
	destProbe := sourceProbe
	if sendTwo {
		destProbe = probe(ri.target, ignorePublic)
	}

	own := wire.NewBuffer(cur)
	if err := packEntries(own, sendTwo, ri.source, ri.target, sourcePublish, destPublish, ignorePublic); err != nil {
		return err
	}
	curLen := own.Pos()

	if sendTwo {
		// With two index sets even the local rank appears in the registry, so
		// the own message makes a full round trip through the local unpack.
		n, err := ri.comm.Sendrecv(rank, ExchangeTag, cur[:curLen], rank, ExchangeTag, other)
		if err != nil {
			return fmt.Errorf("remote: self exchange: %w", err)
		}
		if err := ri.unpackMessage(other[:n], rank, sendTwo, sourceProbe, destProbe); err != nil {
			return err
		}
		cur, other = other, cur
		curLen = n
	}

	next := (rank + 1) % procs
	prev := (rank + procs - 1) % procs

	for hop := 1; hop < procs; hop++ {
		var n int
		if rank%2 == 0 {
			if err := ri.comm.Send(next, ExchangeTag, cur[:curLen]); err != nil {
				return fmt.Errorf("remote: hop %d send: %w", hop, err)
			}
			if n, err = ri.comm.Recv(prev, ExchangeTag, other); err != nil {
				return fmt.Errorf("remote: hop %d recv: %w", hop, err)
			}
		} else {
			if n, err = ri.comm.Recv(prev, ExchangeTag, other); err != nil {
				return fmt.Errorf("remote: hop %d recv: %w", hop, err)
			}
			if err := ri.comm.Send(next, ExchangeTag, cur[:curLen]); err != nil {
				return fmt.Errorf("remote: hop %d send: %w", hop, err)
			}
		}

		remote := (rank + procs - hop) % procs
		ri.logger.Debug("discovery hop", "rank", rank, "hop", hop, "from", remote, "bytes", n)
		if err := ri.unpackMessage(other[:n], remote, sendTwo, sourceProbe, destProbe); err != nil {
			return err
		}

		cur, other = other, cur
		curLen = n
	}

	if err := ri.comm.Barrier(); err != nil {
		return fmt.Errorf("remote: discovery barrier: %w", err)
	}

	ri.logger.Info("discovery complete", "rank", rank, "neighbours", len(ri.peers))
	return nil
}

// publishCount returns how many indices of set enter the exchange.
func publishCount(set *indexset.ParallelIndexSet, ignorePublic bool) int {
	if ignorePublic {
		return set.Size()
	}
	return set.NumPublic()
}

// probe collects the published records of set in ascending global order. The
// unpack merge-join walks this slice alongside the incoming message.
func probe(set *indexset.ParallelIndexSet, ignorePublic bool) []*indexset.IndexPair {
	pairs := make([]*indexset.IndexPair, 0, publishCount(set, ignorePublic))
	for p := range set.Pairs() {
		if ignorePublic || p.Local().IsPublic() {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// packEntries writes one discovery message: a flag byte for the two-block
// layout, the per-block counts, then the published pairs of each block in
// ascending global order.
func packEntries(buf *wire.Buffer, sendTwo bool, source, target *indexset.ParallelIndexSet, sourcePublish, destPublish int, ignorePublic bool) error {
	buf.Reset()
	flag := byte(0)
	if sendTwo {
		flag = 1
	}
	if err := buf.PutByte(flag); err != nil {
		return fmt.Errorf("remote: pack: %w", err)
	}
	if err := buf.PutInt32(int32(sourcePublish)); err != nil {
		return fmt.Errorf("remote: pack: %w", err)
	}
	if err := buf.PutInt32(int32(destPublish)); err != nil {
		return fmt.Errorf("remote: pack: %w", err)
	}
	if err := packSet(buf, source, ignorePublic); err != nil {
		return err
	}
	if sendTwo {
		if err := packSet(buf, target, ignorePublic); err != nil {
			return err
		}
	}
	return nil
}

func packSet(buf *wire.Buffer, set *indexset.ParallelIndexSet, ignorePublic bool) error {
	for p := range set.Pairs() {
		li := p.Local()
		if !ignorePublic && !li.IsPublic() {
			continue
		}
		wp := wire.Pair{Global: p.Global(), Attr: li.Attribute(), Local: int64(li.Local())}
		if err := buf.PutPair(wp); err != nil {
			return fmt.Errorf("remote: pack global %d: %w", p.Global(), err)
		}
	}
	return nil
}

// unpackMessage consumes one peer's message and records the resulting list
// pair under the peer's rank. Peers sharing no indices leave no entry.
func (ri *Indices) unpackMessage(msg []byte, peer int, sendTwo bool, sourceProbe, destProbe []*indexset.IndexPair) error {
	buf := wire.NewBuffer(msg)
	flag, err := buf.Byte()
	if err != nil {
		return fmt.Errorf("remote: unpack from %d: %w", peer, err)
	}
	twoSets := flag != 0
	remoteSource, err := buf.Int32()
	if err != nil {
		return fmt.Errorf("remote: unpack from %d: %w", peer, err)
	}
	remoteDest, err := buf.Int32()
	if err != nil {
		return fmt.Errorf("remote: unpack from %d: %w", peer, err)
	}

	var send, recv *List
	switch {
	case !twoSets && sendTwo:
		// The peer published one block; we match it against both of our
		// sets in a single pass.
		send, recv = NewList(), NewList()
		if err := unpackBoth(buf, int(remoteSource), sourceProbe, destProbe, send, recv); err != nil {
			return fmt.Errorf("remote: unpack from %d: %w", peer, err)
		}
	case !twoSets && !sendTwo:
		recv = NewList()
		if err := unpackOne(buf, int(remoteSource), sourceProbe, recv); err != nil {
			return fmt.Errorf("remote: unpack from %d: %w", peer, err)
		}
		send = recv
	case twoSets && sendTwo:
		// The peer's source block feeds our receive side and its target
		// block feeds our send side.
		send, recv = NewList(), NewList()
		if err := unpackOne(buf, int(remoteSource), destProbe, recv); err != nil {
			return fmt.Errorf("remote: unpack from %d: %w", peer, err)
		}
		if err := unpackOne(buf, int(remoteDest), sourceProbe, send); err != nil {
			return fmt.Errorf("remote: unpack from %d: %w", peer, err)
		}
	default: // twoSets && !sendTwo
		send, recv = NewList(), NewList()
		if err := unpackOne(buf, int(remoteSource), sourceProbe, recv); err != nil {
			return fmt.Errorf("remote: unpack from %d: %w", peer, err)
		}
		if err := unpackOne(buf, int(remoteDest), sourceProbe, send); err != nil {
			return fmt.Errorf("remote: unpack from %d: %w", peer, err)
		}
	}

	if send.Empty() && recv.Empty() {
		return nil
	}
	if send == recv {
		ri.peers[peer] = sharedLists(send)
	} else {
		ri.peers[peer] = splitLists(send, recv)
	}
	ri.logger.Debug("peer discovered", "rank", ri.comm.Rank(), "peer", peer,
		"send", send.Len(), "recv", recv.Len())
	return nil
}

// unpackOne merge-joins count incoming pairs against probe, appending a
// record for every global id present on both sides. Both sequences are
// sorted ascending, so a single cursor over probe suffices.
func unpackOne(buf *wire.Buffer, count int, probe []*indexset.IndexPair, out *List) error {
	cursor := 0
	for i := 0; i < count; i++ {
		wp, err := buf.Pair()
		if err != nil {
			return err
		}
		for cursor < len(probe) && probe[cursor].Global() < wp.Global {
			cursor++
		}
		if cursor < len(probe) && probe[cursor].Global() == wp.Global {
			out.push(NewIndex(wp.Attr, probe[cursor]))
			cursor++
		}
	}
	return nil
}

// unpackBoth merge-joins a single incoming block against two probes at once,
// keeping an independent cursor per probe so the receive side never follows
// the send side's position.
func unpackBoth(buf *wire.Buffer, count int, sourceProbe, destProbe []*indexset.IndexPair, send, recv *List) error {
	si, di := 0, 0
	for i := 0; i < count; i++ {
		wp, err := buf.Pair()
		if err != nil {
			return err
		}
		for si < len(sourceProbe) && sourceProbe[si].Global() < wp.Global {
			si++
		}
		if si < len(sourceProbe) && sourceProbe[si].Global() == wp.Global {
			send.push(NewIndex(wp.Attr, sourceProbe[si]))
			si++
		}
		for di < len(destProbe) && destProbe[di].Global() < wp.Global {
			di++
		}
		if di < len(destProbe) && destProbe[di].Global() == wp.Global {
			recv.push(NewIndex(wp.Attr, destProbe[di]))
			di++
		}
	}
	return nil
}
