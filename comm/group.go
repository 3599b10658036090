package comm

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

type message struct {
	tag  int
	data []byte
}

// Group is an in-process communicator: size ranks wired pairwise through
// rendezvous channels. A Send blocks until the matching Recv picks the
// message up, mirroring synchronous-send transports.
//
// Group is the reference transport for tests and single-binary SPMD runs.
type Group struct {
	size int
	// chans[dst][src] carries messages from src to dst.
	chans [][]chan message
}

// NewGroup creates a group of size ranks. Use Communicator to obtain the
// per-rank endpoints.
func NewGroup(size int) *Group {
	chans := make([][]chan message, size)
	for dst := range chans {
		chans[dst] = make([]chan message, size)
		for src := range chans[dst] {
			chans[dst][src] = make(chan message)
		}
	}
	return &Group{size: size, chans: chans}
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return g.size }

// Communicator returns the endpoint for the given rank.
func (g *Group) Communicator(rank int) Communicator {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0,%d)", rank, g.size))
	}
	return &groupComm{g: g, rank: rank}
}

type groupComm struct {
	g    *Group
	rank int
}

func (c *groupComm) Rank() int { return c.rank }

func (c *groupComm) Size() int { return c.g.size }

func (c *groupComm) Send(dst, tag int, p []byte) error {
	if dst < 0 || dst >= c.g.size {
		return fmt.Errorf("%w: %d", ErrInvalidRank, dst)
	}
	data := make([]byte, len(p))
	copy(data, p)
	c.g.chans[dst][c.rank] <- message{tag: tag, data: data}
	return nil
}

func (c *groupComm) Recv(src, tag int, buf []byte) (int, error) {
	if src < 0 || src >= c.g.size {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRank, src)
	}
	msg := <-c.g.chans[c.rank][src]
	if msg.tag != tag {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrTagMismatch, msg.tag, tag)
	}
	if len(msg.data) > len(buf) {
		return 0, fmt.Errorf("%w: message %d bytes, buffer %d", ErrShortBuffer, len(msg.data), len(buf))
	}
	return copy(buf, msg.data), nil
}

func (c *groupComm) Sendrecv(dst, stag int, p []byte, src, rtag int, buf []byte) (int, error) {
	errc := make(chan error, 1)
	go func() {
		errc <- c.Send(dst, stag, p)
	}()
	n, rerr := c.Recv(src, rtag, buf)
	serr := <-errc
	if serr != nil {
		return n, serr
	}
	return n, rerr
}

func (c *groupComm) AllreduceMaxInt(v int) (int, error) {
	return allreduceMaxInt(c, v)
}

func (c *groupComm) Barrier() error {
	return barrier(c)
}

// Launch runs fn on every rank of a fresh group, one goroutine per rank, and
// waits for all of them. The first non-nil error cancels nothing (ranks are
// expected to fail collectively or not at all) but is the one returned.
func Launch(size int, fn func(Communicator) error) error {
	g := NewGroup(size)
	var eg errgroup.Group
	for rank := 0; rank < size; rank++ {
		c := g.Communicator(rank)
		eg.Go(func() error {
			return fn(c)
		})
	}
	return eg.Wait()
}
