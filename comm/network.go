package comm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/s2"
	"golang.org/x/time/rate"
)

// NetworkOptions configures a Network transport.
type NetworkOptions struct {
	// Logger receives connection and framing events. Nil disables logging.
	Logger *slog.Logger

	// DialTimeout bounds the total time spent establishing the mesh.
	DialTimeout time.Duration

	// DialRate limits connection attempts per peer while the mesh forms.
	// Peers commonly start at different times; retries are expected.
	DialRate rate.Limit

	// InboxDepth is the per-peer buffered message capacity.
	InboxDepth int
}

// DefaultNetworkOptions returns the options used when none are given.
func DefaultNetworkOptions() NetworkOptions {
	return NetworkOptions{
		DialTimeout: 30 * time.Second,
		DialRate:    rate.Limit(10),
		InboxDepth:  16,
	}
}

// Network is a Communicator over a full mesh of TCP connections.
//
// Rank r listens on addrs[r] and dials every rank above it; the dialing side
// identifies itself with a four-byte rank handshake. Frames are
// length-prefixed and s2-compressed. A demultiplexer goroutine per peer
// routes incoming frames into per-peer inboxes.
type Network struct {
	rank int
	size int

	opts   NetworkOptions
	logger *slog.Logger

	listener net.Listener
	conns    []net.Conn
	sendMu   []sync.Mutex

	inbox []chan message

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewNetwork establishes the mesh and returns once every pairwise connection
// is up. All ranks must call it with the same address list.
func NewNetwork(ctx context.Context, rank int, addrs []string, opts NetworkOptions) (*Network, error) {
	size := len(addrs)
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidRank, rank, size)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultNetworkOptions().DialTimeout
	}
	if opts.DialRate == 0 {
		opts.DialRate = DefaultNetworkOptions().DialRate
	}
	if opts.InboxDepth == 0 {
		opts.InboxDepth = DefaultNetworkOptions().InboxDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	n := &Network{
		rank:   rank,
		size:   size,
		opts:   opts,
		logger: logger,
		conns:  make([]net.Conn, size),
		sendMu: make([]sync.Mutex, size),
		inbox:  make([]chan message, size),
		closed: make(chan struct{}),
	}
	for i := range n.inbox {
		n.inbox[i] = make(chan message, opts.InboxDepth)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	ln, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, fmt.Errorf("comm: listen %s: %w", addrs[rank], err)
	}
	n.listener = ln

	// Each rank accepts connections from lower ranks and dials higher ranks.
	errc := make(chan error, 2)
	go func() { errc <- n.acceptPeers(ctx) }()
	go func() { errc <- n.dialPeers(ctx, addrs) }()
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			n.Close()
			return nil, err
		}
	}

	for peer, conn := range n.conns {
		if peer == rank {
			continue
		}
		n.wg.Add(1)
		go n.demux(peer, conn)
	}

	logger.Debug("mesh established", "rank", rank, "size", size)
	return n, nil
}

func (n *Network) acceptPeers(ctx context.Context) error {
	want := n.rank // ranks below us dial in
	if want == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok {
		if tl, ok := n.listener.(*net.TCPListener); ok {
			tl.SetDeadline(deadline)
		}
	}
	for i := 0; i < want; i++ {
		conn, err := n.listener.Accept()
		if err != nil {
			return fmt.Errorf("comm: accept: %w", err)
		}
		var hdr [4]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			conn.Close()
			return fmt.Errorf("comm: handshake: %w", err)
		}
		peer := int(int32(binary.LittleEndian.Uint32(hdr[:])))
		if peer < 0 || peer >= n.size || n.conns[peer] != nil {
			conn.Close()
			return fmt.Errorf("%w: handshake rank %d", ErrInvalidRank, peer)
		}
		n.conns[peer] = conn
		n.logger.Debug("peer accepted", "rank", n.rank, "peer", peer)
	}
	return nil
}

func (n *Network) dialPeers(ctx context.Context, addrs []string) error {
	limiter := rate.NewLimiter(n.opts.DialRate, 1)
	var d net.Dialer
	for peer := n.rank + 1; peer < n.size; peer++ {
		for {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("comm: dial %d: %w", peer, err)
			}
			conn, err := d.DialContext(ctx, "tcp", addrs[peer])
			if err != nil {
				// The peer may not be listening yet.
				continue
			}
			var hdr [4]byte
			binary.LittleEndian.PutUint32(hdr[:], uint32(int32(n.rank)))
			if _, err := conn.Write(hdr[:]); err != nil {
				conn.Close()
				return fmt.Errorf("comm: handshake with %d: %w", peer, err)
			}
			n.conns[peer] = conn
			n.logger.Debug("peer dialed", "rank", n.rank, "peer", peer)
			break
		}
	}
	return nil
}

// frame layout: tag int32, uncompressed length uint32, compressed length
// uint32, then the s2 block.
const frameHeaderSize = 4 + 4 + 4

func (n *Network) demux(peer int, conn net.Conn) {
	defer n.wg.Done()
	var hdr [frameHeaderSize]byte
	for {
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			select {
			case <-n.closed:
			default:
				n.logger.Error("frame read failed", "rank", n.rank, "peer", peer, "error", err)
			}
			close(n.inbox[peer])
			return
		}
		tag := int(int32(binary.LittleEndian.Uint32(hdr[0:])))
		ulen := binary.LittleEndian.Uint32(hdr[4:])
		clen := binary.LittleEndian.Uint32(hdr[8:])

		compressed := make([]byte, clen)
		if _, err := io.ReadFull(conn, compressed); err != nil {
			n.logger.Error("frame body read failed", "rank", n.rank, "peer", peer, "error", err)
			close(n.inbox[peer])
			return
		}
		data, err := s2.Decode(make([]byte, 0, ulen), compressed)
		if err != nil {
			n.logger.Error("frame decode failed", "rank", n.rank, "peer", peer, "error", err)
			close(n.inbox[peer])
			return
		}
		select {
		case n.inbox[peer] <- message{tag: tag, data: data}:
		case <-n.closed:
			return
		}
	}
}

// Rank returns the local rank.
func (n *Network) Rank() int { return n.rank }

// Size returns the number of ranks in the mesh.
func (n *Network) Size() int { return n.size }

// Send writes p to dst as one compressed frame.
func (n *Network) Send(dst, tag int, p []byte) error {
	if dst < 0 || dst >= n.size {
		return fmt.Errorf("%w: %d", ErrInvalidRank, dst)
	}
	if dst == n.rank {
		data := make([]byte, len(p))
		copy(data, p)
		select {
		case n.inbox[dst] <- message{tag: tag, data: data}:
			return nil
		case <-n.closed:
			return ErrClosed
		}
	}

	compressed := s2.Encode(nil, p)
	hdr := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:], uint32(int32(tag)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(p)))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(compressed)))

	n.sendMu[dst].Lock()
	defer n.sendMu[dst].Unlock()
	conn := n.conns[dst]
	if conn == nil {
		return ErrClosed
	}
	if _, err := conn.Write(hdr); err != nil {
		return fmt.Errorf("comm: send to %d: %w", dst, err)
	}
	if _, err := conn.Write(compressed); err != nil {
		return fmt.Errorf("comm: send to %d: %w", dst, err)
	}
	return nil
}

// Recv delivers the next message from src.
func (n *Network) Recv(src, tag int, buf []byte) (int, error) {
	if src < 0 || src >= n.size {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRank, src)
	}
	msg, ok := <-n.inbox[src]
	if !ok {
		return 0, ErrClosed
	}
	if msg.tag != tag {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrTagMismatch, msg.tag, tag)
	}
	if len(msg.data) > len(buf) {
		return 0, fmt.Errorf("%w: message %d bytes, buffer %d", ErrShortBuffer, len(msg.data), len(buf))
	}
	return copy(buf, msg.data), nil
}

// Sendrecv performs a combined send and receive; see Communicator.
func (n *Network) Sendrecv(dst, stag int, p []byte, src, rtag int, buf []byte) (int, error) {
	errc := make(chan error, 1)
	go func() {
		errc <- n.Send(dst, stag, p)
	}()
	nr, rerr := n.Recv(src, rtag, buf)
	serr := <-errc
	if serr != nil {
		return nr, serr
	}
	return nr, rerr
}

// AllreduceMaxInt returns the maximum of v over all ranks.
func (n *Network) AllreduceMaxInt(v int) (int, error) {
	return allreduceMaxInt(n, v)
}

// Barrier blocks until all ranks have entered it.
func (n *Network) Barrier() error {
	return barrier(n)
}

// Close tears down the mesh. Pending receives fail with ErrClosed.
func (n *Network) Close() error {
	n.closeOnce.Do(func() {
		close(n.closed)
		if n.listener != nil {
			n.listener.Close()
		}
		for i, conn := range n.conns {
			if conn != nil {
				n.sendMu[i].Lock()
				conn.Close()
				n.conns[i] = nil
				n.sendMu[i].Unlock()
			}
		}
	})
	return nil
}
