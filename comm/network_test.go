package comm

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// freeAddrs reserves size loopback ports and returns them as addresses.
func freeAddrs(t *testing.T, size int) []string {
	t.Helper()

	addrs := make([]string, size)
	for i := range addrs {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addrs[i] = ln.Addr().String()
		require.NoError(t, ln.Close())
	}
	return addrs
}

// launchNetwork runs fn on every rank of a TCP mesh on loopback.
func launchNetwork(t *testing.T, size int, fn func(*Network) error) error {
	t.Helper()

	addrs := freeAddrs(t, size)
	var eg errgroup.Group
	for rank := 0; rank < size; rank++ {
		eg.Go(func() error {
			n, err := NewNetwork(context.Background(), rank, addrs, NetworkOptions{})
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			defer n.Close()
			return fn(n)
		})
	}
	return eg.Wait()
}

func TestNetworkSendRecv(t *testing.T) {
	err := launchNetwork(t, 2, func(n *Network) error {
		if n.Rank() == 0 {
			return n.Send(1, 42, []byte("over tcp"))
		}
		buf := make([]byte, 32)
		got, err := n.Recv(0, 42, buf)
		if err != nil {
			return err
		}
		assert.Equal(t, "over tcp", string(buf[:got]))
		return nil
	})
	require.NoError(t, err)
}

func TestNetworkRing(t *testing.T) {
	const size = 3
	err := launchNetwork(t, size, func(n *Network) error {
		next := (n.Rank() + 1) % size
		prev := (n.Rank() + size - 1) % size
		out := []byte{byte(n.Rank())}
		buf := make([]byte, 1)
		if _, err := n.Sendrecv(next, 1, out, prev, 1, buf); err != nil {
			return err
		}
		assert.Equal(t, byte(prev), buf[0])
		return n.Barrier()
	})
	require.NoError(t, err)
}

func TestNetworkSelfSend(t *testing.T) {
	err := launchNetwork(t, 1, func(n *Network) error {
		buf := make([]byte, 4)
		got, err := n.Sendrecv(0, 2, []byte("self"), 0, 2, buf)
		if err != nil {
			return err
		}
		assert.Equal(t, "self", string(buf[:got]))
		return nil
	})
	require.NoError(t, err)
}

func TestNetworkAllreduce(t *testing.T) {
	err := launchNetwork(t, 3, func(n *Network) error {
		got, err := n.AllreduceMaxInt(100 - n.Rank())
		if err != nil {
			return err
		}
		assert.Equal(t, 100, got)
		return nil
	})
	require.NoError(t, err)
}

func TestNetworkLargeCompressedFrame(t *testing.T) {
	payload := make([]byte, 1<<16) // zeros compress well under s2
	err := launchNetwork(t, 2, func(n *Network) error {
		if n.Rank() == 0 {
			return n.Send(1, 9, payload)
		}
		buf := make([]byte, len(payload))
		got, err := n.Recv(0, 9, buf)
		if err != nil {
			return err
		}
		assert.Equal(t, len(payload), got)
		return nil
	})
	require.NoError(t, err)
}
