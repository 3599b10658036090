package remote

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hpcgo/parix/comm"
)

// launchTCP runs fn on every rank of a loopback TCP mesh.
func launchTCP(t *testing.T, size int, fn func(comm.Communicator) error) error {
	t.Helper()

	addrs := make([]string, size)
	for i := range addrs {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addrs[i] = ln.Addr().String()
		require.NoError(t, ln.Close())
	}

	var eg errgroup.Group
	for rank := 0; rank < size; rank++ {
		eg.Go(func() error {
			n, err := comm.NewNetwork(context.Background(), rank, addrs, comm.NetworkOptions{})
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			defer n.Close()
			return fn(n)
		})
	}
	return eg.Wait()
}
