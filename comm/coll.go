package comm

import "encoding/binary"

// Internal tags for the built-in collectives. Kept far away from user tag
// space so protocol traffic and collective traffic never interleave.
const (
	tagReduce  = 0x7fff0001
	tagBarrier = 0x7fff0002
)

// allreduceMaxInt implements a max-reduction over point-to-point messages:
// gather to rank 0, then broadcast the result. Both transports share it.
func allreduceMaxInt(c Communicator, v int) (int, error) {
	var scratch [8]byte

	if c.Rank() == 0 {
		max := v
		for src := 1; src < c.Size(); src++ {
			if _, err := c.Recv(src, tagReduce, scratch[:]); err != nil {
				return 0, err
			}
			if got := int(int64(binary.LittleEndian.Uint64(scratch[:]))); got > max {
				max = got
			}
		}
		binary.LittleEndian.PutUint64(scratch[:], uint64(int64(max)))
		for dst := 1; dst < c.Size(); dst++ {
			if err := c.Send(dst, tagReduce, scratch[:]); err != nil {
				return 0, err
			}
		}
		return max, nil
	}

	binary.LittleEndian.PutUint64(scratch[:], uint64(int64(v)))
	if err := c.Send(0, tagReduce, scratch[:]); err != nil {
		return 0, err
	}
	if _, err := c.Recv(0, tagReduce, scratch[:]); err != nil {
		return 0, err
	}
	return int(int64(binary.LittleEndian.Uint64(scratch[:]))), nil
}

// barrier gathers empty messages at rank 0 and releases everyone afterwards.
func barrier(c Communicator) error {
	if c.Rank() == 0 {
		for src := 1; src < c.Size(); src++ {
			if _, err := c.Recv(src, tagBarrier, nil); err != nil {
				return err
			}
		}
		for dst := 1; dst < c.Size(); dst++ {
			if err := c.Send(dst, tagBarrier, nil); err != nil {
				return err
			}
		}
		return nil
	}

	if err := c.Send(0, tagBarrier, nil); err != nil {
		return err
	}
	_, err := c.Recv(0, tagBarrier, nil)
	return err
}
