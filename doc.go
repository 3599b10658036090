// Package parix manages shared index knowledge between the ranks of a
// data-parallel computation.
//
// Every rank holds a ParallelIndexSet mapping globally unique ids to local
// indices. The Exchange facade discovers which remote ranks hold copies of
// locally known globals and maintains, per neighbour, the ordered send and
// receive lists the actual data exchange walks.
//
// # Quick Start
//
//	err := comm.Launch(2, func(c comm.Communicator) error {
//	    set := indexset.New()
//	    // ... fill set inside a BeginResize/EndResize transaction ...
//
//	    ex, err := parix.New(set, set, c)
//	    if err != nil {
//	        return err
//	    }
//	    if err := ex.Rebuild(ctx, false); err != nil {
//	        return err
//	    }
//	    for _, peer := range ex.Peers() {
//	        // walk send/recv lists, run solvers, publish aggregates ...
//	    }
//	    return nil
//	})
//
// The subpackages carry the machinery: comm (process groups and TCP
// transport), indexset (the per-rank global-to-local map), remote (the
// registry, discovery protocol, modifiers, and collective iteration), wire
// (the exchange codec), solver (Krylov solvers), aggregates (owner-to-copy
// publication), and blobstore/checkpoint (snapshot persistence).
package parix
