package parix

import (
	"errors"
	"fmt"

	"github.com/hpcgo/parix/indexset"
	"github.com/hpcgo/parix/remote"
)

var (
	// ErrNoSuchGlobalIndex is returned when a global id has no record in
	// the index set it is resolved against.
	ErrNoSuchGlobalIndex = errors.New("no such global index")

	// ErrInvalidIndexSetState is returned when an operation requires the
	// index set to be ground (or resizing) and it is not.
	ErrInvalidIndexSetState = errors.New("invalid index set state")

	// ErrDuplicateGlobalIndex is returned when a global id is added twice.
	ErrDuplicateGlobalIndex = errors.New("duplicate global index")

	// ErrInvalidPosition is returned when a modifier is moved backwards.
	ErrInvalidPosition = errors.New("invalid modifier position")

	// ErrUnsyncedIndexSets is returned when the registry does not match the
	// current state of its index sets.
	ErrUnsyncedIndexSets = errors.New("index sets out of sync with registry")
)

// ErrBadCheckpoint indicates a blob that is not a readable checkpoint.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrBadCheckpoint struct {
	Name  string
	cause error
}

func (e *ErrBadCheckpoint) Error() string {
	return fmt.Sprintf("bad checkpoint %q", e.Name)
}

func (e *ErrBadCheckpoint) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, indexset.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNoSuchGlobalIndex, err)
	}
	if errors.Is(err, indexset.ErrInvalidState) {
		return fmt.Errorf("%w: %w", ErrInvalidIndexSetState, err)
	}
	if errors.Is(err, indexset.ErrDuplicateGlobal) {
		return fmt.Errorf("%w: %w", ErrDuplicateGlobalIndex, err)
	}
	if errors.Is(err, remote.ErrInvalidPosition) {
		return fmt.Errorf("%w: %w", ErrInvalidPosition, err)
	}
	if errors.Is(err, remote.ErrDuplicateIndex) {
		return fmt.Errorf("%w: %w", ErrDuplicateGlobalIndex, err)
	}

	return err
}
