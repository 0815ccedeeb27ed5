package chain

import "context"

// Store is the record store collaborator. Update runs fn as one atomic unit
// of work: its effects are committed only when fn returns nil. View runs fn
// against committed state and must not write.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is a view of the store inside a unit of work.
type Tx interface {
	// Allocate reserves a fresh, never used address of the given kind with
	// space bytes of storage. The record holds no data until written.
	Allocate(kind Kind, space int) (Address, error)
	// Read returns the kind and encoded data at addr, or ErrNotFound.
	Read(addr Address) (Kind, []byte, error)
	// Write stores data at an allocated addr of the same kind.
	Write(addr Address, kind Kind, data []byte) error
	// Destroy reclaims addr. The address is retired and never reused.
	Destroy(addr Address) error
	// Addresses lists every initialized record of kind.
	Addresses(kind Kind) ([]Address, error)
}

// Journal is implemented by transactions that persist events alongside the
// records they describe. The engine appends each operation's event before
// the unit of work commits, so the event is durable exactly when the
// mutation is.
type Journal interface {
	Append(ev PostEvent) error
}
