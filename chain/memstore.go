package chain

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
)

type slot struct {
	kind  Kind
	space int
	data  []byte
}

// MemStore is an in-process Store. Writers are serialized and stage their
// changes until the unit of work succeeds.
type MemStore struct {
	mu      sync.RWMutex
	slots   map[Address]*slot
	retired map[Address]struct{}
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		slots:   make(map[Address]*slot),
		retired: make(map[Address]struct{}),
	}
}

func (s *MemStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, staged: make(map[Address]*slot), retired: make(map[Address]struct{})}
	if err := fn(tx); err != nil {
		return err
	}
	for addr, sl := range tx.staged {
		if sl == nil {
			delete(s.slots, addr)
			continue
		}
		s.slots[addr] = sl
	}
	for addr := range tx.retired {
		s.retired[addr] = struct{}{}
	}
	return nil
}

func (s *MemStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{store: s, readOnly: true})
}

// Len returns the number of committed records, allocated or not.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

type memTx struct {
	store    *MemStore
	staged   map[Address]*slot // nil value marks a destroyed slot
	retired  map[Address]struct{}
	readOnly bool
}

func (tx *memTx) lookup(addr Address) *slot {
	if sl, ok := tx.staged[addr]; ok {
		return sl
	}
	return tx.store.slots[addr]
}

func (tx *memTx) isRetired(addr Address) bool {
	if _, ok := tx.retired[addr]; ok {
		return true
	}
	_, ok := tx.store.retired[addr]
	return ok
}

func (tx *memTx) Allocate(kind Kind, space int) (Address, error) {
	if tx.readOnly {
		return None, fmt.Errorf("allocate in read-only transaction")
	}
	for {
		addr, err := NewAddress()
		if err != nil {
			return None, err
		}
		if addr.IsNone() || tx.lookup(addr) != nil || tx.isRetired(addr) {
			continue
		}
		tx.staged[addr] = &slot{kind: kind, space: space}
		return addr, nil
	}
}

func (tx *memTx) Read(addr Address) (Kind, []byte, error) {
	if tx.isRetired(addr) {
		return 0, nil, ErrAddressRetired
	}
	sl := tx.lookup(addr)
	if sl == nil || sl.data == nil {
		return 0, nil, ErrNotFound
	}
	out := make([]byte, len(sl.data))
	copy(out, sl.data)
	return sl.kind, out, nil
}

func (tx *memTx) Write(addr Address, kind Kind, data []byte) error {
	if tx.readOnly {
		return fmt.Errorf("write in read-only transaction")
	}
	if tx.isRetired(addr) {
		return ErrAddressRetired
	}
	sl := tx.lookup(addr)
	if sl == nil {
		return ErrNotFound
	}
	if sl.kind != kind {
		return fmt.Errorf("%w: write %s into %s slot", ErrKindMismatch, kind, sl.kind)
	}
	if len(data) > sl.space {
		return fmt.Errorf("%w: %d > %d bytes", ErrSpaceExceeded, len(data), sl.space)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	tx.staged[addr] = &slot{kind: kind, space: sl.space, data: buf}
	return nil
}

func (tx *memTx) Destroy(addr Address) error {
	if tx.readOnly {
		return fmt.Errorf("destroy in read-only transaction")
	}
	if tx.isRetired(addr) {
		return ErrAddressRetired
	}
	if tx.lookup(addr) == nil {
		return ErrNotFound
	}
	tx.staged[addr] = nil
	tx.retired[addr] = struct{}{}
	return nil
}

func (tx *memTx) Addresses(kind Kind) ([]Address, error) {
	seen := make(map[Address]struct{})
	var out []Address
	collect := func(addr Address, sl *slot) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		if sl != nil && sl.kind == kind && sl.data != nil {
			out = append(out, addr)
		}
	}
	for addr, sl := range tx.staged {
		collect(addr, sl)
	}
	for addr, sl := range tx.store.slots {
		collect(addr, sl)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out, nil
}
