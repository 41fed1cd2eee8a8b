/** Copyright 2020-2023 Alibaba Group Holding Limited.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package mmap is the client side (C5) of the zero-copy path: it
// remembers, per server-assigned store_fd, the mmap'd region a buffer
// payload's bytes live in, so that a second payload backed by the same
// region never triggers a second mmap (the server only sends the fd
// once per connection; this table is why the client never needs it
// twice either).
package mmap

import (
	"sync"
	"syscall"
	"unsafe"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/pkg/errors"

	"github.com/vineyard-go/vineyard/pkg/common/types"
)

// ClientMmapEntry is one mapped region: the raw fd used to map it (kept
// only so Close can release it) and the mapped bytes themselves.
type ClientMmapEntry struct {
	Fd      int
	Data    []byte
	MapSize uint64
}

// interval is one (base, size, id) triple: the span of a single
// payload's bytes within some region this client has mapped.
type interval struct {
	base uintptr
	size uint64
	id   types.ObjectID
}

// SegmentTable indexes mapped regions two ways: by the server's
// store_fd (the stable logical id that survives the fd renumbering
// every SCM_RIGHTS hop does, used to dedup ancillary fd receives), and
// by base address (the ordered index §9 calls mandatory, used to
// answer "is this raw pointer inside some known blob" by predecessor
// lookup rather than a linear scan).
type SegmentTable struct {
	mu      sync.Mutex
	entries map[int]*ClientMmapEntry
	byAddr  *treemap.Map
}

func NewSegmentTable() *SegmentTable {
	return &SegmentTable{
		entries: make(map[int]*ClientMmapEntry),
		byAddr:  treemap.NewWithIntComparator(),
	}
}

// Exists reports whether storeFd has already been mapped on this
// client, the condition under which the caller should not expect (or
// need) an accompanying fd on the wire.
func (t *SegmentTable) Exists(storeFd int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[storeFd]
	return ok
}

// PreMmap maps fd (freshly received over SCM_RIGHTS) as mapSize bytes
// and registers it under storeFd. readOnly selects PROT_READ alone over
// PROT_READ|PROT_WRITE, matching a sealed, immutable buffer's mapping.
func (t *SegmentTable) PreMmap(storeFd, fd int, mapSize uint64, readOnly bool) (*ClientMmapEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[storeFd]; ok {
		return e, nil
	}

	prot := syscall.PROT_READ
	if !readOnly {
		prot |= syscall.PROT_WRITE
	}
	data, err := syscall.Mmap(fd, 0, int(mapSize), prot, syscall.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap: map store_fd %d", storeFd)
	}
	entry := &ClientMmapEntry{Fd: fd, Data: data, MapSize: mapSize}
	t.entries[storeFd] = entry
	return entry, nil
}

// Mmap returns the already-mapped entry for storeFd, or an error if
// PreMmap was never called for it on this client.
func (t *SegmentTable) Mmap(storeFd int) (*ClientMmapEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[storeFd]
	if !ok {
		return nil, errors.Errorf("mmap: store_fd %d not mapped on this client", storeFd)
	}
	return e, nil
}

// RegisterInterval records that the bytes returned by a prior Bytes
// call back id, so that a later Locate on a raw pointer somewhere
// inside them resolves back to id. A zero-length slice has no address
// of its own and is not indexed.
func (t *SegmentTable) RegisterInterval(data []byte, id types.ObjectID) {
	if len(data) == 0 {
		return
	}
	base := uintptr(unsafe.Pointer(&data[0]))
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byAddr.Put(int(base), &interval{base: base, size: uint64(len(data)), id: id})
}

// Locate answers `Exists(pointer) -> Option<ObjectID>`: is pointer
// inside some payload this client has mapped. Floor is the table's
// predecessor lookup (upper_bound, stepped back one) over base
// addresses, so this is an O(log n) search, not a scan over every
// registered interval.
func (t *SegmentTable) Locate(pointer uintptr) (types.ObjectID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, v := t.byAddr.Floor(int(pointer))
	if v == nil {
		return types.InvalidObjectID(), false
	}
	iv := v.(*interval)
	if pointer >= iv.base && pointer < iv.base+uintptr(iv.size) {
		return iv.id, true
	}
	return types.InvalidObjectID(), false
}

// Bytes slices out [offset, offset+size) of storeFd's mapped region.
func (t *SegmentTable) Bytes(storeFd int, offset, size uint64) ([]byte, error) {
	e, err := t.Mmap(storeFd)
	if err != nil {
		return nil, err
	}
	if offset+size > uint64(len(e.Data)) {
		return nil, errors.Errorf("mmap: [%d,%d) out of bounds for store_fd %d (%d bytes mapped)", offset, offset+size, storeFd, len(e.Data))
	}
	return e.Data[offset : offset+size], nil
}

// Close unmaps every region this client has mapped.
func (t *SegmentTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for storeFd, e := range t.entries {
		if err := syscall.Munmap(e.Data); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "mmap: unmap store_fd %d", storeFd)
		}
		delete(t.entries, storeFd)
	}
	t.byAddr.Clear()
	return firstErr
}
