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

// Package arena carves payload slots out of mmap-backed shared-memory
// regions. It is the bottom of the bulk store: given a size it returns an
// ObjectID and a Payload describing where the bytes live; it never knows
// about sealing, reference counts or eviction, which are the bulk store's
// job (pkg/server/bulkstore).
package arena

import (
	"sync"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/vineyard-go/vineyard/pkg/common/types"
)

// DefaultRegionSize is used when a request does not itself demand a
// larger single region; mirrors the bump-allocator's default chunk size.
const DefaultRegionSize = 256 << 20

// Kind names the two allocator variants the source exposes; both share
// this package's bump-allocation strategy and differ only in the minimum
// alignment they guarantee, since a faithful dlmalloc/mimalloc port is
// out of scope for this rewrite.
type Kind string

const (
	DLMalloc Kind = "dlmalloc"
	MiMalloc Kind = "mimalloc"
)

func alignmentFor(k Kind) uintptr {
	if k == MiMalloc {
		return 16
	}
	return unsafe.Sizeof(uintptr(0))
}

// region is one mmap'd shared-memory segment, backed either by an
// anonymous memfd or a named disk file. No region is ever shrunk or
// unmapped while the server process is alive; the bulk store's spillOne
// is the only mechanism that releases region bytes (page-level, via
// madvise).
type region struct {
	fd     int
	data   []byte
	offset uintptr
	disk   bool
	path   string
}

func (r *region) base() uintptr {
	if len(r.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.data[0]))
}

// Arena owns a growable set of mmap regions and carves Payloads out of
// them with a simple bump allocator per region. One Arena exists per
// bulk store instance (i.e. per session).
type Arena struct {
	mu          sync.Mutex
	kind        Kind
	regionSize  uint64
	regions     []*region
	current     *region
	footprint   uint64
}

// New creates an Arena that grows anonymous memfd-backed regions of at
// least regionSize bytes on demand.
func New(kind Kind, regionSize uint64) *Arena {
	if regionSize == 0 {
		regionSize = DefaultRegionSize
	}
	return &Arena{kind: kind, regionSize: regionSize}
}

// Create allocates size bytes and returns the freshly minted ObjectID
// along with an unsealed Payload describing it. A zero-size request
// returns the reserved empty-blob id without touching any region.
func (a *Arena) Create(size uint64) (types.ObjectID, types.Payload, error) {
	if size == 0 {
		return types.EmptyBlobID(), types.Payload{
			ObjectID: types.EmptyBlobID(),
			IsSealed: false,
			IsOwner:  true,
		}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r, offset, err := a.carve(size)
	if err != nil {
		return types.InvalidObjectID(), types.Payload{}, err
	}

	pointer := uint64(r.base()) + uint64(offset)
	id := types.NewBlobID(pointer)
	payload := types.Payload{
		ObjectID:   id,
		DataSize:   size,
		StoreFd:    r.fd,
		MapSize:    uint64(len(r.data)),
		DataOffset: uint64(offset),
		Pointer:    pointer,
		IsSealed:   false,
		IsOwner:    true,
		ArenaFd:    r.fd,
	}
	a.footprint += size
	return id, payload, nil
}

// CreateDisk is Create, but the backing region is a named file under
// path rather than anonymous shared memory.
func (a *Arena) CreateDisk(size uint64, path string) (types.ObjectID, types.Payload, error) {
	if size == 0 {
		return types.EmptyBlobID(), types.Payload{ObjectID: types.EmptyBlobID(), IsOwner: true}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := newDiskRegion(path, size)
	if err != nil {
		return types.InvalidObjectID(), types.Payload{}, err
	}
	a.regions = append(a.regions, r)
	a.current = r

	pointer := uint64(r.base())
	id := types.NewBlobID(pointer)
	payload := types.Payload{
		ObjectID:   id,
		DataSize:   size,
		StoreFd:    r.fd,
		MapSize:    uint64(len(r.data)),
		DataOffset: 0,
		Pointer:    pointer,
		IsSealed:   false,
		IsOwner:    true,
		ArenaFd:    r.fd,
	}
	r.offset = uintptr(size)
	a.footprint += size
	return id, payload, nil
}

// MakeArena pre-reserves a whole region for an external user-space
// allocator; the server does not carve it itself. The returned fd must
// be handed to the caller (via ancillary message) and later reported on
// via FinalizeArena.
func (a *Arena) MakeArena(size int64) (fd int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := newMemfdRegion(uint64(size))
	if err != nil {
		return -1, err
	}
	a.regions = append(a.regions, r)
	return r.fd, nil
}

// FinalizeArena registers a set of sub-allocations the caller carved
// inside a region previously returned by MakeArena, as ordinary
// payloads known to the bulk store.
func (a *Arena) FinalizeArena(fd int, offsets, sizes []int64) ([]types.ObjectID, []types.Payload, error) {
	if len(offsets) != len(sizes) {
		return nil, nil, errors.New("arena: offsets/sizes length mismatch")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.regionByFd(fd)
	if r == nil {
		return nil, nil, errors.Errorf("arena: unknown arena fd %d", fd)
	}

	ids := make([]types.ObjectID, len(offsets))
	payloads := make([]types.Payload, len(offsets))
	for i := range offsets {
		offset := uint64(offsets[i])
		size := uint64(sizes[i])
		if offset+size > uint64(len(r.data)) {
			return nil, nil, errors.Errorf("arena: sub-allocation %d out of bounds", i)
		}
		pointer := uint64(r.base()) + offset
		id := types.NewBlobID(pointer)
		ids[i] = id
		payloads[i] = types.Payload{
			ObjectID:   id,
			DataSize:   size,
			StoreFd:    r.fd,
			MapSize:    uint64(len(r.data)),
			DataOffset: offset,
			Pointer:    pointer,
			IsSealed:   false,
			IsOwner:    true,
			ArenaFd:    r.fd,
		}
		a.footprint += size
	}
	return ids, payloads, nil
}

// Bytes returns the live slice for a payload previously returned by
// Create/CreateDisk/FinalizeArena, for reading or writing prior to seal.
func (a *Arena) Bytes(p types.Payload) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.regionByFd(p.StoreFd)
	if r == nil {
		return nil, errors.Errorf("arena: unknown store_fd %d", p.StoreFd)
	}
	end := p.DataOffset + p.DataSize
	if end > uint64(len(r.data)) {
		return nil, errors.New("arena: payload range out of bounds")
	}
	return r.data[p.DataOffset:end], nil
}

// Footprint reports total bytes carved from all regions so far.
func (a *Arena) Footprint() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.footprint
}

// ReleaseFootprint is called by the bulk store's spiller once a
// payload's bytes have been written out and the region is advised away.
func (a *Arena) ReleaseFootprint(size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size > a.footprint {
		a.footprint = 0
		return
	}
	a.footprint -= size
}

func (a *Arena) carve(size uint64) (*region, uintptr, error) {
	align := alignmentFor(a.kind)
	if a.current != nil {
		if off, ok := bumpAlloc(a.current, size, align); ok {
			return a.current, off, nil
		}
	}

	regionSize := a.regionSize
	if size > regionSize {
		regionSize = size
	}
	r, err := newMemfdRegion(regionSize)
	if err != nil {
		return nil, 0, err
	}
	a.regions = append(a.regions, r)
	a.current = r

	off, ok := bumpAlloc(r, size, align)
	if !ok {
		return nil, 0, errors.Errorf("arena: freshly grown region cannot satisfy %d bytes", size)
	}
	return r, off, nil
}

func bumpAlloc(r *region, size uint64, align uintptr) (uintptr, bool) {
	mask := align - 1
	off := (r.offset + mask) &^ mask
	if off+uintptr(size) > uintptr(len(r.data)) {
		return 0, false
	}
	r.offset = off + uintptr(size)
	return off, true
}

func (a *Arena) regionByFd(fd int) *region {
	for _, r := range a.regions {
		if r.fd == fd {
			return r
		}
	}
	return nil
}

func newMemfdRegion(size uint64) (*region, error) {
	fd, err := unix.MemfdCreate("vineyard-arena", 0)
	if err != nil {
		return nil, errors.Wrap(err, "arena: memfd_create")
	}
	if err := syscall.Ftruncate(fd, int64(size)); err != nil {
		syscall.Close(fd)
		return nil, errors.Wrap(err, "arena: ftruncate")
	}
	data, err := syscall.Mmap(fd, 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		syscall.Close(fd)
		return nil, errors.Wrap(err, "arena: mmap")
	}
	return &region{fd: fd, data: data}, nil
}

func newDiskRegion(path string, size uint64) (*region, error) {
	fd, err := syscall.Open(path, syscall.O_CREAT|syscall.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "arena: open %s", path)
	}
	if err := syscall.Ftruncate(fd, int64(size)); err != nil {
		syscall.Close(fd)
		return nil, errors.Wrap(err, "arena: ftruncate")
	}
	data, err := syscall.Mmap(fd, 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		syscall.Close(fd)
		return nil, errors.Wrap(err, "arena: mmap")
	}
	return &region{fd: fd, data: data, disk: true, path: path}, nil
}

// Close unmaps and closes every region. Called only at server shutdown;
// arenas are never released while the server is running.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for _, r := range a.regions {
		if err := syscall.Munmap(r.data); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := syscall.Close(r.fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.regions = nil
	a.current = nil
	return firstErr
}
