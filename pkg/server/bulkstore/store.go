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

// Package bulkstore implements the server-side lifecycle of payloads:
// create, seal, reference, release, spill and delete. It is the busiest
// component of the server: every connection handler's buffer-related
// commands funnel through one Store.
package bulkstore

import (
	"os"
	"path/filepath"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/log"
	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/server/arena"
)

// ConnID identifies one connection handler for the purposes of the
// per-connection dependency model; it is the handler's own serial
// number, not a file descriptor.
type ConnID int64

// SpillConfig configures eviction. An empty Path disables spilling
// entirely, matching "Spilling is disabled when no spill path is
// configured."
type SpillConfig struct {
	Path       string
	LowerRate  float64
	UpperRate  float64
}

type entry struct {
	payload types.Payload
	deps    mapset.Set[ConnID]
}

// Store is the server-side bulk store for one session. Every exported
// method is safe for concurrent use, though the design note in §5
// expects it to be called only from the single event loop serializing
// connection handlers.
type Store struct {
	mu sync.Mutex

	arena          *arena.Arena
	footprintLimit uint64
	spill          SpillConfig

	entries map[types.ObjectID]*entry
	unused  *lru.Cache[types.ObjectID, struct{}]

	// spillArmed latches once Footprint has ever crossed the high
	// watermark; once armed, every later opportunity to spill drains
	// back toward the low watermark even if the high mark isn't
	// crossed again, instead of only reacting the instant it is.
	spillArmed bool

	connDeps map[ConnID]mapset.Set[types.ObjectID]

	// plasmaIndex projects the plasma-compatible key space onto the
	// same ObjectID-keyed entries, so a Default and a Plasma "store"
	// are really the same Store viewed through two id spaces -- which
	// is what lets MoveBuffersOwnership share one algorithm across all
	// four Default/Plasma combinations.
	plasmaIndex map[types.PlasmaID]types.ObjectID
}

// New creates an empty Store backed by a fresh Arena of the given
// allocator kind, with footprintLimit as the configured ceiling and
// spill as the eviction policy (zero value disables spilling).
func New(kind arena.Kind, footprintLimit uint64, spill SpillConfig) *Store {
	unused, _ := lru.New[types.ObjectID, struct{}](1 << 20)
	return &Store{
		arena:          arena.New(kind, 0),
		footprintLimit: footprintLimit,
		spill:          spill,
		entries:        make(map[types.ObjectID]*entry),
		unused:         unused,
		connDeps:       make(map[ConnID]mapset.Set[types.ObjectID]),
		plasmaIndex:    make(map[types.PlasmaID]types.ObjectID),
	}
}

// CreateByPlasma is Create, indexed additionally by a caller-supplied
// PlasmaID; GetByPlasma, SealByPlasma and the plasma_* wire ops resolve
// through plasmaIndex to the same entry Create would have produced.
func (s *Store) CreateByPlasma(plasmaID types.PlasmaID, size uint64) (types.Payload, error) {
	_, payload, err := s.Create(size)
	if err != nil {
		return types.Payload{}, err
	}
	s.mu.Lock()
	s.plasmaIndex[plasmaID] = payload.ObjectID
	s.mu.Unlock()
	return payload, nil
}

func (s *Store) resolvePlasma(plasmaID types.PlasmaID) (types.ObjectID, error) {
	s.mu.Lock()
	id, ok := s.plasmaIndex[plasmaID]
	s.mu.Unlock()
	if !ok {
		return types.InvalidObjectID(), common.Error(common.KObjectNotExists, "no such plasma object")
	}
	return id, nil
}

func (s *Store) GetByPlasma(plasmaIDs []types.PlasmaID, unsafe bool) ([]types.Payload, error) {
	ids := make([]types.ObjectID, len(plasmaIDs))
	for i, pid := range plasmaIDs {
		id, err := s.resolvePlasma(pid)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return s.Get(ids, unsafe)
}

func (s *Store) SealByPlasma(plasmaID types.PlasmaID) error {
	id, err := s.resolvePlasma(plasmaID)
	if err != nil {
		return err
	}
	return s.Seal(id)
}

func (s *Store) ReleaseByPlasma(plasmaID types.PlasmaID, conn ConnID) error {
	id, err := s.resolvePlasma(plasmaID)
	if err != nil {
		return err
	}
	return s.Release(id, conn)
}

func (s *Store) DeleteByPlasma(plasmaID types.PlasmaID) error {
	id, err := s.resolvePlasma(plasmaID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.plasmaIndex, plasmaID)
	s.mu.Unlock()
	return s.OnDelete(id)
}

// Create carves a new unsealed payload of size bytes, spilling once to
// make room under the footprint ceiling if the request would
// otherwise exceed it.
func (s *Store) Create(size uint64) (types.ObjectID, types.Payload, error) {
	if err := s.reserveCapacity(size); err != nil {
		return types.InvalidObjectID(), types.Payload{}, err
	}

	id, payload, err := s.arena.Create(size)
	if err != nil {
		return types.InvalidObjectID(), types.Payload{}, common.Error(common.KNotEnoughMemory, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry{payload: payload, deps: mapset.NewThreadUnsafeSet[ConnID]()}
	return id, payload, nil
}

// CreateDisk is Create, backed by a named file rather than anonymous
// shared memory.
func (s *Store) CreateDisk(size uint64, path string) (types.ObjectID, types.Payload, error) {
	if err := s.reserveCapacity(size); err != nil {
		return types.InvalidObjectID(), types.Payload{}, err
	}

	id, payload, err := s.arena.CreateDisk(size, path)
	if err != nil {
		return types.InvalidObjectID(), types.Payload{}, common.Error(common.KIOError, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry{payload: payload, deps: mapset.NewThreadUnsafeSet[ConnID]()}
	return id, payload, nil
}

// reserveCapacity spills once, if that would make room, before letting
// an allocation push Footprint past footprintLimit; per §7, an
// allocation failure recoverable by spilling is retried exactly once.
func (s *Store) reserveCapacity(size uint64) error {
	if s.footprintLimit == 0 || s.Footprint()+size <= s.footprintLimit {
		return nil
	}
	var target uint64
	if size < s.footprintLimit {
		target = s.footprintLimit - size
	}
	s.drainTo(target)
	if s.Footprint()+size > s.footprintLimit {
		return common.Error(common.KNotEnoughMemory, "bulk store footprint limit exceeded")
	}
	return nil
}

// MakeArena and FinalizeArena pass through to the underlying Arena,
// registering the resulting payloads as ordinary entries.
func (s *Store) MakeArena(size int64) (int, error) {
	return s.arena.MakeArena(size)
}

func (s *Store) FinalizeArena(fd int, offsets, sizes []int64) ([]types.ObjectID, []types.Payload, error) {
	ids, payloads, err := s.arena.FinalizeArena(fd, offsets, sizes)
	if err != nil {
		return nil, nil, common.Error(common.KInvalid, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		s.entries[id] = &entry{payload: payloads[i], deps: mapset.NewThreadUnsafeSet[ConnID]()}
	}
	return ids, payloads, nil
}

// Bytes exposes the live backing slice for writing before Seal.
func (s *Store) Bytes(id types.ObjectID) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return nil, common.Error(common.KObjectNotExists, "no such object")
	}
	return s.arena.Bytes(e.payload)
}

// Get returns payload descriptors for ids. Any unsealed id fails the
// whole call with ObjectNotSealed unless unsafe is set; any unknown id
// fails with ObjectNotExists regardless. A spilled id is reloaded from
// disk transparently.
func (s *Store) Get(ids []types.ObjectID, unsafe bool) ([]types.Payload, error) {
	out := make([]types.Payload, 0, len(ids))
	for _, id := range ids {
		p, err := s.getOne(id, unsafe)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) getOne(id types.ObjectID, unsafe bool) (types.Payload, error) {
	if id == types.EmptyBlobID() {
		return types.Payload{ObjectID: id, IsSealed: true, IsOwner: true}, nil
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return types.Payload{}, common.Error(common.KObjectNotExists, "no such object")
	}
	if !e.payload.IsSealed && !unsafe {
		return types.Payload{}, common.Error(common.KObjectNotSealed, "object not sealed")
	}
	if e.payload.IsSpilled {
		if err := s.reload(id, e); err != nil {
			return types.Payload{}, err
		}
	}
	return e.payload, nil
}

// Seal flips a payload to sealed. Idempotent. A payload that reaches
// sealed state with no dependency bound to it yet (the common case for
// §4.2/§8.5: created, sealed, and never handed to AddDependency at
// all) becomes an eviction candidate immediately, rather than waiting
// for a Release that may never come.
func (s *Store) Seal(id types.ObjectID) error {
	if id == types.EmptyBlobID() {
		return nil
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return common.Error(common.KObjectNotExists, "no such object")
	}
	e.payload.IsSealed = true
	becameUnused := e.deps.Cardinality() == 0
	if becameUnused {
		s.unused.Add(id, struct{}{})
	}
	s.mu.Unlock()

	if becameUnused {
		s.maybeSpill()
	}
	return nil
}

// AddDependency binds each sealed id to conn, marking it in-use.
func (s *Store) AddDependency(ids []types.ObjectID, conn ConnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.connDeps[conn]
	if !ok {
		set = mapset.NewThreadUnsafeSet[types.ObjectID]()
		s.connDeps[conn] = set
	}

	for _, id := range ids {
		if id == types.EmptyBlobID() {
			continue
		}
		e, ok := s.entries[id]
		if !ok {
			return common.Error(common.KObjectNotExists, "no such object")
		}
		e.deps.Add(conn)
		set.Add(id)
		s.unused.Remove(id)
	}
	return nil
}

// Release removes one dependency binding id to conn. When the last
// dependency across all connections drops, the payload becomes
// eligible for eviction.
func (s *Store) Release(id types.ObjectID, conn ConnID) error {
	if id == types.EmptyBlobID() {
		return nil
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return common.Error(common.KObjectNotExists, "no such object")
	}
	e.deps.Remove(conn)
	if set, ok := s.connDeps[conn]; ok {
		set.Remove(id)
	}
	becameUnused := e.deps.Cardinality() == 0
	if becameUnused {
		s.unused.Add(id, struct{}{})
	}
	s.mu.Unlock()

	if becameUnused {
		s.maybeSpill()
	}
	return nil
}

// ReleaseConnection drops every dependency conn held, as if Release had
// been called once per id it was bound to. Called on disconnect.
func (s *Store) ReleaseConnection(conn ConnID) {
	s.mu.Lock()
	set, ok := s.connDeps[conn]
	delete(s.connDeps, conn)
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, id := range set.ToSlice() {
		_ = s.Release(id, conn)
	}
}

// OnDelete force-frees an id irrespective of references. This mirrors
// the original's behavior of ignoring reference counts for ordinary
// blobs, left deliberately unfixed per the open design question.
func (s *Store) OnDelete(id types.ObjectID) error {
	if id == types.EmptyBlobID() {
		return nil
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return common.Error(common.KObjectNotExists, "no such object")
	}
	delete(s.entries, id)
	s.unused.Remove(id)
	for conn := range s.connDeps {
		s.connDeps[conn].Remove(id)
	}
	s.mu.Unlock()

	if !e.payload.IsSpilled {
		s.arena.ReleaseFootprint(e.payload.DataSize)
	} else {
		s.removeSpillFile(id)
	}
	return nil
}

func (s *Store) Exists(id types.ObjectID) bool {
	if id == types.EmptyBlobID() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *Store) IsInUse(id types.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false, common.Error(common.KObjectNotExists, "no such object")
	}
	return e.deps.Cardinality() > 0, nil
}

func (s *Store) IsSpilled(id types.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false, common.Error(common.KObjectNotExists, "no such object")
	}
	return e.payload.IsSpilled, nil
}

// Footprint reports bytes currently charged against the ceiling.
func (s *Store) Footprint() uint64 {
	return s.arena.Footprint()
}

func (s *Store) FootprintLimit() uint64 {
	return s.footprintLimit
}

// Count reports how many payloads the store currently tracks, sealed
// or not, spilled or not; used for instance_status reporting.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RemoveOwnership atomically detaches ids from this store for C8's
// ownership mover, skipping (and omitting from the result) any id still
// referenced by another connection.
func (s *Store) RemoveOwnership(ids []types.ObjectID) map[types.ObjectID]types.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[types.ObjectID]types.Payload)
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok || e.deps.Cardinality() > 0 {
			continue
		}
		out[id] = e.payload
		delete(s.entries, id)
		s.unused.Remove(id)
	}
	return out
}

// MoveOwnership inserts payloads (keyed by their target id) as new
// entries with a fresh, empty dependency set and ref_cnt reset to zero.
func (s *Store) MoveOwnership(payloads map[types.ObjectID]types.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range payloads {
		p.RefCnt = 0
		s.entries[id] = &entry{payload: p, deps: mapset.NewThreadUnsafeSet[ConnID]()}
	}
	return nil
}

// maybeSpill arms once Footprint crosses the high watermark, then
// drains to the low watermark on this and every later call -- since a
// single steady stream of small allocations can sit well under the
// high mark on each individual Create/Seal while still never letting
// the footprint settle back down without this. A no-op when spilling
// is disabled.
func (s *Store) maybeSpill() {
	if s.spill.Path == "" {
		return
	}
	limit := s.footprintLimit
	if limit == 0 {
		return
	}
	high := uint64(float64(limit) * s.spill.UpperRate)
	low := uint64(float64(limit) * s.spill.LowerRate)

	s.mu.Lock()
	if !s.spillArmed && s.Footprint() >= high {
		s.spillArmed = true
	}
	armed := s.spillArmed
	s.mu.Unlock()
	if !armed {
		return
	}
	s.drainTo(low)
}

// drainTo evicts sealed, unused payloads in LRU order until Footprint
// is at or below target or there is nothing left to evict.
func (s *Store) drainTo(target uint64) {
	if s.spill.Path == "" {
		return
	}
	logger := log.WithName("bulkstore")
	for s.Footprint() > target {
		s.mu.Lock()
		keys := s.unused.Keys()
		if len(keys) == 0 {
			s.mu.Unlock()
			return
		}
		id := keys[0]
		e, ok := s.entries[id]
		s.mu.Unlock()
		if !ok {
			s.unused.Remove(id)
			continue
		}
		if err := s.spillOne(id, e); err != nil {
			logger.Error(err, "spill failed", "id", types.ObjectIDToString(id))
			s.unused.Remove(id)
			continue
		}
	}
}

func (s *Store) spillOne(id types.ObjectID, e *entry) error {
	data, err := s.arena.Bytes(e.payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.spill.Path, 0o755); err != nil {
		return errors.Wrap(err, "bulkstore: mkdir spill path")
	}
	if err := os.WriteFile(s.spillFile(id), data, 0o644); err != nil {
		return errors.Wrap(err, "bulkstore: write spill file")
	}

	s.mu.Lock()
	e.payload.IsSpilled = true
	s.unused.Remove(id)
	s.mu.Unlock()

	adviseDontNeed(data)
	s.arena.ReleaseFootprint(e.payload.DataSize)
	return nil
}

func (s *Store) reload(id types.ObjectID, e *entry) error {
	buf, err := os.ReadFile(s.spillFile(id))
	if err != nil {
		return common.Error(common.KIOError, err.Error())
	}

	_, fresh, err := s.arena.Create(uint64(len(buf)))
	if err != nil {
		return common.Error(common.KNotEnoughMemory, err.Error())
	}
	dst, err := s.arena.Bytes(fresh)
	if err != nil {
		return common.Error(common.KNotEnoughMemory, err.Error())
	}
	copy(dst, buf)

	fresh.ObjectID = id
	fresh.IsSealed = true
	fresh.IsSpilled = false
	e.payload = fresh
	s.removeSpillFile(id)
	return nil
}

func (s *Store) spillFile(id types.ObjectID) string {
	return filepath.Join(s.spill.Path, types.ObjectIDToString(id))
}

func (s *Store) removeSpillFile(id types.ObjectID) {
	_ = os.Remove(s.spillFile(id))
}

// Close releases the underlying arena's regions. Called only at server
// (or per-session) shutdown.
func (s *Store) Close() error {
	return s.arena.Close()
}
