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

// Package usage is the client side (C6) of reference counting: one
// increase_ref_count/release round trip per object per connection, no
// matter how many local Go values point at the same blob. The server
// only needs to hear about the first local use and the last local
// drop; everything in between is this package's bookkeeping.
package usage

import (
	"sync"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/types"
)

// UsageEntry is one object's local state on this client: a cached copy
// of the payload descriptor the server handed back, plus the number
// of local Go values currently holding it.
type UsageEntry struct {
	Payload types.Payload
	Count   int64
}

// Table tracks local usage per object id across every Go value sharing
// this client connection.
type Table struct {
	mu        sync.Mutex
	entries   map[types.ObjectID]*UsageEntry
	onRelease func(types.ObjectID)
}

func NewTable() *Table {
	return &Table{entries: make(map[types.ObjectID]*UsageEntry)}
}

// OnRelease registers the callback RemoveUsage invokes, outside the
// table's own lock, the moment an id's local reference count reaches
// zero -- the client wires this to issue the wire-level release
// request, so callers of RemoveUsage never need to know whether this
// was the last local reference or merely one of several.
func (t *Table) OnRelease(fn func(types.ObjectID)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRelease = fn
}

// FetchOnLocal returns id's cached payload descriptor if it is tracked
// and sealed. An untracked id is ObjectNotExists; a tracked but
// unsealed one is ObjectNotSealed.
func (t *Table) FetchOnLocal(id types.ObjectID) (types.Payload, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return types.Payload{}, common.Error(common.KObjectNotExists, "no such object")
	}
	if !e.Payload.IsSealed {
		return types.Payload{}, common.Error(common.KObjectNotSealed, "object not sealed")
	}
	return e.Payload, nil
}

// AddUsage inserts payload under id if it isn't already tracked, then
// increments id's local count. Reports whether this was the
// transition from zero to one -- the caller's signal to actually issue
// an increase_reference_count request, since every later AddUsage for
// the same id is satisfied purely from this table.
func (t *Table) AddUsage(id types.ObjectID, payload types.Payload) (count int64, firstUse bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &UsageEntry{Payload: payload}
		t.entries[id] = e
	}
	e.Count++
	return e.Count, !ok
}

// IncreaseReferenceCount is AddUsage spelled the way callers that only
// care about the "should I hit the wire" signal read more naturally.
func (t *Table) IncreaseReferenceCount(id types.ObjectID, payload types.Payload) bool {
	_, firstUse := t.AddUsage(id, payload)
	return firstUse
}

// RemoveUsage decrements id's local count. On reaching zero it deletes
// the local entry, then invokes the registered OnRelease callback --
// the point at which the table's decoupling of client-side liveness
// from server-side liveness actually takes effect. A RemoveUsage on an
// id that isn't tracked is a no-op.
func (t *Table) RemoveUsage(id types.ObjectID) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.Count--
	lastUse := e.Count <= 0
	if lastUse {
		delete(t.entries, id)
	}
	onRelease := t.onRelease
	t.mu.Unlock()

	if lastUse && onRelease != nil {
		onRelease(id)
	}
}

// DeleteUsage drops id's entry outright, regardless of count, for when
// the object itself is gone (drop_buffer, del_data) rather than merely
// unreferenced by this particular client value.
func (t *Table) DeleteUsage(id types.ObjectID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}
