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

// Package names implements the name service: a map from well-known
// string identifiers to object ids, with support for a deferred
// get_name(wait=true) that completes once a matching put_name arrives.
package names

import (
	"context"
	"sync"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/types"
)

// Registry is one session's name table.
type Registry struct {
	mu      sync.Mutex
	names   map[string]types.ObjectID
	waiters map[string][]chan types.ObjectID
}

func NewRegistry() *Registry {
	return &Registry{
		names:   make(map[string]types.ObjectID),
		waiters: make(map[string][]chan types.ObjectID),
	}
}

// Put records name -> id, overwriting any previous binding, and wakes
// every deferred Get waiting on it.
func (r *Registry) Put(name string, id types.ObjectID) error {
	r.mu.Lock()
	r.names[name] = id
	waiters := r.waiters[name]
	delete(r.waiters, name)
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- id
	}
	return nil
}

// Get returns the id bound to name, failing ObjectNotExists if absent.
func (r *Registry) Get(name string) (types.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.names[name]
	if !ok {
		return types.InvalidObjectID(), common.Error(common.KObjectNotExists, "no such name")
	}
	return id, nil
}

// GetWait is Get, but when name is not yet bound and wait is true it
// blocks until a matching Put arrives or ctx is cancelled (e.g. because
// the requesting connection closed), in which case the deferred
// registration is cleaned up rather than left to leak.
func (r *Registry) GetWait(ctx context.Context, name string, wait bool) (types.ObjectID, error) {
	r.mu.Lock()
	if id, ok := r.names[name]; ok {
		r.mu.Unlock()
		return id, nil
	}
	if !wait {
		r.mu.Unlock()
		return types.InvalidObjectID(), common.Error(common.KObjectNotExists, "no such name")
	}

	ch := make(chan types.ObjectID, 1)
	r.waiters[name] = append(r.waiters[name], ch)
	r.mu.Unlock()

	select {
	case id := <-ch:
		return id, nil
	case <-ctx.Done():
		r.mu.Lock()
		r.removeWaiter(name, ch)
		r.mu.Unlock()
		return types.InvalidObjectID(), ctx.Err()
	}
}

func (r *Registry) removeWaiter(name string, target chan types.ObjectID) {
	waiters := r.waiters[name]
	for i, ch := range waiters {
		if ch == target {
			r.waiters[name] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

// Drop removes a binding. Not an error if name never existed.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, name)
	return nil
}
