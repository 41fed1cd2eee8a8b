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

// Package session maintains the root session plus any number of child
// sessions, each an independent bulk store listening on its own
// Unix-domain socket path. Only the root session may host the RPC
// (TCP) endpoint.
package session

import (
	"fmt"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/server/arena"
	"github.com/vineyard-go/vineyard/pkg/server/bulkstore"
	"github.com/vineyard-go/vineyard/pkg/server/metastore"
	"github.com/vineyard-go/vineyard/pkg/server/names"
	"github.com/vineyard-go/vineyard/pkg/server/stream"
)

// StoreType selects the id/payload indexing scheme a session's bulk
// store is addressed by.
type StoreType string

const (
	Default StoreType = "default"
	Plasma  StoreType = "plasma"
)

// Session bundles one bulk store with the auxiliary services a
// connection handler needs to serve requests against it.
type Session struct {
	ID         types.SessionID
	StoreType  StoreType
	SocketPath string

	Store  *bulkstore.Store
	Names  *names.Registry
	Meta   metastore.Store
	Stream *stream.Store

	listener net.Listener
	mu       sync.Mutex
	stopped  bool
}

// Runner is the process-wide registry of live sessions.
type Runner struct {
	mu          sync.Mutex
	baseSocket  string
	sessions    map[types.SessionID]*Session
	newStore    func(StoreType) *bulkstore.Store
	meta        metastore.Store
	onCreate    func(*Session)
}

// OnSessionCreated registers a callback invoked, outside the Runner's
// own lock, every time CreateNewSession materializes a child session.
// The daemon uses this to bind and start accepting on the new
// session's own socket without CreateNewSession's caller (a
// new_session wire request handler) having to know how acceptor
// loops are run.
func (r *Runner) OnSessionCreated(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreate = fn
}

// Config carries everything a Runner needs to construct new sessions'
// bulk stores, shared across every session it spawns.
type Config struct {
	FootprintLimit uint64
	Spill          bulkstore.SpillConfig
	Allocator      arena.Kind
	Meta           metastore.Store
}

// NewRunner creates a Runner and immediately materializes the root
// session at baseSocket, using cfg to size every session's bulk store.
func NewRunner(baseSocket string, cfg Config) (*Runner, error) {
	r := &Runner{
		baseSocket: baseSocket,
		sessions:   make(map[types.SessionID]*Session),
		meta:       cfg.Meta,
		newStore: func(StoreType) *bulkstore.Store {
			return bulkstore.New(cfg.Allocator, cfg.FootprintLimit, cfg.Spill)
		},
	}
	root := &Session{
		ID:         types.RootSessionID(),
		StoreType:  Default,
		SocketPath: baseSocket,
		Store:      r.newStore(Default),
		Names:      names.NewRegistry(),
		Meta:       cfg.Meta,
		Stream:     stream.NewStore(),
	}
	root.Stream.CreateChunk = root.Store.Create
	r.sessions[root.ID] = root
	return r, nil
}

// Root returns the reserved root session.
func (r *Runner) Root() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[types.RootSessionID()]
}

// CreateNewSession generates a session id, derives its socket path from
// the base path, and instantiates a fresh bulk store of storeType.
func (r *Runner) CreateNewSession(storeType StoreType) (*Session, error) {
	r.mu.Lock()

	id := types.NewSessionID()
	sess := &Session{
		ID:         id,
		StoreType:  storeType,
		SocketPath: fmt.Sprintf("%s.%s", r.baseSocket, types.SessionIDToString(id)),
		Store:      r.newStore(storeType),
		Names:      names.NewRegistry(),
		Meta:       r.meta,
		Stream:     stream.NewStore(),
	}
	sess.Stream.CreateChunk = sess.Store.Create
	r.sessions[id] = sess
	onCreate := r.onCreate
	r.mu.Unlock()

	if onCreate != nil {
		onCreate(sess)
	}
	return sess, nil
}

// Get looks up a session by id.
func (r *Runner) Get(id types.SessionID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, errors.Errorf("session: unknown session id %s", types.SessionIDToString(id))
	}
	return sess, nil
}

// Delete stops a session's acceptor, drops its bulk store, and
// unregisters it. Deleting the root session is refused.
func (r *Runner) Delete(id types.SessionID) error {
	if id == types.RootSessionID() {
		return errors.New("session: cannot delete the root session")
	}

	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return errors.Errorf("session: unknown session id %s", types.SessionIDToString(id))
	}
	return sess.close()
}

// Shutdown deletes every session, including the root, in arbitrary
// order. Called once, as the server process exits.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[types.SessionID]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.close()
	}
}

func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return s.Store.Close()
}

// Listener lazily binds the session's Unix-domain socket and caches
// the listener for the acceptor loop.
func (s *Session) Listener() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener, nil
	}
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return nil, errors.Wrapf(err, "session: listen on %s", s.SocketPath)
	}
	s.listener = ln
	return ln, nil
}
