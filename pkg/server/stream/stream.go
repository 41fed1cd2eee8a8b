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

// Package stream is the single-writer/multi-reader chunked pipe layered
// on top of the bulk store: a stream is a FIFO queue of blob ids, each
// chunk an ordinary sealed payload. The core only sequences chunk ids;
// chunk bytes are carved and read through the bulk store like any other
// blob.
package stream

import (
	"context"
	"sync"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/types"
)

type pipe struct {
	mu       sync.Mutex
	chunks   []types.ObjectID
	waiters  []chan struct{}
	writerOK bool
	readerOK bool
	stopped  bool
	failed   bool
}

// Store holds every open stream for one session.
type Store struct {
	mu      sync.Mutex
	streams map[types.ObjectID]*pipe

	// CreateChunk allocates a fresh unsealed payload for a writer
	// requesting the next chunk; it is bound to the owning session's
	// bulk store by the session runner, since the stream store itself
	// carries no allocation logic.
	CreateChunk func(size uint64) (types.ObjectID, types.Payload, error)
}

func NewStore() *Store {
	return &Store{streams: make(map[types.ObjectID]*pipe)}
}

// Create registers a new, empty stream under id.
func (s *Store) Create(id types.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[id]; ok {
		return common.Error(common.KObjectExists, "stream already exists")
	}
	s.streams[id] = &pipe{}
	return nil
}

// Open marks id as opened for reading or writing. A stream may have at
// most one writer; opening it for reading is never refused.
func (s *Store) Open(id types.ObjectID, asWriter bool) error {
	p, err := s.get(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if asWriter {
		if p.writerOK {
			return common.Error(common.KStreamOpened, "stream already has a writer")
		}
		p.writerOK = true
	} else {
		p.readerOK = true
	}
	return nil
}

// NextChunk allocates a fresh chunk buffer of size bytes for the
// writer to fill and seal before calling PushChunk.
func (s *Store) NextChunk(size uint64) (types.ObjectID, types.Payload, error) {
	if s.CreateChunk == nil {
		return types.InvalidObjectID(), types.Payload{}, common.Error(common.KInvalid, "stream store has no chunk allocator bound")
	}
	return s.CreateChunk(size)
}

// PushChunk enqueues chunkID and wakes every blocked puller; the first
// to retake the lock takes the chunk and the others wait again.
func (s *Store) PushChunk(id types.ObjectID, chunkID types.ObjectID) error {
	p, err := s.get(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return common.Error(common.KStreamFailed, "stream is stopped")
	}
	p.chunks = append(p.chunks, chunkID)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return nil
}

// PullChunk blocks until a chunk is available, the stream is stopped
// (StreamDrained once the queue empties), or ctx is cancelled.
func (s *Store) PullChunk(ctx context.Context, id types.ObjectID) (types.ObjectID, error) {
	p, err := s.get(id)
	if err != nil {
		return types.InvalidObjectID(), err
	}
	for {
		p.mu.Lock()
		if len(p.chunks) > 0 {
			chunk := p.chunks[0]
			p.chunks = p.chunks[1:]
			p.mu.Unlock()
			return chunk, nil
		}
		if p.stopped {
			failed := p.failed
			p.mu.Unlock()
			if failed {
				return types.InvalidObjectID(), common.Error(common.KStreamFailed, "stream aborted")
			}
			return types.InvalidObjectID(), common.Error(common.KStreamDrained, "stream drained")
		}
		wake := make(chan struct{})
		p.waiters = append(p.waiters, wake)
		p.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return types.InvalidObjectID(), ctx.Err()
		}
	}
}

// Stop ends the stream; abort marks it failed rather than cleanly
// drained, so blocked and future pulls see StreamFailed instead of
// StreamDrained once the queue empties.
func (s *Store) Stop(id types.ObjectID, abort bool) error {
	p, err := s.get(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.stopped = true
	p.failed = abort
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return nil
}

// Drop aborts the stream, so any blocked puller wakes with
// StreamFailed, and then removes it entirely.
func (s *Store) Drop(id types.ObjectID) error {
	if err := s.Stop(id, true); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.streams, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) get(id types.ObjectID) (*pipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.streams[id]
	if !ok {
		return nil, common.Error(common.KObjectNotExists, "no such stream")
	}
	return p, nil
}
