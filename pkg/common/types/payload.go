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

package types

// Payload is the server-side descriptor of one allocation. It is also the
// wire shape handed back to clients in buffer replies; ArenaFd never
// travels in the JSON body, it is passed out of band as ancillary data (or
// simply omitted for a connection that already holds the arena mapped).
type Payload struct {
	ObjectID   ObjectID `json:"object_id"`
	DataSize   uint64   `json:"data_size"`
	StoreFd    int      `json:"store_fd"`
	MapSize    uint64   `json:"map_size"`
	DataOffset uint64   `json:"data_offset"`
	Pointer    uint64   `json:"pointer"`
	IsSealed   bool     `json:"is_sealed"`
	IsSpilled  bool     `json:"is_spilled"`
	IsOwner    bool     `json:"is_owner"`
	IsGPU      bool     `json:"is_gpu,omitempty"`
	RefCnt     int64    `json:"ref_cnt"`

	// ArenaFd is the server-local open file descriptor for the arena
	// backing this payload; it is resolved into an ancillary-message send
	// by the connection handler and is never marshaled.
	ArenaFd int `json:"-"`
}

// PlasmaPayload mirrors Payload for the plasma-compatible indexing scheme;
// it shares the exact same layout fields so the ownership mover can move
// bytes between the two schemes without touching the underlying arena.
type PlasmaPayload struct {
	PlasmaID   PlasmaID `json:"object_id"`
	DataSize   uint64   `json:"data_size"`
	StoreFd    int      `json:"store_fd"`
	MapSize    uint64   `json:"map_size"`
	DataOffset uint64   `json:"data_offset"`
	Pointer    uint64   `json:"pointer"`
	IsSealed   bool     `json:"is_sealed"`
	IsSpilled  bool     `json:"is_spilled"`
	IsOwner    bool     `json:"is_owner"`
	RefCnt     int64    `json:"ref_cnt"`
	ArenaFd    int      `json:"-"`
}

// Footprint reports the number of arena bytes this payload accounts for.
func (p *Payload) Footprint() uint64 {
	return p.DataSize
}
