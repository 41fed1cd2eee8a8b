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

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
)

// ObjectID is an opaque 64-bit identifier. The high bit distinguishes blob
// ids (set) from composite ids (clear); two values are reserved: the
// invalid id and the empty-blob id.
type ObjectID = uint64

const blobBit = uint64(0x8000000000000000)

// blobIDCounter disambiguates blobs allocated from the same arena base
// address within a single server run (e.g. repeated zero-size carve-outs
// at the same offset after a reload).
var blobIDCounter uint64

// metaIDCounter generates composite-object ids; they never carry the blob
// bit so IsBlob can tell the two spaces apart without a lookup.
var metaIDCounter uint64

// NewBlobID derives a blob id deterministically from the allocation's
// server-side virtual base address, as called out in the data model: ids
// are not random, they encode where the payload lives within this run.
func NewBlobID(baseAddress uint64) ObjectID {
	salt := atomic.AddUint64(&blobIDCounter, 1)
	return blobBit | ((baseAddress ^ (salt << 44)) &^ blobBit)
}

// NewMetaID allocates a fresh composite-object id.
func NewMetaID() ObjectID {
	return atomic.AddUint64(&metaIDCounter, 1) &^ blobBit
}

func ObjectIDToString(id ObjectID) string {
	return fmt.Sprintf("o%016x", id)
}

func ObjectIDFromString(id string) (ObjectID, error) {
	if len(id) < 2 || id[0] != 'o' {
		return InvalidObjectID(), fmt.Errorf("malformed object id: %q", id)
	}
	return strconv.ParseUint(id[1:], 16, 64)
}

func IsBlob(id ObjectID) bool {
	return id&blobBit != 0
}

func InvalidObjectID() ObjectID {
	return 0xffffffffffffffff
}

func EmptyBlobID() ObjectID {
	return blobBit
}

type Signature = uint64

func SignatureToString(sig Signature) string {
	return fmt.Sprintf("s%016x", sig)
}

func SignatureFromString(sig string) (Signature, error) {
	return strconv.ParseUint(sig[1:], 16, 64)
}

func InvalidSignature() Signature {
	return 0xffffffffffffffff
}

type InstanceID = uint64

func UnspecifiedInstanceID() InstanceID {
	return 0xffffffffffffffff
}

// SessionID identifies one independent bulk store served by the session
// runner. The root session always uses RootSessionID; every other session
// id is generated when the session is created.
type SessionID = uint64

var sessionIDCounter uint64

func RootSessionID() SessionID {
	return 0
}

// NewSessionID generates a child session id; it never collides with the
// reserved root id because it starts counting from 1.
func NewSessionID() SessionID {
	return atomic.AddUint64(&sessionIDCounter, 1)
}

func SessionIDToString(sig SessionID) string {
	return fmt.Sprintf("%016x", sig)
}

func SessionIDFromString(sig string) (SessionID, error) {
	return strconv.ParseUint(sig, 16, 64)
}

// PlasmaID is a caller-supplied content-addressed key that indexes the same
// payload shape as ObjectID, kept as a parallel space for plasma-store
// compatible clients.
type PlasmaID [20]byte

func PlasmaIDFromBytes(b []byte) PlasmaID {
	var id PlasmaID
	copy(id[:], b)
	return id
}

func (id PlasmaID) String() string {
	return hex.EncodeToString(id[:])
}

func PlasmaIDFromString(s string) (PlasmaID, error) {
	var id PlasmaID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("plasma id must decode to %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}
