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

// Package mover implements ownership movement between sessions: a
// zero-copy handoff of payloads from one session's bulk store to
// another's, sharing one algorithm across all four Default/Plasma
// combinations because bulkstore.Store already projects both id
// spaces onto the same entries (see bulkstore.Store.plasmaIndex).
package mover

import (
	"github.com/pkg/errors"

	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/server/bulkstore"
)

// MoveBuffersOwnership reassigns the payloads named by mapping's keys
// from source to target, landing under mapping's values. Payloads still
// referenced by another connection in source are silently skipped, per
// RemoveOwnership's contract; the returned slice lists the keys that
// were *not* moved, so callers can report a partial result.
func MoveBuffersOwnership(mapping map[types.ObjectID]types.ObjectID, source, target *bulkstore.Store) (skipped []types.ObjectID, err error) {
	if source == nil || target == nil {
		return nil, errors.New("mover: source and target stores are required")
	}

	srcIDs := make([]types.ObjectID, 0, len(mapping))
	for id := range mapping {
		srcIDs = append(srcIDs, id)
	}

	removed := source.RemoveOwnership(srcIDs)

	moved := make(map[types.ObjectID]types.Payload, len(removed))
	for srcID, payload := range removed {
		dstID := mapping[srcID]
		projected := payload
		projected.ObjectID = dstID
		projected.RefCnt = 0
		moved[dstID] = projected
	}
	if err := target.MoveOwnership(moved); err != nil {
		return nil, errors.Wrap(err, "mover: insert into target store")
	}

	for _, srcID := range srcIDs {
		if _, ok := removed[srcID]; !ok {
			skipped = append(skipped, srcID)
		}
	}

	// Bump the target side's leak-counter: the fd underlying these
	// payloads' arena region is shared between the two stores after the
	// move, so the target may not treat a zero local reference as "safe
	// to free" purely from this handoff. The source gets no extra
	// reference: RemoveOwnership has already dropped its entries.
	for dstID := range moved {
		_ = target.AddDependency([]types.ObjectID{dstID}, leakConn)
	}

	return skipped, nil
}

// leakConn is a reserved pseudo-connection id used only to hold the
// deliberate extra reference MoveBuffersOwnership leaves behind on the
// target side; it is never released because the arena backing a moved
// payload may still be live in some client's mapping.
const leakConn = bulkstore.ConnID(-1)
