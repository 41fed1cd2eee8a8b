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

// Package metastore is the interface the core uses to reach the
// metadata plane: the external key-value collaborator that owns the
// JSON metadata tree (composite object lookup, persistence, name
// indexing). The core never parses tree contents beyond typename,
// instance_id and blob-id references; everything else is opaque bytes
// under a key this package chooses.
package metastore

import (
	"context"

	"github.com/pkg/errors"
)

// Store is what pkg/server/ipc calls for get_data/create_data/persist/
// del_data/shallow_copy/list_data/if_persist/clear. Keys are opaque
// strings (pkg/server/ipc uses "data/<id>" and "persisted/<id>");
// values are raw JSON blobs the caller has already serialized.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}

// ErrNotAvailable is returned by backends that are recognized by
// configuration but cannot actually be constructed in this build (see
// NewEtcd) — the honest alternative to fabricating a client that isn't
// anywhere in the dependency graph.
var ErrNotAvailable = errors.New("metastore: backend not available in this build")
