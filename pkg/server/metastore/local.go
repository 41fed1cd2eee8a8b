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

package metastore

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// Local is the single-node metadata backend, an embedded pebble LSM
// tree. It is what "meta: local" in the daemon config resolves to, and
// the only backend that needs no external endpoint.
type Local struct {
	db *pebble.DB
}

// NewLocal opens (creating if absent) a pebble store rooted at dir.
func NewLocal(dir string) (*Local, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "metastore: open pebble at %s", dir)
	}
	return &Local{db: db}, nil
}

func (l *Local) Put(_ context.Context, key string, value []byte) error {
	return l.db.Set([]byte(key), value, pebble.Sync)
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	value, closer, err := l.db.Get([]byte(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, errors.Wrapf(err, "metastore: key %q", key)
		}
		return nil, err
	}
	out := append([]byte(nil), value...)
	_ = closer.Close()
	return out, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	return l.db.Delete([]byte(key), pebble.Sync)
}

func (l *Local) List(_ context.Context, prefix string) (map[string][]byte, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string][]byte)
	for valid := iter.First(); valid; valid = iter.Next() {
		out[string(iter.Key())] = append([]byte(nil), iter.Value()...)
	}
	return out, iter.Error()
}

func (l *Local) Close() error {
	return l.db.Close()
}

// prefixUpperBound returns the smallest key that is strictly greater
// than every key with the given prefix, for use as a pebble iterator's
// exclusive upper bound.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
