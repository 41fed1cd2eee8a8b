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
	"strings"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// Redis is the distributed metadata backend, for "meta: redis". prefix
// namespaces every key so several vineyardd deployments can share one
// Redis instance.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis dials endpoint ("host:port") and namespaces keys under
// prefix, matching the meta_prefix / meta_endpoint config keys.
func NewRedis(endpoint, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping().Err(); err != nil {
		return nil, errors.Wrapf(err, "metastore: ping redis at %s", endpoint)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(key string) string {
	return strings.TrimRight(r.prefix, "/") + "/" + strings.TrimLeft(key, "/")
}

func (r *Redis) Put(_ context.Context, key string, value []byte) error {
	return r.client.Set(r.key(key), value, 0).Err()
}

func (r *Redis) Get(_ context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(r.key(key)).Bytes()
	if err != nil {
		return nil, errors.Wrapf(err, "metastore: get %q", key)
	}
	return value, nil
}

func (r *Redis) Delete(_ context.Context, key string) error {
	return r.client.Del(r.key(key)).Err()
}

func (r *Redis) List(_ context.Context, prefix string) (map[string][]byte, error) {
	keys, err := r.client.Keys(r.key(prefix) + "*").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := r.client.Get(k).Bytes()
		if err != nil {
			continue
		}
		out[strings.TrimPrefix(k, strings.TrimRight(r.prefix, "/")+"/")] = v
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
