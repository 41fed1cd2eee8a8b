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

// NewEtcd would construct the "meta: etcd" backend. No etcd client
// library is part of this build's dependency set, so rather than hand-
// roll one or fake a client behind this signature, configuration that
// asks for etcd resolves here and fails loudly instead of silently
// behaving like "local".
func NewEtcd(endpoint, prefix string) (Store, error) {
	return nil, ErrNotAvailable
}
