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

package client

import (
	"fmt"

	arrow "github.com/apache/arrow/go/v11/arrow/memory"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/types"
)

// GetMetaData fetches id's tree and every blob it transitively
// references, and returns an ObjectMeta whose BufferSet is already
// populated -- the one place ClientBase.GetData's raw trees and
// IPCClient.GetBuffers' mmap'd bytes meet.
func (c *IPCClient) GetMetaData(id types.ObjectID, syncRemote bool) (*ObjectMeta, error) {
	content, err := c.GetData([]types.ObjectID{id}, syncRemote, false)
	if err != nil {
		return nil, err
	}
	tree, ok := content[id]
	if !ok {
		return nil, common.Error(common.KObjectNotExists, fmt.Sprintf("object not found: %d", id))
	}

	meta := NewObjectMeta()
	meta.SetMetaData(c.ClientBase, tree)

	ids := meta.bufferSet.GetBufferIds()
	if len(ids) == 0 {
		return meta, nil
	}
	buffers, err := c.GetBuffers(ids, false)
	if err != nil {
		return nil, err
	}
	for _, bid := range ids {
		data := buffers[bid]
		_ = meta.bufferSet.EmplaceBuffer(bid, arrow.NewBufferBytes(data))
	}
	return meta, nil
}

// GetObject fetches id's metadata and buffers and constructs obj from
// them, mirroring the three-step get_data/get_buffers/Construct
// sequence every typed accessor (Blob, and anything generated on top
// of it) follows.
func (c *IPCClient) GetObject(id types.ObjectID, obj IObject) error {
	meta, err := c.GetMetaData(id, false)
	if err != nil {
		return err
	}
	return obj.Construct(c, meta)
}

// GetBlob is the common case of GetObject: fetch a single blob's bytes
// with no surrounding composite structure.
func (c *IPCClient) GetBlob(id types.ObjectID) (*Blob, error) {
	blob := &Blob{}
	if err := c.GetObject(id, blob); err != nil {
		return nil, err
	}
	return blob, nil
}
