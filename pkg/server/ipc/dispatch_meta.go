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

package ipc

import (
	"regexp"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/types"
)

// This file forwards the metadata-plane commands to h.sess.Meta. Per
// §6.5 the core never interprets the JSON tree beyond typename,
// instance_id and blob-id references, so every handler here is a thin
// marshal/unmarshal wrapper keyed by a flat "data/<id>" namespace; the
// persisted flag lives alongside it under "persisted/<id>".

const (
	dataKeyPrefix      = "data/"
	persistedKeyPrefix = "persisted/"
)

func dataKey(id types.ObjectID) string {
	return dataKeyPrefix + types.ObjectIDToString(id)
}

func persistedKey(id types.ObjectID) string {
	return persistedKeyPrefix + types.ObjectIDToString(id)
}

func (h *Handler) handleCreateData(body []byte) (any, []int, bool, error) {
	req, err := decode[common.CreateDataRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	raw, err := json.Marshal(req.Content)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	id := types.NewMetaID()
	if err := h.sess.Meta.Put(h.ctx, dataKey(id), raw); err != nil {
		return nil, nil, false, common.Error(common.KIOError, err.Error())
	}
	return common.CreateDataReply{
		Type:       common.CreateDataReplyType,
		ID:         id,
		Signature:  types.Signature(id),
		InstanceID: h.info.InstanceID,
	}, nil, false, nil
}

// handleGetData never defers: the request's Wait flag is ignored, and a
// missing id is reported immediately as KObjectNotExists, matching
// get_buffers' non-deferred behavior. Only get_name waits.
func (h *Handler) handleGetData(body []byte) (any, []int, bool, error) {
	req, err := decode[common.GetDataRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	content := make(map[types.ObjectID]map[string]any, len(req.IDs))
	for _, id := range req.IDs {
		raw, err := h.sess.Meta.Get(h.ctx, dataKey(id))
		if err != nil {
			return nil, nil, false, common.Error(common.KObjectNotExists, "no such object: "+types.ObjectIDToString(id))
		}
		var tree map[string]any
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, nil, false, common.Error(common.KInvalid, err.Error())
		}
		content[id] = tree
	}
	return common.GetDataReply{Type: common.GetDataReplyType, Content: content}, nil, false, nil
}

func (h *Handler) handleListData(body []byte) (any, []int, bool, error) {
	req, err := decode[common.ListDataRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	var re *regexp.Regexp
	if req.Regex && req.Pattern != "" {
		if re, err = regexp.Compile(req.Pattern); err != nil {
			return nil, nil, false, common.Error(common.KInvalid, err.Error())
		}
	}
	all, err := h.sess.Meta.List(h.ctx, dataKeyPrefix)
	if err != nil {
		return nil, nil, false, common.Error(common.KIOError, err.Error())
	}
	content := make(map[string]map[string]any, len(all))
	for key, raw := range all {
		name := strings.TrimPrefix(key, dataKeyPrefix)
		if re != nil {
			if !re.MatchString(name) {
				continue
			}
		} else if req.Pattern != "" && !strings.Contains(name, req.Pattern) {
			continue
		}
		var tree map[string]any
		if err := json.Unmarshal(raw, &tree); err != nil {
			continue
		}
		content[name] = tree
		if req.Limit > 0 && len(content) >= req.Limit {
			break
		}
	}
	return common.ListDataReply{Type: common.ListDataReplyType, Content: content}, nil, false, nil
}

func (h *Handler) handleDelData(body []byte) (any, []int, bool, error) {
	req, err := decode[common.DelDataRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	for _, id := range req.IDs {
		if err := h.sess.Meta.Delete(h.ctx, dataKey(id)); err != nil && !req.Force {
			return nil, nil, false, common.Error(common.KIOError, err.Error())
		}
		_ = h.sess.Meta.Delete(h.ctx, persistedKey(id))
		if req.DeepDelete && types.IsBlob(id) {
			_ = h.sess.Store.OnDelete(id)
		}
	}
	return common.DelDataReply{Type: common.DelDataReplyType}, nil, false, nil
}

func (h *Handler) handleShallowCopy(body []byte) (any, []int, bool, error) {
	req, err := decode[common.ShallowCopyRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	raw, err := h.sess.Meta.Get(h.ctx, dataKey(req.ID))
	if err != nil {
		return nil, nil, false, common.Error(common.KObjectNotExists, "no such object: "+types.ObjectIDToString(req.ID))
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	for k, v := range req.ExtraData {
		tree[k] = v
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	newID := types.NewMetaID()
	if err := h.sess.Meta.Put(h.ctx, dataKey(newID), out); err != nil {
		return nil, nil, false, common.Error(common.KIOError, err.Error())
	}
	return common.ShallowCopyReply{Type: common.ShallowCopyReplyType, NewID: newID}, nil, false, nil
}

func (h *Handler) handlePersist(body []byte) (any, []int, bool, error) {
	req, err := decode[common.PersistRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if _, err := h.sess.Meta.Get(h.ctx, dataKey(req.ID)); err != nil {
		return nil, nil, false, common.Error(common.KObjectNotExists, "no such object: "+types.ObjectIDToString(req.ID))
	}
	if err := h.sess.Meta.Put(h.ctx, persistedKey(req.ID), []byte("1")); err != nil {
		return nil, nil, false, common.Error(common.KIOError, err.Error())
	}
	return common.PersistReply{Type: common.PersistReplyType}, nil, false, nil
}

func (h *Handler) handleIfPersist(body []byte) (any, []int, bool, error) {
	req, err := decode[common.IfPersistRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	_, err = h.sess.Meta.Get(h.ctx, persistedKey(req.ID))
	return common.IfPersistReply{Type: common.IfPersistReplyType, Persisted: err == nil}, nil, false, nil
}

func (h *Handler) handleInstanceStatus(body []byte) (any, []int, bool, error) {
	return common.InstanceStatusReply{
		Type:            common.InstanceStatusReplyType,
		InstanceID:      h.info.InstanceID,
		MemoryUsage:     h.sess.Store.Footprint(),
		MemoryLimit:     h.sess.Store.FootprintLimit(),
		DeployedObjects: uint64(h.sess.Store.Count()),
	}, nil, false, nil
}

// handleClusterMeta reports what this process knows about the cluster:
// itself. Real multi-instance coordination needs a shared metadata
// backend (etcd, in vineyard proper) that nothing in the dependency
// graph provides here; see metastore.NewEtcd.
func (h *Handler) handleClusterMeta(body []byte) (any, []int, bool, error) {
	return common.ClusterMetaReply{
		Type: common.ClusterMetaReplyType,
		Cluster: map[types.InstanceID]map[string]any{
			h.info.InstanceID: {
				"rpc_endpoint":     h.info.RPCEndpoint,
				"deployed_objects": h.sess.Store.Count(),
				"memory_usage":     h.sess.Store.Footprint(),
				"memory_limit":     h.sess.Store.FootprintLimit(),
			},
		},
	}, nil, false, nil
}

// handleMigrateObject is not implemented: moving a blob's ownership to
// a peer instance means this handler would have to dial out as an RPC
// client and replay create_remote_buffer there, a role nothing in this
// package plays today. Refused explicitly rather than silently
// no-opping.
func (h *Handler) handleMigrateObject(body []byte) (any, []int, bool, error) {
	return nil, nil, false, common.Error(common.KNotImplemented, "migrate_object: no outbound peer client in this build")
}

// handleDebug answers the handful of introspection queries vineyard's
// CLI tooling is known to send; anything else is echoed back under
// "echo" rather than rejected, since debug's whole point is best-effort
// introspection.
func (h *Handler) handleDebug(body []byte) (any, []int, bool, error) {
	req, err := decode[common.DebugRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	result := map[string]any{
		"instance_id":      h.info.InstanceID,
		"deployed_objects": h.sess.Store.Count(),
		"memory_usage":     h.sess.Store.Footprint(),
		"memory_limit":     h.sess.Store.FootprintLimit(),
	}
	if len(req.Command) > 0 {
		result["echo"] = req.Command
	}
	return common.DebugReply{Type: common.DebugReplyType, Result: result}, nil, false, nil
}

// handleClear deletes every data/ and persisted/ key from the metadata
// store; the bulk store is left as it is. Every session of a runner
// shares one metadata store, so this clears their metadata too.
func (h *Handler) handleClear(body []byte) (any, []int, bool, error) {
	all, err := h.sess.Meta.List(h.ctx, dataKeyPrefix)
	if err != nil {
		return nil, nil, false, common.Error(common.KIOError, err.Error())
	}
	for key := range all {
		_ = h.sess.Meta.Delete(h.ctx, key)
	}
	persisted, err := h.sess.Meta.List(h.ctx, persistedKeyPrefix)
	if err == nil {
		for key := range persisted {
			_ = h.sess.Meta.Delete(h.ctx, key)
		}
	}
	return common.ClearReply{Type: common.ClearReplyType}, nil, false, nil
}
