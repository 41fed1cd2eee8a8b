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
	"io"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/wire"
)

// dispatch decodes body a second time into the concrete request shape
// named by typ, runs it against the session, and returns the reply to
// write, any fds that must follow it, or handled=true if dispatch
// already wrote the wire response itself (the two streaming ops).
func (h *Handler) dispatch(typ string, body []byte) (reply any, fds []int, handled bool, err error) {
	switch typ {

	case common.RegisterRequestType:
		return h.handleRegister(body)
	case common.NewSessionRequestType:
		return h.handleNewSession(body)
	case common.DeleteSessionRequestType:
		return h.handleDeleteSession(body)

	case common.CreateBufferRequestType:
		return h.handleCreateBuffer(body)
	case common.CreateDiskBufferRequestType:
		return h.handleCreateDiskBuffer(body)
	case common.CreateBufferByPlasmaRequestType:
		return h.handleCreateBufferByPlasma(body)
	case common.GetBuffersRequestType:
		return h.handleGetBuffers(body)
	case common.GetBuffersByPlasmaRequestType:
		return h.handleGetBuffersByPlasma(body)
	case common.GetRemoteBuffersRequestType:
		return h.handleGetRemoteBuffers(body)
	case common.CreateRemoteBufferRequestType:
		return h.handleCreateRemoteBuffer(body)
	case common.DropBufferRequestType:
		return h.handleDropBuffer(body)

	case common.SealRequestType:
		return h.handleSeal(body)
	case common.PlasmaSealRequestType:
		return h.handlePlasmaSeal(body)
	case common.ReleaseRequestType:
		return h.handleRelease(body)
	case common.PlasmaReleaseRequestType:
		return h.handlePlasmaRelease(body)
	case common.PlasmaDelDataRequestType:
		return h.handlePlasmaDelData(body)
	case common.IncreaseRefCountRequestType:
		return h.handleIncreaseRefCount(body)
	case common.IsInUseRequestType:
		return h.handleIsInUse(body)
	case common.IsSpilledRequestType:
		return h.handleIsSpilled(body)
	case common.ExistsRequestType:
		return h.handleExists(body)
	case common.MoveBuffersOwnershipRequestType:
		return h.handleMoveBuffersOwnership(body)

	case common.MakeArenaRequestType:
		return h.handleMakeArena(body)
	case common.FinalizeArenaRequestType:
		return h.handleFinalizeArena(body)

	case common.CreateStreamRequestType:
		return h.handleCreateStream(body)
	case common.OpenStreamRequestType:
		return h.handleOpenStream(body)
	case common.GetNextStreamChunkRequestType:
		return h.handleGetNextStreamChunk(body)
	case common.PushNextStreamChunkRequestType:
		return h.handlePushNextStreamChunk(body)
	case common.PullNextStreamChunkRequestType:
		return h.handlePullNextStreamChunk(body)
	case common.StopStreamRequestType:
		return h.handleStopStream(body)

	case common.PutNameRequestType:
		return h.handlePutName(body)
	case common.GetNameRequestType:
		return h.handleGetName(body)
	case common.DropNameRequestType:
		return h.handleDropName(body)

	case common.PersistRequestType:
		return h.handlePersist(body)
	case common.IfPersistRequestType:
		return h.handleIfPersist(body)
	case common.CreateDataRequestType:
		return h.handleCreateData(body)
	case common.GetDataRequestType:
		return h.handleGetData(body)
	case common.ListDataRequestType:
		return h.handleListData(body)
	case common.DelDataRequestType:
		return h.handleDelData(body)
	case common.ShallowCopyRequestType:
		return h.handleShallowCopy(body)

	case common.InstanceStatusRequestType:
		return h.handleInstanceStatus(body)
	case common.ClearRequestType:
		return h.handleClear(body)
	case common.ClusterMetaRequestType:
		return h.handleClusterMeta(body)
	case common.MigrateObjectRequestType:
		return h.handleMigrateObject(body)
	case common.DebugRequestType:
		return h.handleDebug(body)

	default:
		return nil, nil, false, common.Error(common.KNotImplemented, "unknown request type: "+typ)
	}
}

func decode[T any](body []byte) (T, error) {
	var v T
	err := wire.Decode(body, &v)
	return v, err
}

func (h *Handler) handleRegister(body []byte) (any, []int, bool, error) {
	req, err := decode[common.RegisterRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	storeMatch := string(h.sess.StoreType) == req.StoreType || req.StoreType == ""
	return common.RegisterReply{
		Type:        common.RegisterReplyType,
		IPCSocket:   h.sess.SocketPath,
		RPCEndpoint: h.info.RPCEndpoint,
		InstanceID:  h.info.InstanceID,
		SessionID:   h.sess.ID,
		Version:     common.DefaultServerVersion,
		StoreMatch:  storeMatch,
	}, nil, false, nil
}

func (h *Handler) handleCreateBuffer(body []byte) (any, []int, bool, error) {
	req, err := decode[common.CreateBufferRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	id, payload, err := h.sess.Store.Create(req.Size)
	if err != nil {
		return nil, nil, false, err
	}
	fdToSend := h.fdToSend(payload.ArenaFd)
	return common.CreateBufferReply{
		Type:     common.CreateBufferReplyType,
		ID:       id,
		Created:  payload,
		FdToSend: fdToSend,
	}, fdOrNone(fdToSend), false, nil
}

func (h *Handler) handleCreateDiskBuffer(body []byte) (any, []int, bool, error) {
	req, err := decode[common.CreateDiskBufferRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	id, payload, err := h.sess.Store.CreateDisk(req.Size, req.Path)
	if err != nil {
		return nil, nil, false, err
	}
	fdToSend := h.fdToSend(payload.ArenaFd)
	return common.CreateDiskBufferReply{
		Type:     common.CreateDiskBufferReplyType,
		ID:       id,
		Created:  payload,
		FdToSend: fdToSend,
	}, fdOrNone(fdToSend), false, nil
}

func (h *Handler) handleCreateBufferByPlasma(body []byte) (any, []int, bool, error) {
	req, err := decode[common.CreateBufferByPlasmaRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	payload, err := h.sess.Store.CreateByPlasma(req.PlasmaID, req.Size)
	if err != nil {
		return nil, nil, false, err
	}
	return common.CreateBufferByPlasmaReply{
		Type: common.CreateBufferByPlasmaReplyType,
		Created: types.PlasmaPayload{
			PlasmaID:   req.PlasmaID,
			DataSize:   payload.DataSize,
			StoreFd:    payload.StoreFd,
			MapSize:    payload.MapSize,
			DataOffset: payload.DataOffset,
			Pointer:    payload.Pointer,
			IsOwner:    payload.IsOwner,
			ArenaFd:    payload.ArenaFd,
		},
	}, fdOrNone(h.fdToSend(payload.ArenaFd)), false, nil
}

func (h *Handler) handleGetBuffers(body []byte) (any, []int, bool, error) {
	req, err := decode[common.GetBuffersRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	payloads, err := h.sess.Store.Get(req.IDs, req.Unsafe)
	if err != nil {
		return nil, nil, false, err
	}
	var fds []int
	for _, p := range payloads {
		if send := h.fdToSend(p.ArenaFd); send >= 0 {
			fds = append(fds, send)
		}
	}
	return common.GetBuffersReply{Type: common.GetBuffersReplyType, Payloads: payloads, FdsToSend: dedupInts(fds)}, dedupInts(fds), false, nil
}

func (h *Handler) handleGetBuffersByPlasma(body []byte) (any, []int, bool, error) {
	req, err := decode[common.GetBuffersByPlasmaRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	payloads, err := h.sess.Store.GetByPlasma(req.PlasmaIDs, req.Unsafe)
	if err != nil {
		return nil, nil, false, err
	}
	out := make([]types.PlasmaPayload, len(payloads))
	var fds []int
	for i, p := range payloads {
		out[i] = types.PlasmaPayload{
			PlasmaID: req.PlasmaIDs[i], DataSize: p.DataSize, StoreFd: p.StoreFd,
			MapSize: p.MapSize, DataOffset: p.DataOffset, Pointer: p.Pointer,
			IsSealed: p.IsSealed, IsSpilled: p.IsSpilled, IsOwner: p.IsOwner, RefCnt: p.RefCnt,
		}
		if send := h.fdToSend(p.ArenaFd); send >= 0 {
			fds = append(fds, send)
		}
	}
	return common.GetBuffersByPlasmaReply{Type: common.GetBuffersByPlasmaReplyType, Payloads: out, FdsToSend: dedupInts(fds)}, dedupInts(fds), false, nil
}

// handleGetRemoteBuffers writes the reply itself, followed immediately
// by every payload's raw bytes back-to-back, per §4.4's remote-buffer
// rule; no fds travel on this path.
func (h *Handler) handleGetRemoteBuffers(body []byte) (any, []int, bool, error) {
	req, err := decode[common.GetRemoteBuffersRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	payloads, err := h.sess.Store.Get(req.IDs, req.Unsafe)
	if err != nil {
		return nil, nil, false, err
	}

	if err := wire.WriteMessage(h.conn, common.GetRemoteBuffersReply{
		Type: common.GetRemoteBuffersReplyType, Payloads: payloads,
	}); err != nil {
		return nil, nil, true, err
	}
	for i, p := range payloads {
		data, err := h.sess.Store.Bytes(req.IDs[i])
		if err != nil {
			return nil, nil, true, err
		}
		if err := copyBulkBytes(h.conn, data[:p.DataSize]); err != nil {
			return nil, nil, true, err
		}
	}
	return nil, nil, true, nil
}

// handleCreateRemoteBuffer allocates, seals, and fills a payload with
// exactly Size bytes read inline off the socket; a short read is an
// IOError and the partial payload is deleted before replying.
func (h *Handler) handleCreateRemoteBuffer(body []byte) (any, []int, bool, error) {
	req, err := decode[common.CreateRemoteBufferRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	id, payload, err := h.sess.Store.Create(req.Size)
	if err != nil {
		return nil, nil, false, err
	}

	buf, err := h.sess.Store.Bytes(id)
	if err != nil {
		_ = h.sess.Store.OnDelete(id)
		return nil, nil, false, err
	}
	if _, err := io.ReadFull(h.conn, buf[:req.Size]); err != nil {
		_ = h.sess.Store.OnDelete(id)
		return nil, nil, false, common.Error(common.KIOError, err.Error())
	}
	if err := h.sess.Store.Seal(id); err != nil {
		_ = h.sess.Store.OnDelete(id)
		return nil, nil, false, err
	}
	payload.IsSealed = true
	return common.CreateRemoteBufferReply{Type: common.CreateRemoteBufferReplyType, ID: id, Created: payload}, nil, false, nil
}

func (h *Handler) handleDropBuffer(body []byte) (any, []int, bool, error) {
	req, err := decode[common.DropBufferRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Store.OnDelete(req.ID); err != nil {
		return nil, nil, false, err
	}
	return common.DropBufferReply{Type: common.DropBufferReplyType}, nil, false, nil
}

func (h *Handler) handleSeal(body []byte) (any, []int, bool, error) {
	req, err := decode[common.SealRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Store.Seal(req.ID); err != nil {
		return nil, nil, false, err
	}
	if err := h.sess.Store.AddDependency([]types.ObjectID{req.ID}, h.connID); err != nil {
		return nil, nil, false, err
	}
	return common.SealReply{Type: common.SealReplyType}, nil, false, nil
}

func (h *Handler) handlePlasmaSeal(body []byte) (any, []int, bool, error) {
	req, err := decode[common.PlasmaSealRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Store.SealByPlasma(req.PlasmaID); err != nil {
		return nil, nil, false, err
	}
	return common.PlasmaSealReply{Type: common.PlasmaSealReplyType}, nil, false, nil
}

func (h *Handler) handleRelease(body []byte) (any, []int, bool, error) {
	req, err := decode[common.ReleaseRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Store.Release(req.ID, h.connID); err != nil {
		return nil, nil, false, err
	}
	return common.ReleaseReply{Type: common.ReleaseReplyType}, nil, false, nil
}

func (h *Handler) handlePlasmaRelease(body []byte) (any, []int, bool, error) {
	req, err := decode[common.PlasmaReleaseRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Store.ReleaseByPlasma(req.PlasmaID, h.connID); err != nil {
		return nil, nil, false, err
	}
	return common.PlasmaReleaseReply{Type: common.PlasmaReleaseReplyType}, nil, false, nil
}

func (h *Handler) handlePlasmaDelData(body []byte) (any, []int, bool, error) {
	req, err := decode[common.PlasmaDelDataRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Store.DeleteByPlasma(req.PlasmaID); err != nil {
		return nil, nil, false, err
	}
	return common.PlasmaDelDataReply{Type: common.PlasmaDelDataReplyType}, nil, false, nil
}

func (h *Handler) handleIncreaseRefCount(body []byte) (any, []int, bool, error) {
	req, err := decode[common.IncreaseRefCountRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Store.AddDependency(req.IDs, h.connID); err != nil {
		return nil, nil, false, err
	}
	return common.IncreaseRefCountReply{Type: common.IncreaseRefCountReplyType}, nil, false, nil
}

func (h *Handler) handleIsInUse(body []byte) (any, []int, bool, error) {
	req, err := decode[common.IsInUseRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	inUse, err := h.sess.Store.IsInUse(req.ID)
	if err != nil {
		return nil, nil, false, err
	}
	return common.IsInUseReply{Type: common.IsInUseReplyType, InUse: inUse}, nil, false, nil
}

func (h *Handler) handleIsSpilled(body []byte) (any, []int, bool, error) {
	req, err := decode[common.IsSpilledRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	spilled, err := h.sess.Store.IsSpilled(req.ID)
	if err != nil {
		return nil, nil, false, err
	}
	return common.IsSpilledReply{Type: common.IsSpilledReplyType, Spilled: spilled}, nil, false, nil
}

func (h *Handler) handleExists(body []byte) (any, []int, bool, error) {
	req, err := decode[common.ExistsRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	return common.ExistsReply{Type: common.ExistsReplyType, Exists: h.sess.Store.Exists(req.ID)}, nil, false, nil
}

func fdOrNone(fd int) []int {
	if fd < 0 {
		return nil
	}
	return []int{fd}
}

func dedupInts(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
