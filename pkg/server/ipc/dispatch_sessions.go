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
	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/server/mover"
	"github.com/vineyard-go/vineyard/pkg/server/session"
)

func (h *Handler) handleNewSession(body []byte) (any, []int, bool, error) {
	req, err := decode[common.NewSessionRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if h.runner == nil {
		return nil, nil, false, common.Error(common.KInvalid, "session creation unavailable on this connection")
	}
	storeType := session.Default
	if req.StoreType == string(session.Plasma) {
		storeType = session.Plasma
	}
	sess, err := h.runner.CreateNewSession(storeType)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	return common.NewSessionReply{
		Type:       common.NewSessionReplyType,
		SessionID:  sess.ID,
		SocketPath: sess.SocketPath,
	}, nil, false, nil
}

func (h *Handler) handleDeleteSession(body []byte) (any, []int, bool, error) {
	req, err := decode[common.DeleteSessionRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if h.runner == nil {
		return nil, nil, false, common.Error(common.KInvalid, "session deletion unavailable on this connection")
	}
	if err := h.runner.Delete(req.SessionID); err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	return common.DeleteSessionReply{Type: common.DeleteSessionReplyType}, nil, false, nil
}

func (h *Handler) handleMoveBuffersOwnership(body []byte) (any, []int, bool, error) {
	req, err := decode[common.MoveBuffersOwnershipRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if h.runner == nil {
		return nil, nil, false, common.Error(common.KInvalid, "ownership moves unavailable on this connection")
	}
	source, err := h.runner.Get(req.SourceSessionID)
	if err != nil {
		return nil, nil, false, common.Error(common.KObjectNotExists, err.Error())
	}
	if _, err := mover.MoveBuffersOwnership(req.Mapping, source.Store, h.sess.Store); err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	return common.MoveBuffersOwnershipReply{Type: common.MoveBuffersOwnershipReplyType}, nil, false, nil
}

func (h *Handler) handleMakeArena(body []byte) (any, []int, bool, error) {
	req, err := decode[common.MakeArenaRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	fd, err := h.sess.Store.MakeArena(req.Size)
	if err != nil {
		return nil, nil, false, common.Error(common.KNotEnoughMemory, err.Error())
	}
	fdToSend := h.fdToSend(fd)
	return common.MakeArenaReply{Type: common.MakeArenaReplyType, ID: fd, Size: req.Size, FdToSend: fdToSend}, fdOrNone(fdToSend), false, nil
}

func (h *Handler) handleFinalizeArena(body []byte) (any, []int, bool, error) {
	req, err := decode[common.FinalizeArenaRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if _, _, err := h.sess.Store.FinalizeArena(req.Fd, req.Offsets, req.Sizes); err != nil {
		return nil, nil, false, err
	}
	return common.FinalizeArenaReply{Type: common.FinalizeArenaReplyType}, nil, false, nil
}
