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
)

func (h *Handler) handleCreateStream(body []byte) (any, []int, bool, error) {
	req, err := decode[common.CreateStreamRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Stream.Create(req.ID); err != nil {
		return nil, nil, false, err
	}
	return common.CreateStreamReply{Type: common.CreateStreamReplyType}, nil, false, nil
}

func (h *Handler) handleOpenStream(body []byte) (any, []int, bool, error) {
	req, err := decode[common.OpenStreamRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Stream.Open(req.ID, req.AsWriter); err != nil {
		return nil, nil, false, err
	}
	h.streams.Add(req.ID)
	return common.OpenStreamReply{Type: common.OpenStreamReplyType}, nil, false, nil
}

func (h *Handler) handleGetNextStreamChunk(body []byte) (any, []int, bool, error) {
	req, err := decode[common.GetNextStreamChunkRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	_, payload, err := h.sess.Stream.NextChunk(req.Size)
	if err != nil {
		return nil, nil, false, err
	}
	return common.GetNextStreamChunkReply{Type: common.GetNextStreamChunkReplyType, Chunk: payload}, fdOrNone(h.fdToSend(payload.ArenaFd)), false, nil
}

func (h *Handler) handlePushNextStreamChunk(body []byte) (any, []int, bool, error) {
	req, err := decode[common.PushNextStreamChunkRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Stream.PushChunk(req.ID, req.ChunkID); err != nil {
		return nil, nil, false, err
	}
	return common.PushNextStreamChunkReply{Type: common.PushNextStreamChunkReplyType}, nil, false, nil
}

func (h *Handler) handlePullNextStreamChunk(body []byte) (any, []int, bool, error) {
	req, err := decode[common.PullNextStreamChunkRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	chunkID, err := h.sess.Stream.PullChunk(h.ctx, req.ID)
	if err != nil {
		return nil, nil, false, err
	}
	payloads, err := h.sess.Store.Get([]uint64{chunkID}, true)
	if err != nil {
		return nil, nil, false, err
	}
	return common.PullNextStreamChunkReply{Type: common.PullNextStreamChunkReplyType, Chunk: payloads[0]}, fdOrNone(h.fdToSend(payloads[0].ArenaFd)), false, nil
}

func (h *Handler) handleStopStream(body []byte) (any, []int, bool, error) {
	req, err := decode[common.StopStreamRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Stream.Stop(req.ID, req.Abort); err != nil {
		return nil, nil, false, err
	}
	return common.StopStreamReply{Type: common.StopStreamReplyType}, nil, false, nil
}
