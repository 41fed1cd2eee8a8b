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

func (h *Handler) handlePutName(body []byte) (any, []int, bool, error) {
	req, err := decode[common.PutNameRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Names.Put(req.Name, req.ID); err != nil {
		return nil, nil, false, err
	}
	return common.PutNameReply{Type: common.PutNameReplyType}, nil, false, nil
}

// handleGetName may block inside names.Registry.GetWait until a
// matching put_name arrives or the connection's context is cancelled
// (e.g. the client disconnected), satisfying the deferred-get scenario.
func (h *Handler) handleGetName(body []byte) (any, []int, bool, error) {
	req, err := decode[common.GetNameRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	id, err := h.sess.Names.GetWait(h.ctx, req.Name, req.Wait)
	if err != nil {
		return nil, nil, false, err
	}
	return common.GetNameReply{Type: common.GetNameReplyType, ID: id}, nil, false, nil
}

func (h *Handler) handleDropName(body []byte) (any, []int, bool, error) {
	req, err := decode[common.DropNameRequest](body)
	if err != nil {
		return nil, nil, false, common.Error(common.KInvalid, err.Error())
	}
	if err := h.sess.Names.Drop(req.Name); err != nil {
		return nil, nil, false, err
	}
	return common.DropNameReply{Type: common.DropNameReplyType}, nil, false, nil
}
