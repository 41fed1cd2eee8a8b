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

// Package ipc is the socket connection handler (C4): one goroutine per
// client, reading a framed message, dispatching by command, writing a
// reply and, where the command demands it, an arena fd as ancillary
// data right after. A goroutine-per-connection is this rewrite's
// idiomatic stand-in for "a single event loop or small pool of
// equivalent loops" -- each connection's own goroutine already gives
// the sequential, non-preemptible read-dispatch-write lifecycle §5
// requires, and the bulk store's own locking serializes access across
// connections the way the event loop would.
package ipc

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/log"
	"github.com/vineyard-go/vineyard/pkg/common/memory"
	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/server/bulkstore"
	"github.com/vineyard-go/vineyard/pkg/server/session"
	"github.com/vineyard-go/vineyard/pkg/wire"
)

var connCounter int64

// Handler owns one client connection's lifetime. It holds no pointer
// back to the listener; Serve is the entire lifecycle.
type Handler struct {
	conn    net.Conn
	sess    *session.Session
	connID  bulkstore.ConnID
	sentFds mapset.Set[int]
	streams mapset.Set[types.ObjectID]

	ctx    context.Context
	cancel context.CancelFunc

	remote bool // true for RPC (TCP): no ancillary fds, inline bytes instead

	info   RegInfo
	runner *session.Runner
}

// RegInfo is the daemon-wide identity a register_reply echoes back to
// every client, regardless of which session or transport it connects
// through.
type RegInfo struct {
	InstanceID  types.InstanceID
	RPCEndpoint string
}

// New wraps conn for sess. remote distinguishes the RPC transport
// (inline bulk bytes, no fd passing) from IPC (unix socket, fds).
// runner is consulted only by new_session/delete_session/
// move_buffers_ownership, which reach across sessions.
func New(conn net.Conn, sess *session.Session, remote bool, info RegInfo, runner *session.Runner) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		conn:    conn,
		sess:    sess,
		connID:  bulkstore.ConnID(atomic.AddInt64(&connCounter, 1)),
		sentFds: mapset.NewThreadUnsafeSet[int](),
		streams: mapset.NewThreadUnsafeSet[types.ObjectID](),
		ctx:     ctx,
		cancel:  cancel,
		remote:  remote,
		info:    info,
		runner:  runner,
	}
}

// Serve runs the read-dispatch-write loop until reading a frame fails
// (including the connection being closed), a frame is malformed, a
// write fails, or the client sends exit_request.
func (h *Handler) Serve() {
	logger := log.WithName("ipc").WithValues("conn", h.connID)
	defer h.cleanup(logger)

	for {
		body, err := wire.ReadFrame(h.conn)
		if err != nil {
			if err != io.EOF {
				logger.Error(err, "read frame failed")
			}
			return
		}

		var probe common.TypeProbe
		if err := wire.Decode(body, &probe); err != nil {
			logger.Error(err, "malformed frame, closing connection")
			return
		}

		if probe.Type == common.ExitRequestType {
			return
		}

		reply, fds, handled, err := h.dispatch(probe.Type, body)
		if err != nil {
			env := common.AsStatus(err)
			if writeErr := wire.WriteMessage(h.conn, common.ErrorEnvelope{Code: env.Code, Message: env.Message}); writeErr != nil {
				logger.Error(writeErr, "write error envelope failed")
				return
			}
			continue
		}
		if handled {
			continue
		}

		if err := wire.WriteMessage(h.conn, reply); err != nil {
			logger.Error(err, "write reply failed")
			return
		}
		if !h.remote {
			h.sendFds(logger, fds)
		}
	}
}

func (h *Handler) sendFds(logger log.Logger, fds []int) {
	unix, ok := h.conn.(*net.UnixConn)
	if !ok {
		return
	}
	for _, fd := range fds {
		if h.sentFds.Contains(fd) {
			continue
		}
		rc, err := unix.SyscallConn()
		if err != nil {
			logger.Error(err, "syscall conn unavailable")
			return
		}
		var sendErr error
		ctrlErr := rc.Control(func(raw uintptr) {
			sendErr = memory.SendFileDescriptor(int(raw), fd)
		})
		if ctrlErr != nil || sendErr != nil {
			logger.Error(sendErr, "send fd failed", "fd", fd)
			return
		}
		h.sentFds.Add(fd)
	}
}

// fdToSend returns fd unless it has already been sent on this
// connection, in which case it returns -1 (the wire convention for "no
// fd follows"), implementing the fd-dedup scenario from §8.
func (h *Handler) fdToSend(fd int) int {
	if h.sentFds.Contains(fd) {
		return -1
	}
	return fd
}

func (h *Handler) cleanup(logger log.Logger) {
	h.cancel()
	h.sess.Store.ReleaseConnection(h.connID)
	for _, id := range h.streams.ToSlice() {
		_ = h.sess.Stream.Drop(id)
	}
	_ = h.conn.Close()
	logger.Info("connection closed")
}

// copyBulkBytes is used by get_remote_buffers/create_remote_buffer to
// stream payload bytes inline on the RPC control channel, back-to-back
// with no framing of their own.
func copyBulkBytes(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}
