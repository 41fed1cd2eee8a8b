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
	"net"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	sysunix "golang.org/x/sys/unix"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/memory"
	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/wire"
)

// fakeIPCServer is a single-connection stand-in for the real daemon,
// just enough of the handshake and buffer path for IPCClient's own
// logic -- register, create_buffer (with a real memfd sent over
// SCM_RIGHTS), get_buffers reusing that same fd -- to be exercised
// without spinning up the whole session/bulkstore stack.
func fakeIPCServer(t *testing.T, socketPath string) {
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		unix := conn.(*net.UnixConn)
		defer unix.Close()

		fd, err := sysunix.MemfdCreate("test-arena", 0)
		if err != nil {
			return
		}
		const regionSize = 4096
		_ = syscall.Ftruncate(fd, regionSize)
		fdSent := false

		for {
			body, err := wire.ReadFrame(unix)
			if err != nil {
				return
			}
			var probe common.TypeProbe
			_ = wire.Decode(body, &probe)

			switch probe.Type {
			case common.RegisterRequestType:
				_ = wire.WriteMessage(unix, common.RegisterReply{
					Type: common.RegisterReplyType, InstanceID: 7, SessionID: 0, Version: "9.9.9",
				})
			case common.CreateBufferRequestType:
				req, _ := decodeBody[common.CreateBufferRequest](body)
				payload := types.Payload{
					ObjectID: types.NewBlobID(1), DataSize: req.Size, StoreFd: fd,
					MapSize: regionSize, DataOffset: 0, IsSealed: false, IsOwner: true,
				}
				fdToSend := -1
				if !fdSent {
					fdToSend = fd
				}
				_ = wire.WriteMessage(unix, common.CreateBufferReply{
					Type: common.CreateBufferReplyType, ID: payload.ObjectID, Created: payload, FdToSend: fdToSend,
				})
				if !fdSent {
					rc, _ := unix.SyscallConn()
					_ = rc.Control(func(raw uintptr) {
						_ = memory.SendFileDescriptor(int(raw), fd)
					})
					fdSent = true
				}
			case common.GetBuffersRequestType:
				req, _ := decodeBody[common.GetBuffersRequest](body)
				payloads := make([]types.Payload, len(req.IDs))
				for i, id := range req.IDs {
					payloads[i] = types.Payload{
						ObjectID: id, DataSize: 16, StoreFd: fd, MapSize: regionSize,
						DataOffset: 0, IsSealed: true, IsOwner: true,
					}
				}
				_ = wire.WriteMessage(unix, common.GetBuffersReply{Type: common.GetBuffersReplyType, Payloads: payloads})
			case common.ExitRequestType:
				return
			default:
				_ = wire.WriteMessage(unix, common.ErrorEnvelope{Code: common.KNotImplemented, Message: "unhandled in fake server"})
			}
		}
	}()
}

func decodeBody[T any](body []byte) (T, error) {
	var v T
	err := wire.Decode(body, &v)
	return v, err
}

func TestIPCClientConnectAndCreateBuffer(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "vineyard.sock")
	fakeIPCServer(t, socketPath)

	c, err := NewIPCClient(socketPath)
	require.NoError(t, err)
	defer c.Disconnect()
	require.EqualValues(t, 7, c.InstanceID)

	id, data, err := c.CreateBuffer(16)
	require.NoError(t, err)
	require.Len(t, data, 16)
	for i := range data {
		data[i] = byte(i)
	}

	got, err := c.GetBuffers([]types.ObjectID{id}, true)
	require.NoError(t, err)
	require.Equal(t, data, got[id])
}
