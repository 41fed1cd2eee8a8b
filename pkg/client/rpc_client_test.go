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
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/wire"
)

// fakeRPCServer is a single-connection stand-in for the daemon's TCP
// listener: register, create_remote_buffer (read the body inline right
// after the framed request), get_remote_buffers (write it back inline
// right after the framed reply) -- no fd passing, nothing mmap'd.
func fakeRPCServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	stored := make(map[types.ObjectID][]byte)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			body, err := wire.ReadFrame(conn)
			if err != nil {
				return
			}
			var probe common.TypeProbe
			_ = wire.Decode(body, &probe)

			switch probe.Type {
			case common.RegisterRequestType:
				_ = wire.WriteMessage(conn, common.RegisterReply{
					Type: common.RegisterReplyType, InstanceID: 3, SessionID: 0,
					Version: "9.9.9", IPCSocket: "/tmp/fake.sock",
				})
			case common.CreateRemoteBufferRequestType:
				req, _ := decodeBody[common.CreateRemoteBufferRequest](body)
				data := make([]byte, req.Size)
				if req.Size > 0 {
					if _, err := io.ReadFull(conn, data); err != nil {
						return
					}
				}
				id := types.NewBlobID(uint64(len(stored) + 1))
				stored[id] = data
				_ = wire.WriteMessage(conn, common.CreateRemoteBufferReply{
					Type: common.CreateRemoteBufferReplyType, ID: id,
				})
			case common.GetRemoteBuffersRequestType:
				req, _ := decodeBody[common.GetRemoteBuffersRequest](body)
				payloads := make([]types.Payload, len(req.IDs))
				for i, id := range req.IDs {
					payloads[i] = types.Payload{ObjectID: id, DataSize: uint64(len(stored[id])), IsSealed: true}
				}
				_ = wire.WriteMessage(conn, common.GetRemoteBuffersReply{
					Type: common.GetRemoteBuffersReplyType, Payloads: payloads,
				})
				for _, id := range req.IDs {
					if _, err := conn.Write(stored[id]); err != nil {
						return
					}
				}
			case common.ExitRequestType:
				return
			default:
				_ = wire.WriteMessage(conn, common.ErrorEnvelope{Code: common.KNotImplemented, Message: "unhandled in fake server"})
			}
		}
	}()

	return ln.Addr().String()
}

func TestRPCClientCreateAndGetRemoteBuffer(t *testing.T) {
	endpoint := fakeRPCServer(t)

	c, err := NewRPCClient(endpoint)
	require.NoError(t, err)
	defer c.Disconnect()
	require.EqualValues(t, 3, c.RemoteInstanceID())
	require.Equal(t, types.UnspecifiedInstanceID(), c.InstanceID)

	want := []byte("hello vineyard")
	id, err := c.CreateRemoteBuffer(want)
	require.NoError(t, err)

	got, err := c.GetRemoteBuffers([]types.ObjectID{id}, true)
	require.NoError(t, err)
	require.Equal(t, want, got[id])
}

func TestGetDefaultRPCHostAndPort(t *testing.T) {
	host, port := GetDefaultRPCHostAndPort()
	require.Equal(t, fmt.Sprintf("%s:%d", host, port), fmt.Sprintf("%s:%d", "127.0.0.1", 9600))
}
