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
	"io"
	"net"
	"strconv"
	"strings"

	vio "github.com/vineyard-go/vineyard/pkg/client/io"
	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/wire"
)

// RPCClient is the remote transport: no fd passing, no mmap, every
// buffer's bytes travel inline on the TCP connection right after its
// framed reply.
type RPCClient struct {
	*ClientBase
	remoteInstanceID types.InstanceID
}

// NewRPCClient dials rpcEndpoint ("host:port", a blank port falling
// back to the daemon's default) and registers.
func NewRPCClient(rpcEndpoint string) (*RPCClient, error) {
	host, port := GetDefaultRPCHostAndPort()
	if parts := strings.SplitN(rpcEndpoint, ":", 2); len(parts) == 2 {
		host = parts[0]
		if p, err := strconv.Atoi(parts[1]); err == nil {
			port = uint16(p)
		}
	} else if rpcEndpoint != "" {
		host = rpcEndpoint
	}

	var conn net.Conn
	if err := vio.ConnectRPCSocketRetry(host, port, &conn); err != nil {
		return nil, err
	}

	c := &RPCClient{ClientBase: newClientBase(true)}
	c.conn = conn
	c.connected = true
	c.RPCEndpoint = rpcEndpoint

	var reply common.RegisterReply
	req := common.RegisterRequest{Type: common.RegisterRequestType, Version: common.VINEYARD_VERSION_STRING}
	if err := c.doRequestLocked(req, &reply); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.IPCSocket = reply.IPCSocket
	c.InstanceID = types.UnspecifiedInstanceID()
	c.SessionID = reply.SessionID
	c.serverVersion = reply.Version
	c.remoteInstanceID = reply.InstanceID
	return c, nil
}

// RemoteInstanceID is the daemon instance this client registered
// against, as opposed to InstanceID which an RPC client deliberately
// leaves unspecified (it has no local arena of its own).
func (c *RPCClient) RemoteInstanceID() types.InstanceID {
	return c.remoteInstanceID
}

// CreateRemoteBuffer allocates a buffer of len(data) bytes and writes
// data into it inline.
func (c *RPCClient) CreateRemoteBuffer(data []byte) (types.ObjectID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return types.InvalidObjectID(), NOT_CONNECTED_ERR
	}
	req := common.CreateRemoteBufferRequest{Type: common.CreateRemoteBufferRequestType, Size: uint64(len(data))}
	if err := wire.WriteMessage(c.conn, req); err != nil {
		c.connected = false
		return types.InvalidObjectID(), err
	}
	if _, err := c.conn.Write(data); err != nil {
		c.connected = false
		return types.InvalidObjectID(), err
	}
	var reply common.CreateRemoteBufferReply
	if err := c.readReplyLocked(&reply); err != nil {
		return types.InvalidObjectID(), err
	}
	c.acquireCreated(reply.ID, types.Payload{ObjectID: reply.ID, DataSize: uint64(len(data)), IsSealed: true})
	return reply.ID, nil
}

// GetRemoteBuffers fetches one or more sealed buffers' bytes inline,
// in the same order as ids.
func (c *RPCClient) GetRemoteBuffers(ids []types.ObjectID, unsafe bool) (map[types.ObjectID][]byte, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, NOT_CONNECTED_ERR
	}
	req := common.GetRemoteBuffersRequest{Type: common.GetRemoteBuffersRequestType, IDs: ids, Unsafe: unsafe}
	if err := wire.WriteMessage(c.conn, req); err != nil {
		c.connected = false
		c.mu.Unlock()
		return nil, err
	}
	var reply common.GetRemoteBuffersReply
	if err := c.readReplyLocked(&reply); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	out := make(map[types.ObjectID][]byte, len(reply.Payloads))
	for i, p := range reply.Payloads {
		buf := make([]byte, p.DataSize)
		if p.DataSize > 0 {
			if _, err := io.ReadFull(c.conn, buf); err != nil {
				c.connected = false
				c.mu.Unlock()
				return nil, err
			}
		}
		out[ids[i]] = buf
	}
	c.mu.Unlock()

	// acquire issues increase_reference_count itself, which takes c.mu
	// again -- it must run unlocked.
	if err := c.acquire(ids, reply.Payloads); err != nil {
		return out, err
	}
	return out, nil
}

// readReplyLocked reads one frame and either decodes it into reply or
// surfaces it as the error envelope it turns out to be. c.mu must
// already be held by the caller.
func (c *RPCClient) readReplyLocked(reply any) error {
	body, err := wire.ReadFrame(c.conn)
	if err != nil {
		c.connected = false
		return err
	}
	var envelope common.ErrorEnvelope
	if err := wire.Decode(body, &envelope); err == nil && envelope.Code != common.KOK && envelope.Message != "" {
		return common.Error(envelope.Code, envelope.Message)
	}
	return wire.Decode(body, reply)
}

func (c *RPCClient) GetClusterInfo() (map[types.InstanceID]map[string]any, error) {
	return c.GetClusterMeta()
}
