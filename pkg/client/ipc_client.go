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
	"net"

	"github.com/pkg/errors"

	"github.com/vineyard-go/vineyard/pkg/client/io"
	"github.com/vineyard-go/vineyard/pkg/client/mmap"
	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/memory"
	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/wire"
)

// IPCClient is the zero-copy transport: buffer bytes arrive as an
// mmap'd shared region, handed over once per store_fd via SCM_RIGHTS,
// never copied across the socket itself.
type IPCClient struct {
	*ClientBase
	segments *mmap.SegmentTable
}

// NewIPCClient dials ipcSocket, registers, and returns a ready client.
func NewIPCClient(ipcSocket string) (*IPCClient, error) {
	var conn *net.UnixConn
	if err := io.ConnectIPCSocketRetry(ipcSocket, &conn); err != nil {
		return nil, errors.Wrap(err, "client: connect ipc socket")
	}

	c := &IPCClient{
		ClientBase: newClientBase(false),
		segments:   mmap.NewSegmentTable(),
	}
	c.conn = conn
	c.connected = true
	c.IPCSocket = ipcSocket

	var reply common.RegisterReply
	req := common.RegisterRequest{Type: common.RegisterRequestType, Version: common.VINEYARD_VERSION_STRING}
	if err := c.doRequestLocked(req, &reply); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "client: register")
	}
	c.InstanceID = reply.InstanceID
	c.SessionID = reply.SessionID
	c.RPCEndpoint = reply.RPCEndpoint
	c.serverVersion = reply.Version
	if c.serverVersion == "" {
		c.serverVersion = common.DefaultServerVersion
	}
	return c, nil
}

// CreateBuffer allocates size bytes in shared memory and returns the
// new buffer's id together with a byte slice mapping straight onto the
// server's arena -- writes the caller makes into it are visible to the
// server without another system call.
func (c *IPCClient) CreateBuffer(size uint64) (id types.ObjectID, data []byte, err error) {
	var reply common.CreateBufferReply
	req := common.CreateBufferRequest{Type: common.CreateBufferRequestType, Size: size}
	if err = c.doRequest(req, &reply); err != nil {
		return types.InvalidObjectID(), nil, err
	}
	data, err = c.mapPayload(reply.Created, reply.FdToSend, false)
	if err != nil {
		return types.InvalidObjectID(), nil, err
	}
	c.acquireCreated(reply.ID, reply.Created)
	return reply.ID, data, nil
}

// CreateDiskBuffer is CreateBuffer for a payload the server has chosen
// to back with a file at path instead of anonymous shared memory.
func (c *IPCClient) CreateDiskBuffer(size uint64, path string) (id types.ObjectID, data []byte, err error) {
	var reply common.CreateDiskBufferReply
	req := common.CreateDiskBufferRequest{Type: common.CreateDiskBufferRequestType, Size: size, Path: path}
	if err = c.doRequest(req, &reply); err != nil {
		return types.InvalidObjectID(), nil, err
	}
	data, err = c.mapPayload(reply.Created, reply.FdToSend, false)
	if err != nil {
		return types.InvalidObjectID(), nil, err
	}
	c.acquireCreated(reply.ID, reply.Created)
	return reply.ID, data, nil
}

// GetBuffers maps and returns the bytes of every requested, already
// sealed buffer. unsafe permits reading a buffer that hasn't been
// sealed yet (the writer's own early peek at its own buffer). Per
// §4.3/§7 the fds this client is about to receive are cross-checked
// against the count the server announced in FdsToSend before anything
// is mapped: a mismatch here means the two ends have disagreed about
// which store_fds are already known to this connection, and mapping
// anyway would desync the ancillary-fd stream for every request after
// this one.
func (c *IPCClient) GetBuffers(ids []types.ObjectID, unsafe bool) (map[types.ObjectID][]byte, error) {
	var reply common.GetBuffersReply
	req := common.GetBuffersRequest{Type: common.GetBuffersRequestType, IDs: ids, Unsafe: unsafe}
	if err := c.doRequest(req, &reply); err != nil {
		return nil, err
	}

	expected := c.expectedFdCount(reply.Payloads)
	if expected != len(reply.FdsToSend) {
		diag, _ := wire.Encode(map[string]any{
			"expected": expected,
			"fds_to_send": reply.FdsToSend,
		})
		return nil, common.Error(common.KInvalid,
			fmt.Sprintf("fd count mismatch: client expected %d new fds, server announced %d; diagnostic=%s",
				expected, len(reply.FdsToSend), string(diag)))
	}

	out := make(map[types.ObjectID][]byte, len(reply.Payloads))
	for i, p := range reply.Payloads {
		data, err := c.mapPayload(p, 0, true)
		if err != nil {
			return nil, err
		}
		out[ids[i]] = data
	}
	if err := c.acquire(ids, reply.Payloads); err != nil {
		return out, err
	}
	return out, nil
}

// expectedFdCount is this client's own count of how many of payloads'
// store_fds it hasn't mapped yet -- the independent half of the §4.3
// cross-check, computed without trusting anything the reply says.
func (c *IPCClient) expectedFdCount(payloads []types.Payload) int {
	seen := make(map[int]struct{})
	count := 0
	for _, p := range payloads {
		if p.DataSize == 0 || c.segments.Exists(p.StoreFd) {
			continue
		}
		if _, ok := seen[p.StoreFd]; ok {
			continue
		}
		seen[p.StoreFd] = struct{}{}
		count++
	}
	return count
}

// mapPayload resolves p's bytes to a local slice, receiving and mapping
// a fresh fd if this is the first time this client has seen p's
// store_fd, or reusing the cached mapping otherwise.
func (c *IPCClient) mapPayload(p types.Payload, fdHint int, expectFd bool) ([]byte, error) {
	if p.DataSize == 0 {
		return nil, nil
	}
	if !c.segments.Exists(p.StoreFd) {
		fd, err := c.recvFd()
		if err != nil {
			return nil, errors.Wrap(err, "client: receive buffer fd")
		}
		if _, err := c.segments.PreMmap(p.StoreFd, fd, p.MapSize, p.IsSealed); err != nil {
			return nil, err
		}
	}
	data, err := c.segments.Bytes(p.StoreFd, p.DataOffset, p.DataSize)
	if err != nil {
		return nil, err
	}
	c.segments.RegisterInterval(data, p.ObjectID)
	return data, nil
}

// recvFd reads one ancillary fd off the Unix socket; the connection
// handler sends exactly one per not-yet-seen store_fd, immediately
// after the framed reply that named it.
func (c *IPCClient) recvFd() (int, error) {
	unix, ok := c.conn.(*net.UnixConn)
	if !ok {
		return -1, errors.New("client: not a unix socket connection")
	}
	rc, err := unix.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	var recvErr error
	ctrlErr := rc.Control(func(raw uintptr) {
		fd, recvErr = memory.RecvFileDescriptor(int(raw))
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, recvErr
}

// LocatePointer answers whether a raw address somewhere in this
// process is inside a payload this client has already mapped,
// returning that payload's id if so -- the republish-without-copy
// check described in §3/§9: a caller holding a raw pointer it
// obtained some other way can ask whether it is already a known blob
// before allocating a fresh one.
func (c *IPCClient) LocatePointer(pointer uintptr) (types.ObjectID, bool) {
	return c.segments.Locate(pointer)
}

// Disconnect releases every local mapping before closing the socket.
func (c *IPCClient) Disconnect() error {
	_ = c.segments.Close()
	return c.ClientBase.Disconnect()
}

// NewSession asks the daemon to spin up an independent session and
// returns the socket path a follow-up NewIPCClient call should dial.
func (c *IPCClient) NewSession(storeType string) (sessionID types.SessionID, socketPath string, err error) {
	var reply common.NewSessionReply
	req := common.NewSessionRequest{Type: common.NewSessionRequestType, StoreType: storeType}
	if err = c.doRequest(req, &reply); err != nil {
		return 0, "", err
	}
	return reply.SessionID, reply.SocketPath, nil
}

func (c *IPCClient) DeleteSession(sessionID types.SessionID) error {
	var reply common.DeleteSessionReply
	req := common.DeleteSessionRequest{Type: common.DeleteSessionRequestType, SessionID: sessionID}
	return c.doRequest(req, &reply)
}

func (c *IPCClient) MoveBuffersOwnership(mapping map[types.ObjectID]types.ObjectID, sourceSessionID types.SessionID) error {
	var reply common.MoveBuffersOwnershipReply
	req := common.MoveBuffersOwnershipRequest{
		Type: common.MoveBuffersOwnershipRequestType, Mapping: mapping, SourceSessionID: sourceSessionID,
	}
	return c.doRequest(req, &reply)
}
