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

// Package client is the vineyard client library: IPCClient talks to the
// daemon's Unix-domain socket and receives buffer memory by fd, while
// RPCClient talks to its TCP endpoint and receives buffer memory inline.
// Both embed ClientBase, which owns the framed request/reply plumbing
// and every operation that doesn't care which transport carries it
// (data/name/persist/cluster).
package client

import (
	"net"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/pkg/errors"

	"github.com/vineyard-go/vineyard/pkg/client/usage"
	"github.com/vineyard-go/vineyard/pkg/common"
	"github.com/vineyard-go/vineyard/pkg/common/log"
	"github.com/vineyard-go/vineyard/pkg/common/types"
	"github.com/vineyard-go/vineyard/pkg/wire"
)

// NOT_CONNECTED_ERR is returned by every operation attempted before
// Connect or after Disconnect.
var NOT_CONNECTED_ERR = common.NotConnected()

// GetDefaultRPCHostAndPort matches the daemon's rpc_socket_port default
// (see pkg/server/config), so a caller that omits a port still reaches
// a vineyardd started with default configuration.
func GetDefaultRPCHostAndPort() (string, uint16) {
	return "127.0.0.1", 9600
}

// metaCacheSize is conservative: it holds raw get_data JSON blobs keyed
// by object id, never buffer bytes, so even a modest cache absorbs a
// lot of repeated composite-object lookups.
const metaCacheSize = 32 << 20

// ClientBase is the shared half of IPCClient/RPCClient: one open
// connection, the registration info the server handed back, and every
// request that is just a framed round trip with no transport-specific
// payload attached.
type ClientBase struct {
	mu        sync.Mutex
	conn      net.Conn
	connected bool
	remote    bool

	IPCSocket     string
	RPCEndpoint   string
	InstanceID    types.InstanceID
	SessionID     types.SessionID
	serverVersion string

	Usage *usage.Table

	metaCache *fastcache.Cache
}

func newClientBase(remote bool) *ClientBase {
	c := &ClientBase{
		remote:    remote,
		Usage:     usage.NewTable(),
		metaCache: fastcache.New(metaCacheSize),
	}
	// The table's zero-transition is the only place a release_request
	// is ever issued (§4.6/C6): as long as any local value still holds
	// id, this client keeps quiet about it on the wire.
	c.Usage.OnRelease(func(id types.ObjectID) {
		var reply common.ReleaseReply
		if err := c.doRequest(common.ReleaseRequest{Type: common.ReleaseRequestType, ID: id}, &reply); err != nil {
			log.WithName("client").Error(err, "release upcall failed", "id", types.ObjectIDToString(id))
		}
	})
	return c
}

// acquire registers a local use of each id/payload pair and, for every
// id this client hasn't already seen, bumps the server's reference
// count in a single batched request -- the creator's own first use
// never needs this (the create itself already establishes ref=1), but
// every later fetch by this or any other local value does.
func (c *ClientBase) acquire(ids []types.ObjectID, payloads []types.Payload) error {
	var firstUses []types.ObjectID
	for i, id := range ids {
		if _, firstUse := c.Usage.AddUsage(id, payloads[i]); firstUse {
			firstUses = append(firstUses, id)
		}
	}
	if len(firstUses) == 0 {
		return nil
	}
	return c.IncreaseRefCount(firstUses)
}

// acquireCreated registers the creator's own first local use of id.
// Create+Seal already establishes ref=1 on the server, so unlike
// acquire this never needs an increase_reference_count round trip.
func (c *ClientBase) acquireCreated(id types.ObjectID, payload types.Payload) {
	c.Usage.AddUsage(id, payload)
}

// doRequest writes req as one frame and decodes the reply into reply,
// translating a {code,message} error envelope into a *common.Status.
func (c *ClientBase) doRequest(req, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doRequestLocked(req, reply)
}

func (c *ClientBase) doRequestLocked(req, reply any) error {
	if !c.connected {
		return NOT_CONNECTED_ERR
	}
	if err := wire.WriteMessage(c.conn, req); err != nil {
		c.connected = false
		return errors.Wrap(err, "client: write request")
	}
	body, err := wire.ReadFrame(c.conn)
	if err != nil {
		c.connected = false
		return errors.Wrap(err, "client: read reply")
	}
	var envelope common.ErrorEnvelope
	if err := wire.Decode(body, &envelope); err == nil && envelope.Code != common.KOK && envelope.Message != "" {
		return common.Error(envelope.Code, envelope.Message)
	}
	if reply == nil {
		return nil
	}
	return wire.Decode(body, reply)
}

// Connected reports whether the connection is still open: it turns
// false after Disconnect or after a failed write or read on the socket.
// A request answered with an error reply leaves it true.
func (c *ClientBase) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect sends exit_request and closes the underlying connection.
// It is always safe to call, including on an already-closed client.
func (c *ClientBase) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	_ = wire.WriteMessage(c.conn, common.ExitRequest{Type: common.ExitRequestType})
	err := c.conn.Close()
	c.connected = false
	return err
}

// ---- data plane passthrough (§6.5) ----

func (c *ClientBase) CreateData(tree map[string]any) (id types.ObjectID, signature types.Signature, instanceID types.InstanceID, err error) {
	var reply common.CreateDataReply
	err = c.doRequest(common.CreateDataRequest{Type: common.CreateDataRequestType, Content: tree}, &reply)
	if err != nil {
		return types.InvalidObjectID(), types.InvalidSignature(), types.UnspecifiedInstanceID(), err
	}
	return reply.ID, reply.Signature, reply.InstanceID, nil
}

// GetData fetches one or more composite-object trees, skipping the
// wire entirely for any id already seen. A sealed, persisted
// object's tree never changes underneath its id, so there is nothing
// to invalidate. A call with no ids returns an empty map without
// sending any request, whatever syncRemote says.
func (c *ClientBase) GetData(ids []types.ObjectID, syncRemote, wait bool) (map[types.ObjectID]map[string]any, error) {
	content := make(map[types.ObjectID]map[string]any, len(ids))
	var misses []types.ObjectID
	for _, id := range ids {
		if raw := c.metaCache.Get(nil, metaCacheKey(id)); len(raw) > 0 {
			var tree map[string]any
			if err := wire.Decode(raw, &tree); err == nil {
				content[id] = tree
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return content, nil
	}

	var reply common.GetDataReply
	err := c.doRequest(common.GetDataRequest{
		Type: common.GetDataRequestType, IDs: misses, SyncRemote: syncRemote, Wait: wait,
	}, &reply)
	if err != nil {
		return nil, err
	}
	for id, tree := range reply.Content {
		content[id] = tree
		if persisted, _ := wire.Encode(tree); persisted != nil {
			c.metaCache.Set(metaCacheKey(id), persisted)
		}
	}
	return content, nil
}

func metaCacheKey(id types.ObjectID) []byte {
	return []byte(types.ObjectIDToString(id))
}

func (c *ClientBase) ListData(pattern string, regex bool, limit int) (map[string]map[string]any, error) {
	var reply common.ListDataReply
	err := c.doRequest(common.ListDataRequest{
		Type: common.ListDataRequestType, Pattern: pattern, Regex: regex, Limit: limit,
	}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.Content, nil
}

func (c *ClientBase) DelData(ids []types.ObjectID, force, deep bool) error {
	var reply common.DelDataReply
	for _, id := range ids {
		c.Usage.DeleteUsage(id)
		c.metaCache.Del(metaCacheKey(id))
	}
	return c.doRequest(common.DelDataRequest{
		Type: common.DelDataRequestType, IDs: ids, Force: force, DeepDelete: deep,
	}, &reply)
}

func (c *ClientBase) ShallowCopy(id types.ObjectID, extra map[string]any) (types.ObjectID, error) {
	var reply common.ShallowCopyReply
	err := c.doRequest(common.ShallowCopyRequest{
		Type: common.ShallowCopyRequestType, ID: id, ExtraData: extra,
	}, &reply)
	if err != nil {
		return types.InvalidObjectID(), err
	}
	return reply.NewID, nil
}

func (c *ClientBase) Persist(id types.ObjectID) error {
	var reply common.PersistReply
	return c.doRequest(common.PersistRequest{Type: common.PersistRequestType, ID: id}, &reply)
}

func (c *ClientBase) IfPersist(id types.ObjectID) (bool, error) {
	var reply common.IfPersistReply
	if err := c.doRequest(common.IfPersistRequest{Type: common.IfPersistRequestType, ID: id}, &reply); err != nil {
		return false, err
	}
	return reply.Persisted, nil
}

func (c *ClientBase) Exists(id types.ObjectID) (bool, error) {
	var reply common.ExistsReply
	if err := c.doRequest(common.ExistsRequest{Type: common.ExistsRequestType, ID: id}, &reply); err != nil {
		return false, err
	}
	return reply.Exists, nil
}

// ---- name service ----

func (c *ClientBase) PutName(id types.ObjectID, name string) error {
	var reply common.PutNameReply
	return c.doRequest(common.PutNameRequest{Type: common.PutNameRequestType, Name: name, ID: id}, &reply)
}

func (c *ClientBase) GetName(name string, wait bool) (types.ObjectID, error) {
	var reply common.GetNameReply
	err := c.doRequest(common.GetNameRequest{Type: common.GetNameRequestType, Name: name, Wait: wait}, &reply)
	if err != nil {
		return types.InvalidObjectID(), err
	}
	return reply.ID, nil
}

func (c *ClientBase) DropName(name string) error {
	var reply common.DropNameReply
	return c.doRequest(common.DropNameRequest{Type: common.DropNameRequestType, Name: name}, &reply)
}

// ---- cluster / operational ----

func (c *ClientBase) GetClusterMeta() (map[types.InstanceID]map[string]any, error) {
	var reply common.ClusterMetaReply
	if err := c.doRequest(common.ClusterMetaRequest{Type: common.ClusterMetaRequestType}, &reply); err != nil {
		return nil, err
	}
	return reply.Cluster, nil
}

func (c *ClientBase) InstanceStatus() (common.InstanceStatusReply, error) {
	var reply common.InstanceStatusReply
	err := c.doRequest(common.InstanceStatusRequest{Type: common.InstanceStatusRequestType}, &reply)
	return reply, err
}

func (c *ClientBase) Clear() error {
	var reply common.ClearReply
	return c.doRequest(common.ClearRequest{Type: common.ClearRequestType}, &reply)
}

// ---- buffer lifecycle shared by both transports ----

func (c *ClientBase) Seal(id types.ObjectID) error {
	var reply common.SealReply
	return c.doRequest(common.SealRequest{Type: common.SealRequestType, ID: id}, &reply)
}

// Release drops this one local hold on id. Only the hold that brings
// id's local count to zero actually reaches the server -- see
// usage.Table.OnRelease, registered in newClientBase -- so an id held
// by several Go values in this process can have Release called on it
// that many times before the server hears anything.
func (c *ClientBase) Release(id types.ObjectID) error {
	c.Usage.RemoveUsage(id)
	return nil
}

func (c *ClientBase) DropBuffer(id types.ObjectID) error {
	var reply common.DropBufferReply
	c.Usage.DeleteUsage(id)
	return c.doRequest(common.DropBufferRequest{Type: common.DropBufferRequestType, ID: id}, &reply)
}

func (c *ClientBase) IncreaseRefCount(ids []types.ObjectID) error {
	var reply common.IncreaseRefCountReply
	return c.doRequest(common.IncreaseRefCountRequest{Type: common.IncreaseRefCountRequestType, IDs: ids}, &reply)
}

func (c *ClientBase) IsInUse(id types.ObjectID) (bool, error) {
	var reply common.IsInUseReply
	if err := c.doRequest(common.IsInUseRequest{Type: common.IsInUseRequestType, ID: id}, &reply); err != nil {
		return false, err
	}
	return reply.InUse, nil
}

func (c *ClientBase) IsSpilled(id types.ObjectID) (bool, error) {
	var reply common.IsSpilledReply
	if err := c.doRequest(common.IsSpilledRequest{Type: common.IsSpilledRequestType, ID: id}, &reply); err != nil {
		return false, err
	}
	return reply.Spilled, nil
}
