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

// Package common holds the wire-level request/reply shapes shared by the
// client libraries and the server, plus the status codes, JSON helpers and
// version/config constants that both sides depend on. It intentionally
// knows nothing about sockets or framing (see pkg/wire) or about how a
// command is executed (see pkg/server and pkg/client) -- only the shapes
// that cross the wire.
package common

import (
	"github.com/vineyard-go/vineyard/pkg/common/types"
)

type (
	ObjectID   = types.ObjectID
	PlasmaID   = types.PlasmaID
	InstanceID = types.InstanceID
	SessionID  = types.SessionID
	Signature  = types.Signature
	Payload    = types.Payload
)

// Command names. Every request carries one of these as its "type" field;
// a successful reply echoes "<op>_reply", an unsuccessful one is instead
// the bare {code, message} envelope from Status.
const (
	RegisterRequestType   = "register_request"
	RegisterReplyType     = "register_reply"
	NewSessionRequestType = "new_session_request"
	NewSessionReplyType   = "new_session_reply"
	DeleteSessionRequestType = "delete_session_request"
	DeleteSessionReplyType   = "delete_session_reply"
	ExitRequestType       = "exit_request"

	GetDataRequestType   = "get_data_request"
	GetDataReplyType     = "get_data_reply"
	ListDataRequestType  = "list_data_request"
	ListDataReplyType    = "list_data_reply"
	CreateDataRequestType = "create_data_request"
	CreateDataReplyType   = "create_data_reply"
	PersistRequestType    = "persist_request"
	PersistReplyType      = "persist_reply"
	ExistsRequestType     = "exists_request"
	ExistsReplyType       = "exists_reply"
	IfPersistRequestType  = "if_persist_request"
	IfPersistReplyType    = "if_persist_reply"
	ShallowCopyRequestType = "shallow_copy_request"
	ShallowCopyReplyType   = "shallow_copy_reply"
	DelDataRequestType             = "del_data_request"
	DelDataReplyType               = "del_data_reply"
	DelDataWithFeedbacksRequestType = "del_data_with_feedbacks_request"
	DelDataWithFeedbacksReplyType   = "del_data_with_feedbacks_reply"

	CreateBufferRequestType        = "create_buffer_request"
	CreateBufferReplyType          = "create_buffer_reply"
	CreateDiskBufferRequestType    = "create_disk_buffer_request"
	CreateDiskBufferReplyType      = "create_disk_buffer_reply"
	CreateGPUBufferRequestType     = "create_gpu_buffer_request"
	CreateGPUBufferReplyType       = "create_gpu_buffer_reply"
	CreateRemoteBufferRequestType  = "create_remote_buffer_request"
	CreateRemoteBufferReplyType    = "create_remote_buffer_reply"
	CreateBufferByPlasmaRequestType = "create_buffer_by_plasma_request"
	CreateBufferByPlasmaReplyType   = "create_buffer_by_plasma_reply"
	GetBuffersRequestType         = "get_buffers_request"
	GetBuffersReplyType           = "get_buffers_reply"
	GetRemoteBuffersRequestType   = "get_remote_buffers_request"
	GetRemoteBuffersReplyType     = "get_remote_buffers_reply"
	GetGPUBuffersRequestType      = "get_gpu_buffers_request"
	GetGPUBuffersReplyType        = "get_gpu_buffers_reply"
	GetBuffersByPlasmaRequestType = "get_buffers_by_plasma_request"
	GetBuffersByPlasmaReplyType   = "get_buffers_by_plasma_reply"
	DropBufferRequestType         = "drop_buffer_request"
	DropBufferReplyType           = "drop_buffer_reply"

	SealRequestType              = "seal_request"
	SealReplyType                = "seal_reply"
	PlasmaSealRequestType        = "plasma_seal_request"
	PlasmaSealReplyType          = "plasma_seal_reply"
	ReleaseRequestType           = "release_request"
	ReleaseReplyType             = "release_reply"
	PlasmaReleaseRequestType     = "plasma_release_request"
	PlasmaReleaseReplyType       = "plasma_release_reply"
	PlasmaDelDataRequestType     = "plasma_del_data_request"
	PlasmaDelDataReplyType       = "plasma_del_data_reply"
	IncreaseRefCountRequestType  = "increase_reference_count_request"
	IncreaseRefCountReplyType    = "increase_reference_count_reply"
	IsInUseRequestType           = "is_in_use_request"
	IsInUseReplyType             = "is_in_use_reply"
	IsSpilledRequestType         = "is_spilled_request"
	IsSpilledReplyType           = "is_spilled_reply"
	MoveBuffersOwnershipRequestType = "move_buffers_ownership_request"
	MoveBuffersOwnershipReplyType   = "move_buffers_ownership_reply"
	MakeArenaRequestType         = "make_arena_request"
	MakeArenaReplyType           = "make_arena_reply"
	FinalizeArenaRequestType     = "finalize_arena_request"
	FinalizeArenaReplyType       = "finalize_arena_reply"

	CreateStreamRequestType        = "create_stream_request"
	CreateStreamReplyType          = "create_stream_reply"
	OpenStreamRequestType          = "open_stream_request"
	OpenStreamReplyType            = "open_stream_reply"
	GetNextStreamChunkRequestType  = "get_next_stream_chunk_request"
	GetNextStreamChunkReplyType    = "get_next_stream_chunk_reply"
	PushNextStreamChunkRequestType = "push_next_stream_chunk_request"
	PushNextStreamChunkReplyType   = "push_next_stream_chunk_reply"
	PullNextStreamChunkRequestType = "pull_next_stream_chunk_request"
	PullNextStreamChunkReplyType   = "pull_next_stream_chunk_reply"
	StopStreamRequestType          = "stop_stream_request"
	StopStreamReplyType            = "stop_stream_reply"

	PutNameRequestType  = "put_name_request"
	PutNameReplyType    = "put_name_reply"
	GetNameRequestType  = "get_name_request"
	GetNameReplyType    = "get_name_reply"
	DropNameRequestType = "drop_name_request"
	DropNameReplyType   = "drop_name_reply"

	MigrateObjectRequestType  = "migrate_object_request"
	MigrateObjectReplyType    = "migrate_object_reply"
	ClusterMetaRequestType    = "cluster_meta_request"
	ClusterMetaReplyType      = "cluster_meta_reply"
	InstanceStatusRequestType = "instance_status_request"
	InstanceStatusReplyType   = "instance_status_reply"
	ClearRequestType          = "clear_request"
	ClearReplyType            = "clear_reply"
	DebugRequestType          = "debug_request"
	DebugReplyType            = "debug_reply"

	DefaultServerVersion = "0.0.0"
)

// TypeProbe is decoded first from any incoming frame to discover which
// concrete request/reply shape to decode next; every message on the wire,
// request or reply, carries this field (error envelopes excepted).
type TypeProbe struct {
	Type string `json:"type"`
}

// ---- registration & session lifecycle ----

type RegisterRequest struct {
	Type        string `json:"type"`
	Version     string `json:"version"`
	StoreType   string `json:"store_type"`
	SessionID   SessionID `json:"session_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
}

type RegisterReply struct {
	Type        string    `json:"type"`
	IPCSocket   string    `json:"ipc_socket"`
	RPCEndpoint string    `json:"rpc_endpoint"`
	InstanceID  InstanceID `json:"instance_id"`
	SessionID   SessionID `json:"session_id"`
	Version     string    `json:"version"`
	StoreMatch  bool      `json:"store_match"`
}

type NewSessionRequest struct {
	Type      string `json:"type"`
	StoreType string `json:"store_type"`
}

type NewSessionReply struct {
	Type       string    `json:"type"`
	SessionID  SessionID `json:"session_id"`
	SocketPath string    `json:"socket_path"`
}

type DeleteSessionRequest struct {
	Type      string    `json:"type"`
	SessionID SessionID `json:"session_id"`
}

type DeleteSessionReply struct {
	Type string `json:"type"`
}

type ExitRequest struct {
	Type string `json:"type"`
}

// ---- metadata plane passthrough (external collaborator, §6.5) ----

type GetDataRequest struct {
	Type       string     `json:"type"`
	IDs        []ObjectID `json:"ids"`
	SyncRemote bool       `json:"sync_remote"`
	Wait       bool       `json:"wait"`
}

type GetDataReply struct {
	Type    string                    `json:"type"`
	Content map[ObjectID]map[string]any `json:"content"`
}

type ListDataRequest struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
	Regex   bool   `json:"regex"`
	Limit   int    `json:"limit"`
}

type ListDataReply struct {
	Type    string                    `json:"type"`
	Content map[string]map[string]any `json:"content"`
}

type CreateDataRequest struct {
	Type    string         `json:"type"`
	Content map[string]any `json:"content"`
}

type CreateDataReply struct {
	Type       string     `json:"type"`
	ID         ObjectID   `json:"id"`
	Signature  Signature  `json:"signature"`
	InstanceID InstanceID `json:"instance_id"`
}

type PersistRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type PersistReply struct {
	Type string `json:"type"`
}

type ExistsRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type ExistsReply struct {
	Type   string `json:"type"`
	Exists bool   `json:"exists"`
}

type IfPersistRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type IfPersistReply struct {
	Type      string `json:"type"`
	Persisted bool   `json:"persist"`
}

type ShallowCopyRequest struct {
	Type       string         `json:"type"`
	ID         ObjectID       `json:"id"`
	ExtraData  map[string]any `json:"extra,omitempty"`
}

type ShallowCopyReply struct {
	Type   string   `json:"type"`
	NewID  ObjectID `json:"target_id"`
}

type DelDataRequest struct {
	Type       string     `json:"type"`
	IDs        []ObjectID `json:"ids"`
	Force      bool       `json:"force"`
	DeepDelete bool       `json:"deep"`
}

type DelDataReply struct {
	Type string `json:"type"`
}

type DelDataWithFeedbacksRequest struct {
	Type       string     `json:"type"`
	IDs        []ObjectID `json:"ids"`
	Force      bool       `json:"force"`
	DeepDelete bool       `json:"deep"`
}

type DelDataWithFeedbacksReply struct {
	Type    string     `json:"type"`
	Deleted []ObjectID `json:"deleted"`
}

// ---- buffer (blob) lifecycle, the core of the system ----

type CreateBufferRequest struct {
	Type string `json:"type"`
	Size uint64 `json:"size"`
}

type CreateBufferReply struct {
	Type    string  `json:"type"`
	ID      ObjectID `json:"id"`
	Created Payload  `json:"created"`
	FdToSend int     `json:"fd_to_send,omitempty"`
}

type CreateDiskBufferRequest struct {
	Type string `json:"type"`
	Size uint64 `json:"size"`
	Path string `json:"path"`
}

type CreateDiskBufferReply struct {
	Type     string  `json:"type"`
	ID       ObjectID `json:"id"`
	Created  Payload  `json:"created"`
	FdToSend int      `json:"fd_to_send,omitempty"`
}

type CreateGPUBufferRequest struct {
	Type string `json:"type"`
	Size uint64 `json:"size"`
}

type CreateGPUBufferReply struct {
	Type    string  `json:"type"`
	ID      ObjectID `json:"id"`
	Created Payload  `json:"created"`
}

type CreateRemoteBufferRequest struct {
	Type        string `json:"type"`
	Size        uint64 `json:"size"`
	Compress    bool   `json:"compress,omitempty"`
}

type CreateRemoteBufferReply struct {
	Type    string  `json:"type"`
	ID      ObjectID `json:"id"`
	Created Payload  `json:"created"`
}

type CreateBufferByPlasmaRequest struct {
	Type     string   `json:"type"`
	PlasmaID PlasmaID `json:"plasma_id"`
	Size     uint64   `json:"data_size"`
}

type CreateBufferByPlasmaReply struct {
	Type    string        `json:"type"`
	Created types.PlasmaPayload `json:"created"`
}

type GetBuffersRequest struct {
	Type   string     `json:"type"`
	IDs    []ObjectID `json:"ids"`
	Unsafe bool       `json:"unsafe"`
}

type GetBuffersReply struct {
	Type     string             `json:"type"`
	Payloads []Payload          `json:"payloads"`
	FdsToSend []int             `json:"fds"`
}

type GetRemoteBuffersRequest struct {
	Type   string     `json:"type"`
	IDs    []ObjectID `json:"ids"`
	Unsafe bool       `json:"unsafe"`
}

type GetRemoteBuffersReply struct {
	Type     string    `json:"type"`
	Payloads []Payload `json:"payloads"`
}

type GetGPUBuffersRequest struct {
	Type string     `json:"type"`
	IDs  []ObjectID `json:"ids"`
}

type GetGPUBuffersReply struct {
	Type     string    `json:"type"`
	Payloads []Payload `json:"payloads"`
}

type GetBuffersByPlasmaRequest struct {
	Type      string     `json:"type"`
	PlasmaIDs []PlasmaID `json:"plasma_ids"`
	Unsafe    bool       `json:"unsafe"`
}

type GetBuffersByPlasmaReply struct {
	Type     string               `json:"type"`
	Payloads []types.PlasmaPayload `json:"payloads"`
	FdsToSend []int               `json:"fds"`
}

type DropBufferRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type DropBufferReply struct {
	Type string `json:"type"`
}

type SealRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type SealReply struct {
	Type string `json:"type"`
}

type PlasmaSealRequest struct {
	Type     string   `json:"type"`
	PlasmaID PlasmaID `json:"plasma_id"`
}

type PlasmaSealReply struct {
	Type string `json:"type"`
}

type ReleaseRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type ReleaseReply struct {
	Type string `json:"type"`
}

type PlasmaReleaseRequest struct {
	Type     string   `json:"type"`
	PlasmaID PlasmaID `json:"plasma_id"`
}

type PlasmaReleaseReply struct {
	Type string `json:"type"`
}

type PlasmaDelDataRequest struct {
	Type     string   `json:"type"`
	PlasmaID PlasmaID `json:"plasma_id"`
}

type PlasmaDelDataReply struct {
	Type string `json:"type"`
}

type IncreaseRefCountRequest struct {
	Type string     `json:"type"`
	IDs  []ObjectID `json:"ids"`
}

type IncreaseRefCountReply struct {
	Type string `json:"type"`
}

type IsInUseRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type IsInUseReply struct {
	Type  string `json:"type"`
	InUse bool   `json:"in_use"`
}

type IsSpilledRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type IsSpilledReply struct {
	Type    string `json:"type"`
	Spilled bool   `json:"spilled"`
}

type MoveBuffersOwnershipRequest struct {
	Type            string              `json:"type"`
	Mapping         map[ObjectID]ObjectID `json:"id_mapping"`
	SourceSessionID SessionID           `json:"session_id"`
}

type MoveBuffersOwnershipReply struct {
	Type string `json:"type"`
}

type MakeArenaRequest struct {
	Type string `json:"type"`
	Size int64  `json:"size"`
}

type MakeArenaReply struct {
	Type     string `json:"type"`
	ID       int    `json:"fd"`
	Size     int64  `json:"size"`
	FdToSend int    `json:"fd_to_send,omitempty"`
}

type FinalizeArenaRequest struct {
	Type    string  `json:"type"`
	Fd      int     `json:"fd"`
	Offsets []int64 `json:"offsets"`
	Sizes   []int64 `json:"sizes"`
}

type FinalizeArenaReply struct {
	Type string `json:"type"`
}

// ---- stream store (external collaborator, §6.5) ----

type CreateStreamRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type CreateStreamReply struct {
	Type string `json:"type"`
}

type OpenStreamRequest struct {
	Type    string   `json:"type"`
	ID      ObjectID `json:"id"`
	AsWriter bool    `json:"mode"`
}

type OpenStreamReply struct {
	Type string `json:"type"`
}

type GetNextStreamChunkRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
	Size uint64   `json:"size"`
}

type GetNextStreamChunkReply struct {
	Type    string  `json:"type"`
	Chunk   Payload `json:"chunk"`
}

type PushNextStreamChunkRequest struct {
	Type    string   `json:"type"`
	ID      ObjectID `json:"id"`
	ChunkID ObjectID `json:"chunk"`
}

type PushNextStreamChunkReply struct {
	Type string `json:"type"`
}

type PullNextStreamChunkRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type PullNextStreamChunkReply struct {
	Type    string  `json:"type"`
	Chunk   Payload `json:"chunk"`
}

type StopStreamRequest struct {
	Type  string   `json:"type"`
	ID    ObjectID `json:"id"`
	Abort bool     `json:"failed"`
}

type StopStreamReply struct {
	Type string `json:"type"`
}

// ---- name service ----

type PutNameRequest struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"object_id"`
	Name string   `json:"name"`
}

type PutNameReply struct {
	Type string `json:"type"`
}

type GetNameRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Wait bool   `json:"wait"`
}

type GetNameReply struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"object_id"`
}

type DropNameRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type DropNameReply struct {
	Type string `json:"type"`
}

// ---- misc / operational ----

type MigrateObjectRequest struct {
	Type      string   `json:"type"`
	ID        ObjectID `json:"id"`
	PeerRPCEndpoint string `json:"peer"`
}

type MigrateObjectReply struct {
	Type string   `json:"type"`
	ID   ObjectID `json:"id"`
}

type ClusterMetaRequest struct {
	Type string `json:"type"`
}

type ClusterMetaReply struct {
	Type    string                       `json:"type"`
	Cluster map[InstanceID]map[string]any `json:"meta"`
}

type InstanceStatusRequest struct {
	Type string `json:"type"`
}

type InstanceStatusReply struct {
	Type            string     `json:"type"`
	InstanceID      InstanceID `json:"instance_id"`
	MemoryUsage     uint64     `json:"memory_usage"`
	MemoryLimit     uint64     `json:"memory_limit"`
	DeployedObjects uint64     `json:"deployed_objects"`
}

type ClearRequest struct {
	Type string `json:"type"`
}

type ClearReply struct {
	Type string `json:"type"`
}

type DebugRequest struct {
	Type string         `json:"type"`
	Command map[string]any `json:"command"`
}

type DebugReply struct {
	Type string         `json:"type"`
	Result map[string]any `json:"result"`
}
