// Package pb holds the wire messages of the QUIC shard protocol.
//
// The message types are written by hand, not generated by protoc. They are
// kept in step with shard.proto through their protobuf struct tags, which
// github.com/gogo/protobuf/proto reads to marshal them. The types must not
// define Marshal or Unmarshal methods, or proto would call those instead.
// A change to shard.proto needs the matching change here and in the wire
// format tests.
package pb

import (
	proto "github.com/gogo/protobuf/proto"
)

// Request operations.
const (
	OpPut    int32 = 1
	OpGet    int32 = 2
	OpDelete int32 = 3
	OpList   int32 = 4
)

// Response statuses.
const (
	StatusOK       int32 = 0
	StatusNotFound int32 = 1
	StatusError    int32 = 2
)

type ShardRequest struct {
	Op       *int32  `protobuf:"varint,1,opt,name=op" json:"op,omitempty"`
	ObjectID *string `protobuf:"bytes,2,opt,name=object_id,json=objectId" json:"object_id,omitempty"`
	Index    *int32  `protobuf:"varint,3,opt,name=index" json:"index,omitempty"`
	Data     []byte  `protobuf:"bytes,4,opt,name=data" json:"data,omitempty"`
}

func (m *ShardRequest) Reset()         { *m = ShardRequest{} }
func (m *ShardRequest) String() string { return proto.CompactTextString(m) }
func (*ShardRequest) ProtoMessage()    {}

func (m *ShardRequest) GetOp() int32 {
	if m != nil && m.Op != nil {
		return *m.Op
	}
	return 0
}

func (m *ShardRequest) GetObjectID() string {
	if m != nil && m.ObjectID != nil {
		return *m.ObjectID
	}
	return ""
}

func (m *ShardRequest) GetIndex() int32 {
	if m != nil && m.Index != nil {
		return *m.Index
	}
	return 0
}

func (m *ShardRequest) GetData() []byte {
	if m != nil {
		return m.Data
	}
	return nil
}

type ShardResponse struct {
	Status  *int32  `protobuf:"varint,1,opt,name=status" json:"status,omitempty"`
	Error   *string `protobuf:"bytes,2,opt,name=error" json:"error,omitempty"`
	Data    []byte  `protobuf:"bytes,3,opt,name=data" json:"data,omitempty"`
	Indices []int32 `protobuf:"varint,4,rep,name=indices" json:"indices,omitempty"`
}

func (m *ShardResponse) Reset()         { *m = ShardResponse{} }
func (m *ShardResponse) String() string { return proto.CompactTextString(m) }
func (*ShardResponse) ProtoMessage()    {}

func (m *ShardResponse) GetStatus() int32 {
	if m != nil && m.Status != nil {
		return *m.Status
	}
	return StatusOK
}

func (m *ShardResponse) GetError() string {
	if m != nil && m.Error != nil {
		return *m.Error
	}
	return ""
}

func (m *ShardResponse) GetData() []byte {
	if m != nil {
		return m.Data
	}
	return nil
}

func (m *ShardResponse) GetIndices() []int32 {
	if m != nil {
		return m.Indices
	}
	return nil
}

func init() {
	proto.RegisterType((*ShardRequest)(nil), "ecstore.pb.ShardRequest")
	proto.RegisterType((*ShardResponse)(nil), "ecstore.pb.ShardResponse")
}
