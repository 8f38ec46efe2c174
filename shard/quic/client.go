package quic

import (
	"context"
	"crypto"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/ppopth/ecstore/pb"
	"github.com/ppopth/ecstore/shard"

	proto "github.com/gogo/protobuf/proto"
	"github.com/libp2p/go-libp2p/core/peer"
	quicgo "github.com/quic-go/quic-go"
)

// ClientOption configures a Client during Dial
type ClientOption func(*Client) error

// WithClientIdentity sets the key the client authenticates with.
func WithClientIdentity(privateKey crypto.PrivateKey) ClientOption {
	return func(c *Client) error {
		c.privateKey = privateKey
		return nil
	}
}

// WithExpectedPeer makes Dial fail unless the node presents this peer ID.
func WithExpectedPeer(id peer.ID) ClientOption {
	return func(c *Client) error {
		c.expected = id
		return nil
	}
}

// Client is a shard.Store backed by a remote Node.
type Client struct {
	privateKey crypto.PrivateKey
	identity   *identity
	expected   peer.ID

	transport *quicgo.Transport
	conn      quicgo.Connection
	remote    peer.ID
}

var _ shard.Store = (*Client)(nil)

// Dial connects to the node at addr.
func Dial(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	var err error
	if c.identity, err = newIdentity(c.privateKey); err != nil {
		return nil, err
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	c.transport = &quicgo.Transport{Conn: udpConn}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*c.identity.certificate},
		// The node certificate is self-signed; the peer ID check below
		// authenticates it instead.
		InsecureSkipVerify: true,
		NextProtos:         []string{protocolID},
	}
	c.conn, err = c.transport.Dial(ctx, remoteAddr, tlsConfig, quicConfig())
	if err != nil {
		c.transport.Close()
		return nil, fmt.Errorf("shard/quic: dial %s: %w", addr, err)
	}

	c.remote, err = peerIDFromConnection(c.conn)
	if err == nil && c.expected != "" && c.remote != c.expected {
		err = fmt.Errorf("expected peer %s, got %s", c.expected, c.remote)
	}
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("shard/quic: dial %s: %w", addr, err)
	}
	log.Infof("connected to %s at %s", c.remote, addr)
	return c, nil
}

// ID returns the client's own peer ID.
func (c *Client) ID() peer.ID {
	return c.identity.peerID
}

// RemoteID returns the peer ID of the node.
func (c *Client) RemoteID() peer.ID {
	return c.remote
}

// roundTrip sends req on a new stream and waits for the response.
func (c *Client) roundTrip(ctx context.Context, req *pb.ShardRequest) (*pb.ShardResponse, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(0)
		stream.CancelWrite(0)
	})
	defer stop()

	if err := writeFrame(stream, req); err != nil {
		return nil, err
	}
	// Closing the send side tells the node the request is complete.
	if err := stream.Close(); err != nil {
		return nil, err
	}
	var resp pb.ShardResponse
	if err := readFrame(stream, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	switch resp.GetStatus() {
	case pb.StatusOK:
		return &resp, nil
	case pb.StatusNotFound:
		return nil, shard.ErrNotFound
	default:
		return nil, errors.New(resp.GetError())
	}
}

func (c *Client) Put(ctx context.Context, objectID string, index int, data []byte) error {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, &pb.ShardRequest{
		Op:       proto.Int32(pb.OpPut),
		ObjectID: proto.String(objectID),
		Index:    proto.Int32(int32(index)),
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("shard/quic: put %s/%d: %w", objectID, index, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, objectID string, index int) ([]byte, error) {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, &pb.ShardRequest{
		Op:       proto.Int32(pb.OpGet),
		ObjectID: proto.String(objectID),
		Index:    proto.Int32(int32(index)),
	})
	if err != nil {
		return nil, fmt.Errorf("shard/quic: get %s/%d: %w", objectID, index, err)
	}
	data := resp.GetData()
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (c *Client) Delete(ctx context.Context, objectID string, index int) error {
	if err := shard.ValidateKey(objectID, index); err != nil {
		return err
	}
	_, err := c.roundTrip(ctx, &pb.ShardRequest{
		Op:       proto.Int32(pb.OpDelete),
		ObjectID: proto.String(objectID),
		Index:    proto.Int32(int32(index)),
	})
	if err != nil {
		return fmt.Errorf("shard/quic: delete %s/%d: %w", objectID, index, err)
	}
	return nil
}

func (c *Client) ListPresence(ctx context.Context, objectID string) ([]int, error) {
	if objectID == "" {
		return nil, fmt.Errorf("shard: empty object id")
	}
	resp, err := c.roundTrip(ctx, &pb.ShardRequest{
		Op:       proto.Int32(pb.OpList),
		ObjectID: proto.String(objectID),
	})
	if err != nil {
		return nil, fmt.Errorf("shard/quic: list %s: %w", objectID, err)
	}
	indices := make([]int, 0, len(resp.GetIndices()))
	for _, i := range resp.GetIndices() {
		indices = append(indices, int(i))
	}
	slices.Sort(indices)
	return indices, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.CloseWithError(0, "")
	}
	return c.transport.Close()
}
