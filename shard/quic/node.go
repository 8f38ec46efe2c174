// Package quic serves shards between nodes over QUIC. Every node has an
// ed25519 identity; the self-signed TLS certificate it presents carries the
// key, and the libp2p peer ID derived from it names the node. Each request
// runs on its own bidirectional stream as one length-prefixed
// pb.ShardRequest answered by one pb.ShardResponse.
package quic

import (
	"context"
	"crypto"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppopth/ecstore/pb"
	"github.com/ppopth/ecstore/shard"

	proto "github.com/gogo/protobuf/proto"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	quicgo "github.com/quic-go/quic-go"
)

var log = logging.Logger("shard/quic")

const (
	DefaultPort = 7001

	// ALPN protocol negotiated by nodes and clients.
	protocolID = "ecstore-shard/1"
)

func quicConfig() *quicgo.Config {
	return &quicgo.Config{
		MaxIdleTimeout:  5 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	}
}

// NodeOption configures a Node during construction
type NodeOption func(*Node) error

// WithAddrPort sets the UDP endpoint the node listens on.
func WithAddrPort(ep netip.AddrPort) NodeOption {
	return func(n *Node) error {
		n.endpoint = net.UDPAddrFromAddrPort(ep)
		return nil
	}
}

// WithIdentity sets the node's identity from a private key. Only ed25519
// keys are supported.
func WithIdentity(privateKey crypto.PrivateKey) NodeOption {
	return func(n *Node) error {
		n.privateKey = privateKey
		return nil
	}
}

// WithAllowedPeers restricts the node to clients with the given peer IDs.
func WithAllowedPeers(peers ...peer.ID) NodeOption {
	return func(n *Node) error {
		n.allowed = make(map[peer.ID]struct{}, len(peers))
		for _, p := range peers {
			n.allowed[p] = struct{}{}
		}
		return nil
	}
}

// Node answers shard requests from a local store.
type Node struct {
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup

	store      shard.Store
	endpoint   *net.UDPAddr
	privateKey crypto.PrivateKey
	identity   *identity
	allowed    map[peer.ID]struct{} // nil allows every peer

	transport *quicgo.Transport
	listener  *quicgo.Listener

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewNode starts a node serving store. The node does not close the store.
func NewNode(store shard.Store, opts ...NodeOption) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		ctx:      ctx,
		cancel:   cancel,
		store:    store,
		endpoint: net.UDPAddrFromAddrPort(netip.AddrPortFrom(netip.IPv4Unspecified(), DefaultPort)),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			cancel()
			return nil, err
		}
	}

	var err error
	if n.identity, err = newIdentity(n.privateKey); err != nil {
		cancel()
		return nil, err
	}

	udpConn, err := net.ListenUDP("udp", n.endpoint)
	if err != nil {
		cancel()
		return nil, err
	}
	n.transport = &quicgo.Transport{Conn: udpConn}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*n.identity.certificate},
		ClientAuth:   tls.RequireAnyClientCert,
		NextProtos:   []string{protocolID},
	}
	n.listener, err = n.transport.Listen(tlsConfig, quicConfig())
	if err != nil {
		n.transport.Close()
		cancel()
		return nil, err
	}

	n.waitGroup.Add(1)
	go n.acceptLoop()
	return n, nil
}

func (n *Node) ID() peer.ID {
	return n.identity.peerID
}

func (n *Node) LocalAddr() net.Addr {
	return n.transport.Conn.LocalAddr()
}

// BytesSent returns the shard bytes sent in responses.
func (n *Node) BytesSent() uint64 {
	return n.bytesSent.Load()
}

// BytesReceived returns the shard bytes received in requests.
func (n *Node) BytesReceived() uint64 {
	return n.bytesReceived.Load()
}

func (n *Node) Close() error {
	n.cancel()
	err := n.listener.Close()
	if cerr := n.transport.Close(); err == nil {
		err = cerr
	}
	n.waitGroup.Wait()
	return err
}

func (n *Node) acceptLoop() {
	defer n.waitGroup.Done()

	log.Infof("listening on %s", n.LocalAddr())
	log.Infof("peer ID: %s", n.ID())

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			if n.ctx.Err() == nil {
				log.Warnf("listener accept error: %v", err)
			}
			return
		}

		peerID, err := peerIDFromConnection(conn)
		if err != nil {
			log.Warnf("rejecting connection from %s: %v", conn.RemoteAddr(), err)
			conn.CloseWithError(1, "bad certificate")
			continue
		}
		if n.allowed != nil {
			if _, ok := n.allowed[peerID]; !ok {
				log.Warnf("rejecting connection from unknown peer %s", peerID)
				conn.CloseWithError(1, "peer not allowed")
				continue
			}
		}
		log.Debugf("accepted connection from %s at %s", peerID, conn.RemoteAddr())

		n.waitGroup.Add(1)
		go n.handleConnection(conn)
	}
}

func (n *Node) handleConnection(conn quicgo.Connection) {
	defer n.waitGroup.Done()
	for {
		stream, err := conn.AcceptStream(n.ctx)
		if err != nil {
			return
		}
		n.waitGroup.Add(1)
		go n.handleStream(stream)
	}
}

func (n *Node) handleStream(stream quicgo.Stream) {
	defer n.waitGroup.Done()
	defer stream.Close()

	var req pb.ShardRequest
	if err := readFrame(stream, &req); err != nil {
		log.Debugf("reading request: %v", err)
		stream.CancelRead(1)
		return
	}
	n.bytesReceived.Add(uint64(len(req.Data)))

	resp := n.serve(&req)
	if err := writeFrame(stream, resp); err != nil {
		log.Debugf("writing response: %v", err)
		return
	}
	n.bytesSent.Add(uint64(len(resp.Data)))
}

func (n *Node) serve(req *pb.ShardRequest) *pb.ShardResponse {
	objectID, index := req.GetObjectID(), int(req.GetIndex())
	resp := &pb.ShardResponse{}

	var err error
	switch req.GetOp() {
	case pb.OpPut:
		err = n.store.Put(n.ctx, objectID, index, req.GetData())
	case pb.OpGet:
		resp.Data, err = n.store.Get(n.ctx, objectID, index)
	case pb.OpDelete:
		err = n.store.Delete(n.ctx, objectID, index)
	case pb.OpList:
		var indices []int
		indices, err = n.store.ListPresence(n.ctx, objectID)
		for _, i := range indices {
			resp.Indices = append(resp.Indices, int32(i))
		}
	default:
		err = fmt.Errorf("unknown op %d", req.GetOp())
	}

	switch {
	case err == nil:
		resp.Status = proto.Int32(pb.StatusOK)
	case errors.Is(err, shard.ErrNotFound):
		resp.Status = proto.Int32(pb.StatusNotFound)
	default:
		log.Warnf("op %d on %s/%d: %v", req.GetOp(), objectID, index, err)
		resp.Status = proto.Int32(pb.StatusError)
		resp.Error = proto.String(err.Error())
	}
	return resp
}

func peerIDFromConnection(conn quicgo.Connection) (peer.ID, error) {
	certs := conn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return "", fmt.Errorf("no peer certificate")
	}
	return parsePeerIDFromCertificate(certs[0])
}
