package quic

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppopth/ecstore/pb"
	"github.com/ppopth/ecstore/shard/memory"
	"github.com/ppopth/ecstore/shard/storetest"

	proto "github.com/gogo/protobuf/proto"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func newTestNode(t *testing.T, opts ...NodeOption) *Node {
	t.Helper()
	backing := memory.New()
	opts = append([]NodeOption{WithAddrPort(netip.MustParseAddrPort("127.0.0.1:0"))}, opts...)
	node, err := NewNode(backing, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		node.Close()
		backing.Close()
	})
	return node
}

func dialTestNode(t *testing.T, node *Node, opts ...ClientOption) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, node.LocalAddr().String(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCertificate(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	crt, err := createTLSCertFromKey(sk)
	if err != nil {
		t.Fatal(err)
	}
	crtPid, err := parsePeerIDFromCertificate(crt.Leaf)
	if err != nil {
		t.Fatal(err)
	}

	pubkey, err := ic.UnmarshalEd25519PublicKey(pk)
	if err != nil {
		t.Fatal(err)
	}
	p, err := peer.IDFromPublicKey(pubkey)
	if err != nil {
		t.Fatal(err)
	}
	if crtPid != p {
		t.Fatal("peer id in the created certificate is not correct")
	}

	id, err := newIdentity(sk)
	if err != nil {
		t.Fatal(err)
	}
	if id.peerID != p {
		t.Errorf("identity peer id %s, expected %s", id.peerID, p)
	}
}

func TestClientStore(t *testing.T) {
	node := newTestNode(t)
	client := dialTestNode(t, node)
	storetest.Run(t, client)

	if node.BytesReceived() == 0 || node.BytesSent() == 0 {
		t.Errorf("expected byte counters to move, got sent %d received %d", node.BytesSent(), node.BytesReceived())
	}
}

func TestPeerIdentity(t *testing.T) {
	_, nodeKey, _ := ed25519.GenerateKey(rand.Reader)
	node := newTestNode(t, WithIdentity(nodeKey))

	client := dialTestNode(t, node, WithExpectedPeer(node.ID()))
	if client.RemoteID() != node.ID() {
		t.Errorf("expected remote %s, got %s", node.ID(), client.RemoteID())
	}

	_, otherKey, _ := ed25519.GenerateKey(rand.Reader)
	other, err := peerIDFromPrivateKey(otherKey)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c, err := Dial(ctx, node.LocalAddr().String(), WithExpectedPeer(other)); err == nil {
		c.Close()
		t.Errorf("expected dial to fail for the wrong peer id")
	}
}

func TestAllowedPeers(t *testing.T) {
	_, clientKey, _ := ed25519.GenerateKey(rand.Reader)
	allowed, err := peerIDFromPrivateKey(clientKey)
	if err != nil {
		t.Fatal(err)
	}
	node := newTestNode(t, WithAllowedPeers(allowed))

	client := dialTestNode(t, node, WithClientIdentity(clientKey))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Put(ctx, "o", 0, []byte("ok")); err != nil {
		t.Fatalf("allowed peer rejected: %v", err)
	}

	stranger, err := Dial(ctx, node.LocalAddr().String())
	if err != nil {
		// The handshake itself may already fail.
		return
	}
	defer stranger.Close()
	if err := stranger.Put(ctx, "o", 1, []byte("no")); err == nil {
		t.Errorf("expected a request from an unknown peer to fail")
	}
}

func TestUnsupportedKey(t *testing.T) {
	if _, err := NewNode(memory.New(), WithIdentity("not a key")); err == nil {
		t.Errorf("expected an error for an unsupported key type")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := &pb.ShardRequest{Op: proto.Int32(pb.OpGet), ObjectID: proto.String("x"), Index: proto.Int32(4)}
	if err := writeFrame(&buf, req); err != nil {
		t.Fatal(err)
	}
	var got pb.ShardRequest
	if err := readFrame(&buf, &got); err != nil {
		t.Fatal(err)
	}
	if got.GetOp() != pb.OpGet || got.GetObjectID() != "x" || got.GetIndex() != 4 {
		t.Errorf("decoded %v", &got)
	}

	oversized := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	if err := readFrame(oversized, &got); err == nil {
		t.Errorf("expected an oversized frame to be rejected")
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.key")
	created, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(created.(ed25519.PrivateKey), loaded.(ed25519.PrivateKey)) {
		t.Fatalf("reloaded key differs")
	}

	id, err := PeerID(loaded)
	if err != nil {
		t.Fatal(err)
	}
	node := newTestNode(t, WithIdentity(loaded))
	if node.ID() != id {
		t.Errorf("expected node id %s, got %s", id, node.ID())
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateKey(path); err == nil {
		t.Errorf("expected an error for a corrupt key file")
	}
}
