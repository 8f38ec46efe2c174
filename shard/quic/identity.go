package quic

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	ic "github.com/libp2p/go-libp2p/core/crypto"
	pbcrypto "github.com/libp2p/go-libp2p/core/crypto/pb"
	"github.com/libp2p/go-libp2p/core/peer"
)

// identity is an ed25519 key, the peer ID derived from it and the
// self-signed certificate presented on every connection.
type identity struct {
	privateKey  crypto.PrivateKey
	peerID      peer.ID
	certificate *tls.Certificate
}

func newIdentity(privateKey crypto.PrivateKey) (*identity, error) {
	if privateKey == nil {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		privateKey = generated
	}
	peerID, err := peerIDFromPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	certificate, err := createTLSCertFromKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &identity{privateKey: privateKey, peerID: peerID, certificate: certificate}, nil
}

func peerIDFromPrivateKey(privateKey crypto.PrivateKey) (peer.ID, error) {
	var privkey ic.PrivKey
	var err error
	switch key := privateKey.(type) {
	case ed25519.PrivateKey:
		privkey, err = ic.UnmarshalEd25519PrivateKey(key)
	default:
		return "", fmt.Errorf("unsupported key type: %T", privateKey)
	}
	if err != nil {
		return "", err
	}
	return peer.IDFromPublicKey(privkey.GetPublic())
}

// createTLSCertFromKey creates a self-signed certificate from a private key
func createTLSCertFromKey(key crypto.PrivateKey) (*tls.Certificate, error) {
	var publicKey crypto.PublicKey
	switch privateKey := key.(type) {
	case ed25519.PrivateKey:
		publicKey = privateKey.Public()
	default:
		return nil, fmt.Errorf("unsupported key type: %T", key)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ecstore"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, publicKey, key)
	if err != nil {
		return nil, err
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// parsePeerIDFromCertificate extracts peer ID from a TLS certificate
func parsePeerIDFromCertificate(cert *x509.Certificate) (peer.ID, error) {
	var pubkey ic.PubKey
	var err error
	switch key := cert.PublicKey.(type) {
	case ed25519.PublicKey:
		pubkey, err = ic.UnmarshalEd25519PublicKey(key)
	default:
		return "", fmt.Errorf("unsupported public key type: %T", cert.PublicKey)
	}
	if err != nil {
		return "", err
	}
	return peer.IDFromPublicKey(pubkey)
}

// PeerID returns the peer ID a node or client with this key presents.
func PeerID(privateKey crypto.PrivateKey) (peer.ID, error) {
	return peerIDFromPrivateKey(privateKey)
}

// LoadOrCreateKey reads an ed25519 key in libp2p's protobuf encoding from
// path. When the file does not exist a new key is generated and written.
func LoadOrCreateKey(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		privkey, err := ic.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("shard/quic: key file %s: %w", path, err)
		}
		if privkey.Type() != pbcrypto.KeyType_Ed25519 {
			return nil, fmt.Errorf("shard/quic: key file %s: unsupported key type %s", path, privkey.Type())
		}
		raw, err := privkey.Raw()
		if err != nil {
			return nil, err
		}
		return ed25519.PrivateKey(raw), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	privkey, err := ic.UnmarshalEd25519PrivateKey(key)
	if err != nil {
		return nil, err
	}
	data, err = ic.MarshalPrivateKey(privkey)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, err
	}
	log.Infof("generated new identity in %s", path)
	return key, nil
}
