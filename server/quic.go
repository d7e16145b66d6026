package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the protocol identifier the relay negotiates over QUIC.
const ALPN = "qrtc/1"

// idleTimeout closes a connection that neither side has used in a
// while; the audio path itself is expected to be far chattier than
// this, so it only trips on a genuinely gone peer.
const idleTimeout = 30 * time.Second

// listen opens a UDP socket on port and wraps it in a QUIC listener
// using an ephemeral, self-signed certificate. The relay never
// authenticates itself to clients: TLS here buys confidentiality and
// integrity for the wire protocol, not identity, so a fresh throwaway
// certificate generated at startup is sufficient.
func listen(port uint16) (*quic.Listener, error) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	cert, err := generateEphemeralCert()
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("generate tls certificate: %w", err)
	}

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
	}
	quicConf := &quic.Config{
		MaxIdleTimeout:       idleTimeout,
		HandshakeIdleTimeout: 10 * time.Second,
		KeepAlivePeriod:      idleTimeout / 3,
		EnableDatagrams:      false,
	}

	tr := quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(tlsConf, quicConf)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("listen quic: %w", err)
	}
	return ln, nil
}

// generateEphemeralCert produces a self-signed ECDSA certificate valid
// for a day, long enough to outlive any single process's lifetime.
func generateEphemeralCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: "qvox-relay"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}, nil
}
