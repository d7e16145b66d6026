// Package testclient is a minimal relay client used by the debug CLI
// (`run client`) and by the end-to-end test suite. It implements just
// enough of the wire protocol to dial the relay, authenticate, join a
// channel, and exchange data frames. A thin harness, not a
// production client.
package testclient

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/opusrelay/qvox/protocol"
)

// ALPN must match the relay's negotiated protocol string.
const ALPN = "qrtc/1"

// Client is one dialed connection to the relay, past the handshake.
type Client struct {
	conn    *quic.Conn
	control *quic.SendStream
	data    *quic.Stream
	logger  zerolog.Logger
}

// Dial opens a QUIC connection to addr. The client never validates
// the server's certificate: TLS here buys confidentiality, not
// server identity.
func Dial(ctx context.Context, addr string, logger zerolog.Logger) (*Client, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("dial quic: %w", err)
	}

	control, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, fmt.Errorf("open control stream: %w", err)
	}

	return &Client{conn: conn, control: control, logger: logger.With().Str("com", "testclient").Logger()}, nil
}

// Authenticate sends the credential handshake message and, on success,
// opens the data stream. There is no acknowledgement for authentication
// itself; the caller learns whether it was accepted by whether a
// following read on the data stream succeeds.
func (c *Client) Authenticate(ctx context.Context, echo bool, username, password string) error {
	if err := protocol.WriteAuthentication(c.control, protocol.Authentication{
		Echo:     echo,
		Username: username,
		Password: password,
	}); err != nil {
		return fmt.Errorf("write authentication: %w", err)
	}
	return c.openDataStream(ctx)
}

func (c *Client) openDataStream(ctx context.Context) error {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open data stream: %w", err)
	}
	// The relay can only accept the stream once bytes arrive on it, so a
	// zero-length keep-alive announces it straight away.
	if err := protocol.WriteClientFrame(stream, nil); err != nil {
		return fmt.Errorf("announce data stream: %w", err)
	}
	c.data = stream
	return nil
}

// JoinChannel requests reassignment. There is no acknowledgement; the
// caller cannot confirm the join beyond observing subsequent fan-out
// behavior.
func (c *Client) JoinChannel(channelID uint32) error {
	if err := protocol.WriteJoinChannel(c.control, channelID); err != nil {
		return fmt.Errorf("write join channel: %w", err)
	}
	return nil
}

// SendFrame writes one client->server data frame. An empty payload is
// a keep-alive.
func (c *Client) SendFrame(payload []byte) error {
	return protocol.WriteClientFrame(c.data, payload)
}

// ReadFrame blocks for one server->client data frame.
func (c *Client) ReadFrame() (senderID uint32, payload []byte, err error) {
	return protocol.ReadServerFrame(c.data)
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.CloseWithError(0, "")
}
