package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/opusrelay/qvox/authz"
	"github.com/opusrelay/qvox/protocol"
	"github.com/opusrelay/qvox/registry"
)

// connection drives one accepted QUIC connection through its states:
// awaiting the control stream, awaiting the authentication message,
// authorizing, awaiting the data stream, relaying, and finally
// closed. It owns its streams and its registry.Client exclusively
// until run returns.
type connection struct {
	srv    *Server
	conn   *quic.Conn
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	client *registry.Client
}

func newConnection(parent context.Context, srv *Server, conn *quic.Conn) *connection {
	ctx, cancel := context.WithCancel(parent)
	return &connection{
		srv:  srv,
		conn: conn,
		logger: srv.logger.With().
			Str("com", "connection").
			Str("trace_id", uuid.NewString()).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// run executes the full state machine. Every exit path funnels through
// close, which is the sole place a client is removed from the registry
// and its resources released.
func (c *connection) run() {
	defer c.close()
	defer c.recoverPanic("run")

	control, err := c.awaitControlStream()
	if err != nil {
		c.logf(err, "await control stream")
		return
	}

	auth, err := c.awaitAuthMessage(control)
	if err != nil {
		c.logf(err, "await auth message")
		return
	}

	ok, err := c.authorize(auth)
	if err != nil {
		c.logger.Error().Err(err).Msg("authorization callout failed")
		return
	}
	if !ok {
		c.logger.Info().Str("username", auth.Username).Msg("authorization rejected")
		return
	}

	data, err := c.awaitDataStream()
	if err != nil {
		c.logf(err, "await data stream")
		return
	}

	c.client = registry.NewClient(
		c.srv.registry.NewClientID(),
		auth.Username,
		c.conn.RemoteAddr().String(),
		data,
		auth.Echo,
		c.ctx,
		c.cancel,
	)
	c.logger = c.logger.With().Uint32("client_id", c.client.ClientID()).Logger()

	// Every client starts quarantined on channel 0 until it joins a
	// real channel.
	c.srv.registry.Add(c.client, registry.ChannelZero)

	go runWriter(c.ctx, c.client, c.logger)

	c.relay(control, data)
}

// awaitControlStream accepts the connection's single unidirectional
// stream. Using AcceptUniStream rather than AcceptStream is what
// guarantees the "unidirectional, readable, non-writable" contract
// without a runtime capability check.
func (c *connection) awaitControlStream() (*quic.ReceiveStream, error) {
	stream, err := c.conn.AcceptUniStream(c.ctx)
	if err != nil {
		return nil, fmt.Errorf("accept control stream: %w", err)
	}
	return stream, nil
}

// awaitAuthMessage reads control messages until an Authentication is
// observed. Any other message is ignored, not a protocol error.
func (c *connection) awaitAuthMessage(control *quic.ReceiveStream) (protocol.Authentication, error) {
	for {
		msg, err := protocol.ReadControlMessage(control)
		if err != nil {
			return protocol.Authentication{}, err
		}
		if msg.Type == protocol.TypeAuthentication {
			return msg.Authentication, nil
		}
		c.logger.Debug().Msg("ignoring non-auth control message while awaiting authentication")
	}
}

// authorize issues the authorization callout. A network error or
// non-2xx response is a rejection, not a hard error; err is non-nil
// only when the callout could not even be constructed.
func (c *connection) authorize(auth protocol.Authentication) (bool, error) {
	return c.srv.authz.Authorize(c.ctx, c.srv.config.AuthorizationURI, authz.Request{
		Username:      auth.Username,
		Password:      auth.Password,
		RemoteAddress: c.conn.RemoteAddr().String(),
	})
}

// awaitDataStream accepts the connection's single bidirectional
// stream, the one the audio relay runs over.
func (c *connection) awaitDataStream() (*quic.Stream, error) {
	stream, err := c.conn.AcceptStream(c.ctx)
	if err != nil {
		return nil, fmt.Errorf("accept data stream: %w", err)
	}
	return stream, nil
}

// relay runs the control consumer and the data relay concurrently
// until either finishes. A fatal error in either subtask trips
// c.cancel so the other unblocks too.
func (c *connection) relay(control *quic.ReceiveStream, data *quic.Stream) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		defer c.recoverPanic("control consumer")
		if err := c.consumeControl(control); err != nil {
			c.logf(err, "control consumer")
			c.cancel()
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		defer c.recoverPanic("data relay")
		if err := c.relayData(data); err != nil {
			c.logf(err, "data relay")
			c.cancel()
		}
	}()

	<-c.ctx.Done()
	// Neither subtask's blocking read is aware of c.ctx; abort the
	// streams directly so whichever one is still parked unblocks with
	// a cancellation error.
	control.CancelRead(0)
	data.CancelRead(0)
	data.CancelWrite(0)
	<-done
	<-done
}

// consumeControl handles JoinChannel reassignments for the lifetime of
// the connection. Malformed bytes are fatal; unrecognized message
// types and post-handshake Authentication messages are logged and
// ignored.
func (c *connection) consumeControl(control *quic.ReceiveStream) error {
	for {
		msg, err := protocol.ReadControlMessage(control)
		if err != nil {
			return err
		}

		switch {
		case msg.Type == protocol.TypeAuthentication:
			c.logger.Debug().Msg("ignoring authentication message received after handshake")
		case msg.Type == protocol.TypeJoinChannel:
			if c.client.Echo {
				c.logger.Debug().Msg("ignoring join channel request from echo client")
				continue
			}
			c.srv.registry.Add(c.client, msg.JoinChannel.ChannelID)
		default:
			c.logger.Warn().Int("type", int(msg.InvalidType)).Msg("ignoring unrecognized control message")
		}
	}
}

// relayData is the hot path: it reads one framed data message at a
// time into a pooled scratch buffer, stamps the sender id, and either
// echoes it back or fans it out to every peer on the client's channel.
// A frame length outside [0, MaxFrameLen] is a protocol error; this is
// the connection's primary defense against buffer misuse.
func (c *connection) relayData(data *quic.Stream) error {
	bufPtr := protocol.GetFrameBuffer()
	defer protocol.PutFrameBuffer(bufPtr)
	buf := *bufPtr

	for {
		if _, err := io.ReadFull(data, buf[4:6]); err != nil {
			return err
		}
		length := binary.LittleEndian.Uint16(buf[4:6])
		if length == 0 {
			continue
		}
		if length > protocol.MaxFrameLen {
			return fmt.Errorf("frame length %d exceeds max %d", length, protocol.MaxFrameLen)
		}
		if _, err := io.ReadFull(data, buf[protocol.DataFrameHeaderLen:protocol.DataFrameHeaderLen+int(length)]); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf[0:4], c.client.ClientID())
		frame := buf[:protocol.DataFrameHeaderLen+int(length)]

		if c.client.Echo {
			if _, err := data.Write(frame); err != nil {
				return err
			}
			continue
		}

		c.fanOut(frame)
	}
}

// fanOut copies frame once per destination peer and enqueues each copy
// non-blockingly. The peer set is a snapshot taken at dispatch time;
// peers joining mid-fan-out miss this frame, peers leaving may still
// have it enqueued harmlessly.
func (c *connection) fanOut(frame []byte) {
	for _, peer := range c.srv.registry.PeersOnSameChannel(c.client, true) {
		dest, ok := peer.(*registry.Client)
		if !ok {
			continue
		}
		cp := make([]byte, len(frame))
		copy(cp, frame)
		if !dest.TryEnqueue(cp) {
			c.logger.Error().Uint32("peer_id", dest.ClientID()).Msg("outbound queue full, dropping frame")
		}
	}
}

// close removes the client from the registry, closes its outbound
// queue and cancels its local signal. It is always run exactly once,
// on every exit path, including panics unwinding through run's defer.
func (c *connection) close() {
	if c.client != nil {
		c.srv.registry.Remove(c.client)
		c.client.CloseOutbound()
	}
	c.cancel()
	_ = c.conn.CloseWithError(0, "")
}

// recoverPanic stops a panic in stage from crossing into the listener
// goroutine. It must be deferred directly in the function whose stack
// it guards; recover only sees a panic when called that way.
func (c *connection) recoverPanic(stage string) {
	if r := recover(); r != nil {
		c.logger.Error().Interface("panic", r).Str("stage", stage).Msg("connection handler panic recovered")
		c.cancel()
	}
}

// logf classifies err so transport-level closes never log above debug
// while genuine protocol errors are visible at warn.
func (c *connection) logf(err error, stage string) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || isStreamClosed(err) {
		c.logger.Debug().Err(err).Str("stage", stage).Msg("connection closed")
		return
	}
	c.logger.Warn().Err(err).Str("stage", stage).Msg("connection terminated")
}

// isStreamClosed reports whether err is one of quic-go's expected
// teardown errors rather than a genuine protocol violation.
func isStreamClosed(err error) bool {
	var appErr *quic.ApplicationError
	var netErr net.Error
	return errors.Is(err, io.EOF) ||
		errors.As(err, &appErr) ||
		errors.As(err, &netErr)
}
