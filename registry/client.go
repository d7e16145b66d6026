package registry

import (
	"context"
	"io"
	"sync"
)

// OutboundQueueCapacity is the fixed size of each client's outbound
// frame queue.
const OutboundQueueCapacity = 128

// Client is the registry-facing handle for one accepted connection. It
// implements Peer and owns the outbound queue the fan-out engine
// drains. The connection handler that constructs a Client is the sole
// owner of its resources; the registry only ever holds a shared
// reference for lookup, dropped once the handler calls Registry.Remove
// during teardown.
type Client struct {
	id         uint32
	alias      string
	remoteAddr string

	// Writer is the client's data stream. The writer task and, in echo
	// mode, the data relay itself write frames here.
	Writer io.Writer

	// outboundMu guards Outbound against the send-after-close panic: any
	// peer's fan-out goroutine can still hold a reference to this client
	// after it has started tearing down, so TryEnqueue and CloseOutbound
	// share a lock rather than relying on close-before-send ordering.
	outboundMu sync.Mutex
	closed     bool

	// Outbound is the bounded single-consumer queue the writer task
	// drains in FIFO order. Producers use TryEnqueue, never a blocking
	// send; a slow consumer must never block the sender.
	Outbound chan []byte

	// Echo is fixed at authentication time: true routes the client's
	// own frames back to itself instead of to channel peers.
	Echo bool

	// Ctx and Cancel form this connection's local cancellation signal,
	// linked to the server-wide shutdown signal by whoever constructs
	// the client.
	Ctx    context.Context
	Cancel context.CancelFunc
}

// NewClient constructs a Client with a freshly allocated outbound
// queue.
func NewClient(id uint32, alias, remoteAddr string, writer io.Writer, echo bool, ctx context.Context, cancel context.CancelFunc) *Client {
	return &Client{
		id:         id,
		alias:      alias,
		remoteAddr: remoteAddr,
		Writer:     writer,
		Outbound:   make(chan []byte, OutboundQueueCapacity),
		Echo:       echo,
		Ctx:        ctx,
		Cancel:     cancel,
	}
}

func (c *Client) ClientID() uint32   { return c.id }
func (c *Client) Alias() string      { return c.alias }
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// TryEnqueue attempts a non-blocking send of frame onto the outbound
// queue. It returns false when the queue is full or the client has
// already been torn down, so the caller can drop the frame for this
// peer only and log, without blocking or aborting the sender.
func (c *Client) TryEnqueue(frame []byte) bool {
	c.outboundMu.Lock()
	defer c.outboundMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Outbound <- frame:
		return true
	default:
		return false
	}
}

// CloseOutbound closes the outbound queue, the single termination
// signal for the writer task. Safe to call concurrently with
// TryEnqueue and idempotent; the shared lock rules out the
// send-on-closed-channel panic a bare close would risk against an
// in-flight sender that snapshotted this client before teardown.
func (c *Client) CloseOutbound() {
	c.outboundMu.Lock()
	defer c.outboundMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.Outbound)
}
