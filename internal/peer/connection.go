package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"p2pmsg/internal/protocol"
)

// State is the lifecycle stage of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingHandshake
	StateRegistered
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateRegistered:
		return "registered"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrHandshake = errors.New("handshake failed")

// Inbound is a decoded message together with the peer it came from.
type Inbound struct {
	Message protocol.Message
	From    Address
}

type readResult struct {
	msg protocol.Message
	err error
}

// Connection runs the handshake and message loop of one socket.
type Connection struct {
	ID        string
	Address   Address
	Inbound   bool
	PeerHello string // text of the peer's Hello

	conn      net.Conn
	reader    *protocol.FrameReader
	writer    *Writer
	registry  *Registry
	queue     chan<- Inbound
	directory Directory
	limiter   *rate.Limiter
	opts      *Options
	logger    *slog.Logger

	state      atomic.Int32
	registered bool
	done       chan struct{}
}

func newConnection(conn net.Conn, inbound bool, n *Node) (*Connection, error) {
	addr, err := AddressOf(conn.RemoteAddr())
	if err != nil {
		return nil, err
	}
	c := &Connection{
		ID:        uuid.NewString(),
		Address:   addr,
		Inbound:   inbound,
		conn:      conn,
		reader:    protocol.NewFrameReader(conn, n.opts.MaxFrameSize),
		writer:    newWriter(conn, n.opts.WriteTimeout),
		registry:  n.registry,
		queue:     n.queue,
		directory: n.directory,
		opts:      &n.opts,
		done:      make(chan struct{}),
	}
	if n.opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(n.opts.RateLimit), n.opts.RateBurst)
	}
	c.logger = n.logger.With(
		"peer", addr.String(),
		"conn_id", c.ID,
	)
	return c, nil
}

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug("connection_state", "state", s.String())
}

// Serve runs the connection until it is closed by either side or ctx ends.
func (c *Connection) Serve(ctx context.Context) {
	defer c.finish()

	// unblock pending reads when the node shuts down
	go func() {
		select {
		case <-ctx.Done():
			c.writer.shutdown()
		case <-c.done:
		}
	}()

	c.setState(StateAwaitingHandshake)
	if err := c.handshake(); err != nil {
		c.logger.Warn("handshake_failed", "error", err)
		return
	}

	terminator := make(chan *Writer)
	ap := &ActivePeer{
		Address:     c.Address,
		ConnID:      c.ID,
		Inbound:     c.Inbound,
		ConnectedAt: time.Now(),
		writer:      c.writer,
		terminator:  terminator,
		done:        c.done,
	}
	if err := c.registry.Add(ap); err != nil {
		if errors.Is(err, ErrRegistryClosed) {
			// node is stopping, close with a final Terminate as CloseAll does
			c.closeWith(c.writer)
			return
		}
		c.logger.Warn("registration_failed", "error", err)
		return
	}
	c.registered = true
	c.setState(StateRegistered)
	c.record(func(ctx context.Context) error {
		return c.directory.PeerConnected(ctx, ap.info())
	})

	c.loop(ctx, terminator)
}

func (c *Connection) handshake() error {
	if err := c.writer.write(ownerHandler, protocol.Hello{Text: c.opts.HelloText}); err != nil {
		return fmt.Errorf("%w: send hello: %w", ErrHandshake, err)
	}

	if c.opts.HandshakeTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	msg, err := c.reader.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: read hello: %w", ErrHandshake, err)
	}
	hello, ok := msg.(protocol.Hello)
	if !ok {
		return fmt.Errorf("%w: expected Hello, got %s", ErrHandshake, protocol.Kind(msg))
	}

	c.PeerHello = hello.Text
	c.logger.Debug("handshake_completed",
		"inbound", c.Inbound,
		"hello", hello.Text,
	)
	return nil
}

func (c *Connection) loop(ctx context.Context, terminator <-chan *Writer) {
	events := make(chan readResult)
	go c.readLoop(events)

	for {
		select {
		case ev := <-events:
			if ev.err != nil {
				var frameErr *protocol.FrameError
				if errors.As(ev.err, &frameErr) {
					c.logger.Warn("invalid_frame_received", "error", ev.err)
					continue
				}
				c.logReadError(ev.err)
				return
			}
			// Terminate is never held back by the limiter
			if _, term := ev.msg.(protocol.Terminate); !term && c.limiter != nil {
				if !c.pace(ctx, terminator) {
					return
				}
			}

			select {
			case c.queue <- Inbound{Message: ev.msg, From: c.Address}:
			case w := <-terminator:
				c.closeWith(w)
				return
			case <-ctx.Done():
				return
			}

		case w := <-terminator:
			c.closeWith(w)
			return

		case <-ctx.Done():
			return
		}
	}
}

// pace delays the handler until the limiter admits one more message.
// It returns false when the connection closed while waiting.
func (c *Connection) pace(ctx context.Context, terminator <-chan *Writer) bool {
	r := c.limiter.Reserve()
	if !r.OK() {
		return true
	}
	d := r.Delay()
	if d <= 0 {
		return true
	}
	c.logger.Debug("rate_limit_delay", "delay", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case w := <-terminator:
		r.Cancel()
		c.closeWith(w)
		return false
	case <-ctx.Done():
		r.Cancel()
		return false
	}
}

// readLoop feeds decoded frames to the handler until a transport error.
func (c *Connection) readLoop(events chan<- readResult) {
	for {
		msg, err := c.reader.ReadMessage()
		select {
		case events <- readResult{msg: msg, err: err}:
		case <-c.done:
			return
		}
		var frameErr *protocol.FrameError
		if err != nil && !errors.As(err, &frameErr) {
			return
		}
	}
}

func (c *Connection) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Info("peer_disconnected")
	case errors.Is(err, net.ErrClosed),
		strings.Contains(err.Error(), "connection reset"),
		strings.Contains(err.Error(), "forcibly closed"):
		c.logger.Debug("peer_connection_closed", "error", err)
	default:
		c.logger.Error("peer_read_error", "error", err)
	}
}

// closeWith runs the graceful close once the writer has been handed back.
func (c *Connection) closeWith(w *Writer) {
	c.setState(StateClosing)
	if err := w.write(ownerHandler, protocol.Terminate{}); err != nil {
		c.logger.Warn("final_terminate_failed", "error", err)
	}
	if err := w.shutdown(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Warn("socket_shutdown_failed", "error", err)
	}
	c.logger.Info("connection_terminated")
}

func (c *Connection) finish() {
	c.setState(StateClosing)
	if c.registered {
		c.registry.removeConn(c.Address, c.ID)
	}
	c.writer.shutdown()
	close(c.done)
	if c.registered {
		c.record(func(ctx context.Context) error {
			return c.directory.PeerDisconnected(ctx, c.Address)
		})
	}
	c.setState(StateClosed)
	c.logger.Debug("connection_done")
}

func (c *Connection) record(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.logger.Warn("peer_directory_update_failed", "error", err)
	}
}
