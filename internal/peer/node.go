package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"p2pmsg/internal/protocol"
)

const (
	DefaultHelloText        = "Hello from me"
	DefaultInboundQueueSize = 1024
)

// Options configures a Node.
type Options struct {
	Host             string
	Port             int
	Peers            []string // host:port dialed at start
	HelloText        string
	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	InboundQueueSize int
	MaxFrameSize     int
	RateLimit        float64 // messages per second per peer, 0 disables
	RateBurst        int
}

func (o *Options) setDefaults() {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.HelloText == "" {
		o.HelloText = DefaultHelloText
	}
	if o.InboundQueueSize <= 0 {
		o.InboundQueueSize = DefaultInboundQueueSize
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if o.RateLimit > 0 && o.RateBurst <= 0 {
		o.RateBurst = 1
	}
}

// Directory receives connection events, e.g. to publish the peer list.
type Directory interface {
	PeerConnected(ctx context.Context, info PeerInfo) error
	PeerDisconnected(ctx context.Context, addr Address) error
}

type nopDirectory struct{}

func (nopDirectory) PeerConnected(context.Context, PeerInfo) error  { return nil }
func (nopDirectory) PeerDisconnected(context.Context, Address) error { return nil }

// Node listens for peers, dials configured peers and dispatches their messages.
type Node struct {
	opts       Options
	logger     *slog.Logger
	registry   *Registry
	dispatcher *Dispatcher
	queue      chan Inbound
	directory  Directory

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewNode builds a node. logger and directory may be nil.
func NewNode(opts Options, logger *slog.Logger, directory Directory) *Node {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if directory == nil {
		directory = nopDirectory{}
	}
	queue := make(chan Inbound, opts.InboundQueueSize)
	registry := NewRegistry(logger)
	return &Node{
		opts:       opts,
		logger:     logger,
		registry:   registry,
		dispatcher: NewDispatcher(registry, queue, logger),
		queue:      queue,
		directory:  directory,
	}
}

// Start binds the listener and starts the accept loop, the dispatch loop
// and one dialer per configured peer. Only a bind failure is returned.
func (n *Node) Start(ctx context.Context) error {
	addr := net.JoinHostPort(n.opts.Host, strconv.Itoa(n.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	n.listener = listener
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.logger.Info("node_started",
		"listen_addr", listener.Addr().String(),
		"peers", len(n.opts.Peers),
	)

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.dispatcher.Run(n.ctx)
	}()
	go func() {
		defer n.wg.Done()
		n.acceptLoop()
	}()

	for _, target := range n.opts.Peers {
		n.wg.Add(1)
		go func(target string) {
			defer n.wg.Done()
			if err := n.Dial(n.ctx, target); err != nil {
				n.logger.Error("peer_dial_failed",
					"target", target,
					"error", err,
				)
			}
		}(target)
	}
	return nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || n.ctx.Err() != nil {
				return
			}
			n.logger.Error("accept_failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		n.serve(conn, true)
	}
}

// Dial connects to target and hands the socket to a new connection handler.
// It returns once the socket is open; the handshake continues in the background.
func (n *Node) Dial(ctx context.Context, target string) error {
	if n.ctx == nil {
		return errors.New("node not started")
	}
	dialer := net.Dialer{Timeout: n.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	n.serve(conn, false)
	return nil
}

func (n *Node) serve(conn net.Conn, inbound bool) {
	c, err := newConnection(conn, inbound, n)
	if err != nil {
		n.logger.Error("connection_setup_failed",
			"remote_addr", conn.RemoteAddr().String(),
			"error", err,
		)
		conn.Close()
		return
	}
	c.logger.Info("peer_connected", "inbound", inbound)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		c.Serve(n.ctx)
	}()
}

// Addr returns the listening address, nil before Start.
func (n *Node) Addr() net.Addr {
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

func (n *Node) Registry() *Registry { return n.registry }

// Peers lists the registered connections.
func (n *Node) Peers() []PeerInfo { return n.registry.Peers() }

// Observe registers fn for every dispatched message.
func (n *Node) Observe(fn func(Inbound)) { n.dispatcher.Observe(fn) }

// Ping sends a Ping to addr; the reply shows up as a dispatched Pong.
func (n *Node) Ping(addr Address) error {
	return n.registry.SendTo(addr, protocol.Ping{})
}

// Disconnect gracefully closes the connection to addr: a final Terminate
// frame is written and the socket is shut down.
func (n *Node) Disconnect(addr Address) error {
	p, ok := n.registry.Remove(addr)
	if !ok {
		return fmt.Errorf("connection to %s: %w", addr, ErrConnectionNotAvailable)
	}
	return p.terminate()
}

// Stop closes the listener, terminates every connection and waits for all
// goroutines to exit.
func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		if n.listener == nil {
			return
		}
		if cerr := n.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close listener: %w", cerr))
		}
		if cerr := n.registry.CloseAll(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
		n.cancel()
		n.wg.Wait()
		n.logger.Info("node_stopped")
	})
	return err
}
