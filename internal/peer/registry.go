package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"p2pmsg/internal/protocol"
)

// Address identifies one connection by the remote IP and port.
type Address = netip.AddrPort

var (
	ErrConnectionNotAvailable = errors.New("connection not available")
	ErrDuplicatePeer          = errors.New("peer already registered")
	ErrAlreadyClosed          = errors.New("connection already closed")
	ErrRegistryClosed         = errors.New("registry closed")
)

// AddressOf extracts the Address of a net.Addr.
func AddressOf(a net.Addr) (Address, error) {
	if tcp, ok := a.(*net.TCPAddr); ok {
		ap := tcp.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	}
	if a == nil {
		return Address{}, errors.New("nil address")
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return Address{}, fmt.Errorf("address %q: %w", a.String(), err)
	}
	return ap, nil
}

// PeerInfo is a read-only snapshot of a registered peer.
type PeerInfo struct {
	Address     Address   `json:"address"`
	ConnID      string    `json:"conn_id"`
	Inbound     bool      `json:"inbound"`
	ConnectedAt time.Time `json:"connected_at"`
	FramesSent  int64     `json:"frames_sent"`
}

// ActivePeer is a registered, live connection.
type ActivePeer struct {
	Address     Address
	ConnID      string
	Inbound     bool
	ConnectedAt time.Time

	mu         sync.Mutex // serializes writes through writer
	writer     *Writer
	terminator chan<- *Writer
	done       <-chan struct{}
}

func (p *ActivePeer) info() PeerInfo {
	return PeerInfo{
		Address:     p.Address,
		ConnID:      p.ConnID,
		Inbound:     p.Inbound,
		ConnectedAt: p.ConnectedAt,
		FramesSent:  p.writer.Writes(),
	}
}

func (p *ActivePeer) send(m protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.write(ownerRegistry, m)
}

// terminate hands the writer back to the connection handler, which sends the
// final Terminate frame and shuts the socket down. The peer must already be
// removed from the registry.
func (p *ActivePeer) terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writer.handoff(ownerRegistry, ownerHandler); err != nil {
		if owner(p.writer.owner.Load()) == ownerNone {
			return fmt.Errorf("terminate %s: %w", p.Address, ErrAlreadyClosed)
		}
		return err
	}
	select {
	case p.terminator <- p.writer:
		return nil
	case <-p.done:
		return fmt.Errorf("terminate %s: %w", p.Address, ErrAlreadyClosed)
	}
}

// Registry maps peer addresses to their live connections.
type Registry struct {
	peers  map[Address]*ActivePeer
	mu     sync.RWMutex
	closed bool // set by CloseAll, later Adds fail
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		peers:  make(map[Address]*ActivePeer),
		logger: logger,
	}
}

// Add registers p and takes ownership of its writer.
func (r *Registry) Add(p *ActivePeer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("add %s: %w", p.Address, ErrRegistryClosed)
	}
	if _, exists := r.peers[p.Address]; exists {
		return fmt.Errorf("add %s: %w", p.Address, ErrDuplicatePeer)
	}
	if err := p.writer.handoff(ownerHandler, ownerRegistry); err != nil {
		return err
	}
	r.peers[p.Address] = p
	r.logger.Info("peer_added",
		"peer", p.Address.String(),
		"conn_id", p.ConnID,
	)
	return nil
}

// Remove deletes and returns the entry for addr.
func (r *Registry) Remove(addr Address) (*ActivePeer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[addr]
	if !ok {
		return nil, false
	}
	delete(r.peers, addr)
	r.logger.Info("peer_removed",
		"peer", addr.String(),
		"conn_id", p.ConnID,
	)
	return p, true
}

// removeConn deletes the entry for addr only if it still belongs to connID.
func (r *Registry) removeConn(addr Address, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[addr]
	if !ok || p.ConnID != connID {
		return false
	}
	delete(r.peers, addr)
	r.logger.Info("peer_removed",
		"peer", addr.String(),
		"conn_id", connID,
	)
	return true
}

// SendTo writes m to the peer registered under addr.
// The read lock is held for the write so a concurrent Remove waits for it.
// A failed write deregisters the peer and shuts its socket down.
func (r *Registry) SendTo(addr Address, m protocol.Message) error {
	r.mu.RLock()
	p, ok := r.peers[addr]
	if !ok {
		r.mu.RUnlock()
		return fmt.Errorf("connection to %s: %w", addr, ErrConnectionNotAvailable)
	}
	err := p.send(m)
	r.mu.RUnlock()

	if err != nil {
		if !errors.Is(err, ErrNotOwner) {
			r.dropBroken(p, err)
		}
		return fmt.Errorf("send %s to %s: %w", protocol.Kind(m), addr, err)
	}
	return nil
}

// dropBroken tears down a peer whose socket failed a write.
// The handler's read loop then ends on the closed socket and cleans up.
func (r *Registry) dropBroken(p *ActivePeer, cause error) {
	if !r.removeConn(p.Address, p.ConnID) {
		return
	}
	r.logger.Warn("peer_write_failed",
		"peer", p.Address.String(),
		"conn_id", p.ConnID,
		"error", cause,
	)
	p.writer.shutdown()
}

// Get returns a snapshot of the entry for addr.
func (r *Registry) Get(addr Address) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[addr]
	if !ok {
		return PeerInfo{}, false
	}
	return p.info(), true
}

// Peers returns all entries ordered by address.
func (r *Registry) Peers() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Compare(out[j].Address) < 0
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// CloseAll removes every entry and asks each handler to terminate.
// Handlers that already exited are skipped. The registry accepts no new
// entries afterwards.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	r.closed = true
	peers := r.peers
	r.peers = make(map[Address]*ActivePeer)
	r.mu.Unlock()

	var errs error
	for addr, p := range peers {
		if err := p.terminate(); err != nil && !errors.Is(err, ErrAlreadyClosed) {
			r.logger.Warn("peer_terminate_failed",
				"peer", addr.String(),
				"error", err,
			)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
