package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"

	"p2pmsg/internal/directory"
	"p2pmsg/internal/peer"
)

// PeerService is the part of a node the admin API drives.
type PeerService interface {
	Peers() []peer.PeerInfo
	Ping(addr peer.Address) error
	Disconnect(addr peer.Address) error
	Dial(ctx context.Context, target string) error
}

// DirectoryLister lists recorded peers.
type DirectoryLister interface {
	List(ctx context.Context) ([]directory.Record, error)
}

type DialRequest struct {
	Address string `json:"address" binding:"required"`
}

type Handler struct {
	svc    PeerService
	dir    DirectoryLister
	logger *slog.Logger
}

// NewHandler builds the admin handler. dir may be nil.
func NewHandler(svc PeerService, dir DirectoryLister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, dir: dir, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/healthz", h.Health)
	rg.GET("/peers", h.ListPeers)
	rg.POST("/peers", h.DialPeer)
	rg.POST("/peers/:addr/ping", h.PingPeer)
	rg.DELETE("/peers/:addr", h.DisconnectPeer)
	rg.GET("/directory", h.ListDirectory)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"peers":  len(h.svc.Peers()),
	})
}

func (h *Handler) ListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Peers())
}

// DialPeer handles POST /peers {"address":"host:port"}
func (h *Handler) DialPeer(c *gin.Context) {
	var in DialRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.svc.Dial(ctx, in.Address); err != nil {
		h.logger.Warn("admin_dial_failed", "target", in.Address, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "dialing", "address": in.Address})
}

func (h *Handler) PingPeer(c *gin.Context) {
	addr, ok := parseAddr(c)
	if !ok {
		return
	}
	if err := h.svc.Ping(addr); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "ping sent", "address": addr.String()})
}

func (h *Handler) DisconnectPeer(c *gin.Context) {
	addr, ok := parseAddr(c)
	if !ok {
		return
	}
	if err := h.svc.Disconnect(addr); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "terminated", "address": addr.String()})
}

func (h *Handler) ListDirectory(c *gin.Context) {
	if h.dir == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "peer directory is not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	records, err := h.dir.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func parseAddr(c *gin.Context) (peer.Address, bool) {
	addr, err := netip.ParseAddrPort(c.Param("addr"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer address"})
		return peer.Address{}, false
	}
	return addr, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, peer.ErrConnectionNotAvailable):
		return http.StatusNotFound
	case errors.Is(err, peer.ErrAlreadyClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
