package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"p2pmsg/internal/admin"
	"p2pmsg/internal/config"
	"p2pmsg/internal/directory"
	"p2pmsg/internal/peer"
	"p2pmsg/internal/protocol"
)

var runFlags struct {
	host      string
	port      int
	peers     []string
	adminPort int
	verbose   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a node",
	Long: `Start a node listening on --port and dial every --peer.

Configuration is read from .env and environment variables (P2P_PORT, P2P_PEERS,
HANDSHAKE_TIMEOUT, ADMIN_PORT, REDIS_URL, LOG_LEVEL, ...). Flags override them.`,
	Example: `  p2pmsg run --port 12345
  p2pmsg run --port 12346 --peer 127.0.0.1:12345 --admin-port 12380`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyRunFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runNode(cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.host, "host", "", "listen host (P2P_HOST)")
	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "listen port (P2P_PORT)")
	runCmd.Flags().StringArrayVar(&runFlags.peers, "peer", nil, "peer host:port to dial, repeatable (P2P_PEERS)")
	runCmd.Flags().IntVar(&runFlags.adminPort, "admin-port", 0, "admin API port, 0 disables (ADMIN_PORT)")
	runCmd.Flags().BoolVarP(&runFlags.verbose, "verbose", "v", false, "print every dispatched message")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Host = runFlags.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = runFlags.port
	}
	if cmd.Flags().Changed("peer") {
		cfg.Peers = runFlags.peers
	}
	if cmd.Flags().Changed("admin-port") {
		cfg.AdminPort = runFlags.adminPort
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func nodeOptions(cfg *config.Config) peer.Options {
	return peer.Options{
		Host:             cfg.Host,
		Port:             cfg.Port,
		Peers:            cfg.Peers,
		HelloText:        cfg.HelloText,
		HandshakeTimeout: cfg.HandshakeTimeout,
		DialTimeout:      cfg.DialTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		InboundQueueSize: cfg.InboundQueueSize,
		MaxFrameSize:     cfg.MaxFrameSize,
		RateLimit:        cfg.PeerRateLimit,
		RateBurst:        cfg.PeerRateBurst,
	}
}

func runNode(cfg *config.Config) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("program_config",
		"listen_addr", cfg.ListenAddr(),
		"peers", cfg.Peers,
		"admin_port", cfg.AdminPort,
		"redis", cfg.RedisEnabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dir *directory.RedisDirectory
	var nodeDir peer.Directory
	var lister admin.DirectoryLister
	if cfg.RedisEnabled() {
		d, err := directory.NewRedisDirectory(directory.Options{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			TTL:      cfg.PeerRecordTTL,
			Owner:    cfg.ListenAddr(),
		})
		if err != nil {
			// the directory is observational only, run without it
			logger.Error("peer_directory_unavailable", "error", err)
		} else {
			dir, nodeDir, lister = d, d, d
			defer dir.Close()
			logger.Info("peer_directory_enabled", "store", dir.String())
		}
	}

	// the node outlives ctx so Stop can still say goodbye to every peer
	node := peer.NewNode(nodeOptions(cfg), logger, nodeDir)
	if runFlags.verbose {
		node.Observe(printInbound)
	}
	if err := node.Start(context.Background()); err != nil {
		return err
	}

	var adminSrv *admin.Server
	errChan := make(chan error, 1)
	if cfg.AdminPort > 0 {
		if !cfg.IsDevelopment() {
			gin.SetMode(gin.ReleaseMode)
		}
		h := admin.NewHandler(node, lister, logger)
		srv, err := admin.Listen("127.0.0.1:"+strconv.Itoa(cfg.AdminPort), h)
		if err != nil {
			node.Stop()
			return err
		}
		adminSrv = srv
		go func() {
			if err := srv.Serve(); err != nil {
				errChan <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
	case err := <-errChan:
		logger.Error("admin_api_error", "error", err)
	}

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin_api_shutdown_failed", "error", err)
		}
	}
	if err := node.Stop(); err != nil {
		logger.Warn("node_stop_errors", "error", err)
	}
	logger.Info("node_stopped_gracefully")
	return nil
}

func printInbound(in peer.Inbound) {
	switch m := in.Message.(type) {
	case protocol.Hello:
		color.Yellow("%s -> Hello %q", in.From, m.Text)
	case protocol.Terminate:
		color.Red("%s -> Terminate", in.From)
	default:
		color.Cyan("%s -> %s", in.From, protocol.Kind(m))
	}
}
