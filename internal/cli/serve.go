package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/simbafs/stagesync/internal/api"
	"github.com/simbafs/stagesync/internal/config"
	"github.com/simbafs/stagesync/internal/control"
	"github.com/simbafs/stagesync/internal/discovery"
	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/registry"
	"github.com/simbafs/stagesync/internal/session"
)

const shutdownTimeout = 5 * time.Second

var serveFlags = map[string]string{
	"server.addr":        "addr",
	"session.hub_url":    "hub",
	"registry.driver":    "registry-driver",
	"registry.dsn":       "registry-dsn",
	"registry.church_id": "church",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a controller: session hub, display registry and control API.",
	Long: `Runs a controller. It joins the hub given by --hub, or the first hub another
controller announces over mDNS. When there is none, this process hosts the
session hub on /ws and the display registry, and announces the hub. It always
serves the control API used by the operator UI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, domain.RoleController, serveFlags)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runController(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("hub", "", "Join the session hub at this websocket url instead of hosting one")
	serveCmd.Flags().String("registry-driver", "sqlite", "Display registry storage (sqlite, postgres, memory)")
	serveCmd.Flags().String("registry-dsn", "stagesync.db", "Display registry DSN")
	serveCmd.Flags().String("church", "", "Only sweep displays of this church")

	rootCmd.AddCommand(serveCmd)
}

func runController(ctx context.Context, cfg *config.Config) error {
	capability := cfg.Capability()

	repo, err := openRepository(cfg.Registry.Driver, cfg.Registry.DSN)
	if err != nil {
		return err
	}
	displays := registry.NewUseCases(repo, nil)

	manager := session.NewManager(session.Options{
		Capability:       capability,
		HubURL:           cfg.Session.HubURL,
		Locator:          hubLocator(cfg),
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
	})
	if _, err := manager.Start(ctx, domain.RoleController, cfg.Name); err != nil {
		return err
	}
	defer manager.Stop()

	if manager.Hosting() && cfg.Discovery.Enabled && cfg.Discovery.MDNS {
		hubs := discovery.NewHubMDNS(cfg.Discovery.Timeout)
		if err := announceHub(hubs, cfg, manager.SelfID()); err != nil {
			slog.Warn("hub announcement failed", "error", err)
		} else {
			defer hubs.Shutdown()
		}
	}

	var browser api.Discovery
	if capability.Browse {
		disc := discovery.New(discovery.Options{
			Capability: capability,
			Browsers:   browsers(cfg),
			Interval:   cfg.Discovery.Interval,
			Timeout:    cfg.Discovery.Timeout,
		})
		defer disc.Close()
		go disc.Run(ctx)
		browser = disc
	}

	channel := control.NewChannel(manager)
	go channel.Run(ctx)

	if manager.Hosting() {
		sweeper := &registry.Sweeper{
			Sweep:     displays.Sweep,
			ChurchID:  cfg.Registry.ChurchID,
			Interval:  cfg.Registry.SweepInterval,
			Staleness: cfg.Registry.Staleness,
		}
		go sweeper.Run(ctx)
	}

	server := api.New(cfg.LogLevel() == slog.LevelDebug,
		api.NewSessionAPI(manager, browser, cfg.Discovery.Timeout),
		api.NewDisplayAPI(displays, api.SweepConfig{Staleness: cfg.Registry.Staleness}),
		api.NewControlAPI(channel, cfg.Control.PrecacheTimeout),
	)

	slog.Info("controller ready", "addr", cfg.Server.Addr, "host", manager.Hosting(), "peer", manager.SelfID())
	return listen(ctx, cfg.Server.Addr, server.Handler())
}

// openRepository picks the registry storage. memory keeps records for the
// lifetime of the process only.
func openRepository(driver, dsn string) (registry.Repository, error) {
	if driver == "memory" {
		return registry.NewMemoryRepository(), nil
	}
	db, err := registry.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	return registry.NewGormRepository(db), nil
}

func browsers(cfg *config.Config) []discovery.Browser {
	var out []discovery.Browser
	if cfg.Discovery.MDNS {
		out = append(out, discovery.NewMDNS())
	}
	out = append(out, &discovery.UDPBroadcast{Addr: fmt.Sprintf("255.255.255.255:%d", cfg.Discovery.UDPPort)})
	return out
}

// hubLocator looks for an announced hub when no hub url is configured and
// mDNS discovery is on.
func hubLocator(cfg *config.Config) session.HubLocator {
	if cfg.Session.HubURL != "" || !cfg.Discovery.Enabled || !cfg.Discovery.MDNS {
		return nil
	}
	return discovery.NewHubMDNS(cfg.Discovery.Timeout)
}

func announceHub(hubs *discovery.HubMDNS, cfg *config.Config, peerID string) error {
	port, err := listenPort(cfg.Server.Addr)
	if err != nil {
		return err
	}
	return hubs.Announce(cfg.Name, port, peerID)
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("listen address %q has no fixed port", addr)
	}
	return port, nil
}

// listen serves h on addr until ctx is cancelled.
func listen(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return nil
}
