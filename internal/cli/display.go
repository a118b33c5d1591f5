package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/simbafs/stagesync/internal/api"
	"github.com/simbafs/stagesync/internal/cache"
	"github.com/simbafs/stagesync/internal/config"
	"github.com/simbafs/stagesync/internal/control"
	"github.com/simbafs/stagesync/internal/discovery"
	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/precache"
	"github.com/simbafs/stagesync/internal/registry"
	"github.com/simbafs/stagesync/internal/session"
)

const rejoinInterval = 2 * time.Second

var displayFlags = map[string]string{
	"session.hub_url":       "hub",
	"display.port":          "port",
	"registry.pairing_code": "pairing-code",
	"registry.url":          "registry",
	"cache.dir":             "cache-dir",
}

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Run a display that joins a session and renders what the leader shows.",
	Long: `Runs a display. The display advertises itself over mDNS and UDP broadcast,
joins the session hub given by --hub or the first one announced over mDNS,
precaches announced media and reports its readiness back to the controller
that asked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, domain.RoleDisplay, displayFlags)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runDisplay(ctx, cfg)
	},
}

func init() {
	displayCmd.Flags().String("hub", "", "Websocket url of the session hub, e.g. ws://booth.local:8080/ws")
	displayCmd.Flags().Int("port", 8081, "Port of the display status endpoint")
	displayCmd.Flags().String("pairing-code", "", "Pairing code issued by the registry")
	displayCmd.Flags().String("registry", "", "Base url of the registry that receives heartbeats")
	displayCmd.Flags().String("cache-dir", "", "Directory for precached media")

	rootCmd.AddCommand(displayCmd)
}

func runDisplay(ctx context.Context, cfg *config.Config) error {
	capability := cfg.Capability()

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()
	go engine.Janitor(ctx, cfg.Cache.JanitorInterval)

	manager := session.NewManager(session.Options{
		Capability:       capability,
		HubURL:           cfg.Session.HubURL,
		Locator:          hubLocator(cfg),
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		MaxLines:         cfg.Display.MaxLines,
	})
	defer manager.Stop()
	go keepJoined(ctx, manager, cfg.Name)

	if capability.Advertise {
		disc := discovery.New(discovery.Options{
			Capability:  capability,
			Advertisers: advertisers(cfg),
			Interval:    cfg.Discovery.Interval,
		})
		defer disc.Close()
		if err := disc.Advertise(ctx, advertisement(cfg)); err != nil {
			slog.Warn("advertise failed, retrying in the background", "error", err)
		}
		go disc.Run(ctx)
	}

	if cfg.Registry.PairingCode != "" && cfg.Registry.URL != "" {
		hb := &registry.Heartbeater{
			Sender:   registry.NewHTTPClient(cfg.Registry.URL),
			Code:     cfg.Registry.PairingCode,
			Interval: cfg.Registry.HeartbeatInterval,
		}
		go hb.Run(ctx)
	}

	status := api.New(cfg.LogLevel() == slog.LevelDebug, api.NewSessionAPI(manager, nil, 0))
	go func() {
		if err := listen(ctx, fmt.Sprintf(":%d", cfg.Display.Port), status.Handler()); err != nil {
			slog.Error("display status endpoint stopped", "error", err)
		}
	}()

	d := control.NewDisplay(control.DisplayOptions{
		Transport: manager,
		Engine:    engine,
		Styles:    []domain.Style{{Name: "default", MaxLines: cfg.Display.MaxLines}},
		Renderer:  control.LogRenderer(),
	})
	slog.Info("display ready", "name", cfg.Name, "hub", cfg.Session.HubURL)
	d.Run(ctx)
	return nil
}

func newEngine(cfg *config.Config) (*precache.Engine, error) {
	blobs, err := cache.NewBlobDir(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}

	sources := map[string]precache.Source{}
	if cfg.S3.Endpoint != "" || cfg.S3.KeyID != "" {
		s3src, err := precache.NewS3Source(precache.S3Config{
			Endpoint: cfg.S3.Endpoint,
			Region:   cfg.S3.Region,
			KeyID:    cfg.S3.KeyID,
			AppKey:   cfg.S3.AppKey,
		})
		if err != nil {
			return nil, err
		}
		sources["s3"] = s3src
	}

	return precache.New(precache.Options{
		Sources:          sources,
		Blobs:            blobs,
		Workers:          cfg.Cache.Workers,
		ProgressInterval: cfg.Cache.ProgressInterval,
	}), nil
}

func advertisers(cfg *config.Config) []discovery.Advertiser {
	var out []discovery.Advertiser
	if cfg.Discovery.MDNS {
		out = append(out, discovery.NewMDNS())
	}
	out = append(out, &discovery.UDPResponder{ListenAddr: fmt.Sprintf(":%d", cfg.Discovery.UDPPort)})
	return out
}

func advertisement(cfg *config.Config) domain.Advertisement {
	deviceID := cfg.Display.DeviceID
	if deviceID == "" {
		deviceID = ulid.Make().String()
		slog.Info("no display.device_id configured, using a temporary one", "device", deviceID)
	}
	return domain.Advertisement{
		DisplayID:   deviceID,
		DeviceID:    deviceID,
		DisplayName: cfg.Name,
		Width:       cfg.Display.Width,
		Height:      cfg.Display.Height,
		Platform:    cfg.Display.Platform,
		ServiceType: discovery.MDNSService,
		Port:        cfg.Display.Port,
	}
}

// keepJoined joins the session and rejoins whenever the link drops.
func keepJoined(ctx context.Context, m *session.Manager, name string) {
	ticker := time.NewTicker(rejoinInterval)
	defer ticker.Stop()

	for {
		if m.State() != session.StateConnected {
			if _, err := m.Start(ctx, domain.RoleDisplay, name); err != nil && ctx.Err() == nil {
				slog.Warn("failed to join session", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
