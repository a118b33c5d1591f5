package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/simbafs/stagesync/internal/discovery"
	"github.com/simbafs/stagesync/internal/domain"
)

var discoverFlags = map[string]string{
	"discovery.timeout":  "timeout",
	"discovery.udp_port": "udp-port",
	"discovery.mdns":     "mdns",
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Browse the local network for displays.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, domain.RoleController, discoverFlags)
		if err != nil {
			return err
		}

		capability := cfg.Capability()
		capability.Browse = true
		disc := discovery.New(discovery.Options{
			Capability: capability,
			Browsers:   browsers(cfg),
			Timeout:    cfg.Discovery.Timeout,
		})
		defer disc.Close()

		endpoints, err := disc.Discover(cmd.Context(), cfg.Discovery.Timeout)
		if err != nil && !errors.Is(err, domain.ErrDiscoveryTimeout) {
			return err
		}
		fmt.Println(renderEndpoints(endpoints))
		return nil
	},
}

func init() {
	discoverCmd.Flags().Duration("timeout", 3*time.Second, "How long to browse")
	discoverCmd.Flags().Int("udp-port", discovery.DefaultUDPPort, "UDP broadcast discovery port")
	discoverCmd.Flags().Bool("mdns", true, "Browse mDNS as well as UDP broadcast")
	rootCmd.AddCommand(discoverCmd)
}

func renderEndpoints(endpoints []domain.DiscoveredEndpoint) string {
	if len(endpoints) == 0 {
		return mutedStyle.Render("No displays found.")
	}
	rows := make([][]string, len(endpoints))
	for i, e := range endpoints {
		rows[i] = []string{
			valueStyle.Render(e.Name),
			e.Host + ":" + strconv.Itoa(e.Port),
			e.Resolution,
			e.Platform,
			e.ServiceType,
		}
	}
	return renderTable("Discovered Displays", []string{"Name", "Address", "Resolution", "Platform", "Found via"}, rows)
}
