package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/simbafs/stagesync/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session roster of a running controller.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd, domain.RoleController, nil); err != nil {
			return err
		}
		server, _ := cmd.Flags().GetString("server")

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		snap, err := fetchRoster(ctx, server)
		if err != nil {
			return err
		}
		fmt.Println(renderRoster(snap))
		return nil
	},
}

func init() {
	statusCmd.Flags().String("server", "http://localhost:8080", "Base url of the controller")
	rootCmd.AddCommand(statusCmd)
}

func fetchRoster(ctx context.Context, server string) (domain.RosterSnapshot, error) {
	var snap domain.RosterSnapshot

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/api/peers", nil)
	if err != nil {
		return snap, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return snap, fmt.Errorf("%w: %v", domain.ErrPeerNotConnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("invalid roster: %w", err)
	}
	return snap, nil
}

func renderRoster(snap domain.RosterSnapshot) string {
	rows := make([][]string, len(snap.Peers))
	for i, p := range snap.Peers {
		state := successStyle.Render("connected")
		if !p.IsConnected {
			state = errorStyle.Render("gone")
		}
		leader := ""
		if p.IsLeader {
			leader = valueStyle.Render("leader")
		}
		rows[i] = []string{p.ID, string(p.Role), p.DisplayName, state, leader}
	}
	title := fmt.Sprintf("Session (revision %d, term %d)", snap.Revision, snap.Term)
	return renderTable(title, []string{"Peer", "Role", "Name", "State", ""}, rows)
}
