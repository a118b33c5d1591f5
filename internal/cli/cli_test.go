package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/simbafs/stagesync/internal/api"
	"github.com/simbafs/stagesync/internal/config"
	"github.com/simbafs/stagesync/internal/discovery"
	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/registry"
	"github.com/simbafs/stagesync/internal/session"
)

func TestRenderTable(t *testing.T) {
	out := renderTable("Displays", []string{"Name", "Address"}, [][]string{
		{"Stage Left", "10.0.0.5:8081"},
		{"Lobby"},
	})
	for _, want := range []string{"Displays", "Name", "Address", "Stage Left", "10.0.0.5:8081", "Lobby"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in\n%s", want, out)
		}
	}
}

func TestRenderEndpoints(t *testing.T) {
	if out := renderEndpoints(nil); !strings.Contains(out, "No displays found") {
		t.Errorf("unexpected empty rendering %q", out)
	}
	out := renderEndpoints([]domain.DiscoveredEndpoint{{Name: "Stage", Host: "10.0.0.5", Port: 8081, Resolution: "1920x1080", ServiceType: "udp-broadcast"}})
	for _, want := range []string{"Stage", "10.0.0.5:8081", "1920x1080", "udp-broadcast"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in\n%s", want, out)
		}
	}
}

func TestFetchRoster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/peers" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(domain.RosterSnapshot{
			Revision: 4,
			Term:     2,
			LeaderID: "01A",
			Peers: []domain.Peer{
				{ID: "01A", Role: domain.RoleController, DisplayName: "Booth", IsConnected: true, IsLeader: true},
				{ID: "01B", Role: domain.RoleDisplay, DisplayName: "Stage", IsConnected: true},
			},
		})
	}))
	defer srv.Close()

	snap, err := fetchRoster(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Revision != 4 || len(snap.Peers) != 2 {
		t.Fatalf("unexpected roster %+v", snap)
	}
	out := renderRoster(snap)
	for _, want := range []string{"revision 4, term 2", "Booth", "Stage", "leader"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in\n%s", want, out)
		}
	}
}

func TestFetchRosterUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	if _, err := fetchRoster(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error for a closed server")
	}
}

func TestOpenRepository(t *testing.T) {
	if _, err := openRepository("memory", ""); err != nil {
		t.Errorf("memory: %v", err)
	}
	repo, err := openRepository("sqlite", filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	uc := registry.NewUseCases(repo, nil)
	if _, err := uc.Pair.Execute(context.Background(), registry.PairInput{ChurchID: "c1", Name: "Stage"}); err != nil {
		t.Errorf("pair on sqlite: %v", err)
	}
	if _, err := openRepository("mongodb", "x"); err == nil {
		t.Error("expected unsupported driver error")
	}
}

func TestBenchFanOut(t *testing.T) {
	host := session.NewManager(session.Options{Capability: config.Capability{Role: domain.RoleController, Host: true}})
	if _, err := host.Start(context.Background(), domain.RoleController, "Booth"); err != nil {
		t.Fatal(err)
	}
	defer host.Stop()

	srv := httptest.NewServer(api.New(false, api.NewSessionAPI(host, nil, time.Second)).Handler())
	defer srv.Close()

	r := runBench(context.Background(), BenchOptions{
		HubURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Displays: 2,
		Duration: 300 * time.Millisecond,
		Interval: 20 * time.Millisecond,
	})
	if r.JoinedDisplays != 2 || r.JoinErrors != 0 {
		t.Fatalf("expected both displays to join, got %+v", r)
	}
	if r.Sent == 0 || r.Received == 0 {
		t.Fatalf("expected slides to flow, got %+v", r)
	}
	if r.Received > r.Expected() {
		t.Errorf("received more than was sent: %+v", r)
	}
	if out := benchReport(2, 100, r); !strings.Contains(out, "PASSED") {
		t.Errorf("expected a passing report, got\n%s", out)
	}
}

func TestBenchNoHub(t *testing.T) {
	r := runBench(context.Background(), BenchOptions{HubURL: "ws://127.0.0.1:1/ws", Displays: 1, Duration: time.Millisecond, Interval: time.Millisecond})
	if r.JoinErrors != 1 || r.Sent != 0 {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestDisplayAdvertisersFollowMDNSSetting(t *testing.T) {
	cfg := &config.Config{}
	cfg.Discovery.UDPPort = 45454

	ads := advertisers(cfg)
	if len(ads) != 1 {
		t.Fatalf("expected only the udp responder with mdns off, got %d advertisers", len(ads))
	}
	if udp, ok := ads[0].(*discovery.UDPResponder); !ok || udp.ListenAddr != ":45454" {
		t.Errorf("unexpected advertiser %#v", ads[0])
	}

	cfg.Discovery.MDNS = true
	ads = advertisers(cfg)
	if len(ads) != 2 {
		t.Fatalf("expected mdns and udp advertisers, got %d", len(ads))
	}
	if _, ok := ads[0].(*discovery.MDNS); !ok {
		t.Errorf("expected the mdns advertiser first, got %#v", ads[0])
	}
}

func TestHubLocator(t *testing.T) {
	cfg := &config.Config{}
	cfg.Discovery.Enabled = true
	cfg.Discovery.MDNS = true
	if hubLocator(cfg) == nil {
		t.Error("expected an mdns hub locator")
	}

	cfg.Session.HubURL = "ws://booth.local:8080/ws"
	if hubLocator(cfg) != nil {
		t.Error("a configured hub url needs no lookup")
	}

	cfg.Session.HubURL = ""
	cfg.Discovery.MDNS = false
	if hubLocator(cfg) != nil {
		t.Error("expected no lookup with mdns off")
	}
}

func TestListenPort(t *testing.T) {
	if port, err := listenPort(":8080"); err != nil || port != 8080 {
		t.Errorf("expected 8080, got %d (%v)", port, err)
	}
	for _, addr := range []string{"8080", ":0", ":http"} {
		if _, err := listenPort(addr); err == nil {
			t.Errorf("%q: expected an error", addr)
		}
	}
}
