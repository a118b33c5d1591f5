package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/simbafs/stagesync/internal/config"
	"github.com/simbafs/stagesync/internal/domain"
)

type fakeBrowser struct {
	mu      sync.Mutex
	results [][]domain.DiscoveredEndpoint
	calls   int
	err     error
}

func (f *fakeBrowser) Browse(ctx context.Context, timeout time.Duration) ([]domain.DiscoveredEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return nil, f.err
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r, f.err
}

type fakeAdvertiser struct {
	ads      []domain.Advertisement
	shutdown bool
	err      error
}

func (f *fakeAdvertiser) Advertise(ad domain.Advertisement) error {
	if f.err != nil {
		return f.err
	}
	f.ads = append(f.ads, ad)
	return nil
}

func (f *fakeAdvertiser) Shutdown() { f.shutdown = true }

var controller = config.Capability{Role: domain.RoleController, Browse: true, Host: true}

func TestDedupePrefersNonLoopback(t *testing.T) {
	in := []domain.DiscoveredEndpoint{
		{Name: "Stage Left", Host: "127.0.0.1", Port: 8081, DisplayID: "d1"},
		{Name: "Lobby", Host: "192.168.1.20", Port: 8081, DisplayID: "d2"},
		{Name: "Stage Left", Host: "192.168.1.10", Port: 8081, DisplayID: "d1"},
		{Name: "Stage Left", Host: "localhost", Port: 8081, DisplayID: "d1"},
		{Name: "legacy", Host: "::1", Port: 8080},
		{Name: "legacy", Host: "10.0.0.9", Port: 8080},
	}

	out := Dedupe(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 endpoints, got %d: %+v", len(out), out)
	}

	byID := map[string]domain.DiscoveredEndpoint{}
	for _, ep := range out {
		if _, dup := byID[ep.Identity()]; dup {
			t.Fatalf("identity %s appears twice", ep.Identity())
		}
		byID[ep.Identity()] = ep
	}
	if byID["d1"].Host != "192.168.1.10" {
		t.Errorf("expected non-loopback host for d1, got %s", byID["d1"].Host)
	}
	if byID["legacy"].Host != "10.0.0.9" {
		t.Errorf("expected name-keyed endpoint to prefer non-loopback, got %s", byID["legacy"].Host)
	}
}

func TestDedupeKeepsFirstWhenBothRoutable(t *testing.T) {
	out := Dedupe([]domain.DiscoveredEndpoint{
		{Name: "a", Host: "192.168.1.10", DisplayID: "d1"},
		{Name: "a", Host: "192.168.1.11", DisplayID: "d1"},
	})
	if len(out) != 1 || out[0].Host != "192.168.1.10" {
		t.Errorf("unexpected result %+v", out)
	}
}

func TestDiscoverMergesBrowsers(t *testing.T) {
	mdns := &fakeBrowser{results: [][]domain.DiscoveredEndpoint{{
		{Name: "Stage", Host: "192.168.1.10", DisplayID: "d1", ServiceType: MDNSService},
	}}}
	udp := &fakeBrowser{results: [][]domain.DiscoveredEndpoint{{
		{Name: "Stage", Host: "192.168.1.10", DisplayID: "d1", ServiceType: UDPService},
		{Name: "Lobby", Host: "192.168.1.11", DisplayID: "d2", ServiceType: UDPService},
	}}}

	s := New(Options{Capability: controller, Browsers: []Browser{mdns, udp}})
	defer s.Close()

	found, err := s.Discover(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 endpoints, got %+v", found)
	}
}

func TestDiscoverRetainsPreviousOnEmptyPass(t *testing.T) {
	b := &fakeBrowser{results: [][]domain.DiscoveredEndpoint{
		{{Name: "Stage", Host: "192.168.1.10", DisplayID: "d1"}},
		nil,
	}}
	s := New(Options{Capability: controller, Browsers: []Browser{b}})
	defer s.Close()

	updates, cancel := s.Subscribe()
	defer cancel()

	if _, err := s.Discover(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	select {
	case got := <-updates:
		if len(got) != 1 {
			t.Errorf("expected one endpoint published, got %d", len(got))
		}
	case <-time.After(time.Second):
		t.Fatal("expected an update after a successful pass")
	}

	found, err := s.Discover(context.Background(), time.Millisecond)
	if !errors.Is(err, domain.ErrDiscoveryTimeout) {
		t.Fatalf("expected ErrDiscoveryTimeout, got %v", err)
	}
	if len(found) != 1 || found[0].DisplayID != "d1" {
		t.Errorf("expected previous endpoints to be retained, got %+v", found)
	}
	if len(s.Known()) != 1 {
		t.Errorf("expected Known to keep the previous set")
	}
}

func TestDiscoverToleratesFailingBrowser(t *testing.T) {
	broken := &fakeBrowser{err: errors.New("no multicast route")}
	ok := &fakeBrowser{results: [][]domain.DiscoveredEndpoint{{{Name: "Lobby", Host: "10.0.0.2", DisplayID: "d2"}}}}

	s := New(Options{Capability: controller, Browsers: []Browser{broken, ok}})
	defer s.Close()

	found, err := s.Discover(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("expected the healthy browser's result, got %+v", found)
	}
}

func TestDisplayNeverBrowses(t *testing.T) {
	b := &fakeBrowser{}
	s := New(Options{
		Capability: config.Capability{Role: domain.RoleDisplay, Advertise: true},
		Browsers:   []Browser{b},
	})
	defer s.Close()

	found, err := s.Discover(context.Background(), time.Millisecond)
	if !errors.Is(err, domain.ErrDiscoveryDisabled) {
		t.Fatalf("expected ErrDiscoveryDisabled, got %v", err)
	}
	if found != nil {
		t.Errorf("expected no endpoints, got %+v", found)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)
	if b.calls != 0 {
		t.Errorf("display browsed %d times", b.calls)
	}
}

func TestAdvertiseIsIdempotent(t *testing.T) {
	a := &fakeAdvertiser{}
	s := New(Options{
		Capability:  config.Capability{Role: domain.RoleDisplay, Advertise: true},
		Advertisers: []Advertiser{a},
	})

	ad := domain.Advertisement{DisplayID: "d1", DisplayName: "Stage", Width: 1920, Height: 1080, Port: 8081}
	for range 3 {
		if err := s.Advertise(context.Background(), ad); err != nil {
			t.Fatalf("Advertise failed: %v", err)
		}
	}
	if len(a.ads) != 1 {
		t.Fatalf("expected a single registration, got %d", len(a.ads))
	}

	ad.DisplayName = "Stage Right"
	if err := s.Advertise(context.Background(), ad); err != nil {
		t.Fatal(err)
	}
	if len(a.ads) != 2 {
		t.Errorf("expected a changed record to re-register, got %d registrations", len(a.ads))
	}

	s.Close()
	if !a.shutdown {
		t.Error("expected Close to shut advertisers down")
	}
}

func TestAdvertiseRetriesAfterFailure(t *testing.T) {
	a := &fakeAdvertiser{err: errors.New("port in use")}
	s := New(Options{
		Capability:  config.Capability{Role: domain.RoleDisplay, Advertise: true},
		Advertisers: []Advertiser{a},
	})
	defer s.Close()

	ad := domain.Advertisement{DisplayID: "d1"}
	if err := s.Advertise(context.Background(), ad); err == nil {
		t.Fatal("expected advertise error")
	}

	a.err = nil
	s.tick(context.Background())
	if len(a.ads) != 1 {
		t.Errorf("expected the periodic tick to retry, got %d registrations", len(a.ads))
	}
}

func TestControllerDoesNotAdvertise(t *testing.T) {
	s := New(Options{Capability: controller, Advertisers: []Advertiser{&fakeAdvertiser{}}})
	defer s.Close()
	if err := s.Advertise(context.Background(), domain.Advertisement{}); !errors.Is(err, domain.ErrDiscoveryDisabled) {
		t.Errorf("expected ErrDiscoveryDisabled, got %v", err)
	}
}

func TestUDPProbeRoundTrip(t *testing.T) {
	responder := &UDPResponder{ListenAddr: "127.0.0.1:0"}
	ad := domain.Advertisement{
		DisplayID:   "d1",
		DeviceID:    "dev-1",
		DisplayName: "Stage",
		Width:       1920,
		Height:      1080,
		Platform:    "linux",
		Port:        8081,
	}
	if err := responder.Advertise(ad); err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	defer responder.Shutdown()

	b := &UDPBroadcast{Addr: responder.LocalAddr().String()}
	found, err := b.Browse(context.Background(), 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected one reply, got %d", len(found))
	}
	ep := found[0]
	if ep.DisplayID != "d1" || ep.Host != "127.0.0.1" || ep.Port != 8081 {
		t.Errorf("unexpected endpoint %+v", ep)
	}
	if ep.Resolution != "1920x1080" || ep.ServiceType != UDPService {
		t.Errorf("unexpected endpoint metadata %+v", ep)
	}
}

func TestParseReplyIgnoresGarbage(t *testing.T) {
	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 48488}
	if _, ok := parseReply([]byte("HELLO"), from); ok {
		t.Error("expected non-reply message to be ignored")
	}
	if _, ok := parseReply([]byte("SS-HERE {broken"), from); ok {
		t.Error("expected malformed json to be ignored")
	}
	ep, ok := parseReply([]byte(`SS-HERE {"port":9000}`), from)
	if !ok || ep.Name != "Display@10.0.0.5" {
		t.Errorf("unexpected endpoint %+v", ep)
	}
}

func TestEndpointFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("Stage", MDNSService, "local.")
	entry.HostName = "stage-pc.local."
	entry.Port = 8081
	entry.AddrIPv4 = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv4(192, 168, 1, 40)}
	entry.Text = txtRecords(domain.Advertisement{
		DisplayID:   "d9",
		DeviceID:    "dev-9",
		DisplayName: "Stage Monitor",
		Width:       3840,
		Height:      2160,
		Platform:    "android",
	})

	ep := endpointFromEntry(entry)
	if ep.Host != "192.168.1.40" {
		t.Errorf("expected routable address, got %s", ep.Host)
	}
	if ep.DisplayID != "d9" || ep.DeviceID != "dev-9" || ep.Name != "Stage Monitor" {
		t.Errorf("unexpected identity fields %+v", ep)
	}
	if ep.Resolution != "3840x2160" || ep.Platform != "android" {
		t.Errorf("unexpected metadata %+v", ep)
	}

	entry.AddrIPv4 = nil
	if ep := endpointFromEntry(entry); ep.Host != "stage-pc.local" {
		t.Errorf("expected hostname fallback, got %s", ep.Host)
	}
}

func TestHubURLFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("Booth", HubService, "local.")
	entry.HostName = "booth.local."
	entry.Port = 8080
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 10)}
	entry.Text = []string{"peer_id=01A", "path=/ws"}

	if got := hubURLFromEntry(entry); got != "ws://192.168.1.10:8080/ws" {
		t.Errorf("unexpected hub url %s", got)
	}

	entry.AddrIPv4 = nil
	entry.Text = nil
	if got := hubURLFromEntry(entry); got != "ws://booth.local:8080/ws" {
		t.Errorf("expected hostname and default path, got %s", got)
	}
}
