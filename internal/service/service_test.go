package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/ledger"
	"github.com/alanyoungcy/truthledger/internal/matcher"
	"github.com/alanyoungcy/truthledger/internal/metrics"
	"github.com/alanyoungcy/truthledger/internal/platform/polymarket"
	"github.com/alanyoungcy/truthledger/internal/store/memory"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeAPI struct {
	mu      sync.Mutex
	events  []polymarket.APIEvent
	byID    map[string]polymarket.APIEvent
	listErr error
	getErr  error
	lists   int
	gets    int
}

func (f *fakeAPI) ListActiveEvents(context.Context, int) ([]polymarket.APIEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return f.events, f.listErr
}

func (f *fakeAPI) GetEvent(_ context.Context, id string) (polymarket.APIEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return polymarket.APIEvent{}, f.getErr
	}
	ev, ok := f.byID[id]
	if !ok {
		return polymarket.APIEvent{}, domain.ErrNotFound
	}
	return ev, nil
}

type mapCache struct {
	mu       sync.Mutex
	odds     map[string]domain.OddsSnapshot
	mappings map[string]domain.TextMapping
}

func newMapCache() *mapCache {
	return &mapCache{odds: map[string]domain.OddsSnapshot{}, mappings: map[string]domain.TextMapping{}}
}

func (c *mapCache) SetOdds(_ context.Context, o domain.OddsSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.odds[o.EventID] = o
	return nil
}

func (c *mapCache) GetOdds(_ context.Context, id string) (domain.OddsSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.odds[id]
	if !ok {
		return domain.OddsSnapshot{}, domain.ErrNotFound
	}
	return o, nil
}

func (c *mapCache) SetMapping(_ context.Context, m domain.TextMapping) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappings[m.SourceID] = m
	return nil
}

func (c *mapCache) GetMapping(_ context.Context, id string) (domain.TextMapping, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mappings[id]
	if !ok {
		return domain.TextMapping{}, domain.ErrNotFound
	}
	return m, nil
}

func liveEvent(id, title, prices string) polymarket.APIEvent {
	return polymarket.APIEvent{
		ID:      id,
		Title:   title,
		Markets: []polymarket.APIMarket{{ID: id + "-m", Question: title, OutcomePrices: prices}},
	}
}

func TestDiscoveryService_List(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("connection refused")}
	s := NewDiscoveryService(api, 10, time.Minute, discardLogger())

	events, live := s.List(context.Background())
	if live || len(events) != 7 || events[0].ID != "btc-100k-2025" {
		t.Errorf("fallback = %d events, live=%v", len(events), live)
	}

	api.listErr = nil
	api.events = []polymarket.APIEvent{liveEvent("901", "Live one", `["0.7","0.3"]`), {Title: "no id"}}
	events, live = s.List(context.Background())
	if !live || len(events) != 1 || events[0].YesPrice != 0.7 {
		t.Errorf("live = %+v, %v", events, live)
	}
	s.List(context.Background())
	if api.lists != 2 {
		t.Errorf("provider calls = %d, want 2 (second live list cached)", api.lists)
	}
}

func TestOddsService_Get(t *testing.T) {
	api := &fakeAPI{byID: map[string]polymarket.APIEvent{"901": liveEvent("901", "Live one", `["0.65","0.35"]`)}}
	cache := newMapCache()
	s := NewOddsService(api, cache, discardLogger())
	ctx := context.Background()

	odds, cached, err := s.Get(ctx, "901")
	if err != nil || cached || odds.YesPrice != 0.65 || odds.Question != "Live one" {
		t.Fatalf("Get = %+v, %v, %v", odds, cached, err)
	}
	if _, cached, _ = s.Get(ctx, "901"); !cached {
		t.Error("second Get not served from cache")
	}
	if api.gets != 1 {
		t.Errorf("provider calls = %d, want 1", api.gets)
	}

	odds, _, err = s.Get(ctx, "eth-10k")
	if err != nil || odds.YesPrice != 0.5 || odds.Question != "Will Ethereum reach $10,000?" {
		t.Errorf("catalogue fallback = %+v, %v", odds, err)
	}
	if _, _, err := s.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown err = %v, want ErrNotFound", err)
	}

	api.getErr = errors.New("boom")
	if _, _, err := s.Get(ctx, "902"); err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Errorf("provider failure err = %v", err)
	}
}

func TestFormat(t *testing.T) {
	odds := []struct {
		in   float64
		want string
	}{{0.65, "65%"}, {0.005, "1%"}, {1, "100%"}, {0, "0%"}}
	for _, tt := range odds {
		if got := FormatOdds(tt.in); got != tt.want {
			t.Errorf("FormatOdds(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
	vols := []struct {
		in   float64
		want string
	}{{1_234_567, "$1.2M"}, {3_400, "$3.4K"}, {950, "$950"}, {1_000, "$1.0K"}}
	for _, tt := range vols {
		if got := FormatVolume(tt.in); got != tt.want {
			t.Errorf("FormatVolume(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type stubLookup map[string]bool

func (s stubLookup) Lookup(_ context.Context, id string) (domain.Market, error) {
	if s[id] {
		return domain.Market{ExternalID: id}, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func TestMatchService(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("offline")}
	cache := newMapCache()
	discovery := NewDiscoveryService(api, 50, 0, discardLogger())
	odds := NewOddsService(api, cache, discardLogger())
	s := NewMatchService(cache, discovery, matcher.NewKeywordMatcher(discardLogger()), odds,
		stubLookup{"trump-2024": true}, discardLogger())
	ctx := context.Background()

	res, err := s.Match(ctx, "post-1", "Trump is everywhere this week")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !res.Found || res.EventID != "trump-2024" || res.Cached || !res.LedgerMarket || res.YesOdds != "50%" || res.Volume != "$50.0M" {
		t.Errorf("first match = %+v", res)
	}
	m, err := cache.GetMapping(ctx, "post-1")
	if err != nil || m.EventID != "trump-2024" || m.Confidence != 0.8 {
		t.Errorf("mapping = %+v, %v", m, err)
	}

	res, err = s.Match(ctx, "post-1", "")
	if err != nil || !res.Found || !res.Cached || res.EventID != "trump-2024" {
		t.Errorf("cached match = %+v, %v", res, err)
	}

	res, err = s.Match(ctx, "post-2", "nice weather today")
	if err != nil || res.Found {
		t.Errorf("no-match = %+v, %v", res, err)
	}
	if _, err := cache.GetMapping(ctx, "post-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("mapping stored for a miss")
	}

	if _, err := s.Match(ctx, "", " "); domain.KindOf(err) != domain.KindInvalidRequest {
		t.Errorf("empty request err = %v", err)
	}
}

type recordingBus struct {
	mu       sync.Mutex
	channels []string
	stream   int
}

func (b *recordingBus) Publish(_ context.Context, ch string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
	return nil
}
func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *recordingBus) StreamAppend(context.Context, string, []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream++
	return nil
}
func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
	err    error
}

func (r *recordingEvents) PublishLedgerEvent(_ context.Context, e domain.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAlerts) Notify(_ context.Context, event, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type fakeArchiver struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeArchiver) ArchiveSettlement(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return "settlements/" + id + "/report.json", f.err
}

func TestLedgerObserver(t *testing.T) {
	bus := &recordingBus{}
	events := &recordingEvents{err: errors.New("broker down")}
	alerts := &recordingAlerts{}
	archiver := &fakeArchiver{err: errors.New("bucket missing")}
	audit := memory.NewAuditLog()
	m := metrics.New("test")

	o := NewLedgerObserver(ObserverDeps{
		Bus: bus, Events: events, Metrics: m, Audit: audit, Alerts: alerts,
		Archiver: archiver, ArchiveOnResolve: true,
	}, discardLogger())
	ctx := context.Background()

	market := domain.Market{ExternalID: "m1", TotalYes: 30, TotalNo: 20, Resolved: true, Outcome: true}
	o.MarketCreated(ctx, domain.Market{ExternalID: "m1"})
	o.StakePlaced(ctx, ledger.StakeResult{
		Market: market, Stake: domain.StakeRecord{Participant: "alice"}, Side: domain.SideYes, Amount: 30,
		Receipt: domain.Receipt{ID: "r1", BalanceAfter: 30},
	})
	o.MarketResolved(ctx, market)
	o.ClaimPaid(ctx, domain.Payout{MarketID: "m1", Participant: "alice", Amount: 50})
	o.InvariantViolated(ctx, "m1", domain.ErrInsufficientVaultBalance)
	o.Wait()

	wantChannels := []string{"ledger:market_created", "ledger:stake_placed", "ledger:market_resolved", "ledger:claim_paid", "ledger:invariant_violation"}
	if strings.Join(bus.channels, ",") != strings.Join(wantChannels, ",") {
		t.Errorf("channels = %v, want %v", bus.channels, wantChannels)
	}
	if bus.stream != 5 || len(events.events) != 5 {
		t.Errorf("stream = %d, event log = %d, want 5 each", bus.stream, len(events.events))
	}
	if e := events.events[1]; e.Participant != "alice" || e.Amount != 30 || e.TsUnixMs == 0 {
		t.Errorf("stake event = %+v", e)
	}
	if len(archiver.ids) != 1 || archiver.ids[0] != "m1" {
		t.Errorf("archived = %v", archiver.ids)
	}

	alerted := strings.Join(alerts.events, ",")
	for _, want := range []string{"market_created", "market_resolved", "invariant_violation", "archive_failed"} {
		if !strings.Contains(alerted, want) {
			t.Errorf("alerts %q missing %s", alerted, want)
		}
	}
	entries, _ := audit.List(ctx, domain.ListOpts{})
	if len(entries) != 4 {
		t.Errorf("audit entries = %d, want 4", len(entries))
	}
}

// vaultSeries lists the market labels of the vault balance gauge.
func vaultSeries(t *testing.T, m *metrics.Metrics) []string {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var out []string
	for _, f := range families {
		if f.GetName() != "test_vault_balance_base_units" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "market" {
					out = append(out, l.GetValue())
				}
			}
		}
	}
	return out
}

func TestLedgerObserver_DropsSettledVaultSeries(t *testing.T) {
	m := metrics.New("test")
	o := NewLedgerObserver(ObserverDeps{Metrics: m}, discardLogger())
	ctx := context.Background()

	for _, id := range []string{"open", "claimed", "no-winners"} {
		o.MarketCreated(ctx, domain.Market{ExternalID: id})
	}
	o.MarketResolved(ctx, domain.Market{ExternalID: "claimed", TotalYes: 30, TotalNo: 20, Resolved: true, Outcome: true})
	o.MarketResolved(ctx, domain.Market{ExternalID: "no-winners", TotalNo: 20, Resolved: true, Outcome: true})
	if got := strings.Join(vaultSeries(t, m), ","); got != "claimed,open" {
		t.Fatalf("series after resolve = %s, want claimed,open", got)
	}

	o.ClaimPaid(ctx, domain.Payout{MarketID: "claimed", Participant: "alice", Amount: 25, Receipt: domain.Receipt{BalanceAfter: 25}})
	if got := strings.Join(vaultSeries(t, m), ","); got != "claimed,open" {
		t.Fatalf("series after partial claims = %s, want claimed,open", got)
	}
	o.ClaimPaid(ctx, domain.Payout{MarketID: "claimed", Participant: "bob", Amount: 25, Final: true})
	if got := strings.Join(vaultSeries(t, m), ","); got != "open" {
		t.Errorf("series after final claim = %s, want open", got)
	}
}
