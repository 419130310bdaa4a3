package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/CaoKaiK/bondora/internal/config"
	"github.com/CaoKaiK/bondora/internal/domain"
	"github.com/CaoKaiK/bondora/internal/service"
)

type stubReportStore struct {
	reports []domain.CycleReport
	account string
	limit   int
}

func (s *stubReportStore) Insert(context.Context, domain.CycleReport) error { return nil }

func (s *stubReportStore) ListRecent(_ context.Context, account string, limit int) ([]domain.CycleReport, error) {
	s.account = account
	s.limit = limit
	return s.reports, nil
}

type stubEventStore struct {
	byCycle map[string][]domain.ListingEvent
	queried []string
}

func (s *stubEventStore) InsertBatch(context.Context, []domain.ListingEvent) error { return nil }

func (s *stubEventStore) ListByCycle(_ context.Context, cycleID string) ([]domain.ListingEvent, error) {
	s.queried = append(s.queried, cycleID)
	return s.byCycle[cycleID], nil
}

type stubBus struct {
	stream     []domain.StreamMessage
	streamName string
	channel    string
	live       chan []byte
}

func (b *stubBus) Publish(context.Context, string, []byte) error      { return nil }
func (b *stubBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *stubBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.channel = channel
	return b.live, nil
}

func (b *stubBus) StreamRead(_ context.Context, stream, _ string, _ int) ([]domain.StreamMessage, error) {
	b.streamName = stream
	return b.stream, nil
}

func testApp() *App {
	cfg := config.Defaults()
	cfg.Accounts = []config.AccountConfig{{Name: "main", Token: "t"}}
	return New(&cfg, slog.Default())
}

func TestReportModeDumpsReportsAndEvents(t *testing.T) {
	reports := &stubReportStore{reports: []domain.CycleReport{{ID: "c1", Account: "main", Created: 2}}}
	events := &stubEventStore{byCycle: map[string][]domain.ListingEvent{
		"c1": {{ID: "e1", CycleID: "c1", Action: domain.ListingCreated, PartID: "p1", Gain: 4}},
	}}
	deps := &Dependencies{CycleReportStore: reports, ListingEventStore: events}

	if err := testApp().ReportMode(context.Background(), deps); err != nil {
		t.Fatalf("ReportMode() error = %v", err)
	}
	if reports.account != "main" || reports.limit != recentReportCount {
		t.Fatalf("queried %q limit %d", reports.account, reports.limit)
	}
	if len(events.queried) != 1 || events.queried[0] != "c1" {
		t.Fatalf("expected events queried for c1, got %v", events.queried)
	}
}

func TestReportModeRequiresStore(t *testing.T) {
	if err := testApp().ReportMode(context.Background(), &Dependencies{}); err == nil {
		t.Fatal("expected error without a report store")
	}
}

func TestWatchModeReplaysThenFollows(t *testing.T) {
	payload, err := json.Marshal(domain.CycleReport{ID: "c1", Account: "main"})
	if err != nil {
		t.Fatal(err)
	}

	live := make(chan []byte, 1)
	live <- payload
	close(live)

	bus := &stubBus{
		stream: []domain.StreamMessage{{ID: "1-0", Payload: payload}},
		live:   live,
	}
	deps := &Dependencies{SignalBus: bus}

	if err := testApp().WatchMode(context.Background(), deps); err != nil {
		t.Fatalf("WatchMode() error = %v", err)
	}
	if bus.streamName != service.CycleStream {
		t.Fatalf("replayed stream %q, want %q", bus.streamName, service.CycleStream)
	}
	if bus.channel != service.CycleChannel {
		t.Fatalf("subscribed channel %q, want %q", bus.channel, service.CycleChannel)
	}
}
