package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"ctfhooks/internal/cache"
	"ctfhooks/internal/ctftime"
	"ctfhooks/internal/discord"
	"ctfhooks/internal/httpclient"
	"ctfhooks/internal/metrics"
	"ctfhooks/internal/models"
)

type fakeSource struct {
	events []models.Event
	err    error
	calls  int
}

func (f *fakeSource) GetUpcomingEvents(_ context.Context, _, _ int) ([]models.Event, error) {
	f.calls++
	return f.events, f.err
}

type fakeSender struct {
	fail map[string]bool
	sent []string
}

func (f *fakeSender) Execute(_ context.Context, hookURL string, _ *discord.Hook) error {
	f.sent = append(f.sent, hookURL)
	if f.fail[hookURL] {
		return models.NetworkError("post webhook", errors.New("boom"))
	}
	return nil
}

type fakePublisher struct {
	err       error
	published [][]models.Event
}

func (f *fakePublisher) Name() string { return "fake" }

func (f *fakePublisher) Publish(_ context.Context, events []models.Event) error {
	f.published = append(f.published, events)
	return f.err
}

func eventsWithIDs(ids ...int) []models.Event {
	events := make([]models.Event, len(ids))
	for i, id := range ids {
		events[i] = models.Event{ID: id, Name: "CTF", Location: "online"}
	}
	return events
}

func newCache(t *testing.T, contents string) *cache.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.txt")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return cache.New(path)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSyncer(t *testing.T, source EventSource, sender Sender, webhooks []string, opts Options) *Syncer {
	t.Helper()
	s, err := NewSyncer(discardLogger(), source, sender, webhooks, opts)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	return s
}

func TestNewSyncer_RequiresWebhooks(t *testing.T) {
	if _, err := NewSyncer(discardLogger(), &fakeSource{}, &fakeSender{}, nil, Options{}); err == nil {
		t.Error("NewSyncer() error = nil, want error without webhooks")
	}
}

func TestBuildMessage_UnchangedCacheSuppresses(t *testing.T) {
	c := newCache(t, "1,2,3\n")
	s := newSyncer(t, &fakeSource{events: eventsWithIDs(1, 2, 3)}, &fakeSender{}, []string{"https://x/1/a"},
		Options{MaxEntries: 3, Days: 10, Cache: c})

	hook, _, err := s.BuildMessage(context.Background())
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}
	if hook != nil {
		t.Errorf("BuildMessage() hook = %+v, want nil for unchanged events", hook)
	}
	if got, _ := os.ReadFile(c.Path()); string(got) != "1,2,3\n" {
		t.Errorf("cache was rewritten to %q on an unchanged run", got)
	}
}

func TestBuildMessage_ChangedCacheUpdates(t *testing.T) {
	c := newCache(t, "1,2,3")
	s := newSyncer(t, &fakeSource{events: eventsWithIDs(1, 2, 4)}, &fakeSender{}, []string{"https://x/1/a"},
		Options{MaxEntries: 3, Days: 10, Cache: c})

	hook, events, err := s.BuildMessage(context.Background())
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}
	if hook == nil {
		t.Fatal("BuildMessage() hook = nil, want a message for changed events")
	}
	if len(hook.Embeds) != 3 || len(events) != 3 {
		t.Errorf("len(Embeds) = %d, len(events) = %d, want 3", len(hook.Embeds), len(events))
	}
	if got, _ := c.Load(); got != "1,2,4" {
		t.Errorf("cache = %q, want 1,2,4", got)
	}
}

func TestBuildMessage_FirstRunWithEmptyCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.txt")
	if err := cache.Ensure(path); err != nil {
		t.Fatal(err)
	}
	c := cache.New(path)
	s := newSyncer(t, &fakeSource{events: eventsWithIDs(9)}, &fakeSender{}, []string{"https://x/1/a"},
		Options{MaxEntries: 3, Days: 10, Cache: c})

	hook, _, err := s.BuildMessage(context.Background())
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}
	if hook == nil {
		t.Fatal("BuildMessage() hook = nil on first run")
	}
	if got, _ := c.Load(); got != "9" {
		t.Errorf("cache = %q, want 9", got)
	}
}

func TestBuildMessage_NoCacheAlwaysUpdates(t *testing.T) {
	s := newSyncer(t, &fakeSource{}, &fakeSender{}, []string{"https://x/1/a"}, Options{MaxEntries: 3, Days: 10})

	hook, _, err := s.BuildMessage(context.Background())
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}
	if hook == nil {
		t.Fatal("BuildMessage() hook = nil without a cache, want a message")
	}
	if hook.Content != "There are 0 CTFs during the upcoming 10 days" {
		t.Errorf("Content = %q", hook.Content)
	}
}

func TestBuildMessage_MissingCacheFile(t *testing.T) {
	c := cache.New(filepath.Join(t.TempDir(), "missing.txt"))
	src := &fakeSource{events: eventsWithIDs(1)}
	s := newSyncer(t, src, &fakeSender{}, []string{"https://x/1/a"}, Options{MaxEntries: 3, Days: 10, Cache: c})

	_, _, err := s.BuildMessage(context.Background())
	if !errors.Is(err, models.ErrFile) {
		t.Errorf("BuildMessage() error = %v, want ErrFile", err)
	}
	if src.calls != 0 {
		t.Errorf("source was called %d times although the cache could not be read", src.calls)
	}
}

func TestBuildMessage_DryRunWithoutCacheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")
	s := newSyncer(t, &fakeSource{events: eventsWithIDs(1, 2)}, &fakeSender{}, []string{"https://x/1/a"},
		Options{MaxEntries: 3, Days: 10, DryRun: true, Cache: cache.New(path)})

	hook, _, err := s.BuildMessage(context.Background())
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}
	if hook == nil {
		t.Fatal("BuildMessage() hook = nil, want a message for a first dry run")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("dry run created the cache file (stat error = %v)", err)
	}
}

func TestBuildMessage_FetchErrorLeavesCache(t *testing.T) {
	c := newCache(t, "1,2,3")
	src := &fakeSource{err: models.NetworkError("fetch events", errors.New("timeout"))}
	s := newSyncer(t, src, &fakeSender{}, []string{"https://x/1/a"}, Options{MaxEntries: 3, Days: 10, Cache: c})

	_, _, err := s.BuildMessage(context.Background())
	if !errors.Is(err, models.ErrNetwork) {
		t.Errorf("BuildMessage() error = %v, want ErrNetwork", err)
	}
	if got, _ := c.Load(); got != "1,2,3" {
		t.Errorf("cache = %q after a failed fetch, want 1,2,3", got)
	}
}

func TestSendUpdates_DeliversToEveryWebhook(t *testing.T) {
	sender := &fakeSender{}
	pub := &fakePublisher{}
	m := metrics.NewCollector()
	webhooks := []string{"https://x/1/a", "https://x/2/b"}
	s := newSyncer(t, &fakeSource{events: eventsWithIDs(1, 2)}, sender, webhooks,
		Options{MaxEntries: 3, Days: 10, Publishers: []Publisher{pub}, Metrics: m})

	if err := s.SendUpdates(context.Background()); err != nil {
		t.Fatalf("SendUpdates() error = %v", err)
	}
	if strings.Join(sender.sent, " ") != strings.Join(webhooks, " ") {
		t.Errorf("sent to %v, want %v", sender.sent, webhooks)
	}
	if len(pub.published) != 1 || len(pub.published[0]) != 2 {
		t.Errorf("publisher received %v, want one batch of 2 events", pub.published)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "ctfhooks_webhook_deliveries_total"); err != nil || n != 1 {
		t.Errorf("delivery series = %d (%v), want 1 (success only)", n, err)
	}
}

func TestSendUpdates_BestEffortOnFailure(t *testing.T) {
	sender := &fakeSender{fail: map[string]bool{"https://x/1/a": true}}
	webhooks := []string{"https://x/1/a", "https://x/2/b", "https://x/3/c"}
	s := newSyncer(t, &fakeSource{events: eventsWithIDs(1)}, sender, webhooks, Options{MaxEntries: 3, Days: 10})

	err := s.SendUpdates(context.Background())
	if !errors.Is(err, models.ErrNetwork) {
		t.Fatalf("SendUpdates() error = %v, want ErrNetwork", err)
	}
	if !strings.Contains(err.Error(), "1 of 3 webhooks failed") {
		t.Errorf("error %q does not summarize the failures", err)
	}
	if len(sender.sent) != 3 {
		t.Errorf("sent to %d webhooks, want all 3 despite the first failing", len(sender.sent))
	}
}

func TestSendUpdates_SuppressedSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	pub := &fakePublisher{}
	s := newSyncer(t, &fakeSource{events: eventsWithIDs(1, 2, 3)}, sender, []string{"https://x/1/a"},
		Options{MaxEntries: 3, Days: 10, Cache: newCache(t, "1,2,3"), Publishers: []Publisher{pub}})

	if err := s.SendUpdates(context.Background()); err != nil {
		t.Fatalf("SendUpdates() error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent to %v, want nothing", sender.sent)
	}
	if len(pub.published) != 0 {
		t.Errorf("published %d batches, want none", len(pub.published))
	}
}

func TestSendUpdates_DryRun(t *testing.T) {
	sender := &fakeSender{}
	c := newCache(t, "1")
	var logs bytes.Buffer
	s, err := NewSyncer(slog.New(slog.NewTextHandler(&logs, nil)), &fakeSource{events: eventsWithIDs(1, 2)}, sender,
		[]string{"https://x/1/a"}, Options{MaxEntries: 3, Days: 10, DryRun: true, Cache: c})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SendUpdates(context.Background()); err != nil {
		t.Fatalf("SendUpdates() error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("dry run sent to %v", sender.sent)
	}
	if got, _ := c.Load(); got != "1" {
		t.Errorf("dry run rewrote the cache to %q", got)
	}
	if !strings.Contains(logs.String(), "DRY RUN") {
		t.Errorf("dry run did not log the payload: %s", logs.String())
	}
}

func TestSendUpdates_WarnsAboutOversizedMessage(t *testing.T) {
	events := eventsWithIDs(1, 2, 3)
	for i := range events {
		events[i].Description = strings.Repeat("x", 2047)
	}
	var logs bytes.Buffer
	s, err := NewSyncer(slog.New(slog.NewTextHandler(&logs, nil)), &fakeSource{events: events}, &fakeSender{},
		[]string{"https://x/1/a"}, Options{MaxEntries: 3, Days: 10})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SendUpdates(context.Background()); err != nil {
		t.Fatalf("SendUpdates() error = %v", err)
	}
	if !strings.Contains(logs.String(), "embed size limit") {
		t.Errorf("no warning logged for a message over %d characters: %s", discord.MaxEmbedChars, logs.String())
	}
}

func TestSendUpdates_PublisherFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("calendar unavailable")}
	s := newSyncer(t, &fakeSource{events: eventsWithIDs(1)}, &fakeSender{}, []string{"https://x/1/a"},
		Options{MaxEntries: 3, Days: 10, Publishers: []Publisher{pub}})

	if err := s.SendUpdates(context.Background()); err != nil {
		t.Errorf("SendUpdates() error = %v, want nil", err)
	}
}

func TestSendUpdates_EndToEnd(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("limit = %s, want 2", r.URL.Query().Get("limit"))
		}
		io.WriteString(w, `[
			{"id": 11, "title": "Alpha CTF", "start": "2023-01-01T12:00:00+00:00", "duration": {"days": 2}},
			{"id": 12, "title": "Beta CTF", "start": "2023-01-04T09:00:00+00:00", "duration": {"hours": 24}}
		]`)
	}))
	defer api.Close()

	var received []discord.Hook
	hooks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var h discord.Hook
		if err := json.NewDecoder(r.Body).Decode(&h); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received = append(received, h)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hooks.Close()

	httpClient := httpclient.New(0)
	source := ctftime.NewClient(httpClient, discardLogger(), api.URL)
	sender := discord.NewWebhookClient(httpClient, discardLogger(), nil)
	c := newCache(t, "")

	s := newSyncer(t, source, sender, []string{hooks.URL + "/api/webhooks/1/a"},
		Options{MaxEntries: 2, Days: 10, IncludeWeightFields: true, Cache: c})

	hook, _, err := s.BuildMessage(context.Background())
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}
	if hook == nil || len(hook.Embeds) != 2 {
		t.Fatalf("BuildMessage() = %+v, want 2 embeds", hook)
	}
	if !strings.Contains(hook.Content, "2") || !strings.Contains(hook.Content, "10") {
		t.Errorf("Content = %q, want it to mention 2 and 10", hook.Content)
	}

	// The cache now holds 11,12, so a full run right after must send nothing.
	if err := s.SendUpdates(context.Background()); err != nil {
		t.Fatalf("SendUpdates() error = %v", err)
	}
	if len(received) != 0 {
		t.Errorf("webhook received %d messages for an unchanged event list", len(received))
	}

	if err := c.Store(""); err != nil {
		t.Fatal(err)
	}
	if err := s.SendUpdates(context.Background()); err != nil {
		t.Fatalf("SendUpdates() error = %v", err)
	}
	if len(received) != 1 || len(received[0].Embeds) != 2 {
		t.Fatalf("webhook received %+v, want one message with 2 embeds", received)
	}
	if received[0].Embeds[0].Footer.Text != " ⏳ 2 days, 0:00:00 | 📌 online | ⛳ Unknown | 👮 Unknown" {
		t.Errorf("footer = %q", received[0].Embeds[0].Footer.Text)
	}
}
