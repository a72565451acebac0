package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"

	"github.com/nasa-jpl/cryocycle/cycle"
)

type recordSink struct {
	mu    sync.Mutex
	texts []string
	fails int
	err   error
}

func (s *recordSink) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("try again")
	}
	if s.err != nil {
		return s.err
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordSink) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func event(o cycle.Outcome) cycle.Event {
	return cycle.Event{
		Time:    time.Date(2026, 3, 2, 6, 40, 0, 0, time.UTC),
		Process: cycle.Evaporation,
		Trigger: cycle.Scheduled,
		Outcome: o,
		Stage:   cycle.StageColdCheck,
	}
}

func TestCatalog(t *testing.T) {
	cat, err := NewCatalog(DefaultMessages())
	require.NoError(t, err)
	assert.Len(t, cat, 7)
	assert.Contains(t, cat.Text(cycle.CriticalOvertemp), "CRITICAL")

	cat, err = NewCatalog(map[string]string{"3": "soft"})
	require.NoError(t, err)
	assert.Equal(t, "soft", cat.Text(cycle.SoftAborted))
	assert.Equal(t, "hard-abort", cat.Text(cycle.HardAborted))

	_, err = NewCatalog(map[string]string{"x": "?"})
	assert.Error(t, err)
	_, err = NewCatalog(map[string]string{"7": "?"})
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	cat := Catalog{cycle.HardAborted: "hard abort"}
	ev := event(cycle.HardAborted)
	ev.Err = "device read Tr: serial link down"
	out := cat.Render(ev)
	assert.Contains(t, out, "hard abort")
	assert.Contains(t, out, "evaporation (scheduled) code 4 at stage cold_check")
	assert.Contains(t, out, "2026-03-02T06:40:00Z")
	assert.Contains(t, out, "error: device read Tr")

	ev = cycle.Event{Process: cycle.Condensation, Trigger: cycle.Emergency, Held: 4*time.Hour + 20*time.Second}
	assert.Contains(t, cat.Render(ev), "cold held for 4h0m0s")

	ev = cycle.Event{Process: cycle.Guard, Outcome: cycle.CriticalOvertemp, Value: 9.5}
	assert.Contains(t, cat.Render(ev), "relay 9.500 K")
}

func TestSlackWebhook(t *testing.T) {
	var got struct {
		Text string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	require.NoError(t, NewSlackWebhook(srv.URL).Send(context.Background(), "relay warm"))
	assert.Equal(t, "relay warm", got.Text)
	assert.Equal(t, SlackTimeout, NewSlackWebhook(srv.URL).Client.Timeout)
}

func TestSlackWebhookRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewSlackWebhook(srv.URL).Send(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDelivery)
	assert.Contains(t, err.Error(), "403")
}

type fakeBot struct {
	to   telebot.Recipient
	what interface{}
}

func (b *fakeBot) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	b.to, b.what = to, what
	return &telebot.Message{}, nil
}

func TestTelegram(t *testing.T) {
	bot := &fakeBot{}
	tg := &Telegram{bot: bot, chat: &telebot.Chat{ID: 42}}
	require.NoError(t, tg.Send(context.Background(), "hello"))
	assert.Equal(t, "42", bot.to.Recipient())
	assert.Equal(t, "hello", bot.what)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tg.Send(ctx, "late"), context.Canceled)
}

func TestDispatcherRetries(t *testing.T) {
	flaky := &recordSink{fails: 2}
	steady := &recordSink{}
	d := NewDispatcher(Catalog{cycle.Success: "ok"}, []Sink{flaky, steady}, 4, nil)
	d.RetryInterval = time.Millisecond

	require.NoError(t, d.Notify(context.Background(), event(cycle.Success)))
	d.Close()

	require.Len(t, flaky.sent(), 1)
	assert.Contains(t, flaky.sent()[0], "ok")
	assert.Len(t, steady.sent(), 1)
	assert.ErrorIs(t, d.Notify(context.Background(), event(cycle.Success)), ErrClosed)
}

func TestDispatcherGivesUp(t *testing.T) {
	dead := &recordSink{err: errors.New("down")}
	d := NewDispatcher(nil, []Sink{dead}, 1, nil)
	d.RetryInterval = time.Millisecond
	d.Retries = 2

	err := d.Send(context.Background(), "x")
	assert.ErrorContains(t, err, "down")
	d.Close()
}

type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) Send(ctx context.Context, text string) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestDispatcherNeverBlocks(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}, 4), release: make(chan struct{})}
	d := NewDispatcher(nil, []Sink{sink}, 1, nil)
	ctx := context.Background()

	require.NoError(t, d.Notify(ctx, event(cycle.Success)))
	<-sink.entered
	require.NoError(t, d.Notify(ctx, event(cycle.Success)))
	assert.ErrorIs(t, d.Notify(ctx, event(cycle.Success)), ErrQueueFull)

	close(sink.release)
	d.Close()
	assert.Len(t, sink.entered, 1, "the queued event was drained")
}

func TestDigest(t *testing.T) {
	out := &recordSink{}
	d, err := NewDigest(DefaultDigestSpec, time.UTC, out, Catalog{cycle.Success: "fine"}, nil)
	require.NoError(t, err)
	assert.Contains(t, d.Summary(), "no cycle events")

	d.Add(event(cycle.Success))
	held := cycle.Event{
		Time: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), Process: cycle.Condensation,
		Trigger: cycle.Emergency, Outcome: cycle.Success, Held: 4 * time.Hour,
	}
	d.Add(held)
	s := d.Summary()
	assert.Contains(t, s, "2 events")
	assert.Contains(t, s, "06:40 evaporation (scheduled): fine")
	assert.Contains(t, s, "11:00 condensation (emergency): fine held 4h0m0s")

	out.err = errors.New("down")
	assert.Error(t, d.Flush(context.Background()))
	assert.Contains(t, d.Summary(), "2 events", "a failed flush keeps the events")

	out.err = nil
	require.NoError(t, d.Flush(context.Background()))
	assert.Len(t, out.sent(), 1)
	assert.Contains(t, d.Summary(), "no cycle events")
}

func TestDigestBadSpec(t *testing.T) {
	_, err := NewDigest("every day", nil, &recordSink{}, nil, nil)
	assert.Error(t, err)
}

func TestDigestConsume(t *testing.T) {
	d, err := NewDigest(DefaultDigestSpec, nil, &recordSink{}, nil, nil)
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	events := make(chan cycle.Event, 2)
	events <- event(cycle.Success)
	events <- event(cycle.Cancelled)
	close(events)
	d.Consume(context.Background(), events)
	assert.Contains(t, d.Summary(), "2 events")
}
