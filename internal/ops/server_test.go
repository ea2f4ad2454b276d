package ops

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fmarino/despierto/internal/catalog"
	"github.com/fmarino/despierto/internal/events"
)

type fakeStats map[string]any

func (f fakeStats) Stats() map[string]any { return f }

func newTestServer(t *testing.T, cfg ServerConfig) *httptest.Server {
	t.Helper()
	if cfg.Bus == nil {
		cfg.Bus = events.New()
	}
	if cfg.Msgs == nil {
		cfg.Msgs = catalog.Default()
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(NewServer(cfg).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	var body map[string]string
	getJSON(t, ts.URL+"/healthz", &body)
	if body["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", body["status"])
	}
}

func TestStatsAggregatesComponents(t *testing.T) {
	ts := newTestServer(t, ServerConfig{
		Registry:  fakeStats{"users": 2, "alarms": 3},
		Engine:    fakeStats{"active_sessions": 1},
		Scheduler: fakeStats{"jobs": 3},
	})

	var body map[string]any
	getJSON(t, ts.URL+"/api/stats", &body)

	alarms, ok := body["alarms"].(map[string]any)
	if !ok || alarms["alarms"] != float64(3) {
		t.Errorf("alarms = %v", body["alarms"])
	}
	conv, ok := body["conversations"].(map[string]any)
	if !ok || conv["active_sessions"] != float64(1) {
		t.Errorf("conversations = %v", body["conversations"])
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("missing uptime_seconds")
	}
}

func TestHelpRendersHTML(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	resp, err := http.Get(ts.URL + "/help")
	if err != nil {
		t.Fatalf("GET /help: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "/alarma") {
		t.Errorf("help page missing command reference: %s", body)
	}
	if !strings.Contains(string(body), "<") {
		t.Error("help page is not HTML")
	}
}

func TestQRServesPNG(t *testing.T) {
	ts := newTestServer(t, ServerConfig{BotUsername: "DespiertoBot"})

	resp, err := http.Get(ts.URL + "/qr.png")
	if err != nil {
		t.Fatalf("GET /qr.png: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("response is not a PNG")
	}
}

func TestQRWithoutUsername(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	resp, err := http.Get(ts.URL + "/qr.png")
	if err != nil {
		t.Fatalf("GET /qr.png: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEventStreamDeliversBusEvents(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, ServerConfig{Bus: bus})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	// Subscription happens inside the handler; wait for it to register.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.Event{
		Source: events.SourceAlarm,
		Kind:   events.KindAlarmSet,
		Data:   map[string]any{"user_id": 10, "time": "07:30"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Source != events.SourceAlarm || got.Kind != events.KindAlarmSet {
		t.Errorf("event = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not filled")
	}
}

func TestEventStreamUnsubscribesOnDisconnect(t *testing.T) {
	bus := events.New()
	ts := newTestServer(t, ServerConfig{Bus: bus})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never unsubscribed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
