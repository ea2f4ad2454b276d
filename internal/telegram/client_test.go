package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetMe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/getMe" {
			t.Errorf("path = %q, want /botTOKEN/getMe", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("method = %q, want POST", r.Method)
		}
		w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"username":"DespiertoBot"}}`))
	}))
	defer server.Close()

	client := newClient(server.URL, "TOKEN", slog.New(slog.NewTextHandler(io.Discard, nil)))
	me, err := client.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if me.ID != 42 || me.Username != "DespiertoBot" {
		t.Errorf("me = %+v", me)
	}
}

func TestGetUpdatesSendsOffsetAndTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			Offset         int64    `json:"offset"`
			Timeout        int      `json:"timeout"`
			AllowedUpdates []string `json:"allowed_updates"`
		}
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		if params.Offset != 100 {
			t.Errorf("offset = %d, want 100", params.Offset)
		}
		if params.Timeout != 30 {
			t.Errorf("timeout = %d, want 30", params.Timeout)
		}
		if len(params.AllowedUpdates) != 1 || params.AllowedUpdates[0] != "message" {
			t.Errorf("allowed_updates = %v", params.AllowedUpdates)
		}
		w.Write([]byte(`{"ok":true,"result":[
			{"update_id":100,"message":{"message_id":1,"from":{"id":7},"chat":{"id":8},"text":"/start"}},
			{"update_id":101,"message":{"message_id":2,"from":{"id":7},"chat":{"id":8},"text":"hola"}}
		]}`))
	}))
	defer server.Close()

	client := newClient(server.URL, "TOKEN", slog.New(slog.NewTextHandler(io.Discard, nil)))
	updates, err := client.GetUpdates(context.Background(), 100, 30)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[0].UpdateID != 100 || updates[0].Message.Text != "/start" {
		t.Errorf("first update = %+v", updates[0])
	}
	if updates[1].Message.From.ID != 7 || updates[1].Message.Chat.ID != 8 {
		t.Errorf("second update = %+v", updates[1])
	}
}

func TestSendMessageOmitsEmptyParseMode(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	client := newClient(server.URL, "TOKEN", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := client.SendMessage(context.Background(), 8, "hola", ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got["chat_id"] != float64(8) || got["text"] != "hola" {
		t.Errorf("params = %v", got)
	}
	if _, present := got["parse_mode"]; present {
		t.Error("parse_mode should be omitted when empty")
	}
}

func TestErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer server.Close()

	client := newClient(server.URL, "BADTOKEN", slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := client.GetMe(context.Background())
	if err == nil {
		t.Fatal("expected error for ok=false envelope")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("error = %v, want code and description", err)
	}
}

func TestMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway error</html>`))
	}))
	defer server.Close()

	client := newClient(server.URL, "TOKEN", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := client.SendMessage(context.Background(), 8, "hola", ""); err == nil {
		t.Fatal("expected decode error for non-JSON body")
	}
}
