package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/stellarlinkco/myfriend/internal/bus"
	"github.com/stellarlinkco/myfriend/internal/config"
)

func newTestWebUI(t *testing.T) (*WebUIChannel, *bus.MessageBus, *httptest.Server) {
	t.Helper()
	b := bus.NewMessageBus(10)
	ch, err := NewWebUIChannel(config.WebUIConfig{Enabled: true}, b)
	if err != nil {
		t.Fatalf("NewWebUIChannel: %v", err)
	}
	r := mux.NewRouter()
	if err := ch.Mount(r); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ch.Stop()
		srv.Close()
	})
	return ch, b, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v wsMessage) {
	t.Helper()
	data, _ := json.Marshal(v)
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func nextInbound(t *testing.T, b *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	select {
	case m := <-b.Inbound:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
	return bus.InboundMessage{}
}

func TestWebUIChannel_ServesIndex(t *testing.T) {
	_, _, srv := newTestWebUI(t)
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
}

func TestWebUIChannel_MessageRoundTrip(t *testing.T) {
	ch, b, srv := newTestWebUI(t)
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := dial(t, srv)

	writeJSON(t, conn, wsMessage{Type: "message", Content: "hello"})
	in := nextInbound(t, b)
	if in.Channel != "webui" || in.Content != "hello" || in.MessageID != "1" {
		t.Errorf("unexpected inbound: %+v", in)
	}
	if !strings.HasPrefix(in.SenderID, "webui-") || in.ChatID != in.SenderID {
		t.Errorf("unexpected ids: sender=%q chat=%q", in.SenderID, in.ChatID)
	}

	writeJSON(t, conn, wsMessage{Type: "command", Content: "status"})
	cmd := nextInbound(t, b)
	if cmd.Command != "status" || cmd.Content != "" {
		t.Errorf("unexpected command: %+v", cmd)
	}

	if err := ch.Send(bus.OutboundMessage{ChatID: in.ChatID, Typing: true}); err != nil {
		t.Fatalf("Send typing: %v", err)
	}
	if got := readJSON(t, conn); got.Type != "typing" {
		t.Errorf("type = %q, want typing", got.Type)
	}

	if err := ch.Send(bus.OutboundMessage{ChatID: in.ChatID, Reaction: "🎉", ReplyTo: in.MessageID}); err != nil {
		t.Fatalf("Send reaction: %v", err)
	}
	if got := readJSON(t, conn); got.Type != "reaction" || got.Content != "🎉" || got.ID != "1" {
		t.Errorf("reaction = %+v", got)
	}

	if err := ch.Send(bus.OutboundMessage{ChatID: in.ChatID, Content: "hi back"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := readJSON(t, conn); got.Type != "message" || got.Content != "hi back" {
		t.Errorf("message = %+v", got)
	}
}

func TestWebUIChannel_IgnoresJunk(t *testing.T) {
	_, b, srv := newTestWebUI(t)
	conn := dial(t, srv)

	conn.Write(context.Background(), websocket.MessageText, []byte("not json"))
	writeJSON(t, conn, wsMessage{Type: "ping"})
	writeJSON(t, conn, wsMessage{Type: "message"})
	writeJSON(t, conn, wsMessage{Type: "message", Content: "real"})

	if in := nextInbound(t, b); in.Content != "real" {
		t.Errorf("Content = %q, want real", in.Content)
	}
}

func TestWebUIChannel_SendUnknownClient(t *testing.T) {
	ch, _, _ := newTestWebUI(t)
	if err := ch.Send(bus.OutboundMessage{ChatID: "webui-404", Content: "x"}); err == nil {
		t.Error("expected error for unknown client")
	}
}
