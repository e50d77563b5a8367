package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stellarlinkco/myfriend/internal/bus"
	"github.com/stellarlinkco/myfriend/internal/config"
	"github.com/stellarlinkco/myfriend/internal/cycle"
	"github.com/stellarlinkco/myfriend/internal/llm"
	"github.com/stellarlinkco/myfriend/internal/memory"
	"github.com/stellarlinkco/myfriend/internal/search"
	"github.com/stellarlinkco/myfriend/internal/thought"
)

type memFactStore struct {
	mu    sync.Mutex
	facts map[string][]memory.Fact
}

func newMemFactStore() *memFactStore {
	return &memFactStore{facts: make(map[string][]memory.Fact)}
}

func (m *memFactStore) Load(_ context.Context, userID string) ([]memory.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.Fact(nil), m.facts[userID]...), nil
}

func (m *memFactStore) Save(_ context.Context, userID string, facts []memory.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[userID] = append([]memory.Fact(nil), facts...)
	return nil
}

func (m *memFactStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.facts, userID)
	return nil
}

func (m *memFactStore) Users(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []string
	for u := range m.facts {
		users = append(users, u)
	}
	return users, nil
}

func (m *memFactStore) Close() error { return nil }

// scriptedLLM answers the classifier with decision and every other prompt
// with reply. A non-nil replyErr fails reactive replies.
type scriptedLLM struct {
	decision string
	reply    string
	replyErr error
	calls    atomic.Int32
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	s.calls.Add(1)
	var first string
	if len(req.Turns) > 0 {
		first = req.Turns[0].Content
	}
	if strings.Contains(first, "must decide how to react") {
		return s.decision, nil
	}
	if strings.Contains(first, "worth remembering") {
		return `[]`, nil
	}
	if s.replyErr != nil {
		return "", s.replyErr
	}
	return s.reply, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agent.Workspace = t.TempDir()
	cfg.Logging.ResearchDir = filepath.Join(cfg.Agent.Workspace, "logs")
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Channels.Telegram.Enabled = false
	cfg.Channels.WebUI.Enabled = false
	return cfg
}

func newTestGateway(t *testing.T, gen llm.Generator) *Gateway {
	t.Helper()
	g, err := NewWithOptions(testConfig(t), Options{
		Generator: gen,
		Searcher:  search.Disabled{},
		FactStore: newMemFactStore(),
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	t.Cleanup(func() {
		g.research.Close()
		g.registry.Close()
	})
	return g
}

func inbound(content, id string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:   "telegram",
		SenderID:  "42",
		ChatID:    "100",
		MessageID: id,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func drain(g *Gateway) []bus.OutboundMessage {
	var out []bus.OutboundMessage
	for {
		select {
		case msg := <-g.bus.Outbound:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestGuard_SingleWinner(t *testing.T) {
	g := NewGuard()
	var wins atomic.Int32
	var wg sync.WaitGroup
	releases := make(chan func(), 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := g.Acquire("telegram:42:7"); ok {
				wins.Add(1)
				releases <- release
			}
		}()
	}
	wg.Wait()
	close(releases)
	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want 1", wins.Load())
	}
	for release := range releases {
		release()
		release()
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d after release", g.Len())
	}
	if _, ok := g.Acquire("telegram:42:7"); !ok {
		t.Error("key should be free again")
	}
}

func TestRoutes(t *testing.T) {
	r := NewRoutes()
	if _, ok := r.Get("u"); ok {
		t.Fatal("unexpected route")
	}
	r.Set("u", Route{Channel: "webui", ChatID: "1"})
	r.Set("u", Route{Channel: "telegram", ChatID: "2"})
	got, ok := r.Get("u")
	if !ok || got.Channel != "telegram" || got.ChatID != "2" {
		t.Errorf("Get = %+v, %v", got, ok)
	}
	r.Delete("u")
	if _, ok := r.Get("u"); ok {
		t.Error("route should be gone")
	}
}

func TestHandleInbound_React(t *testing.T) {
	gen := &scriptedLLM{decision: `{"action": "react", "reaction_type": "thanks", "reason": "gratitude"}`}
	g := newTestGateway(t, gen)

	g.handleInbound(context.Background(), inbound("thanks!", "7"))

	out := drain(g)
	if len(out) != 1 {
		t.Fatalf("outbound = %+v, want one reaction", out)
	}
	if out[0].Reaction != "😊" || out[0].ReplyTo != "7" || out[0].ChatID != "100" {
		t.Errorf("reaction = %+v", out[0])
	}
	store, _ := g.registry.Lookup("telegram:42")
	if store.ShortTermLen() != 1 {
		t.Errorf("ShortTermLen = %d, want only the user message", store.ShortTermLen())
	}
}

func TestHandleInbound_Reply(t *testing.T) {
	gen := &scriptedLLM{decision: `{"action": "reply"}`, reply: "Tell me more!"}
	g := newTestGateway(t, gen)

	g.handleInbound(context.Background(), inbound("I changed jobs", "8"))

	out := drain(g)
	if len(out) != 2 {
		t.Fatalf("outbound = %+v, want typing and reply", out)
	}
	if !out[0].Typing {
		t.Errorf("first message should be typing: %+v", out[0])
	}
	if out[1].Content != "Tell me more!" {
		t.Errorf("reply = %q", out[1].Content)
	}
	store, _ := g.registry.Lookup("telegram:42")
	last, ok := store.LastMessage()
	if !ok || last.Role != memory.RoleAssistant || last.Content != "Tell me more!" {
		t.Errorf("last message = %+v", last)
	}
}

func TestHandleInbound_FallbackNotRecorded(t *testing.T) {
	gen := &scriptedLLM{decision: `{"action": "reply"}`, replyErr: errors.New("provider down")}
	g := newTestGateway(t, gen)

	g.handleInbound(context.Background(), inbound("how are you?", "9"))

	out := drain(g)
	if len(out) != 2 || out[1].Content != thought.FallbackReply {
		t.Fatalf("outbound = %+v, want fallback", out)
	}
	store, _ := g.registry.Lookup("telegram:42")
	if store.ShortTermLen() != 1 {
		t.Errorf("fallback must not be recorded, ShortTermLen = %d", store.ShortTermLen())
	}
}

func TestHandleInbound_Ignore(t *testing.T) {
	gen := &scriptedLLM{decision: `{"action": "ignore"}`}
	g := newTestGateway(t, gen)

	g.handleInbound(context.Background(), inbound("brb", "10"))

	if out := drain(g); len(out) != 0 {
		t.Errorf("outbound = %+v, want nothing", out)
	}
	if !g.CanDeliver("telegram:42") {
		t.Error("route should be recorded even when ignored")
	}
}

func TestHandleInbound_DuplicateDropped(t *testing.T) {
	gen := &scriptedLLM{decision: `{"action": "ignore"}`}
	g := newTestGateway(t, gen)

	msg := inbound("hi", "11")
	release, ok := g.guard.Acquire(msg.DedupKey())
	if !ok {
		t.Fatal("acquire failed")
	}
	g.handleInbound(context.Background(), msg)
	release()

	if gen.calls.Load() != 0 {
		t.Errorf("duplicate should not reach the classifier, calls = %d", gen.calls.Load())
	}
	if _, ok := g.registry.Lookup("telegram:42"); ok {
		t.Error("duplicate should not create a store")
	}
}

func TestHandleInbound_Commands(t *testing.T) {
	gen := &scriptedLLM{decision: `{"action": "ignore"}`}
	g := newTestGateway(t, gen)
	ctx := context.Background()

	msg := inbound("", "12")
	msg.Command = "help"
	g.handleInbound(ctx, msg)
	out := drain(g)
	if len(out) != 1 || !strings.Contains(out[0].Content, "/status") {
		t.Fatalf("help = %+v", out)
	}

	msg = inbound("", "13")
	msg.Command = "dance"
	g.handleInbound(ctx, msg)
	out = drain(g)
	if len(out) != 1 || !strings.Contains(out[0].Content, "Unknown command") {
		t.Errorf("unknown = %+v", out)
	}
	if gen.calls.Load() != 0 {
		t.Errorf("commands should not call the model, calls = %d", gen.calls.Load())
	}
}

func TestDeliver(t *testing.T) {
	g := newTestGateway(t, &scriptedLLM{})
	ctx := context.Background()

	if g.CanDeliver("webui:abc") {
		t.Fatal("no route yet")
	}
	if err := g.Deliver(ctx, "webui:abc", "hello", cycle.KindProactive); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("Deliver error = %v, want ErrNoRoute", err)
	}

	g.routes.Set("webui:abc", Route{Channel: "webui", ChatID: "abc"})
	if err := g.Deliver(ctx, "webui:abc", "found this for you", cycle.KindShare); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	out := drain(g)
	if len(out) != 1 || out[0].Channel != "webui" || out[0].Content != "found this for you" {
		t.Errorf("outbound = %+v", out)
	}
	store, _ := g.registry.Lookup("webui:abc")
	if last, ok := store.LastMessage(); !ok || last.Role != memory.RoleAssistant {
		t.Errorf("delivered message not recorded: %+v", last)
	}
}

func TestRun_StopsOnSignal(t *testing.T) {
	cfg := testConfig(t)
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(cfg, Options{
		Generator:  &scriptedLLM{},
		Searcher:   search.Disabled{},
		FactStore:  newMemFactStore(),
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	select {
	case <-g.channels.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("channels never became ready")
	}
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}

	matches, _ := filepath.Glob(filepath.Join(cfg.Logging.ResearchDir, "metrics", "summary_*.json"))
	if len(matches) != 1 {
		t.Errorf("summary files = %v, want one", matches)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer", 4, "this..."},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}
