package cycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stellarlinkco/myfriend/internal/infoshare"
	"github.com/stellarlinkco/myfriend/internal/llm"
	"github.com/stellarlinkco/myfriend/internal/memory"
	"github.com/stellarlinkco/myfriend/internal/search"
	"github.com/stellarlinkco/myfriend/internal/thought"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type delivery struct {
	user    string
	content string
	kind    Kind
}

type fakeDeliverer struct {
	mu       sync.Mutex
	routes   map[string]bool
	panicFor string
	sent     []delivery
}

func (f *fakeDeliverer) CanDeliver(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.routes[userID]
}

func (f *fakeDeliverer) Deliver(_ context.Context, userID, content string, kind Kind) error {
	if userID == f.panicFor {
		panic("transport exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{userID, content, kind})
	return nil
}

func (f *fakeDeliverer) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.sent...)
}

func proactiveLLM() llm.GeneratorFunc {
	return func(_ context.Context, req llm.Request) (string, error) {
		p := req.Turns[0].Content
		switch {
		case strings.Contains(p, "Put into words"):
			return `{"thought": "wonder how the race went", "type": "curiosity", "potential_response": "How did the race go?"}`, nil
		case strings.Contains(p, "You judge how strongly"):
			return `{"overall_score": 4.5, "should_speak": true, "reasoning": "been a while"}`, nil
		case strings.Contains(p, "about to start talking"):
			return "How did the race go?", nil
		case strings.Contains(p, "Extract the user's interests"):
			return `["trail running"]`, nil
		case strings.Contains(p, "worth sharing"):
			return `{"overall_score": 4.8}`, nil
		case strings.Contains(p, "Write a message sharing"):
			return "found this: https://x/race", nil
		}
		return "", errors.New("unexpected prompt")
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	driver   *Driver
	registry *memory.Registry
	deliver  *fakeDeliverer
	clock    *clock
	ledger   *infoshare.Ledger
}

func newFixture(t *testing.T, searcher search.Searcher) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)}
	reg := memory.NewRegistry(memory.Options{
		MaxConsecutive:          2,
		MinInterventionInterval: time.Minute,
		Now:                     clk.Now,
	}, nil, nil)
	gen := proactiveLLM()
	eng := thought.NewEngine(gen, thought.Config{
		MotivationThreshold: 3.5,
		SilenceTimeout:      time.Hour,
		ThoughtInterval:     5 * time.Minute,
	}, nil)
	ledger := infoshare.NewLedger(3, 2*time.Hour, clk.Now)
	sched := infoshare.NewScheduler(gen, searcher, ledger, infoshare.Config{ShareThreshold: 4}, nil)
	deliver := &fakeDeliverer{routes: map[string]bool{}}
	d := New(reg, eng, sched, deliver, nil, Config{
		ProactiveInterval: time.Second,
		InfoInterval:      time.Second,
		UserTimeout:       time.Second,
		Proactive:         true,
		Information:       true,
	}, nil)
	return &fixture{driver: d, registry: reg, deliver: deliver, clock: clk, ledger: ledger}
}

func TestProactiveTick_DeliversExpressedThought(t *testing.T) {
	f := newFixture(t, search.Disabled{})
	ctx := context.Background()

	store := f.registry.Get(ctx, "u1")
	store.AddMessage(memory.RoleUser, "running a race tomorrow")
	f.deliver.routes["u1"] = true
	f.clock.Advance(10 * time.Minute)

	f.driver.ProactiveTick(ctx)

	got := f.deliver.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, delivery{"u1", "How did the race go?", KindProactive}, got[0])
	pending := store.Thoughts()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Expressed)
}

func TestProactiveTick_SkipsUsersWithoutRoute(t *testing.T) {
	f := newFixture(t, search.Disabled{})
	ctx := context.Background()

	store := f.registry.Get(ctx, "u1")
	store.AddMessage(memory.RoleUser, "hi")
	f.clock.Advance(10 * time.Minute)

	f.driver.ProactiveTick(ctx)
	assert.Empty(t, f.deliver.deliveries())
	assert.Empty(t, store.Thoughts())
}

func TestProactiveTick_PanicIsFencedPerUser(t *testing.T) {
	f := newFixture(t, search.Disabled{})
	ctx := context.Background()

	for _, id := range []string{"a-bad", "b-good"} {
		f.registry.Get(ctx, id).AddMessage(memory.RoleUser, "hello")
		f.deliver.routes[id] = true
	}
	f.deliver.panicFor = "a-bad"
	f.clock.Advance(10 * time.Minute)

	assert.NotPanics(t, func() { f.driver.ProactiveTick(ctx) })
	got := f.deliver.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "b-good", got[0].user)
}

func TestRunInfo_SharesOnceAndRespectsInterval(t *testing.T) {
	searcher := search.SearcherFunc(func(context.Context, search.Query) ([]search.Result, error) {
		return []search.Result{{Title: "Race", URL: "https://x/race"}}, nil
	})
	f := newFixture(t, searcher)
	ctx := context.Background()

	store := f.registry.Get(ctx, "u1")
	_, err := store.UpsertFact(ctx, "hobby", "trail running", 4)
	require.NoError(t, err)
	f.deliver.routes["u1"] = true

	f.driver.InfoTick(ctx)
	got := f.deliver.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, KindShare, got[0].kind)
	assert.Equal(t, 1, f.ledger.Stats("u1").TodayShares)
	assert.False(t, f.ledger.Due("u1"))

	_, err = f.driver.RunInfo(ctx, store, false)
	assert.ErrorIs(t, err, ErrNotDue)

	// Forced: interval bypassed, but the URL was already seen.
	share, err := f.driver.RunInfo(ctx, store, true)
	require.NoError(t, err)
	assert.Nil(t, share)
	assert.Len(t, f.deliver.deliveries(), 1)
}

func TestRunInfo_NoFactsDoesNotSearch(t *testing.T) {
	called := false
	searcher := search.SearcherFunc(func(context.Context, search.Query) ([]search.Result, error) {
		called = true
		return nil, nil
	})
	f := newFixture(t, searcher)
	store := f.registry.Get(context.Background(), "u1")

	share, err := f.driver.RunInfo(context.Background(), store, true)
	require.NoError(t, err)
	assert.Nil(t, share)
	assert.False(t, called)
}

func TestRunInfo_Disabled(t *testing.T) {
	f := newFixture(t, search.Disabled{})
	store := f.registry.Get(context.Background(), "u1")
	_, err := f.driver.RunInfo(context.Background(), store, true)
	assert.ErrorIs(t, err, search.ErrUnavailable)
}

func TestRun_WaitsForReadyAndStops(t *testing.T) {
	f := newFixture(t, search.Disabled{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.driver.Run(ctx, make(chan struct{})) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return before ready")
	}

	ready := make(chan struct{})
	close(ready)
	ctx, cancel = context.WithCancel(context.Background())
	go func() { done <- f.driver.Run(ctx, ready) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_InvalidInterval(t *testing.T) {
	f := newFixture(t, search.Disabled{})
	f.driver.cfg.ProactiveInterval = 0

	ready := make(chan struct{})
	close(ready)
	err := f.driver.Run(context.Background(), ready)
	assert.Error(t, err)
}
