package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/myfriend/internal/bus"
	"github.com/stellarlinkco/myfriend/internal/channel"
	"github.com/stellarlinkco/myfriend/internal/classifier"
	"github.com/stellarlinkco/myfriend/internal/config"
	"github.com/stellarlinkco/myfriend/internal/cycle"
	"github.com/stellarlinkco/myfriend/internal/infoshare"
	"github.com/stellarlinkco/myfriend/internal/llm"
	"github.com/stellarlinkco/myfriend/internal/memory"
	"github.com/stellarlinkco/myfriend/internal/metrics"
	"github.com/stellarlinkco/myfriend/internal/operator"
	"github.com/stellarlinkco/myfriend/internal/research"
	"github.com/stellarlinkco/myfriend/internal/search"
	"github.com/stellarlinkco/myfriend/internal/thought"
)

var ErrNoRoute = errors.New("gateway: no delivery route for user")

// Options for creating a Gateway. Nil fields are built from the config.
type Options struct {
	Generator  llm.Generator
	Searcher   search.Searcher
	FactStore  memory.FactStore
	Logger     *slog.Logger
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	channels   *channel.ChannelManager
	http       *metrics.Server
	registry   *memory.Registry
	classifier *classifier.Classifier
	engine     *thought.Engine
	sched      *infoshare.Scheduler
	driver     *cycle.Driver
	operator   *operator.Service
	research   *research.Logger
	guard      *Guard
	routes     *Routes
	logger     *slog.Logger
	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		cfg:        cfg,
		guard:      NewGuard(),
		routes:     NewRoutes(),
		logger:     logger.With("component", "gateway"),
		signalChan: opts.SignalChan,
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)
	g.bus.SetLogger(logger)

	backend := opts.FactStore
	if backend == nil {
		var err error
		backend, err = memory.OpenFactStore(cfg.Memory)
		if err != nil {
			return nil, fmt.Errorf("open memory backend: %w", err)
		}
	}
	g.registry = memory.NewRegistry(memory.OptionsFromConfig(cfg), backend, logger)

	gen := opts.Generator
	if gen == nil {
		gen = llm.NewFromConfig(cfg)
	}
	searcher := opts.Searcher
	if searcher == nil {
		searcher = search.FromConfig(cfg.Search)
	}

	rl, err := research.Open(cfg.Logging.ResearchDir, research.MetaFrom(cfg), logger)
	if err != nil {
		g.logger.Warn("research log disabled", "dir", cfg.Logging.ResearchDir, "error", err)
		rl = nil
	}
	g.research = rl

	g.classifier = classifier.New(gen, logger)
	g.engine = thought.NewEngine(gen, thought.ConfigFrom(cfg), logger)
	ledger := infoshare.NewLedger(cfg.Information.MaxDailyShares, cfg.Information.SearchInterval(), nil)
	g.sched = infoshare.NewScheduler(gen, searcher, ledger, infoshare.ConfigFrom(cfg), logger)
	g.driver = cycle.New(g.registry, g.engine, g.sched, g, g.research, cycle.ConfigFrom(cfg), logger)
	g.operator = operator.New(cfg, g.registry, g.sched, g.driver, g.research)

	g.http = metrics.NewServer(cfg.Gateway.Addr(), logger)
	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus, g.http.Router(), logger)
	if err != nil {
		g.registry.Close()
		g.research.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

// Registry exposes the per-user memory, mainly for tests and the CLI.
func (g *Gateway) Registry() *memory.Registry { return g.registry }

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.http.Listen(); err != nil {
		g.Shutdown()
		return fmt.Errorf("listen %s: %w", g.cfg.Gateway.Addr(), err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.bus.DispatchOutbound(egCtx)
		return nil
	})
	eg.Go(func() error { return g.http.Run(egCtx) })
	eg.Go(func() error {
		g.processLoop(egCtx)
		return nil
	})
	eg.Go(func() error { return g.driver.Run(egCtx, g.channels.Ready()) })

	if err := g.channels.StartAll(egCtx); err != nil {
		cancel()
		eg.Wait()
		g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	g.logger.Info("channels started", "channels", g.channels.EnabledChannels())
	g.logger.Info("gateway running", "addr", g.http.Addr(),
		"experiment", g.cfg.Agent.Experiment, "session", g.research.SessionID())

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-egCtx.Done():
	}

	g.logger.Info("shutting down")
	cancel()
	runErr := eg.Wait()
	if err := g.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handleInbound processes one message: command, or record, classify and
// answer. Messages are handled one at a time.
func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	release, ok := g.guard.Acquire(msg.DedupKey())
	if !ok {
		g.logger.Debug("duplicate message dropped", "key", msg.DedupKey())
		return
	}
	defer release()

	userID := msg.UserKey()
	g.routes.Set(userID, Route{Channel: msg.Channel, ChatID: msg.ChatID})
	metrics.InboundMessages.WithLabelValues(msg.Channel).Inc()

	if msg.Command != "" {
		g.handleCommand(ctx, msg, userID)
		return
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}
	g.logger.Info("inbound", "user", userID, "content", truncate(content, 80))

	store := g.registry.Get(ctx, userID)
	store.AddMessage(memory.RoleUser, content)
	g.research.UserMessage(userID, content)

	decision := g.classifier.Classify(ctx, content, store.ContextSummary())
	metrics.ClassifierDecisions.WithLabelValues(string(decision.Action)).Inc()

	switch {
	case decision.HasReaction():
		g.publish(ctx, bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Reaction: decision.Reaction,
			ReplyTo:  msg.MessageID,
		})
		g.research.AgentMessage(userID, "[reaction: "+decision.Reaction+"]", false,
			slog.String("type", "reaction"), slog.String("reason", decision.Reason))

	case decision.Action == classifier.ActionReply:
		g.publish(ctx, bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Typing: true})
		reply, err := g.engine.Respond(ctx, store)
		if err != nil {
			g.logger.Warn("reactive reply failed", "user", userID, "error", err)
			reply = thought.FallbackReply
		} else {
			store.AddMessage(memory.RoleAssistant, reply)
		}
		g.research.AgentMessage(userID, reply, false)
		g.publish(ctx, bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply})
	}

	if thought.ShouldExtract(store.ShortTermLen()) {
		n, err := g.engine.LearnFacts(ctx, store)
		if err != nil {
			g.logger.Warn("fact extraction failed", "user", userID, "error", err)
		} else if n > 0 {
			g.logger.Info("learned facts", "user", userID, "count", n)
		}
	}
}

func (g *Gateway) handleCommand(ctx context.Context, msg bus.InboundMessage, userID string) {
	if !operator.IsCommand(msg.Command) {
		g.publish(ctx, bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID,
			Content: "Unknown command. Try /help."})
		return
	}
	if msg.Command == operator.CmdSearch || msg.Command == operator.CmdInterests {
		g.publish(ctx, bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Typing: true})
	}

	reply, err := g.operator.Handle(ctx, userID, msg.Command)
	if err != nil {
		g.logger.Warn("command failed", "user", userID, "command", msg.Command, "error", err)
		reply = "Something went wrong running that command."
	}
	if msg.Command == operator.CmdForget {
		g.routes.Delete(userID)
	}
	if reply != "" {
		g.publish(ctx, bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply})
	}
}

func (g *Gateway) publish(ctx context.Context, msg bus.OutboundMessage) {
	if err := g.bus.Publish(ctx, msg); err != nil {
		g.logger.Warn("publish failed", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
	}
}

// CanDeliver reports whether the user has a known route.
func (g *Gateway) CanDeliver(userID string) bool {
	_, ok := g.routes.Get(userID)
	return ok
}

// Deliver sends an agent-initiated message and records it as an assistant
// turn.
func (g *Gateway) Deliver(ctx context.Context, userID, content string, kind cycle.Kind) error {
	route, ok := g.routes.Get(userID)
	if !ok {
		return ErrNoRoute
	}
	if err := g.bus.Publish(ctx, bus.OutboundMessage{
		Channel: route.Channel,
		ChatID:  route.ChatID,
		Content: content,
	}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	g.registry.Get(ctx, userID).AddMessage(memory.RoleAssistant, content)
	g.research.AgentMessage(userID, content, true, slog.String("kind", string(kind)))
	return nil
}

func (g *Gateway) Shutdown() error {
	_ = g.channels.StopAll()
	if path, err := g.research.ExportSummary(); err != nil {
		g.logger.Warn("export research summary failed", "error", err)
	} else if path != "" {
		g.logger.Info("research summary written", "path", path)
	}
	if err := g.research.Close(); err != nil {
		g.logger.Warn("close research log failed", "error", err)
	}
	if err := g.registry.Close(); err != nil {
		g.logger.Warn("close memory backend failed", "error", err)
	}
	g.logger.Info("shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
