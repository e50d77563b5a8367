// Package cycle drives the proactive and information passes on two cron
// cadences, fanning out over every known user.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/myfriend/internal/config"
	"github.com/stellarlinkco/myfriend/internal/infoshare"
	"github.com/stellarlinkco/myfriend/internal/memory"
	"github.com/stellarlinkco/myfriend/internal/metrics"
	"github.com/stellarlinkco/myfriend/internal/research"
	"github.com/stellarlinkco/myfriend/internal/search"
	"github.com/stellarlinkco/myfriend/internal/thought"
)

const (
	CycleProactive   = "proactive"
	CycleInformation = "information"
)

type Kind string

const (
	KindProactive Kind = "proactive"
	KindShare     Kind = "share"
)

var ErrNotDue = errors.New("cycle: information search not due")

// Deliverer sends an agent-initiated message to a user and records it.
type Deliverer interface {
	CanDeliver(userID string) bool
	Deliver(ctx context.Context, userID, content string, kind Kind) error
}

type Config struct {
	ProactiveInterval time.Duration
	InfoInterval      time.Duration
	UserTimeout       time.Duration
	Proactive         bool
	Information       bool
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ProactiveInterval: cfg.Proactive.CycleInterval(),
		InfoInterval:      cfg.Information.CycleInterval(),
		UserTimeout:       cfg.Proactive.UserTimeout(),
		Proactive:         cfg.ProactiveEnabled(),
		Information:       cfg.InformationEnabled(),
	}
}

type Driver struct {
	registry *memory.Registry
	engine   *thought.Engine
	sched    *infoshare.Scheduler
	deliver  Deliverer
	research *research.Logger
	cfg      Config
	logger   *slog.Logger
}

// New builds a driver. sched may be nil when information sharing is off.
func New(registry *memory.Registry, engine *thought.Engine, sched *infoshare.Scheduler,
	deliver Deliverer, rl *research.Logger, cfg Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserTimeout <= 0 {
		cfg.UserTimeout = time.Duration(config.DefaultUserTimeoutSec) * time.Second
	}
	return &Driver{
		registry: registry,
		engine:   engine,
		sched:    sched,
		deliver:  deliver,
		research: rl,
		cfg:      cfg,
		logger:   logger.With("component", "cycle"),
	}
}

func (d *Driver) informationActive() bool {
	return d.cfg.Information && d.sched != nil && d.sched.Enabled()
}

// Run waits for ready, then ticks both cadences until ctx is done. A tick
// that is still running when the next one is due is skipped.
func (d *Driver) Run(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}

	logger := cronLogger{d.logger}
	c := rcron.New(
		rcron.WithLogger(logger),
		rcron.WithChain(rcron.Recover(logger)),
	)

	entries := 0
	if d.cfg.Proactive {
		if err := d.schedule(ctx, c, d.cfg.ProactiveInterval, d.ProactiveTick); err != nil {
			return err
		}
		entries++
	}
	if d.informationActive() {
		if err := d.schedule(ctx, c, d.cfg.InfoInterval, d.InfoTick); err != nil {
			return err
		}
		entries++
	}

	c.Start()
	d.logger.Info("cycle driver started", "entries", entries,
		"proactive_every", d.cfg.ProactiveInterval, "info_every", d.cfg.InfoInterval)

	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		d.logger.Warn("stop timeout waiting for running ticks")
	}
	d.logger.Info("cycle driver stopped")
	return nil
}

func (d *Driver) schedule(ctx context.Context, c *rcron.Cron, every time.Duration, tick func(context.Context)) error {
	if every <= 0 {
		return fmt.Errorf("cycle: invalid interval %v", every)
	}
	job := rcron.NewChain(rcron.SkipIfStillRunning(cronLogger{d.logger})).
		Then(rcron.FuncJob(func() { tick(ctx) }))
	if _, err := c.AddJob(fmt.Sprintf("@every %s", every), job); err != nil {
		return fmt.Errorf("cycle: schedule every %v: %w", every, err)
	}
	return nil
}

// ProactiveTick runs one proactive pass for every deliverable user.
func (d *Driver) ProactiveTick(ctx context.Context) {
	for _, store := range d.registry.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if !d.deliver.CanDeliver(store.UserID()) {
			continue
		}
		d.fenced(ctx, CycleProactive, store, func(ctx context.Context) error {
			return d.RunProactive(ctx, store)
		})
	}
}

// InfoTick runs one information pass for every deliverable user.
func (d *Driver) InfoTick(ctx context.Context) {
	if !d.informationActive() {
		return
	}
	for _, store := range d.registry.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if !d.deliver.CanDeliver(store.UserID()) {
			continue
		}
		d.fenced(ctx, CycleInformation, store, func(ctx context.Context) error {
			_, err := d.RunInfo(ctx, store, false)
			if errors.Is(err, ErrNotDue) {
				return nil
			}
			return err
		})
	}
}

// RunProactive performs the thought cycle for one user and delivers any
// utterance.
func (d *Driver) RunProactive(ctx context.Context, store *memory.Store) error {
	out := d.engine.RunCycle(ctx, store)
	metrics.ThoughtOutcomes.WithLabelValues(string(out.State)).Inc()

	if out.Thought != nil || out.SilenceBreak {
		entry := research.ThoughtEntry{
			Trigger:   out.Trigger.Reason,
			Expressed: out.State == thought.StateExpressed,
			Response:  out.Utterance,
		}
		if out.Thought != nil {
			entry.Content = out.Thought.Content
			entry.Score = out.Thought.MotivationScore
		}
		if out.Evaluation != nil {
			entry.Details = out.Evaluation
		}
		d.research.Thought(store.UserID(), entry)
	}

	if out.Utterance == "" {
		return nil
	}
	if err := d.deliver.Deliver(ctx, store.UserID(), out.Utterance, KindProactive); err != nil {
		return fmt.Errorf("deliver proactive message: %w", err)
	}
	metrics.ProactiveMessages.WithLabelValues(string(out.Trigger.Kind)).Inc()
	d.logger.Info("proactive message sent", "user", store.UserID(), "trigger", out.Trigger.Kind)
	return nil
}

// RunInfo performs the information pass for one user. force skips the search
// interval check but not the daily quota. The last-search time is updated
// after every attempted pass.
func (d *Driver) RunInfo(ctx context.Context, store *memory.Store, force bool) (*infoshare.Share, error) {
	if d.sched == nil || !d.sched.Enabled() {
		return nil, search.ErrUnavailable
	}
	userID := store.UserID()
	ledger := d.sched.Ledger()
	if !force && !ledger.Due(userID) {
		return nil, ErrNotDue
	}
	if !store.HasFacts() || !store.CanIntervene() {
		return nil, nil
	}
	defer ledger.MarkSearched(userID)

	share, err := d.sched.FindShareable(ctx, store)
	if err != nil || share == nil {
		return nil, err
	}
	if err := d.deliver.Deliver(ctx, userID, share.Message, KindShare); err != nil {
		return nil, fmt.Errorf("deliver share: %w", err)
	}
	metrics.Shares.Inc()
	d.logger.Info("shared article", "user", userID, "url", share.URL, "score", share.Score)
	return share, nil
}

func (d *Driver) fenced(ctx context.Context, cycle string, store *memory.Store, fn func(context.Context) error) {
	start := time.Now()
	defer metrics.ObserveCycle(cycle, start)

	ctx, cancel := context.WithTimeout(ctx, d.cfg.UserTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			metrics.CycleFailures.WithLabelValues(cycle).Inc()
			d.logger.Error("cycle panic", "cycle", cycle, "user", store.UserID(),
				"panic", rec, "stack", string(debug.Stack()))
		}
	}()

	if err := fn(ctx); err != nil {
		metrics.CycleFailures.WithLabelValues(cycle).Inc()
		d.logger.Warn("cycle failed", "cycle", cycle, "user", store.UserID(), "error", err)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
