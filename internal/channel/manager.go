package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gorilla/mux"

	"github.com/stellarlinkco/myfriend/internal/bus"
	"github.com/stellarlinkco/myfriend/internal/config"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	logger   *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewChannelManager builds the enabled transports. The web UI mounts on
// router; it is skipped when router is nil.
func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus, router *mux.Router, logger *slog.Logger) (*ChannelManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		logger:   logger.With("component", "channel-mgr"),
		ready:    make(chan struct{}),
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		ch.SetLogger(logger)
		m.Register(ch)
	}

	if cfg.WebUI.Enabled && router != nil {
		ch, err := NewWebUIChannel(cfg.WebUI, b)
		if err != nil {
			return nil, fmt.Errorf("init webui channel: %w", err)
		}
		ch.SetLogger(logger)
		if err := ch.Mount(router); err != nil {
			return nil, fmt.Errorf("mount webui: %w", err)
		}
		m.Register(ch)
	}

	return m, nil
}

// Register adds a transport and routes its outbound messages to it.
func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.logger.Warn("send failed", "channel", ch.Name(), "chat", msg.ChatID, "error", err)
		}
	})
}

// StartAll starts every transport and closes Ready once all have started.
func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.logger.Info("starting channel", "channel", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	m.readyOnce.Do(func() { close(m.ready) })
	return nil
}

// Ready is closed after StartAll succeeds.
func (m *ChannelManager) Ready() <-chan struct{} {
	return m.ready
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.logger.Info("stopping channel", "channel", name)
		if err := ch.Stop(); err != nil {
			m.logger.Warn("stop failed", "channel", name, "error", err)
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
