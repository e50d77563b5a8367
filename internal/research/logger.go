// Package research records conversation and thought events for later
// analysis, and keeps running interaction statistics for the session.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	slogmulti "github.com/samber/slog-multi"

	"github.com/stellarlinkco/myfriend/internal/config"
)

const (
	EventUserMessage = "user_message"
	EventAgentReply  = "ai_response"
	EventProactive   = "proactive_intervention"
)

// Meta is the experiment configuration copied into the session summary.
type Meta struct {
	Experiment          string  `json:"experiment_condition"`
	MotivationThreshold float64 `json:"motivation_threshold"`
	SilenceTimeoutSec   int     `json:"silence_timeout"`
	ThoughtIntervalSec  int     `json:"thought_generation_interval"`
	MaxConsecutive      int     `json:"max_consecutive_interventions"`
}

func MetaFrom(cfg *config.Config) Meta {
	return Meta{
		Experiment:          cfg.Agent.Experiment,
		MotivationThreshold: cfg.Proactive.MotivationThreshold,
		SilenceTimeoutSec:   int(cfg.Proactive.SilenceTimeout().Seconds()),
		ThoughtIntervalSec:  int(cfg.Proactive.ThoughtInterval().Seconds()),
		MaxConsecutive:      cfg.Proactive.MaxConsecutive,
	}
}

type ThoughtEntry struct {
	Content   string
	Trigger   string
	Score     float64
	Details   any
	Expressed bool
	Response  string
}

type userCounters struct {
	userMessages      int
	reactive          int
	proactive         int
	answered          int
	awaitingAnswer    bool
	lastUserMessage   time.Time
	userIntervalTotal time.Duration
	userIntervals     int
}

// Logger writes JSON lines under <dir>/conversations and <dir>/thoughts.
// A nil *Logger is valid and records nothing.
type Logger struct {
	dir     string
	session string
	meta    Meta
	start   time.Time
	now     func() time.Time

	conversations *slog.Logger
	thoughts      *slog.Logger
	closers       []*os.File

	mu        sync.Mutex
	users     map[string]*userCounters
	totalLogs int
	scores    []float64
	expressed int
	triggers  map[string]int
}

// Open creates the log directories and files for a new session. Events are
// also echoed at debug level to parent when it is non-nil.
func Open(dir string, meta Meta, parent *slog.Logger) (*Logger, error) {
	l := &Logger{
		dir:      dir,
		session:  uuid.NewString()[:8],
		meta:     meta,
		now:      time.Now,
		users:    make(map[string]*userCounters),
		triggers: make(map[string]int),
	}
	l.start = l.now()

	for _, sub := range []string{"conversations", "thoughts", "metrics"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create research dir: %w", err)
		}
	}

	date := l.start.Format("2006-01-02")
	open := func(kind string) (*slog.Logger, error) {
		name := filepath.Join(dir, kind, fmt.Sprintf("%s_%s.jsonl", date, l.session))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open %s log: %w", kind, err)
		}
		l.closers = append(l.closers, f)
		h := slog.Handler(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		if parent != nil {
			h = slogmulti.Fanout(h, parent.Handler())
		}
		return slog.New(h).With("session_id", l.session), nil
	}

	var err error
	if l.conversations, err = open("conversations"); err != nil {
		l.Close()
		return nil, err
	}
	if l.thoughts, err = open("thoughts"); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.session
}

func (l *Logger) counters(userID string) *userCounters {
	c, ok := l.users[userID]
	if !ok {
		c = &userCounters{}
		l.users[userID] = c
	}
	return c
}

func (l *Logger) UserMessage(userID, content string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	now := l.now()
	c := l.counters(userID)
	if c.awaitingAnswer {
		c.answered++
		c.awaitingAnswer = false
	}
	if !c.lastUserMessage.IsZero() {
		c.userIntervalTotal += now.Sub(c.lastUserMessage)
		c.userIntervals++
	}
	c.lastUserMessage = now
	c.userMessages++
	l.totalLogs++
	l.mu.Unlock()

	l.conversations.LogAttrs(context.Background(), slog.LevelDebug, EventUserMessage,
		slog.String("event_type", EventUserMessage),
		slog.String("user", userID),
		slog.String("content", content))
}

func (l *Logger) AgentMessage(userID, content string, proactive bool, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	event := EventAgentReply
	l.mu.Lock()
	c := l.counters(userID)
	if proactive {
		event = EventProactive
		c.proactive++
		c.awaitingAnswer = true
	} else {
		c.reactive++
	}
	l.totalLogs++
	l.mu.Unlock()

	attrs = append([]slog.Attr{
		slog.String("event_type", event),
		slog.String("user", userID),
		slog.String("content", content),
	}, attrs...)
	l.conversations.LogAttrs(context.Background(), slog.LevelDebug, event, attrs...)
}

func (l *Logger) Thought(userID string, e ThoughtEntry) {
	if l == nil {
		return
	}
	trigger := "unknown"
	if f := strings.Fields(e.Trigger); len(f) > 0 {
		trigger = f[0]
	}
	l.mu.Lock()
	l.scores = append(l.scores, e.Score)
	if e.Expressed {
		l.expressed++
	}
	l.triggers[trigger]++
	l.mu.Unlock()

	l.thoughts.LogAttrs(context.Background(), slog.LevelDebug, "thought",
		slog.String("user", userID),
		slog.String("thought_content", e.Content),
		slog.String("trigger_reason", e.Trigger),
		slog.Float64("motivation_score", e.Score),
		slog.Any("evaluation_details", e.Details),
		slog.Bool("was_expressed", e.Expressed),
		slog.String("response_if_expressed", e.Response))
}

type InteractionMetrics struct {
	SessionID              string  `json:"session_id"`
	UserID                 string  `json:"user_id"`
	StartTime              string  `json:"start_time"`
	EndTime                string  `json:"end_time"`
	TotalTurns             int     `json:"total_turns"`
	UserMessages           int     `json:"user_messages"`
	ReactiveResponses      int     `json:"ai_reactive_responses"`
	ProactiveInterventions int     `json:"ai_proactive_interventions"`
	AvgUserIntervalSec     float64 `json:"avg_user_response_time"`
	AcceptanceRate         float64 `json:"intervention_acceptance_rate"`
}

// Metrics returns the interaction figures for one user.
func (l *Logger) Metrics(userID string) InteractionMetrics {
	if l == nil {
		return InteractionMetrics{UserID: userID}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	m := InteractionMetrics{
		SessionID: l.session,
		UserID:    userID,
		StartTime: l.start.Format(time.RFC3339),
		EndTime:   l.now().Format(time.RFC3339),
	}
	c, ok := l.users[userID]
	if !ok {
		return m
	}
	m.UserMessages = c.userMessages
	m.ReactiveResponses = c.reactive
	m.ProactiveInterventions = c.proactive
	m.TotalTurns = c.userMessages + c.reactive + c.proactive
	if c.userIntervals > 0 {
		m.AvgUserIntervalSec = c.userIntervalTotal.Seconds() / float64(c.userIntervals)
	}
	if c.proactive > 0 {
		m.AcceptanceRate = float64(c.answered) / float64(c.proactive)
	}
	return m
}

type ThoughtStats struct {
	Total          int            `json:"total_thoughts"`
	Expressed      int            `json:"expressed_thoughts"`
	ExpressionRate float64        `json:"expression_rate"`
	AvgScore       float64        `json:"avg_motivation_score"`
	MaxScore       float64        `json:"max_motivation_score"`
	MinScore       float64        `json:"min_motivation_score"`
	Triggers       map[string]int `json:"triggers"`
}

func (l *Logger) ThoughtStats() ThoughtStats {
	if l == nil {
		return ThoughtStats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.thoughtStatsLocked()
}

func (l *Logger) thoughtStatsLocked() ThoughtStats {
	if len(l.scores) == 0 {
		return ThoughtStats{}
	}
	st := ThoughtStats{
		Total:     len(l.scores),
		Expressed: l.expressed,
		MaxScore:  l.scores[0],
		MinScore:  l.scores[0],
		Triggers:  make(map[string]int, len(l.triggers)),
	}
	sum := 0.0
	for _, s := range l.scores {
		sum += s
		st.MaxScore = max(st.MaxScore, s)
		st.MinScore = min(st.MinScore, s)
	}
	st.AvgScore = sum / float64(st.Total)
	st.ExpressionRate = float64(st.Expressed) / float64(st.Total)
	for k, v := range l.triggers {
		st.Triggers[k] = v
	}
	return st
}

type Summary struct {
	SessionID         string       `json:"session_id"`
	Experiment        string       `json:"experiment_condition"`
	StartTime         string       `json:"start_time"`
	EndTime           string       `json:"end_time"`
	Config            Meta         `json:"config"`
	ThoughtStatistics ThoughtStats `json:"thought_statistics"`
	TotalLogs         int          `json:"total_logs"`
}

func (l *Logger) Summary() Summary {
	if l == nil {
		return Summary{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return Summary{
		SessionID:         l.session,
		Experiment:        l.meta.Experiment,
		StartTime:         l.start.Format(time.RFC3339),
		EndTime:           l.now().Format(time.RFC3339),
		Config:            l.meta,
		ThoughtStatistics: l.thoughtStatsLocked(),
		TotalLogs:         l.totalLogs,
	}
}

// ExportSummary writes metrics/summary_<session>.json and returns its path.
func (l *Logger) ExportSummary() (string, error) {
	if l == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(l.Summary(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(l.dir, "metrics", fmt.Sprintf("summary_%s.json", l.session))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var firstErr error
	for _, f := range l.closers {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}
