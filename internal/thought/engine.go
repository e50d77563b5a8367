// Package thought runs the proactive decision cycle (trigger, retrieval,
// formation, evaluation, participation) against one user's memory, and the
// reactive reply and fact extraction that share its capability.
package thought

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stellarlinkco/myfriend/internal/config"
	"github.com/stellarlinkco/myfriend/internal/llm"
	"github.com/stellarlinkco/myfriend/internal/memory"
)

const (
	analysisMaxTokens = 500
	speechMaxTokens   = 300
	relevantFactsTopK = 5
	extractionTurns   = 10

	// FallbackReply is sent when a reactive reply cannot be generated. It is
	// never recorded in the conversation window.
	FallbackReply = "Sorry, I'm not feeling quite myself right now..."
)

type TriggerKind string

const (
	TriggerNone       TriggerKind = ""
	TriggerSilence    TriggerKind = "silence_timeout"
	TriggerPeriodic   TriggerKind = "periodic"
	TriggerNewMessage TriggerKind = "new_user_message"
)

type Trigger struct {
	Kind   TriggerKind
	Reason string
}

func (t Trigger) Fired() bool { return t.Kind != TriggerNone }

type State string

const (
	StateIdle       State = "idle"
	StateTriggered  State = "triggered"
	StateFormed     State = "formed"
	StateEvaluated  State = "evaluated"
	StateExpressed  State = "expressed"
	StateSuppressed State = "suppressed"
)

type Formation struct {
	Thought           string `json:"thought"`
	Type              string `json:"type"`
	PotentialResponse string `json:"potential_response"`
}

type Evaluation struct {
	Relevance           float64 `json:"relevance"`
	InformationGap      float64 `json:"information_gap"`
	EmotionalConnection float64 `json:"emotional_connection"`
	Timing              float64 `json:"timing"`
	Balance             float64 `json:"balance"`
	OverallScore        float64 `json:"overall_score"`
	Reasoning           string  `json:"reasoning"`
	ShouldSpeak         bool    `json:"should_speak"`
}

// Outcome describes one pass of the cycle. Utterance is non-empty only when
// State is StateExpressed; the caller delivers it and records it.
type Outcome struct {
	State        State
	Trigger      Trigger
	Formation    *Formation
	Evaluation   *Evaluation
	Thought      *memory.Thought
	Utterance    string
	SilenceBreak bool
	Reason       string
}

type Config struct {
	AgentName           string
	MotivationThreshold float64
	SilenceTimeout      time.Duration
	ThoughtInterval     time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		AgentName:           cfg.Agent.Name,
		MotivationThreshold: cfg.Proactive.MotivationThreshold,
		SilenceTimeout:      cfg.Proactive.SilenceTimeout(),
		ThoughtInterval:     cfg.Proactive.ThoughtInterval(),
	}
}

// Engine is stateless; every decision is re-derived from the store.
type Engine struct {
	gen    llm.Generator
	cfg    Config
	logger *slog.Logger
}

func NewEngine(gen llm.Generator, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AgentName == "" {
		cfg.AgentName = config.DefaultAgentName
	}
	return &Engine{gen: gen, cfg: cfg, logger: logger.With("component", "thought")}
}

// ShouldTrigger checks silence timeout, then the periodic interval, then a
// pending user message. The first match wins.
func (e *Engine) ShouldTrigger(store *memory.Store) Trigger {
	silence := store.SilenceDuration()
	secs := int(silence.Seconds())

	if silence > e.cfg.SilenceTimeout {
		return Trigger{Kind: TriggerSilence, Reason: fmt.Sprintf("silence_timeout (%ds)", secs)}
	}
	if store.HasUserMessage() && silence > e.cfg.ThoughtInterval {
		return Trigger{Kind: TriggerPeriodic, Reason: fmt.Sprintf("periodic (%ds since last message)", secs)}
	}
	if last, ok := store.LastMessage(); ok && last.Role == memory.RoleUser {
		return Trigger{Kind: TriggerNewMessage, Reason: string(TriggerNewMessage)}
	}
	return Trigger{}
}

// RunCycle performs one pass. CanIntervene is read once on entry; when it is
// false nothing else runs.
func (e *Engine) RunCycle(ctx context.Context, store *memory.Store) Outcome {
	if !store.CanIntervene() {
		return Outcome{State: StateSuppressed, Reason: "cannot intervene"}
	}

	trig := e.ShouldTrigger(store)
	if !trig.Fired() {
		return Outcome{State: StateIdle}
	}
	out := Outcome{State: StateTriggered, Trigger: trig}

	if trig.Kind == TriggerSilence {
		out.SilenceBreak = true
		utter, err := e.silenceBreak(ctx, store)
		if err != nil {
			e.logger.Warn("silence break failed", "user", store.UserID(), "error", err)
		}
		if utter == "" {
			out.State = StateSuppressed
			out.Reason = "empty silence break"
			return out
		}
		out.State = StateExpressed
		out.Utterance = utter
		return out
	}

	form, err := e.Form(ctx, store)
	if err != nil {
		e.logger.Debug("thought formation aborted", "user", store.UserID(), "error", err)
		out.State = StateSuppressed
		out.Reason = "formation failed"
		return out
	}
	out.State = StateFormed
	out.Formation = &form

	eval := e.Evaluate(ctx, store, form.Thought)
	out.State = StateEvaluated
	out.Evaluation = &eval

	th := store.AddThought(form.Thought, eval.OverallScore, eval.Reasoning, trig.Reason)

	if eval.OverallScore < e.cfg.MotivationThreshold || !eval.ShouldSpeak {
		out.State = StateSuppressed
		out.Reason = "below threshold"
		out.Thought = copyThought(th, store)
		return out
	}

	utter, err := e.render(ctx, store, form, trig)
	if err != nil {
		e.logger.Warn("proactive render failed", "user", store.UserID(), "error", err)
	}
	if utter == "" {
		out.State = StateSuppressed
		out.Reason = "empty render"
		out.Thought = copyThought(th, store)
		return out
	}

	store.MarkThoughtExpressed(th)
	out.State = StateExpressed
	out.Utterance = utter
	out.Thought = copyThought(th, store)
	return out
}

func copyThought(th *memory.Thought, store *memory.Store) *memory.Thought {
	v := store.ThoughtValue(th)
	return &v
}

var errEmptyThought = errors.New("thought: formation returned no thought")

// Form gathers the context package and asks for one inner thought.
func (e *Engine) Form(ctx context.Context, store *memory.Store) (Formation, error) {
	query := ""
	if last, ok := store.LastUserMessage(); ok {
		query = last.Content
	}
	relevant := store.RelevantFacts(query, relevantFactsTopK)
	prompt := formationPrompt(
		store.ContextSummary(),
		store.FactSummary(),
		formatFacts(relevant),
		formatPending(store.PendingThoughts(0)),
	)

	out, err := e.gen.Generate(ctx, llm.Prompt(prompt, analysisMaxTokens))
	if err != nil {
		return Formation{}, fmt.Errorf("generate thought: %w", err)
	}
	var f Formation
	if err := llm.DecodeJSON(out, &f); err != nil {
		return Formation{}, fmt.Errorf("parse thought: %w", err)
	}
	if strings.TrimSpace(f.Thought) == "" {
		return Formation{}, errEmptyThought
	}
	if strings.TrimSpace(f.PotentialResponse) == "" {
		f.PotentialResponse = f.Thought
	}
	return f, nil
}

// Evaluate scores a thought. Failures yield a zero score that never speaks.
func (e *Engine) Evaluate(ctx context.Context, store *memory.Store, thought string) Evaluation {
	stats := store.Stats()
	prompt := evaluationPrompt(thought, store.ContextSummary(), store.SilenceDuration(), stats.Consecutive, stats.ShortTerm)

	out, err := e.gen.Generate(ctx, llm.Prompt(prompt, analysisMaxTokens))
	if err != nil {
		return Evaluation{Reasoning: err.Error()}
	}
	var ev Evaluation
	if err := llm.DecodeJSON(out, &ev); err != nil {
		return Evaluation{Reasoning: "parse error"}
	}
	return ev
}

func (e *Engine) render(ctx context.Context, store *memory.Store, f Formation, trig Trigger) (string, error) {
	prompt := proactivePrompt(f.PotentialResponse, store.ContextSummary(), store.FactSummary(), store.SilenceDuration(), trig.Reason)
	out, err := e.gen.Generate(ctx, llm.Prompt(prompt, speechMaxTokens))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (e *Engine) silenceBreak(ctx context.Context, store *memory.Store) (string, error) {
	prompt := silenceBreakPrompt(store.FactSummary(), store.ContextSummary(), store.SilenceDuration())
	out, err := e.gen.Generate(ctx, llm.Prompt(prompt, speechMaxTokens))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Respond produces a reactive reply from the whole short-term window. On
// error the caller sends FallbackReply without recording it.
func (e *Engine) Respond(ctx context.Context, store *memory.Store) (string, error) {
	history := store.ConversationHistory(0)
	// Providers expect the first turn to come from the user.
	for len(history) > 0 && history[0].Role != memory.RoleUser {
		history = history[1:]
	}
	if len(history) == 0 {
		return "", llm.ErrEmptyPrompt
	}

	turns := make([]llm.Turn, len(history))
	for i, m := range history {
		role := llm.RoleUser
		if m.Role != memory.RoleUser {
			role = llm.RoleAssistant
		}
		turns[i] = llm.Turn{Role: role, Content: m.Content}
	}

	out, err := e.gen.Generate(ctx, llm.Request{
		System:    systemPrompt(e.cfg.AgentName, store.FactSummary()),
		Turns:     turns,
		MaxTokens: analysisMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("reactive reply: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("reactive reply: empty response")
	}
	return out, nil
}

type ExtractedFact struct {
	Key        string  `json:"key"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// ShouldExtract reports whether a window of n messages is due for fact
// extraction: every fifth turn and the one after it.
func ShouldExtract(n int) bool {
	return n >= 5 && n%5 <= 1
}

// ExtractFacts asks for facts worth keeping from the last ten turns.
func (e *Engine) ExtractFacts(ctx context.Context, store *memory.Store) ([]ExtractedFact, error) {
	recent := store.ConversationHistory(extractionTurns)
	if len(recent) == 0 {
		return nil, nil
	}
	prompt := extractionPrompt(formatTranscript(e.cfg.AgentName, recent), store.FactSummary())

	out, err := e.gen.Generate(ctx, llm.Prompt(prompt, analysisMaxTokens))
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	var facts []ExtractedFact
	if err := llm.DecodeJSON(out, &facts); err != nil {
		return nil, nil
	}
	return facts, nil
}

// LearnFacts extracts facts and upserts them, returning how many were stored.
// Persistence errors are logged; the facts stay in memory.
func (e *Engine) LearnFacts(ctx context.Context, store *memory.Store) (int, error) {
	facts, err := e.ExtractFacts(ctx, store)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range facts {
		if strings.TrimSpace(f.Key) == "" || strings.TrimSpace(f.Content) == "" {
			continue
		}
		importance := f.Importance
		if importance == 0 {
			importance = 3
		}
		if _, err := store.UpsertFact(ctx, f.Key, f.Content, importance); err != nil {
			if errors.Is(err, memory.ErrEmptyKey) {
				continue
			}
			e.logger.Warn("persist learned fact failed", "user", store.UserID(), "key", f.Key, "error", err)
		}
		n++
	}
	return n, nil
}
