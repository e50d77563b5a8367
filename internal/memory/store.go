package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/stellarlinkco/myfriend/internal/config"
)

var ErrEmptyKey = errors.New("memory: fact key is required")

const (
	contextSummaryTurns = 5
	contextSummaryRunes = 100
	factSummaryLimit    = 10
)

type Options struct {
	ShortTermSize           int
	LongTermSize            int
	ReservoirSize           int
	MaxConsecutive          int
	MinInterventionInterval time.Duration
	AgentName               string
	Now                     func() time.Time
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ShortTermSize:           cfg.Memory.ShortTermSize,
		LongTermSize:            cfg.Memory.LongTermSize,
		ReservoirSize:           cfg.Memory.ThoughtReservoirSize,
		MaxConsecutive:          cfg.Proactive.MaxConsecutive,
		MinInterventionInterval: cfg.Proactive.MinInterventionInterval(),
		AgentName:               cfg.Agent.Name,
	}
}

func (o Options) withDefaults() Options {
	if o.ShortTermSize <= 0 {
		o.ShortTermSize = config.DefaultShortTermSize
	}
	if o.LongTermSize <= 0 {
		o.LongTermSize = config.DefaultLongTermSize
	}
	if o.ReservoirSize <= 0 {
		o.ReservoirSize = config.DefaultThoughtReservoirSize
	}
	if o.MaxConsecutive <= 0 {
		o.MaxConsecutive = config.DefaultMaxConsecutive
	}
	if o.AgentName == "" {
		o.AgentName = config.DefaultAgentName
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Store is one user's memory: short-term window, long-term facts and the
// thought reservoir. Only facts are persisted.
type Store struct {
	userID  string
	opts    Options
	backend FactStore
	logger  *slog.Logger

	// persistMu orders durable writes; mu guards the fields below it.
	persistMu sync.Mutex
	mu        sync.Mutex

	shortTerm   []Message
	facts       []Fact
	thoughts    []*Thought
	lastUser    time.Time
	lastAgent   time.Time
	consecutive int
}

func NewStore(userID string, opts Options, backend FactStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		userID:  userID,
		opts:    opts.withDefaults(),
		backend: backend,
		logger:  logger.With("component", "memory", "user", userID),
	}
}

func (s *Store) UserID() string { return s.userID }

// load restores facts from the backend. A missing record is a fresh user.
func (s *Store) load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	facts, err := s.backend.Load(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("load facts for %s: %w", s.userID, err)
	}
	s.mu.Lock()
	s.facts = enforceCapacity(facts, s.opts.LongTermSize)
	s.mu.Unlock()
	return nil
}

func (s *Store) AddMessage(role, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	msg := Message{Role: role, Content: content, Timestamp: now, UserID: s.userID}
	s.shortTerm = append(s.shortTerm, msg)
	if over := len(s.shortTerm) - s.opts.ShortTermSize; over > 0 {
		s.shortTerm = append([]Message(nil), s.shortTerm[over:]...)
	}

	if role == RoleUser {
		s.lastUser = now
		s.consecutive = 0
	} else {
		s.lastAgent = now
		s.consecutive++
	}
	return msg
}

// ConversationHistory returns the last n messages, or all when n <= 0.
func (s *Store) ConversationHistory(n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.shortTerm
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]Message(nil), msgs...)
}

// LastMessage reports the newest short-term message.
func (s *Store) LastMessage() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.shortTerm) == 0 {
		return Message{}, false
	}
	return s.shortTerm[len(s.shortTerm)-1], true
}

// LastUserMessage reports the newest message the user sent.
func (s *Store) LastUserMessage() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.shortTerm) - 1; i >= 0; i-- {
		if s.shortTerm[i].Role == RoleUser {
			return s.shortTerm[i], true
		}
	}
	return Message{}, false
}

func (s *Store) ShortTermLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shortTerm)
}

func (s *Store) ContextSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.shortTerm) == 0 {
		return "No conversation yet."
	}
	recent := s.shortTerm
	if len(recent) > contextSummaryTurns {
		recent = recent[len(recent)-contextSummaryTurns:]
	}

	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		speaker := "User"
		if m.Role != RoleUser {
			speaker = s.opts.AgentName
		}
		lines = append(lines, speaker+": "+truncateRunes(m.Content, contextSummaryRunes))
	}
	return strings.Join(lines, "\n")
}

// UpsertFact inserts or updates the fact for key and writes the fact list
// through to the backend. The returned error is a persistence failure only;
// the in-memory change is kept either way.
func (s *Store) UpsertFact(ctx context.Context, key, content string, importance float64) (Fact, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Fact{}, ErrEmptyKey
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	now := s.opts.Now()
	importance = clampImportance(importance)

	var result Fact
	found := false
	for i := range s.facts {
		if s.facts[i].Key == key {
			s.facts[i].Content = content
			s.facts[i].Importance = importance
			s.facts[i].LastAccessed = now
			s.facts[i].AccessCount++
			result = s.facts[i]
			found = true
			break
		}
	}
	if !found {
		result = Fact{
			UserID:       s.userID,
			Key:          key,
			Content:      content,
			Importance:   importance,
			CreatedAt:    now,
			LastAccessed: now,
			AccessCount:  1,
		}
		s.facts = append(s.facts, result)
		s.facts = enforceCapacity(s.facts, s.opts.LongTermSize)
	}
	snapshot := append([]Fact(nil), s.facts...)
	s.mu.Unlock()

	if s.backend == nil {
		return result, nil
	}
	if err := s.backend.Save(ctx, s.userID, snapshot); err != nil {
		s.logger.Warn("persist facts failed", "error", err)
		return result, fmt.Errorf("save facts: %w", err)
	}
	return result, nil
}

// enforceCapacity keeps the top-limit facts by Weight (ties go to the
// earlier fact) and preserves insertion order among the survivors.
func enforceCapacity(facts []Fact, limit int) []Fact {
	if limit <= 0 || len(facts) <= limit {
		return facts
	}
	idx := make([]int, len(facts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return facts[idx[a]].Weight() > facts[idx[b]].Weight()
	})
	keep := make([]bool, len(facts))
	for _, i := range idx[:limit] {
		keep[i] = true
	}
	out := make([]Fact, 0, limit)
	for i, f := range facts {
		if keep[i] {
			out = append(out, f)
		}
	}
	return out
}

// RelevantFacts ranks facts against query with a lexical score. It is a
// placeholder ranker: text in, ranked facts out.
func (s *Store) RelevantFacts(query string, topK int) []Fact {
	s.mu.Lock()
	facts := append([]Fact(nil), s.facts...)
	s.mu.Unlock()

	q := strings.ToLower(query)
	type scored struct {
		fact  Fact
		score float64
	}
	ranked := make([]scored, 0, len(facts))
	for _, f := range facts {
		score := 0.0
		if strings.Contains(q, strings.ToLower(f.Key)) {
			score += 3
		}
		for _, word := range strings.Fields(strings.ToLower(f.Content)) {
			if strings.Contains(q, word) {
				score++
				break
			}
		}
		score += f.Importance * 0.5
		score += math.Min(float64(f.AccessCount)*0.1, 1.0)
		if score > 0 {
			ranked = append(ranked, scored{fact: f, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	out := make([]Fact, len(ranked))
	for i, r := range ranked {
		out[i] = r.fact
	}
	return out
}

func (s *Store) Facts() []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Fact(nil), s.facts...)
}

func (s *Store) HasFacts() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.facts) > 0
}

// FactSummary lists up to ten facts by importance, one "- key: content" line each.
func (s *Store) FactSummary() string {
	facts := s.Facts()
	if len(facts) == 0 {
		return "Nothing known about the user yet."
	}
	sort.SliceStable(facts, func(i, j int) bool { return facts[i].Importance > facts[j].Importance })
	if len(facts) > factSummaryLimit {
		facts = facts[:factSummaryLimit]
	}
	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = "- " + f.Key + ": " + f.Content
	}
	return strings.Join(lines, "\n")
}

// AddThought appends to the reservoir, dropping the oldest thought when full.
func (s *Store) AddThought(content string, score float64, reasoning, triggeredBy string) *Thought {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Thought{
		Content:         content,
		MotivationScore: score,
		Reasoning:       reasoning,
		Timestamp:       s.opts.Now(),
		TriggeredBy:     triggeredBy,
	}
	s.thoughts = append(s.thoughts, t)
	if over := len(s.thoughts) - s.opts.ReservoirSize; over > 0 {
		s.thoughts = append([]*Thought(nil), s.thoughts[over:]...)
	}
	return t
}

func (s *Store) PendingThoughts(minScore float64) []Thought {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Thought
	for _, t := range s.thoughts {
		if !t.Expressed && t.MotivationScore >= minScore {
			out = append(out, *t)
		}
	}
	return out
}

// HighestPendingThought returns the unexpressed thought with the top score;
// the earliest one wins a tie.
func (s *Store) HighestPendingThought() (Thought, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Thought
	for _, t := range s.thoughts {
		if t.Expressed {
			continue
		}
		if best == nil || t.MotivationScore > best.MotivationScore {
			best = t
		}
	}
	if best == nil {
		return Thought{}, false
	}
	return *best, true
}

func (s *Store) MarkThoughtExpressed(t *Thought) {
	if t == nil {
		return
	}
	s.mu.Lock()
	t.Expressed = true
	s.mu.Unlock()
}

// ThoughtValue reads a thought returned by AddThought.
func (s *Store) ThoughtValue(t *Thought) Thought {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *t
}

// Thoughts returns the reservoir oldest first.
func (s *Store) Thoughts() []Thought {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Thought, len(s.thoughts))
	for i, t := range s.thoughts {
		out[i] = *t
	}
	return out
}

// SilenceDuration is the time since the last user message, or 0 if none.
func (s *Store) SilenceDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastUser.IsZero() {
		return 0
	}
	return s.opts.Now().Sub(s.lastUser)
}

func (s *Store) HasUserMessage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastUser.IsZero()
}

func (s *Store) ConsecutiveAgentMessages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutive
}

// CanIntervene reports whether the agent may speak on its own initiative.
func (s *Store) CanIntervene() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consecutive >= s.opts.MaxConsecutive {
		return false
	}
	if !s.lastAgent.IsZero() && s.opts.Now().Sub(s.lastAgent) < s.opts.MinInterventionInterval {
		return false
	}
	return true
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := 0
	for _, t := range s.thoughts {
		if !t.Expressed {
			pending++
		}
	}
	return Stats{
		UserID:          s.userID,
		ShortTerm:       len(s.shortTerm),
		LongTerm:        len(s.facts),
		Thoughts:        len(s.thoughts),
		PendingThoughts: pending,
		Consecutive:     s.consecutive,
		LastUserTime:    s.lastUser,
		LastAgentTime:   s.lastAgent,
	}
}

// Forget drops all long-term facts in memory and in the backend.
func (s *Store) Forget(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.facts = nil
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	if err := s.backend.Delete(ctx, s.userID); err != nil {
		return fmt.Errorf("delete facts: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
