// Package infoshare finds web content worth sharing with a user: it derives
// interests from long-term facts, searches without repeating URLs, scores
// candidates and enforces a daily share quota.
package infoshare

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
	"github.com/stellarlinkco/myfriend/internal/search"
)

const (
	maxInterests   = 3
	llmMaxTokens   = 500
	shareMaxTokens = 300
)

type Candidate struct {
	search.Result
	Interest string
	FoundAt  time.Time
	Score    float64
}

type Share struct {
	Candidate
	Message string
}

type Config struct {
	ShareThreshold float64
	Search         search.Query
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ShareThreshold: cfg.Information.ShareThreshold,
		Search: search.Query{
			Count:     cfg.Search.Count,
			Language:  cfg.Search.Language,
			Freshness: cfg.Search.Freshness,
		},
	}
}

type Scheduler struct {
	gen      llm.Generator
	searcher search.Searcher
	ledger   *Ledger
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewScheduler(gen llm.Generator, searcher search.Searcher, ledger *Ledger, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if searcher == nil {
		searcher = search.Disabled{}
	}
	return &Scheduler{
		gen:      gen,
		searcher: searcher,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger.With("component", "infoshare"),
		now:      ledger.now,
	}
}

// Enabled is false when there is no search backend.
func (s *Scheduler) Enabled() bool {
	_, disabled := s.searcher.(search.Disabled)
	return !disabled
}

func (s *Scheduler) Ledger() *Ledger { return s.ledger }

// ExtractInterests turns the user's facts into 3-5 search phrases.
func (s *Scheduler) ExtractInterests(ctx context.Context, store *memory.Store) []string {
	if !store.HasFacts() {
		return nil
	}
	out, err := s.gen.Generate(ctx, llm.Prompt(interestPrompt(store.FactSummary()), llmMaxTokens))
	if err != nil {
		s.logger.Warn("interest extraction failed", "user", store.UserID(), "error", err)
		return nil
	}
	var raw []string
	if err := llm.DecodeJSON(out, &raw); err != nil {
		return nil
	}
	interests := raw[:0]
	for _, i := range raw {
		if i = strings.TrimSpace(i); i != "" {
			interests = append(interests, i)
		}
	}
	return interests
}

// SearchForUser searches the first three interests and returns only URLs the
// user has not been shown before. Every returned URL is marked seen at once.
func (s *Scheduler) SearchForUser(ctx context.Context, store *memory.Store, interests []string) ([]Candidate, error) {
	if !s.Enabled() {
		return nil, search.ErrUnavailable
	}
	if len(interests) == 0 {
		interests = s.ExtractInterests(ctx, store)
	}
	if len(interests) > maxInterests {
		interests = interests[:maxInterests]
	}

	var out []Candidate
	for _, interest := range interests {
		q := s.cfg.Search
		q.Text = interest
		results, err := s.searcher.Search(ctx, q)
		if err != nil {
			if errors.Is(err, search.ErrUnavailable) {
				return nil, err
			}
			s.logger.Warn("search failed", "user", store.UserID(), "interest", interest, "error", err)
			continue
		}
		for _, r := range results {
			if r.URL == "" || !s.ledger.MarkSeen(store.UserID(), r.URL) {
				continue
			}
			out = append(out, Candidate{Result: r, Interest: interest, FoundAt: s.now()})
		}
	}
	return out, nil
}

type relevance struct {
	Relevance         float64 `json:"relevance"`
	Freshness         float64 `json:"freshness"`
	ConversationValue float64 `json:"conversation_value"`
	Reliability       float64 `json:"reliability"`
	Timing            float64 `json:"timing"`
	OverallScore      float64 `json:"overall_score"`
	Reasoning         string  `json:"reasoning"`
}

// EvaluateRelevance scores a candidate 0-5. Any failure scores 0.
func (s *Scheduler) EvaluateRelevance(ctx context.Context, c Candidate, store *memory.Store) float64 {
	prompt := relevancePrompt(c, store.FactSummary(), store.ContextSummary())
	out, err := s.gen.Generate(ctx, llm.Prompt(prompt, llmMaxTokens))
	if err != nil {
		return 0
	}
	var r relevance
	if err := llm.DecodeJSON(out, &r); err != nil {
		return 0
	}
	return r.OverallScore
}

// FindShareable runs quota check, search, scoring and rendering. It returns
// nil when there is nothing to share. Only a rendered message consumes quota.
func (s *Scheduler) FindShareable(ctx context.Context, store *memory.Store) (*Share, error) {
	userID := store.UserID()
	if !s.ledger.CanShareToday(userID) {
		return nil, nil
	}

	candidates, err := s.SearchForUser(ctx, store, nil)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := -1
	bestScore := 0.0
	for i := range candidates {
		score := s.EvaluateRelevance(ctx, candidates[i], store)
		candidates[i].Score = score
		if score > bestScore && score >= s.cfg.ShareThreshold {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil, nil
	}

	pick := candidates[best]
	msg, err := s.render(ctx, pick, store)
	if err != nil {
		s.logger.Warn("share message failed", "user", userID, "error", err)
		return nil, nil
	}
	if msg == "" {
		return nil, nil
	}

	s.ledger.Increment(userID)
	return &Share{Candidate: pick, Message: msg}, nil
}

func (s *Scheduler) render(ctx context.Context, c Candidate, store *memory.Store) (string, error) {
	out, err := s.gen.Generate(ctx, llm.Prompt(sharePrompt(c, store.FactSummary()), shareMaxTokens))
	if err != nil {
		return "", fmt.Errorf("render share: %w", err)
	}
	return strings.TrimSpace(out), nil
}
