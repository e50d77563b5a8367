// Package operator implements the inspection and control commands users can
// send through any transport, and that the CLI runs offline.
package operator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stellarlinkco/myfriend/internal/config"
	"github.com/stellarlinkco/myfriend/internal/infoshare"
	"github.com/stellarlinkco/myfriend/internal/memory"
	"github.com/stellarlinkco/myfriend/internal/research"
	"github.com/stellarlinkco/myfriend/internal/search"
)

const (
	CmdStatus    = "status"
	CmdMemories  = "memories"
	CmdForget    = "forget"
	CmdThoughts  = "thoughts"
	CmdConfig    = "config"
	CmdInterests = "interests"
	CmdSearch    = "search"
	CmdExport    = "export"
	CmdHelp      = "help"
	CmdStart     = "start"

	maxListedThoughts = 5
)

var ErrUnknownCommand = errors.New("operator: unknown command")

// InfoRunner forces an information pass for one user.
type InfoRunner interface {
	RunInfo(ctx context.Context, store *memory.Store, force bool) (*infoshare.Share, error)
}

type Service struct {
	cfg      *config.Config
	registry *memory.Registry
	sched    *infoshare.Scheduler
	runner   InfoRunner
	research *research.Logger
}

// New builds the service. sched, runner and rl may be nil; the commands that
// need them then report the feature as unavailable.
func New(cfg *config.Config, registry *memory.Registry, sched *infoshare.Scheduler, runner InfoRunner, rl *research.Logger) *Service {
	return &Service{cfg: cfg, registry: registry, sched: sched, runner: runner, research: rl}
}

// IsCommand reports whether name is handled by Handle.
func IsCommand(name string) bool {
	switch strings.ToLower(name) {
	case CmdStatus, CmdMemories, CmdForget, CmdThoughts, CmdConfig,
		CmdInterests, CmdSearch, CmdExport, CmdHelp, CmdStart:
		return true
	}
	return false
}

// Handle runs a transport command for userID and returns the reply text.
func (s *Service) Handle(ctx context.Context, userID, name string) (string, error) {
	switch strings.ToLower(name) {
	case CmdStatus:
		return s.Status(ctx, userID), nil
	case CmdMemories:
		return s.Memories(ctx, userID)
	case CmdForget:
		return s.Forget(ctx, userID)
	case CmdThoughts:
		return s.Thoughts(userID), nil
	case CmdConfig:
		return s.Config(), nil
	case CmdInterests:
		return s.Interests(ctx, userID), nil
	case CmdSearch:
		return s.Search(ctx, userID)
	case CmdExport:
		return s.Export()
	case CmdHelp, CmdStart:
		return s.Help(), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

func (s *Service) Status(ctx context.Context, userID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s status\n", s.cfg.Agent.Name)
	if s.research != nil {
		fmt.Fprintf(&b, "Session: %s (%s)\n", s.research.SessionID(), s.cfg.Agent.Experiment)
	} else {
		fmt.Fprintf(&b, "Experiment: %s\n", s.cfg.Agent.Experiment)
	}

	m := s.research.Metrics(userID)
	fmt.Fprintf(&b, "\nConversation\n  turns: %d\n  your messages: %d\n  my replies: %d\n  my check-ins: %d\n",
		m.TotalTurns, m.UserMessages, m.ReactiveResponses, m.ProactiveInterventions)

	if st := s.research.ThoughtStats(); st.Total > 0 {
		fmt.Fprintf(&b, "\nThoughts\n  generated: %d\n  expressed: %d\n  avg motivation: %.2f\n",
			st.Total, st.Expressed, st.AvgScore)
	}

	if store, ok := s.registry.Lookup(userID); ok {
		st := store.Stats()
		fmt.Fprintf(&b, "\nMemory\n  short-term: %d turns\n  long-term: %d facts\n  pending thoughts: %d\n",
			st.ShortTerm, st.LongTerm, st.PendingThoughts)
	} else {
		facts, err := s.registry.StoredFacts(ctx, userID)
		if err == nil {
			fmt.Fprintf(&b, "\nMemory\n  long-term: %d facts\n", len(facts))
		}
	}

	if s.sched != nil && s.sched.Enabled() {
		is := s.sched.Ledger().Stats(userID)
		fmt.Fprintf(&b, "\nSharing\n  today: %d/%d\n  seen articles: %d\n", is.TodayShares, is.MaxDaily, is.SeenURLs)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Memories lists what is known about the user. It reads the durable backend
// when the user has no live store, so it works from the CLI too.
func (s *Service) Memories(ctx context.Context, userID string) (string, error) {
	facts, err := s.registry.StoredFacts(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("read memories: %w", err)
	}
	if len(facts) == 0 {
		return "I don't remember anything about you yet.", nil
	}
	sort.SliceStable(facts, func(i, j int) bool { return facts[i].Importance > facts[j].Importance })

	var b strings.Builder
	b.WriteString("What I remember about you:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s: %s (importance %.0f)\n", f.Key, f.Content, f.Importance)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Service) Forget(ctx context.Context, userID string) (string, error) {
	err := s.registry.Forget(ctx, userID)
	if err != nil && !errors.Is(err, memory.ErrNoStore) {
		return "", fmt.Errorf("forget %s: %w", userID, err)
	}
	return "Memory cleared. Let's get to know each other again!", nil
}

func (s *Service) Thoughts(userID string) string {
	store, ok := s.registry.Lookup(userID)
	if !ok {
		return "Nothing on my mind right now."
	}
	pending := store.PendingThoughts(0)
	if len(pending) == 0 {
		return "Nothing on my mind right now."
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].MotivationScore > pending[j].MotivationScore })
	if len(pending) > maxListedThoughts {
		pending = pending[:maxListedThoughts]
	}

	threshold := s.cfg.Proactive.MotivationThreshold
	var b strings.Builder
	b.WriteString("What I'm thinking about:\n")
	for i, th := range pending {
		mark := "below"
		if th.MotivationScore >= threshold {
			mark = "above"
		}
		fmt.Fprintf(&b, "%d. (score %.1f, %s threshold %.1f) %s\n", i+1, th.MotivationScore, mark, threshold, truncate(th.Content, 100))
		if th.Reasoning != "" {
			fmt.Fprintf(&b, "   why: %s\n", truncate(th.Reasoning, 100))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) Config() string {
	c := s.cfg
	return fmt.Sprintf(`Proactive
  enabled: %t
  motivation threshold: %.1f
  thought interval: %s
  silence timeout: %s
  max consecutive: %d

Information sharing
  enabled: %t
  search interval: %s
  share threshold: %.1f
  max daily shares: %d`,
		c.ProactiveEnabled(),
		c.Proactive.MotivationThreshold,
		c.Proactive.ThoughtInterval(),
		c.Proactive.SilenceTimeout(),
		c.Proactive.MaxConsecutive,
		c.InformationEnabled(),
		c.Information.SearchInterval(),
		c.Information.ShareThreshold,
		c.Information.MaxDailyShares)
}

func (s *Service) Interests(ctx context.Context, userID string) string {
	if s.sched == nil {
		return "I can't guess your interests without a language model."
	}
	store := s.registry.Get(ctx, userID)
	interests := s.sched.ExtractInterests(ctx, store)
	if len(interests) == 0 {
		return "I don't know your interests yet. Let's talk more!"
	}
	var b strings.Builder
	b.WriteString("Your interests (my guess):\n")
	for _, i := range interests {
		fmt.Fprintf(&b, "- %s\n", i)
	}
	b.WriteString("I look for news on these.")
	return b.String()
}

// Search forces an information pass. It bypasses the search interval but
// not the daily quota. A found article is delivered by the runner.
func (s *Service) Search(ctx context.Context, userID string) (string, error) {
	if s.runner == nil || s.sched == nil || !s.sched.Enabled() {
		return "Search is not configured (a Brave Search API key is required).", nil
	}
	store := s.registry.Get(ctx, userID)
	share, err := s.runner.RunInfo(ctx, store, true)
	if errors.Is(err, search.ErrUnavailable) {
		return "Search is not configured (a Brave Search API key is required).", nil
	}
	if err != nil {
		return "", fmt.Errorf("search for %s: %w", userID, err)
	}
	if share == nil {
		return "Didn't find anything great this time. I'll look again later!", nil
	}
	return "", nil
}

func (s *Service) Export() (string, error) {
	if s.research == nil {
		return "Research logging is disabled.", nil
	}
	path, err := s.research.ExportSummary()
	if err != nil {
		return "", err
	}
	sum := s.research.Summary()
	return fmt.Sprintf("Logs exported to %s\nsession %s: %d events, %d thoughts",
		path, sum.SessionID, sum.TotalLogs, sum.ThoughtStatistics.Total), nil
}

func (s *Service) Help() string {
	return fmt.Sprintf(`Hi, I'm %s! Just talk to me. Commands:
/status - session and memory status
/memories - what I remember about you
/forget - clear what I remember
/thoughts - what I'm thinking about
/config - current settings
/interests - your interests (my guess)
/search - look for something to share now
/export - export research logs`, s.cfg.Agent.Name)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
