// Package classifier decides whether an inbound message deserves a reply, a
// reaction emoji, or nothing.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stellarlinkco/myfriend/internal/llm"
)

type Action string

const (
	ActionReply  Action = "reply"
	ActionReact  Action = "react"
	ActionIgnore Action = "ignore"
)

const defaultMaxTokens = 200

// Reaction is one entry of the closed reaction set.
type Reaction struct {
	Tag    string
	Symbol string
	Hint   string
}

// Reactions is the closed set, in prompt order.
var Reactions = []Reaction{
	{"acknowledge", "👍", "ok, got it"},
	{"thanks", "😊", "thank-you messages"},
	{"understood", "👌", "I see, makes sense"},
	{"funny", "😂", "jokes, laughter"},
	{"sad", "🥲", "disappointment, small sadness"},
	{"love", "❤️", "affection, happiness"},
	{"cool", "🔥", "impressive, awesome"},
	{"thinking", "🤔", "pondering, unsure"},
	{"surprise", "😮", "surprise"},
	{"celebrate", "🎉", "good news, congratulations"},
	{"sleepy", "😴", "tired, going to bed"},
	{"food", "🤤", "tasty food"},
	{"eyes", "👀", "curious, watching"},
}

var reactionByTag = func() map[string]string {
	m := make(map[string]string, len(Reactions))
	for _, r := range Reactions {
		m[r.Tag] = r.Symbol
	}
	return m
}()

// ReactionSymbol maps a tag to its emoji.
func ReactionSymbol(tag string) (string, bool) {
	s, ok := reactionByTag[strings.ToLower(strings.TrimSpace(tag))]
	return s, ok
}

type Decision struct {
	Action      Action
	ReactionTag string
	Reaction    string
	Reason      string
}

// HasReaction reports whether a react decision carries a usable emoji.
func (d Decision) HasReaction() bool {
	return d.Action == ActionReact && d.Reaction != ""
}

type Classifier struct {
	gen       llm.Generator
	maxTokens int
	logger    *slog.Logger
}

func New(gen llm.Generator, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{gen: gen, maxTokens: defaultMaxTokens, logger: logger.With("component", "classifier")}
}

type rawDecision struct {
	Action       string `json:"action"`
	ReactionType string `json:"reaction_type"`
	Reason       string `json:"reason"`
}

// Classify never fails: capability errors and unreadable output mean reply.
func (c *Classifier) Classify(ctx context.Context, message, contextSummary string) Decision {
	out, err := c.gen.Generate(ctx, llm.Prompt(buildPrompt(message, contextSummary), c.maxTokens))
	if err != nil {
		c.logger.Warn("classification failed, defaulting to reply", "error", err)
		return Decision{Action: ActionReply, Reason: fmt.Sprintf("error: %v", err)}
	}

	var raw rawDecision
	if err := llm.DecodeJSON(out, &raw); err != nil {
		return Decision{Action: ActionReply, Reason: "parse error, defaulting to reply"}
	}

	d := Decision{Reason: raw.Reason}
	switch strings.ToLower(strings.TrimSpace(raw.Action)) {
	case "react":
		d.Action = ActionReact
	case "ignore", "none":
		d.Action = ActionIgnore
	default:
		d.Action = ActionReply
	}
	if raw.ReactionType != "" {
		if sym, ok := ReactionSymbol(raw.ReactionType); ok {
			d.ReactionTag = strings.ToLower(strings.TrimSpace(raw.ReactionType))
			d.Reaction = sym
		}
	}
	return d
}

func buildPrompt(message, contextSummary string) string {
	if strings.TrimSpace(contextSummary) == "" {
		contextSummary = "(none)"
	}

	var sb strings.Builder
	sb.WriteString("You are chatting with a friend and must decide how to react to their latest message.\n\n")
	fmt.Fprintf(&sb, "## Their message\n\"%s\"\n\n", message)
	fmt.Fprintf(&sb, "## Recent conversation\n%s\n\n", contextSummary)
	sb.WriteString(`## Rules
### reply (a real answer is needed)
- they asked a question
- they are sharing a worry or asking for advice
- they started a new topic
- they want your opinion
- a longer message that is clearly trying to tell you something

### react (an emoji is enough)
- short acknowledgements like "ok", "got it"
- thanks
- "I see", "makes sense"
- laughter like "lol", "haha"
- a bare photo or sticker
- greetings such as "good night", "see you"
- a message that wraps up the previous exchange

### none (do nothing)
- obvious mis-sends
- not addressed to you

## Reaction types
`)
	for _, r := range Reactions {
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", r.Tag, r.Symbol, r.Hint)
	}
	sb.WriteString(`
## Output (JSON)
{
    "action": "reply" or "react" or "none",
    "reaction_type": "one reaction type, only when action is react",
    "reason": "one sentence"
}
`)
	return sb.String()
}
