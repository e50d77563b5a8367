package thought

import (
	"fmt"
	"strings"
	"time"

	"github.com/stellarlinkco/myfriend/internal/memory"
)

func systemPrompt(agentName, factSummary string) string {
	return fmt.Sprintf(`You are %s, a warm and curious friend chatting over a messenger app.
You speak casually and keep replies short, the way a real friend texts.

## What you remember about the user
%s

## Rules
- keep the conversation natural
- never be pushy
- respect how they feel
- do not bombard them with questions
`, agentName, factSummary)
}

func formationPrompt(contextSummary, factSummary, relevant, pending string) string {
	return fmt.Sprintf(`Put into words what is going through your head while chatting with a friend.

## Current conversation
%s

## What you remember about the user
%s

## Memories that look relevant right now
%s

## Pending thoughts (things you thought of earlier but have not said)
%s

## Task
Looking at the flow of this conversation, produce ONE inner thought.
It is not something you say out loud; it is what you are thinking.

Examples:
- "They mentioned X before, that might be related"
- "They seem a bit down? Maybe I should ask"
- "I have been talking too much, let me listen"

## Output (JSON)
{
    "thought": "your inner thought (1-2 sentences)",
    "type": "empathy | information | curiosity | concern | reflection",
    "potential_response": "how you would say it if you decided to speak"
}
`, contextSummary, factSummary, relevant, pending)
}

const motivationCriteria = `## Criteria (score each 1-5)
- relevance: how related the thought is to the current conversation
- information_gap: whether it fills a gap or adds something new
- emotional_connection: whether it deepens the bond or shows care
- timing: whether now is a natural moment to speak
- balance: whether speaking keeps the conversation balanced (low if you have been talking a lot)`

func evaluationPrompt(thought, contextSummary string, silence time.Duration, consecutive, turns int) string {
	return fmt.Sprintf(`You judge how strongly an AI friend wants to speak up.

## Thought under evaluation
%s

## Current conversation
%s

## Conversation stats
- seconds since the user's last message: %d
- consecutive AI messages: %d
- total turns: %d

%s

## Output (JSON)
{
    "relevance": 1-5,
    "information_gap": 1-5,
    "emotional_connection": 1-5,
    "timing": 1-5,
    "balance": 1-5,
    "overall_score": 1-5 (weighted average of the above),
    "reasoning": "why (1-2 sentences)",
    "should_speak": true or false
}
`, thought, contextSummary, int(silence.Seconds()), consecutive, turns, motivationCriteria)
}

func proactivePrompt(potential, contextSummary, factSummary string, silence time.Duration, reason string) string {
	return fmt.Sprintf(`You are about to start talking to a friend on your own initiative.

## Your inner thought
%s

## Current conversation
%s

## What you remember about the user
%s

## Situation
- %d seconds since the user's last message
- trigger: %s

## Task
Turn the thought into something natural to say.
- ease into it, do not be abrupt
- do not be pushy
- keep it short (1-3 sentences)
- make it easy to answer

Output only the message itself.
`, potential, contextSummary, factSummary, int(silence.Seconds()), reason)
}

func silenceBreakPrompt(factSummary, lastConversation string, silence time.Duration) string {
	return fmt.Sprintf(`The chat with your friend has been quiet for a while. Think of a natural way to restart it.

## What you remember about the user
%s

## The last conversation
%s

## Silence
%d seconds (about %d minutes)

## Approaches
1. continue the previous topic
2. check in on them
3. bring up something light
4. ask about something you recently learned about them

## Rules
- not just "long time no see" or "how are you"
- consider their situation
- do not be pushy
- easy to answer

Output only the message itself.
`, factSummary, lastConversation, int(silence.Seconds()), int(silence.Minutes()))
}

func extractionPrompt(conversation, existing string) string {
	return fmt.Sprintf(`Extract what is worth remembering about the user from this conversation.

## Conversation
%s

## Already remembered
%s

## Task
List information that is new or should be updated.

Category examples: name or nickname, work or school, hobbies and likes,
family and friends, worries, recent events, personality.

## Output (JSON array)
[
    {
        "key": "category name",
        "content": "what to remember",
        "importance": 1-5
    }
]

Return [] when there is nothing new.
`, conversation, existing)
}

func formatFacts(facts []memory.Fact) string {
	if len(facts) == 0 {
		return "none"
	}
	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = "- " + f.Key + ": " + f.Content
	}
	return strings.Join(lines, "\n")
}

func formatPending(thoughts []memory.Thought) string {
	if len(thoughts) == 0 {
		return "none"
	}
	lines := make([]string, len(thoughts))
	for i, t := range thoughts {
		lines[i] = fmt.Sprintf("- %s (score: %.1f)", t.Content, t.MotivationScore)
	}
	return strings.Join(lines, "\n")
}

func formatTranscript(agentName string, msgs []memory.Message) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		speaker := "User"
		if m.Role != memory.RoleUser {
			speaker = agentName
		}
		lines[i] = speaker + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}
