package infoshare

import "fmt"

func interestPrompt(facts string) string {
	return fmt.Sprintf(`Extract the user's interests from the information below so they can be used as web search queries.

## About the user
%s

## Task
- pick 3-5 topics the user is likely interested in
- phrase them as concrete search keywords
- avoid generic topics like "music" or "movies"

## Output (JSON array)
["keyword 1", "keyword 2", "keyword 3"]

Example: ["Apple new products", "machine learning research", "Kyoto cafes"]
`, facts)
}

func relevancePrompt(c Candidate, facts, conversation string) string {
	return fmt.Sprintf(`Decide whether this article is worth sharing with the user.

## Article
Title: %s
Description: %s
Source: %s
Search query: %s

## About the user
%s

## Recent conversation
%s

## Criteria (1-5 each)
1. relevance: how well it matches the user's interests
2. freshness: whether it brings something new
3. conversation_value: whether sharing it would spark conversation
4. reliability: whether the source looks trustworthy
5. timing: whether now is a good moment

## Output (JSON)
{
    "relevance": 1-5,
    "freshness": 1-5,
    "conversation_value": 1-5,
    "reliability": 1-5,
    "timing": 1-5,
    "overall_score": 1-5,
    "reasoning": "one sentence"
}
`, c.Title, c.Description, c.Source, c.Interest, facts, conversation)
}

func sharePrompt(c Candidate, facts string) string {
	return fmt.Sprintf(`Write a message sharing this article, the way you would tell a friend about something interesting you found.

## Article
Title: %s
Description: %s
URL: %s

## About the user
%s

## Why you searched
You thought they might be into "%s".

## Rules
- natural and not pushy
- open casually ("hey", "by the way", "I found this")
- always include the URL
- 2-3 short sentences
- tie it to their interests
- it does not have to end with a question

Output only the message.
`, c.Title, c.Description, c.URL, facts, c.Interest)
}
