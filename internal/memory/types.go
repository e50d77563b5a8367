package memory

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	MinImportance = 1.0
	MaxImportance = 5.0
)

// Message is one turn of the short-term window.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
}

// Thought is an inner thought kept in the reservoir until it is expressed or
// ages out.
type Thought struct {
	Content         string    `json:"content"`
	MotivationScore float64   `json:"motivation_score"`
	Reasoning       string    `json:"reasoning"`
	Timestamp       time.Time `json:"timestamp"`
	TriggeredBy     string    `json:"triggered_by"`
	Expressed       bool      `json:"expressed"`
}

// Fact is a long-term fact about a user, keyed by (UserID, Key).
type Fact struct {
	UserID       string    `json:"user_id"`
	Key          string    `json:"key"`
	Content      string    `json:"content"`
	Importance   float64   `json:"importance"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}

// Weight ranks facts for capacity eviction.
func (f Fact) Weight() float64 {
	return f.Importance * float64(f.AccessCount)
}

// Stats is a point-in-time view of a store for status reporting.
type Stats struct {
	UserID          string
	ShortTerm       int
	LongTerm        int
	Thoughts        int
	PendingThoughts int
	Consecutive     int
	LastUserTime    time.Time
	LastAgentTime   time.Time
}

func clampImportance(v float64) float64 {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}
