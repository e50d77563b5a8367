package infoshare

import (
	"sync"
	"time"
)

type record struct {
	seen       map[string]struct{}
	daily      int
	dayStamp   time.Time
	lastSearch time.Time
}

// Ledger tracks per-user share state: seen URLs, the daily share counter and
// the last search time. The counter resets lazily the first time it is
// consulted on a new local calendar date.
type Ledger struct {
	maxDaily       int
	searchInterval time.Duration
	now            func() time.Time

	mu    sync.Mutex
	users map[string]*record
}

func NewLedger(maxDaily int, searchInterval time.Duration, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		maxDaily:       maxDaily,
		searchInterval: searchInterval,
		now:            now,
		users:          make(map[string]*record),
	}
}

func (l *Ledger) get(userID string) *record {
	r, ok := l.users[userID]
	if !ok {
		r = &record{seen: make(map[string]struct{})}
		l.users[userID] = r
	}
	return r
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// CanShareToday applies the lazy date reset and checks the quota.
func (l *Ledger) CanShareToday(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r := l.get(userID)
	if r.dayStamp.IsZero() || (now.After(r.dayStamp) && !sameDay(now, r.dayStamp)) {
		r.daily = 0
		r.dayStamp = now
	}
	return r.daily < l.maxDaily
}

func (l *Ledger) Increment(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.get(userID)
	if r.dayStamp.IsZero() {
		r.dayStamp = l.now()
	}
	r.daily++
}

// MarkSeen records url and reports whether it was new.
func (l *Ledger) MarkSeen(userID, url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.get(userID)
	if _, ok := r.seen[url]; ok {
		return false
	}
	r.seen[url] = struct{}{}
	return true
}

// Due reports whether the per-user search interval has elapsed.
func (l *Ledger) Due(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.get(userID)
	return r.lastSearch.IsZero() || l.now().Sub(r.lastSearch) >= l.searchInterval
}

func (l *Ledger) MarkSearched(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(userID).lastSearch = l.now()
}

type Stats struct {
	TodayShares int       `json:"today_shares"`
	MaxDaily    int       `json:"max_daily"`
	SeenURLs    int       `json:"seen_articles"`
	LastSearch  time.Time `json:"last_search"`
}

func (l *Ledger) Stats(userID string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.users[userID]
	if !ok {
		return Stats{MaxDaily: l.maxDaily}
	}
	return Stats{
		TodayShares: r.daily,
		MaxDaily:    l.maxDaily,
		SeenURLs:    len(r.seen),
		LastSearch:  r.lastSearch,
	}
}
