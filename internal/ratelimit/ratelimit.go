package ratelimit

import (
	"sync"
	"time"

	"github.com/notewell/noterelay/internal/events"
)

const DefaultMaxRetryAfter = 15 * time.Minute

// Metadata is the normalized rate-limit shape extracted from a completed
// request. Remote header variants are mapped into this struct at the
// transport boundary; nothing downstream looks at raw header names.
type Metadata struct {
	Limit      *int
	Remaining  *int
	ResetAt    *time.Time
	RetryAfter time.Duration
	Limited    bool
}

// State is the quota estimate exposed to the UI.
type State struct {
	Limit      *int          `json:"limit"`
	Remaining  *int          `json:"remaining"`
	ResetAt    *time.Time    `json:"resetAt"`
	IsLimited  bool          `json:"isLimited"`
	RetryAfter time.Duration `json:"retryAfter"`
}

type Admission struct {
	Allow bool
	Delay time.Duration
}

type GovernorOptions struct {
	// MaxRetryAfter caps the advisory delay a remote response can impose,
	// so a buggy or hostile Retry-After cannot starve the queue.
	MaxRetryAfter time.Duration
	Clock         func() time.Time
}

// Governor decides whether a send may proceed and learns from completed
// requests. It is purely observational: it never performs I/O of its own.
type Governor struct {
	mu            sync.Mutex
	state         State
	clock         func() time.Time
	maxRetryAfter time.Duration
	feed          *events.Broadcaster[State]
}

func NewGovernor(opts GovernorOptions) *Governor {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	maxRetryAfter := opts.MaxRetryAfter
	if maxRetryAfter <= 0 {
		maxRetryAfter = DefaultMaxRetryAfter
	}
	return &Governor{
		clock:         clock,
		maxRetryAfter: maxRetryAfter,
		feed:          events.NewBroadcaster[State](),
	}
}

func (g *Governor) CheckAdmission() Admission {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()
	g.expireWindowLocked(now)

	if g.state.IsLimited {
		delay := g.state.RetryAfter
		if g.state.ResetAt != nil {
			if until := g.state.ResetAt.Sub(now); delay <= 0 || (until > 0 && until < delay) {
				delay = until
			}
		}
		if delay < 0 {
			delay = 0
		}
		return Admission{Allow: false, Delay: delay}
	}
	if g.state.Remaining != nil && *g.state.Remaining == 0 {
		var delay time.Duration
		if g.state.ResetAt != nil {
			delay = g.state.ResetAt.Sub(now)
			if delay < 0 {
				delay = 0
			}
		}
		return Admission{Allow: false, Delay: delay}
	}
	return Admission{Allow: true}
}

func (g *Governor) Observe(md Metadata) {
	g.mu.Lock()
	now := g.clock()
	if md.Limited {
		g.state.IsLimited = true
		retryAfter := md.RetryAfter
		if retryAfter > g.maxRetryAfter {
			retryAfter = g.maxRetryAfter
		}
		g.state.RetryAfter = retryAfter
		if md.ResetAt != nil {
			resetAt := *md.ResetAt
			g.state.ResetAt = &resetAt
		} else if retryAfter > 0 {
			resetAt := now.Add(retryAfter)
			g.state.ResetAt = &resetAt
		}
	} else {
		g.state.IsLimited = false
		g.state.RetryAfter = 0
		if md.ResetAt != nil {
			resetAt := *md.ResetAt
			g.state.ResetAt = &resetAt
		}
	}
	if md.Limit != nil {
		limit := *md.Limit
		g.state.Limit = &limit
	}
	if md.Remaining != nil {
		remaining := *md.Remaining
		g.state.Remaining = &remaining
	}
	snapshot := g.snapshotLocked()
	g.mu.Unlock()
	g.feed.Publish(snapshot)
}

func (g *Governor) TimeUntilReset() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.ResetAt == nil {
		return 0
	}
	until := g.state.ResetAt.Sub(g.clock())
	if until < 0 {
		return 0
	}
	return until
}

func (g *Governor) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireWindowLocked(g.clock())
	return g.snapshotLocked()
}

func (g *Governor) Subscribe(fn func(State)) (unsubscribe func()) {
	return g.feed.Subscribe(fn)
}

// expireWindowLocked applies the window reset: once ResetAt has passed
// the limited flag drops and remaining returns to the full limit.
func (g *Governor) expireWindowLocked(now time.Time) {
	if g.state.ResetAt == nil || now.Before(*g.state.ResetAt) {
		return
	}
	g.state.IsLimited = false
	g.state.RetryAfter = 0
	g.state.ResetAt = nil
	if g.state.Limit != nil {
		remaining := *g.state.Limit
		g.state.Remaining = &remaining
	} else {
		g.state.Remaining = nil
	}
}

func (g *Governor) snapshotLocked() State {
	out := State{IsLimited: g.state.IsLimited, RetryAfter: g.state.RetryAfter}
	if g.state.Limit != nil {
		v := *g.state.Limit
		out.Limit = &v
	}
	if g.state.Remaining != nil {
		v := *g.state.Remaining
		out.Remaining = &v
	}
	if g.state.ResetAt != nil {
		v := *g.state.ResetAt
		out.ResetAt = &v
	}
	return out
}
