package notesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/notewell/noterelay/internal/events"
	"github.com/notewell/noterelay/internal/netwatch"
	"github.com/notewell/noterelay/internal/queue"
	"github.com/notewell/noterelay/internal/ratelimit"
	"github.com/notewell/noterelay/internal/schedule"
)

const (
	DefaultMaxRetries         = 5
	DefaultDrainInterval      = 60 * time.Second
	DefaultDeferredDrainDelay = 2 * time.Second
)

// AppendClient is the single document-store operation this subsystem
// consumes. The returned metadata, when present, is the normalized quota
// state the response carried, on success and failure alike.
type AppendClient interface {
	AppendText(ctx context.Context, target, text string) (*ratelimit.Metadata, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type StatusEvent string

const (
	StatusSyncing   StatusEvent = "syncing"
	StatusCompleted StatusEvent = "completed"
	StatusFailed    StatusEvent = "failed"
	StatusOffline   StatusEvent = "offline"
)

type SubmitResult struct {
	DeliveredDirectly bool       `json:"deliveredDirectly"`
	Enqueued          bool       `json:"enqueued"`
	Note              queue.Note `json:"note"`
	Reason            string     `json:"reason"`
}

type DrainResult struct {
	Synced      int  `json:"synced"`
	Failed      int  `json:"failed"`
	Total       int  `json:"total"`
	Offline     bool `json:"offline"`
	RateLimited bool `json:"rateLimited"`
	// Skipped means another drain pass was already running; that pass
	// picks up anything new on its next trigger.
	Skipped bool `json:"skipped"`
}

type SyncerOptions struct {
	Queue              queue.Store
	Client             AppendClient
	Network            *netwatch.Observer
	Governor           *ratelimit.Governor
	MaxRetries         int
	DrainInterval      time.Duration
	DeferredDrainDelay time.Duration
	Logger             Logger
}

// Syncer owns every delivery decision. It is the only writer of note
// status transitions; the drain pass is strictly sequential so admission
// is re-checked between attempts and queue order is preserved.
type Syncer struct {
	queue              queue.Store
	client             AppendClient
	network            *netwatch.Observer
	governor           *ratelimit.Governor
	maxRetries         int
	drainInterval      time.Duration
	deferredDrainDelay time.Duration
	logger             Logger

	sched *schedule.Scheduler
	feed  *events.Broadcaster[StatusEvent]

	drainMu     sync.Mutex
	drainActive bool

	overflowMu sync.Mutex
	overflow   []queue.Note

	lastMu    sync.Mutex
	lastDrain DrainResult

	unsubscribeNet func()
	closeOnce      sync.Once
}

func NewSyncer(opts SyncerOptions) (*Syncer, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("append client is required")
	}
	if opts.Network == nil {
		return nil, fmt.Errorf("network observer is required")
	}
	if opts.Governor == nil {
		return nil, fmt.Errorf("rate governor is required")
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	drainInterval := opts.DrainInterval
	if drainInterval <= 0 {
		drainInterval = DefaultDrainInterval
	}
	deferredDelay := opts.DeferredDrainDelay
	if deferredDelay <= 0 {
		deferredDelay = DefaultDeferredDrainDelay
	}
	return &Syncer{
		queue:              opts.Queue,
		client:             opts.Client,
		network:            opts.Network,
		governor:           opts.Governor,
		maxRetries:         maxRetries,
		drainInterval:      drainInterval,
		deferredDrainDelay: deferredDelay,
		logger:             opts.Logger,
		sched:              schedule.NewScheduler(),
		feed:               events.NewBroadcaster[StatusEvent](),
	}, nil
}

// Start wires the autonomous drain triggers: the reconnect event and the
// periodic interval. Submit-time deferred drains are scheduled on demand.
func (s *Syncer) Start() {
	s.unsubscribeNet = s.network.Subscribe(func(e netwatch.Event) {
		if e == netwatch.EventReconnected {
			go s.Drain(context.Background())
		}
	})
	s.sched.Every(s.drainInterval, func() {
		if s.network.IsOnline() {
			s.Drain(context.Background())
		}
	})
}

// Close cancels the periodic drain, any deferred drains and the network
// subscription together. A drain pass already in flight finishes.
func (s *Syncer) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribeNet != nil {
			s.unsubscribeNet()
		}
		s.sched.Close()
	})
}

func (s *Syncer) Subscribe(fn func(StatusEvent)) (unsubscribe func()) {
	return s.feed.Subscribe(fn)
}

func (s *Syncer) LastDrain() DrainResult {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastDrain
}

// OverflowCount reports notes held in the in-memory last resort because
// the durable store rejected them.
func (s *Syncer) OverflowCount() int {
	s.overflowMu.Lock()
	defer s.overflowMu.Unlock()
	return len(s.overflow)
}

// Submit is the single entry point for new notes. Being offline or rate
// limited is a normal outcome, reported in the result, not an error;
// only a durable-store failure comes back as one.
func (s *Syncer) Submit(ctx context.Context, content, target string) (SubmitResult, error) {
	if strings.TrimSpace(content) == "" || strings.TrimSpace(target) == "" {
		return SubmitResult{}, queue.ErrInvalidInput
	}
	if !s.network.IsOnline() {
		return s.enqueue(ctx, content, target, "offline")
	}
	if adm := s.governor.CheckAdmission(); !adm.Allow {
		result, err := s.enqueue(ctx, content, target, "rate_limited")
		s.scheduleDeferredDrain(adm.Delay)
		return result, err
	}

	md, err := s.client.AppendText(ctx, target, content)
	if md != nil {
		s.governor.Observe(*md)
	}
	if err == nil {
		s.feed.Publish(StatusCompleted)
		return SubmitResult{DeliveredDirectly: true, Reason: "delivered"}, nil
	}

	if isTransportError(err) {
		// A failed round trip is itself a passive offline signal; the
		// probe confirms recovery later.
		s.network.SetOnline(false)
	}
	s.logf("direct delivery failed, queueing note: %v", err)
	result, enqErr := s.enqueue(ctx, content, target, "delivery_failed")
	if enqErr == nil && s.network.IsOnline() {
		s.scheduleDeferredDrain(0)
	}
	return result, enqErr
}

// Drain attempts every pending note, oldest first, one at a time. At
// most one pass runs at a time; a request arriving during a pass is a
// no-op. The whole pass aborts on the first rate-limit denial so the
// back of the queue is not drained unfairly ahead of a blocked front.
func (s *Syncer) Drain(ctx context.Context) DrainResult {
	s.drainMu.Lock()
	if s.drainActive {
		s.drainMu.Unlock()
		return DrainResult{Skipped: true}
	}
	s.drainActive = true
	s.drainMu.Unlock()
	defer func() {
		s.drainMu.Lock()
		s.drainActive = false
		s.drainMu.Unlock()
	}()

	result := s.drainOnce(ctx)
	if !result.Skipped {
		s.lastMu.Lock()
		s.lastDrain = result
		s.lastMu.Unlock()
	}
	return result
}

func (s *Syncer) drainOnce(ctx context.Context) DrainResult {
	if !s.network.IsOnline() {
		s.feed.Publish(StatusOffline)
		return DrainResult{Offline: true}
	}

	s.reabsorbOverflow(ctx)

	pending, err := s.queue.ListByStatus(ctx, queue.StatusPending)
	if err != nil {
		s.logf("listing pending notes failed: %v", err)
		s.feed.Publish(StatusFailed)
		return DrainResult{}
	}
	result := DrainResult{Total: len(pending)}
	if len(pending) == 0 {
		return result
	}
	s.feed.Publish(StatusSyncing)

	for _, note := range pending {
		inFlight, err := s.queue.UpdateStatus(ctx, note.ID, queue.StatusInFlight, "")
		if errors.Is(err, queue.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logf("marking note %s in_flight failed: %v", note.ID, err)
			s.feed.Publish(StatusFailed)
			return result
		}

		// Admission is re-evaluated per note: a single request can
		// exhaust the remaining quota.
		if adm := s.governor.CheckAdmission(); !adm.Allow {
			s.revertToPending(ctx, inFlight.ID)
			result.RateLimited = true
			s.scheduleDeferredDrain(adm.Delay)
			break
		}

		md, sendErr := s.client.AppendText(ctx, inFlight.Target, inFlight.Content)
		if md != nil {
			s.governor.Observe(*md)
		}
		if sendErr == nil {
			if _, err := s.queue.UpdateStatus(ctx, inFlight.ID, queue.StatusDone, ""); err != nil && !errors.Is(err, queue.ErrNotFound) {
				s.logf("removing delivered note %s failed: %v", inFlight.ID, err)
			}
			result.Synced++
			continue
		}

		if md != nil && md.Limited {
			// Not the note's fault: no retry charged, and the rest of
			// the pass would certainly hit the same wall.
			s.revertToPending(ctx, inFlight.ID)
			result.RateLimited = true
			s.scheduleDeferredDrain(md.RetryAfter)
			break
		}
		if isTransportError(sendErr) {
			s.network.SetOnline(false)
			s.revertToPending(ctx, inFlight.ID)
			result.Offline = true
			s.feed.Publish(StatusOffline)
			return result
		}

		reason := sendErr.Error()
		if isPermanentError(sendErr) || inFlight.RetryCount+1 >= s.maxRetries {
			if _, err := s.queue.UpdateStatus(ctx, inFlight.ID, queue.StatusFailed, reason); err != nil {
				s.logf("marking note %s failed: %v", inFlight.ID, err)
			}
			result.Failed++
			continue
		}
		if _, err := s.queue.UpdateStatus(ctx, inFlight.ID, queue.StatusPending, reason); err != nil {
			s.logf("requeueing note %s failed: %v", inFlight.ID, err)
		}
	}

	switch {
	case result.Failed > 0:
		s.feed.Publish(StatusFailed)
	case result.RateLimited:
		// Still syncing from the caller's point of view: the notes are
		// queued and a deferred pass is already scheduled.
	default:
		s.feed.Publish(StatusCompleted)
	}
	return result
}

func (s *Syncer) enqueue(ctx context.Context, content, target, reason string) (SubmitResult, error) {
	note, err := s.queue.Enqueue(ctx, content, target)
	if err != nil {
		// Worst case this design exists to prevent is a silently lost
		// note: park it in memory and surface the storage failure.
		parked := queue.Note{
			ID:        queue.NewNoteID(time.Now()),
			Content:   content,
			Target:    target,
			CreatedAt: time.Now().UTC(),
			Status:    queue.StatusPending,
		}
		s.overflowMu.Lock()
		s.overflow = append(s.overflow, parked)
		s.overflowMu.Unlock()
		s.feed.Publish(StatusFailed)
		return SubmitResult{Enqueued: true, Note: parked, Reason: reason},
			fmt.Errorf("note parked in memory, durable queue unavailable: %w", err)
	}
	return SubmitResult{Enqueued: true, Note: note, Reason: reason}, nil
}

// reabsorbOverflow moves memory-parked notes back into the durable queue
// once it accepts writes again.
func (s *Syncer) reabsorbOverflow(ctx context.Context) {
	s.overflowMu.Lock()
	parked := s.overflow
	s.overflow = nil
	s.overflowMu.Unlock()
	if len(parked) == 0 {
		return
	}
	var remaining []queue.Note
	for i, note := range parked {
		if _, err := s.queue.Enqueue(ctx, note.Content, note.Target); err != nil {
			s.logf("overflow note still unpersistable: %v", err)
			remaining = append(remaining, parked[i:]...)
			break
		}
	}
	if len(remaining) > 0 {
		s.overflowMu.Lock()
		s.overflow = append(remaining, s.overflow...)
		s.overflowMu.Unlock()
	}
}

func (s *Syncer) revertToPending(ctx context.Context, id string) {
	if _, err := s.queue.UpdateStatus(ctx, id, queue.StatusPending, ""); err != nil && !errors.Is(err, queue.ErrNotFound) {
		s.logf("reverting note %s to pending failed: %v", id, err)
	}
}

func (s *Syncer) scheduleDeferredDrain(delay time.Duration) {
	if delay <= 0 {
		delay = s.deferredDrainDelay
	}
	s.sched.After(delay, func() {
		s.Drain(context.Background())
	})
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// isPermanentError recognizes rejections the remote service will repeat
// for the identical request, e.g. an invalid target.
func isPermanentError(err error) bool {
	var pe interface{ Permanent() bool }
	return errors.As(err, &pe) && pe.Permanent()
}

// isTransportError treats anything that is not a structured remote
// rejection as a connectivity problem.
func isTransportError(err error) bool {
	var pe interface{ Permanent() bool }
	return !errors.As(err, &pe)
}
