package netwatch

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/notewell/noterelay/internal/events"
	"github.com/notewell/noterelay/internal/schedule"
)

const (
	DefaultProbeTimeout  = 5 * time.Second
	DefaultProbeInterval = 30 * time.Second
)

type Event string

const (
	EventOnline  Event = "online"
	EventOffline Event = "offline"
	// EventReconnected fires exactly once per offline-to-online
	// transition, strictly after the state has flipped to online.
	EventReconnected Event = "reconnected"
)

type Logger interface {
	Printf(format string, args ...any)
}

type ObserverOptions struct {
	// ProbeURL is the endpoint the active probe rounds-trips against.
	ProbeURL     string
	ProbeTimeout time.Duration
	HTTPClient   *http.Client
	Logger       Logger
	// StartOnline sets the initial passive estimate. Desktop platforms
	// usually report online at launch; the first probe corrects it.
	StartOnline bool
}

// Observer keeps the best available connectivity estimate. The passive
// signal (OS hooks, failed deliveries) is authoritative for offline; the
// active probe only confirms recovery. All transitions go through one
// mutex so listeners never see interleaved state.
type Observer struct {
	probeURL     string
	probeTimeout time.Duration
	httpClient   *http.Client
	logger       Logger

	mu           sync.Mutex
	online       bool
	lastOnlineAt time.Time

	feed  *events.Broadcaster[Event]
	sched *schedule.Scheduler
}

func NewObserver(opts ObserverOptions) *Observer {
	probeURL := strings.TrimSpace(opts.ProbeURL)
	if probeURL == "" {
		probeURL = "https://api.notion.com"
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: probeTimeout}
	}
	o := &Observer{
		probeURL:     probeURL,
		probeTimeout: probeTimeout,
		httpClient:   httpClient,
		logger:       opts.Logger,
		online:       opts.StartOnline,
		feed:         events.NewBroadcaster[Event](),
		sched:        schedule.NewScheduler(),
	}
	if opts.StartOnline {
		o.lastOnlineAt = time.Now()
	}
	return o
}

func (o *Observer) IsOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

func (o *Observer) LastOnlineAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastOnlineAt
}

// SetOnline feeds a passive connectivity signal. Repeated identical
// signals are deduplicated; nothing is published for them.
func (o *Observer) SetOnline(online bool) {
	o.mu.Lock()
	if o.online == online {
		o.mu.Unlock()
		return
	}
	o.online = online
	if online {
		o.lastOnlineAt = time.Now()
	}
	o.mu.Unlock()
	if online {
		o.feed.Publish(EventOnline)
		o.feed.Publish(EventReconnected)
	} else {
		o.feed.Publish(EventOffline)
	}
}

// Probe performs one active round trip. A probe success while the passive
// estimate says offline flips the state to online (recovery). A probe
// failure alone never overrides a passive online signal.
func (o *Observer) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, o.probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, o.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logf("connectivity probe failed: %v", err)
		return false
	}
	resp.Body.Close()
	// Any HTTP response means the route works, status code included;
	// unauthenticated probes commonly get 4xx back.
	o.SetOnline(true)
	return true
}

func (o *Observer) Subscribe(fn func(Event)) (unsubscribe func()) {
	return o.feed.Subscribe(fn)
}

func (o *Observer) StartPeriodicProbe(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	o.sched.Every(interval, func() {
		o.Probe(context.Background())
	})
}

func (o *Observer) Stop() {
	o.sched.Close()
}

func (o *Observer) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}
