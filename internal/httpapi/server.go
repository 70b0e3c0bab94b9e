package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/notewell/noterelay/internal/netwatch"
	"github.com/notewell/noterelay/internal/notesync"
	"github.com/notewell/noterelay/internal/notion"
	"github.com/notewell/noterelay/internal/queue"
	"github.com/notewell/noterelay/internal/ratelimit"
)

const maxBodyBytes = 1 << 20

// SyncController is the slice of the syncer the API needs.
type SyncController interface {
	Submit(ctx context.Context, content, target string) (notesync.SubmitResult, error)
	Drain(ctx context.Context) notesync.DrainResult
	LastDrain() notesync.DrainResult
	OverflowCount() int
	Subscribe(fn func(notesync.StatusEvent)) (unsubscribe func())
}

// PageLister resolves the pages the integration can deliver to. Optional;
// without it the pages route answers 404.
type PageLister interface {
	SearchPages(ctx context.Context) ([]notion.Page, *ratelimit.Metadata, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type ServerOptions struct {
	Queue         queue.Store
	Syncer        SyncController
	Network       *netwatch.Observer
	Governor      *ratelimit.Governor
	Pages         PageLister
	DefaultTarget string
	// AuthToken, when set, locks every route except /health behind a
	// bearer token.
	AuthToken string
	Logger    Logger
}

type Server struct {
	queue         queue.Store
	syncer        SyncController
	network       *netwatch.Observer
	governor      *ratelimit.Governor
	pages         PageLister
	defaultTarget string
	authToken     string
	logger        Logger
}

type StatusSnapshot struct {
	Online       bool                 `json:"online"`
	LastOnlineAt time.Time            `json:"lastOnlineAt"`
	Pending      int                  `json:"pending"`
	Failed       int                  `json:"failed"`
	Overflow     int                  `json:"overflow"`
	RateLimit    ratelimit.State      `json:"rateLimit"`
	LastDrain    notesync.DrainResult `json:"lastDrain"`
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		queue:         opts.Queue,
		syncer:        opts.Syncer,
		network:       opts.Network,
		governor:      opts.Governor,
		pages:         opts.Pages,
		defaultTarget: strings.TrimSpace(opts.DefaultTarget),
		authToken:     strings.TrimSpace(opts.AuthToken),
		logger:        opts.Logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if authErr := s.authorize(r); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}

	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		s.handleDashboard(w, r)
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/v1/status/ws" && r.Method == http.MethodGet:
		s.handleStatusFeed(w, r)
	case r.URL.Path == "/v1/notes" && r.Method == http.MethodPost:
		s.handleSubmitNote(w, r)
	case r.URL.Path == "/v1/notes" && r.Method == http.MethodGet:
		s.handleListNotes(w, r)
	case r.URL.Path == "/v1/sync" && r.Method == http.MethodPost:
		s.handleTriggerSync(w, r)
	case r.URL.Path == "/v1/pages" && r.Method == http.MethodGet:
		s.handlePages(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot(r.Context()))
}

func (s *Server) snapshot(ctx context.Context) StatusSnapshot {
	snap := StatusSnapshot{
		Online:       s.network.IsOnline(),
		LastOnlineAt: s.network.LastOnlineAt(),
		Overflow:     s.syncer.OverflowCount(),
		RateLimit:    s.governor.Snapshot(),
		LastDrain:    s.syncer.LastDrain(),
	}
	if pending, err := s.queue.Count(ctx, queue.StatusPending); err == nil {
		snap.Pending = pending
	}
	if failed, err := s.queue.Count(ctx, queue.StatusFailed); err == nil {
		snap.Failed = failed
	}
	return snap
}

// handleStatusFeed pushes a fresh snapshot over a websocket whenever the
// syncer reports activity, plus a heartbeat so idle clients see liveness.
func (s *Server) handleStatusFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	updates := make(chan struct{}, 1)
	unsubscribe := s.syncer.Subscribe(func(notesync.StatusEvent) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := wsjson.Write(ctx, conn, s.snapshot(ctx)); err != nil {
		return
	}
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
		case <-heartbeat.C:
		}
		if err := wsjson.Write(ctx, conn, s.snapshot(ctx)); err != nil {
			return
		}
	}
}

func (s *Server) handleSubmitNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}
	var req struct {
		Content string `json:"content"`
		Target  string `json:"target"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	target := strings.TrimSpace(req.Target)
	if target == "" {
		target = s.defaultTarget
	}
	result, err := s.syncer.Submit(r.Context(), req.Content, target)
	if errors.Is(err, queue.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "bad_request", "content and target are required")
		return
	}
	if err != nil {
		// The note is parked in memory; tell the client delivery is
		// degraded but the note was taken.
		s.logf("submit degraded to memory overflow: %v", err)
		writeJSON(w, http.StatusAccepted, result)
		return
	}
	status := http.StatusAccepted
	if result.DeliveredDirectly {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	status := queue.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "" {
		status = queue.StatusPending
	}
	notes, err := s.queue.ListByStatus(r.Context(), status)
	if errors.Is(err, queue.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown status")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "queue store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.syncer.Drain(r.Context()))
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		writeError(w, http.StatusNotFound, "not_found", "page listing is not configured")
		return
	}
	pages, _, err := s.pages.SearchPages(r.Context())
	if err != nil {
		s.logf("page search failed: %v", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "page search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
