package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/notewell/noterelay/internal/config"
	"github.com/notewell/noterelay/internal/enhance"
	"github.com/notewell/noterelay/internal/httpapi"
	"github.com/notewell/noterelay/internal/inbox"
	"github.com/notewell/noterelay/internal/netwatch"
	"github.com/notewell/noterelay/internal/notesync"
	"github.com/notewell/noterelay/internal/notion"
	"github.com/notewell/noterelay/internal/queue"
	"github.com/notewell/noterelay/internal/ratelimit"
)

func main() {
	dataDir := flag.String("data-dir", envOrDefault("NOTERELAY_DATA_DIR", ".noterelay"), "data directory")
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("NOTERELAY_CONFIG")), "config file path (default <data-dir>/config.json)")
	addr := flag.String("addr", strings.TrimSpace(os.Getenv("NOTERELAY_ADDR")), "listen address override")
	token := flag.String("token", strings.TrimSpace(os.Getenv("NOTERELAY_NOTION_TOKEN")), "notion api token override")
	target := flag.String("target", strings.TrimSpace(os.Getenv("NOTERELAY_TARGET_PAGE")), "target page id override")
	queueDSN := flag.String("queue-dsn", strings.TrimSpace(os.Getenv("NOTERELAY_QUEUE_DSN")), "queue backend DSN override")
	inboxDir := flag.String("inbox-dir", strings.TrimSpace(os.Getenv("NOTERELAY_INBOX_DIR")), "inbox drop directory override")
	flag.Parse()

	if *configPath == "" {
		*configPath = config.DefaultPath(*dataDir)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *token != "" {
		cfg.NotionAPIToken = *token
	}
	if *target != "" {
		cfg.TargetPageID = *target
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *queueDSN != "" {
		cfg.QueueDSN = *queueDSN
	}
	if *inboxDir != "" {
		cfg.InboxDir = *inboxDir
	}
	if strings.TrimSpace(cfg.NotionAPIToken) == "" {
		log.Fatalf("notion api token is required (config, --token or NOTERELAY_NOTION_TOKEN)")
	}
	if strings.TrimSpace(cfg.TargetPageID) == "" {
		log.Fatalf("target page is required (config, --target or NOTERELAY_TARGET_PAGE)")
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	store, err := queue.OpenStoreFromDSN(resolveQueueDSN(cfg.QueueDSN, *dataDir))
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	defer store.Close()

	client, err := notion.NewHTTPClient(notion.ClientOptions{Token: cfg.NotionAPIToken})
	if err != nil {
		log.Fatalf("failed to build notion client: %v", err)
	}

	governor := ratelimit.NewGovernor(ratelimit.GovernorOptions{})
	network := netwatch.NewObserver(netwatch.ObserverOptions{
		ProbeURL: cfg.ProbeURL,
		Logger:   log.Default(),
	})
	defer network.Stop()
	network.StartPeriodicProbe(time.Duration(cfg.ProbeIntervalSeconds) * time.Second)

	syncer, err := notesync.NewSyncer(notesync.SyncerOptions{
		Queue:         store,
		Client:        client,
		Network:       network,
		Governor:      governor,
		MaxRetries:    cfg.MaxRetries,
		DrainInterval: time.Duration(cfg.DrainIntervalSeconds) * time.Second,
		Logger:        log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to build syncer: %v", err)
	}
	defer syncer.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller := &enhancedSyncer{Syncer: syncer}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		enhancer, err := enhance.NewGeminiEnhancer(rootCtx, enhance.GeminiOptions{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Logger: log.Default(),
		})
		if err != nil {
			log.Printf("note enhancement disabled: %v", err)
		} else {
			controller.enhancer = enhancer
		}
	}

	if strings.TrimSpace(cfg.InboxDir) != "" {
		watcher, err := inbox.NewWatcher(inbox.WatcherOptions{
			Dir:       cfg.InboxDir,
			Target:    cfg.TargetPageID,
			Submitter: controller,
			Logger:    log.Default(),
		})
		if err != nil {
			log.Fatalf("failed to build inbox watcher: %v", err)
		}
		if err := watcher.Start(); err != nil {
			log.Fatalf("failed to start inbox watcher: %v", err)
		}
		defer watcher.Close()
		log.Printf("watching inbox directory %s", cfg.InboxDir)
	}

	syncer.Start()

	api := httpapi.NewServer(httpapi.ServerOptions{
		Queue:         store,
		Syncer:        controller,
		Network:       network,
		Governor:      governor,
		Pages:         client,
		DefaultTarget: cfg.TargetPageID,
		AuthToken:     cfg.APIAuthToken,
		Logger:        log.Default(),
	})
	server := &http.Server{Addr: cfg.ListenAddr, Handler: api}
	go func() {
		log.Printf("noterelay listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Printf("noterelay stopping: %v", rootCtx.Err())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}

// enhancedSyncer runs submissions through the optional note enhancer
// before they reach the syncer.
type enhancedSyncer struct {
	*notesync.Syncer
	enhancer enhance.Enhancer
}

func (s *enhancedSyncer) Submit(ctx context.Context, content, target string) (notesync.SubmitResult, error) {
	return s.Syncer.Submit(ctx, enhance.Apply(ctx, s.enhancer, content), target)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

// resolveQueueDSN anchors relative sqlite and file paths in the data
// dir, so the default DSN lands next to the config file.
func resolveQueueDSN(dsn, dataDir string) string {
	for _, prefix := range []string{"sqlite://", "file://"} {
		path, ok := strings.CutPrefix(dsn, prefix)
		if !ok {
			continue
		}
		if path == "" || filepath.IsAbs(path) {
			return dsn
		}
		return prefix + filepath.Join(dataDir, path)
	}
	return dsn
}
