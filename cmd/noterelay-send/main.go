package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/notewell/noterelay/internal/config"
	"github.com/notewell/noterelay/internal/netwatch"
	"github.com/notewell/noterelay/internal/notesync"
	"github.com/notewell/noterelay/internal/notion"
	"github.com/notewell/noterelay/internal/queue"
	"github.com/notewell/noterelay/internal/ratelimit"
)

func main() {
	dataDir := flag.String("data-dir", envOrDefault("NOTERELAY_DATA_DIR", ".noterelay"), "data directory")
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("NOTERELAY_CONFIG")), "config file path (default <data-dir>/config.json)")
	target := flag.String("target", strings.TrimSpace(os.Getenv("NOTERELAY_TARGET_PAGE")), "target page id override")
	drain := flag.Bool("drain", false, "also attempt queued notes after submitting")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	if *configPath == "" {
		*configPath = config.DefaultPath(*dataDir)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *target != "" {
		cfg.TargetPageID = *target
	}
	if strings.TrimSpace(cfg.NotionAPIToken) == "" {
		log.Fatalf("notion api token is required (run the daemon setup or edit %s)", *configPath)
	}
	if strings.TrimSpace(cfg.TargetPageID) == "" {
		log.Fatalf("target page is required (config or --target)")
	}

	content, err := readContent(flag.Args())
	if err != nil {
		log.Fatalf("failed to read note: %v", err)
	}
	if strings.TrimSpace(content) == "" && !*drain {
		log.Fatalf("nothing to send: pass the note as arguments or on stdin")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := queue.OpenStoreFromDSN(resolveQueueDSN(cfg.QueueDSN, *dataDir))
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	defer store.Close()

	client, err := notion.NewHTTPClient(notion.ClientOptions{Token: cfg.NotionAPIToken})
	if err != nil {
		log.Fatalf("failed to build notion client: %v", err)
	}
	network := netwatch.NewObserver(netwatch.ObserverOptions{ProbeURL: cfg.ProbeURL})
	defer network.Stop()
	network.Probe(ctx)

	syncer, err := notesync.NewSyncer(notesync.SyncerOptions{
		Queue:      store,
		Client:     client,
		Network:    network,
		Governor:   ratelimit.NewGovernor(ratelimit.GovernorOptions{}),
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to build syncer: %v", err)
	}
	defer syncer.Close()

	if strings.TrimSpace(content) != "" {
		result, err := syncer.Submit(ctx, content, cfg.TargetPageID)
		if err != nil {
			log.Fatalf("failed to submit note: %v", err)
		}
		if result.DeliveredDirectly {
			fmt.Println("note delivered")
		} else {
			fmt.Printf("note queued (%s), the daemon will deliver it\n", result.Reason)
		}
	}
	if *drain {
		result := syncer.Drain(ctx)
		fmt.Printf("drained %d of %d queued notes", result.Synced, result.Total)
		switch {
		case result.Offline:
			fmt.Print(" (offline)")
		case result.RateLimited:
			fmt.Print(" (rate limited)")
		case result.Failed > 0:
			fmt.Printf(" (%d failed permanently)", result.Failed)
		}
		fmt.Println()
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

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

func readContent(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	// Only read stdin when it is piped in; an interactive run with no
	// arguments should not hang waiting for input.
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
