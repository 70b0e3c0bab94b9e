package queue

import (
	"errors"
	"net/url"
	"path/filepath"
	"testing"
)

func TestOpenStoreFromDSNSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		dsn  string
	}{
		{"bare path", filepath.Join(dir, "bare.db")},
		{"sqlite scheme", "sqlite:" + filepath.Join(dir, "scheme.db")},
		{"file scheme", "file:" + filepath.Join(dir, "queue.json")},
		{"memory scheme", "memory:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := OpenStoreFromDSN(tc.dsn)
			if err != nil {
				t.Fatalf("open %q failed: %v", tc.dsn, err)
			}
			store.Close()
		})
	}
}

func TestDSNPathKeepsRelativeFirstSegment(t *testing.T) {
	cases := map[string]string{
		"sqlite://data/queue.db":  "data/queue.db",
		"sqlite:///var/queue.db":  "/var/queue.db",
		"sqlite:queue.db":         "queue.db",
		"file://state/queue.json": "state/queue.json",
	}
	for dsn, want := range cases {
		parsed, err := url.Parse(dsn)
		if err != nil {
			t.Fatalf("parse %q: %v", dsn, err)
		}
		got, err := dsnPath(parsed, dsn)
		if err != nil {
			t.Fatalf("dsnPath %q: %v", dsn, err)
		}
		if got != want {
			t.Fatalf("dsnPath %q = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpenStoreFromDSNRejectsUnknownScheme(t *testing.T) {
	if _, err := OpenStoreFromDSN("ftp://queue"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := OpenStoreFromDSN("mysql://queue"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for mysql, got %v", err)
	}
	if _, err := OpenStoreFromDSN("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty dsn, got %v", err)
	}
}
