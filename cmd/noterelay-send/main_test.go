package main

import (
	"testing"
)

func TestReadContentJoinsArguments(t *testing.T) {
	got, err := readContent([]string{"buy", "milk", "tomorrow"})
	if err != nil {
		t.Fatalf("read content failed: %v", err)
	}
	if got != "buy milk tomorrow" {
		t.Fatalf("expected joined arguments, got %q", got)
	}
}

func TestResolveQueueDSNAnchorsRelativeFilePath(t *testing.T) {
	got := resolveQueueDSN("file://queue.json", "data")
	if got != "file://data/queue.json" {
		t.Fatalf("expected anchored DSN, got %q", got)
	}
}
