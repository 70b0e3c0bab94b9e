package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	FileName = "config.json"

	DefaultQueueDSN             = "sqlite://queue.db"
	DefaultProbeURL             = "https://api.notion.com"
	DefaultDrainIntervalSeconds = 60
	DefaultProbeIntervalSeconds = 30
	DefaultMaxRetries           = 5
	DefaultListenAddr           = "127.0.0.1:8650"
)

type Config struct {
	NotionAPIToken  string `json:"notionApiToken"`
	TargetPageID    string `json:"targetPageId"`
	TargetPageTitle string `json:"targetPageTitle,omitempty"`

	QueueDSN             string `json:"queueDsn,omitempty"`
	ProbeURL             string `json:"probeUrl,omitempty"`
	DrainIntervalSeconds int    `json:"drainIntervalSeconds,omitempty"`
	ProbeIntervalSeconds int    `json:"probeIntervalSeconds,omitempty"`
	MaxRetries           int    `json:"maxRetries,omitempty"`

	InboxDir     string `json:"inboxDir,omitempty"`
	ListenAddr   string `json:"listenAddr,omitempty"`
	APIAuthToken string `json:"apiAuthToken,omitempty"`

	GeminiAPIKey string `json:"geminiApiKey,omitempty"`
	GeminiModel  string `json:"geminiModel,omitempty"`
}

const schemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"notionApiToken": {"type": "string"},
		"targetPageId": {"type": "string"},
		"targetPageTitle": {"type": "string"},
		"queueDsn": {"type": "string"},
		"probeUrl": {"type": "string", "pattern": "^https?://"},
		"drainIntervalSeconds": {"type": "integer", "minimum": 1},
		"probeIntervalSeconds": {"type": "integer", "minimum": 1},
		"maxRetries": {"type": "integer", "minimum": 1, "maximum": 50},
		"inboxDir": {"type": "string"},
		"listenAddr": {"type": "string"},
		"apiAuthToken": {"type": "string"},
		"geminiApiKey": {"type": "string"},
		"geminiModel": {"type": "string"}
	},
	"additionalProperties": false
}`

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", doc); err != nil {
		panic(err)
	}
	compiled, err := compiler.Compile("config.schema.json")
	if err != nil {
		panic(err)
	}
	return compiled
}

func Default() Config {
	return Config{
		QueueDSN:             DefaultQueueDSN,
		ProbeURL:             DefaultProbeURL,
		DrainIntervalSeconds: DefaultDrainIntervalSeconds,
		ProbeIntervalSeconds: DefaultProbeIntervalSeconds,
		MaxRetries:           DefaultMaxRetries,
		ListenAddr:           DefaultListenAddr,
	}
}

func DefaultPath(baseDir string) string {
	return filepath.Join(baseDir, FileName)
}

// Load reads and validates the config file. A missing file yields the
// defaults, so first run needs no setup step.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := validate(data); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg.withDefaults(), nil
}

// Save validates and writes the config atomically. The file carries the
// API token, hence the restrictive mode.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg.withDefaults(), "", "  ")
	if err != nil {
		return err
	}
	if err := validate(data); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

func validate(data []byte) error {
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := Default()
	if strings.TrimSpace(c.QueueDSN) == "" {
		c.QueueDSN = def.QueueDSN
	}
	if strings.TrimSpace(c.ProbeURL) == "" {
		c.ProbeURL = def.ProbeURL
	}
	if c.DrainIntervalSeconds <= 0 {
		c.DrainIntervalSeconds = def.DrainIntervalSeconds
	}
	if c.ProbeIntervalSeconds <= 0 {
		c.ProbeIntervalSeconds = def.ProbeIntervalSeconds
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	return c
}
