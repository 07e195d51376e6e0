package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/dynamock/server"
	"github.com/jacentio/dynamock/store"
	"github.com/jacentio/dynamock/stream"
)

// Config holds all configuration for the emulator process. Every flag
// falls back to a DYNAMOCK_* environment variable.
type Config struct {
	Addr           string
	DBPath         string
	HashKey        string
	RangeKey       string
	RequireTables  bool
	EnforceIndexes bool
	TTLAttribute   string
	TTLInterval    time.Duration
	ConsistencyLag int
	Streams        bool
	StreamShards   int
	StreamView     string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
}

type lookupFunc func(key string) (string, bool)

// parseConfig reads flags from args, defaulting each to its environment
// variable and then to the built-in value.
func parseConfig(args []string, lookup lookupFunc) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("dynamock", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Addr, "addr", getEnv(lookup, "DYNAMOCK_ADDR", ":8000"), "listen address")
	fs.StringVar(&cfg.DBPath, "db", getEnv(lookup, "DYNAMOCK_DB_PATH", ""), "SQLite file to persist tables in; empty keeps everything in memory")
	fs.StringVar(&cfg.HashKey, "hash-key", getEnv(lookup, "DYNAMOCK_HASH_KEY", "pk"), "partition key of implicitly created tables")
	fs.StringVar(&cfg.RangeKey, "range-key", getEnv(lookup, "DYNAMOCK_RANGE_KEY", "sk"), `sort key of implicitly created tables, "-" for none`)
	fs.BoolVar(&cfg.RequireTables, "require-tables", getEnvAsBool(lookup, "DYNAMOCK_REQUIRE_TABLES", false), "reject operations on tables never created")
	fs.BoolVar(&cfg.EnforceIndexes, "enforce-indexes", getEnvAsBool(lookup, "DYNAMOCK_ENFORCE_INDEXES", false), "reject queries on undeclared indexes")
	fs.StringVar(&cfg.TTLAttribute, "ttl-attribute", getEnv(lookup, "DYNAMOCK_TTL_ATTRIBUTE", ""), "attribute holding item expiry in epoch seconds")
	fs.DurationVar(&cfg.TTLInterval, "ttl-interval", getEnvAsDuration(lookup, "DYNAMOCK_TTL_INTERVAL", time.Minute), "how often expired items are deleted")
	fs.IntVar(&cfg.ConsistencyLag, "consistency-lag", getEnvAsInt(lookup, "DYNAMOCK_CONSISTENCY_LAG", 0), "reads after a write that still see the old value; 0 disables")
	fs.BoolVar(&cfg.Streams, "streams", getEnvAsBool(lookup, "DYNAMOCK_STREAMS", true), "serve the DynamoDB Streams API")
	fs.IntVar(&cfg.StreamShards, "stream-shards", getEnvAsInt(lookup, "DYNAMOCK_STREAM_SHARDS", 1), "number of stream shards")
	fs.StringVar(&cfg.StreamView, "stream-view", getEnv(lookup, "DYNAMOCK_STREAM_VIEW", string(events.DynamoDBStreamViewTypeNewAndOldImages)), "stream view type")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", getEnvAsDuration(lookup, "DYNAMOCK_REQUEST_TIMEOUT", 30*time.Second), "per-request timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv(lookup, "DYNAMOCK_LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv(lookup, "DYNAMOCK_LOG_FORMAT", "text"), "text or json")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	switch events.DynamoDBStreamViewType(cfg.StreamView) {
	case events.DynamoDBStreamViewTypeNewImage, events.DynamoDBStreamViewTypeOldImage,
		events.DynamoDBStreamViewTypeNewAndOldImages, events.DynamoDBStreamViewTypeKeysOnly:
	default:
		return Config{}, fmt.Errorf("invalid stream view type %q", cfg.StreamView)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) storeConfig(logger *slog.Logger) store.Config {
	cfg := store.DefaultConfig()
	cfg.Path = c.DBPath
	cfg.HashKey = c.HashKey
	cfg.RangeKey = c.RangeKey
	cfg.RequireTables = c.RequireTables
	cfg.EnforceIndexes = c.EnforceIndexes
	cfg.TTLAttribute = c.TTLAttribute
	cfg.Logger = logger
	if c.ConsistencyLag > 0 {
		cfg.Consistency.Enabled = true
		cfg.Consistency.DelayReads = c.ConsistencyLag
	}
	return cfg
}

func (c Config) streamConfig() stream.Config {
	cfg := stream.DefaultConfig()
	cfg.Shards = c.StreamShards
	cfg.ViewType = events.DynamoDBStreamViewType(c.StreamView)
	return cfg
}

func (c Config) serverConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.RequestTimeout = c.RequestTimeout
	return cfg
}

// newLogger builds the process logger. The level was checked by
// parseConfig.
func (c Config) newLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func getEnv(lookup lookupFunc, key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

// getEnvAsInt parses an environment variable as an integer, returning
// fallback when it is unset or invalid.
func getEnvAsInt(lookup lookupFunc, key string, fallback int) int {
	if value, ok := lookup(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(lookup lookupFunc, key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
