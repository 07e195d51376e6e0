// Command dynamock serves a local DynamoDB emulator over the DynamoDB JSON
// protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/dynamock/ddbapi"
	"github.com/jacentio/dynamock/internal/ttl"
	"github.com/jacentio/dynamock/server"
	"github.com/jacentio/dynamock/store"
	"github.com/jacentio/dynamock/stream"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dynamock: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.newLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("dynamock exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	st, err := store.New(cfg.storeConfig(logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var pub *stream.Publisher
	if cfg.Streams {
		pub = stream.NewPublisher(cfg.streamConfig(), logger)
		pub.Subscribe(logEvents(logger))
		st.AddListener(pub)
	}

	if cfg.TTLAttribute != "" {
		worker := ttl.NewWorker(st, cfg.TTLInterval, logger)
		worker.Start()
		defer worker.Stop()
	}

	logger.Info("dynamock starting",
		"addr", cfg.Addr,
		"db", cfg.DBPath,
		"streams", cfg.Streams,
		"ttlAttribute", cfg.TTLAttribute,
	)
	srv := server.New(ddbapi.NewLocal(st), pub, cfg.serverConfig(), logger)
	return srv.ListenAndServe(ctx, cfg.Addr)
}

// logEvents traces every stream record at debug level.
func logEvents(logger *slog.Logger) stream.Handler {
	return func(_ context.Context, event events.DynamoDBEvent) error {
		for _, r := range event.Records {
			logger.Debug("stream event",
				"eventName", r.EventName,
				"source", r.EventSourceArn,
				"sequenceNumber", r.Change.SequenceNumber,
			)
		}
		return nil
	}
}
