// Package server exposes a ddbapi.Client over the DynamoDB JSON 1.0 wire
// protocol, so SDKs and the AWS CLI can talk to the emulator by pointing
// their endpoint at it.
//
// Requests are POSTs to "/" naming the operation in the X-Amz-Target
// header. When a stream.Publisher is attached the DynamoDB Streams
// operations are served on the same endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jacentio/dynamock/attr"
	"github.com/jacentio/dynamock/ddbapi"
	"github.com/jacentio/dynamock/stream"
)

const (
	targetPrefix        = "DynamoDB_20120810."
	streamsTargetPrefix = "DynamoDBStreams_20120810."
	errorTypePrefix     = "com.amazonaws.dynamodb.v20120810#"
	contentType         = "application/x-amz-json-1.0"
)

// Config holds configuration for a Server.
type Config struct {
	// RequestTimeout bounds each request's context.
	// Default: 30s
	RequestTimeout time.Duration

	// MaxBodyBytes caps request bodies.
	// Default: 16 MiB
	MaxBodyBytes int64
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		MaxBodyBytes:   16 << 20,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 16 << 20
	}
}

// operation handles one decoded target. The body is the raw request JSON.
type operation func(ctx context.Context, body []byte) (any, error)

// Server serves the DynamoDB wire protocol.
type Server struct {
	client    ddbapi.Client
	publisher *stream.Publisher
	config    Config
	logger    *slog.Logger
	router    chi.Router
	ops       map[string]operation
}

// New creates a server over client. publisher may be nil, in which case
// the Streams operations are unknown.
func New(client ddbapi.Client, publisher *stream.Publisher, config Config, logger *slog.Logger) *Server {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		client:    client,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
	s.ops = map[string]operation{
		targetPrefix + "GetItem":        s.getItem,
		targetPrefix + "PutItem":        s.putItem,
		targetPrefix + "DeleteItem":     s.deleteItem,
		targetPrefix + "UpdateItem":     s.updateItem,
		targetPrefix + "Query":          s.query,
		targetPrefix + "Scan":           s.scan,
		targetPrefix + "BatchGetItem":   s.batchGetItem,
		targetPrefix + "BatchWriteItem": s.batchWriteItem,
		targetPrefix + "CreateTable":    s.createTable,
		targetPrefix + "DescribeTable":  s.describeTable,
		targetPrefix + "ListTables":     s.listTables,
	}
	if publisher != nil {
		s.ops[streamsTargetPrefix+"ListStreams"] = s.listStreams
		s.ops[streamsTargetPrefix+"DescribeStream"] = s.describeStream
		s.ops[streamsTargetPrefix+"GetShardIterator"] = s.getShardIterator
		s.ops[streamsTargetPrefix+"GetRecords"] = s.getRecords
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(middleware.Timeout(config.RequestTimeout))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Post("/", s.dispatch)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "UnsupportedOperationException", "Only POST method is supported", http.StatusMethodNotAllowed)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  s.config.RequestTimeout,
		WriteTimeout: s.config.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("X-Amz-Target")
	op, ok := s.ops[target]
	if !ok {
		writeError(w, "UnknownOperationException", "Unknown operation: "+target, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		writeError(w, "SerializationException", "Could not read request body", http.StatusBadRequest)
		return
	}

	resp, err := op(r.Context(), body)
	if err != nil {
		s.writeAPIError(w, target, err)
		return
	}
	writeSuccess(w, resp, http.StatusOK)
}

// decode unmarshals a request body. Malformed JSON is a
// SerializationException; a malformed attribute value is a
// ValidationException, as the service reports them.
func decode(body []byte, v any) error {
	if len(body) == 0 {
		body = []byte("{}")
	}
	err := json.Unmarshal(body, v)
	if err == nil {
		return nil
	}
	var typeErr *attr.TypeError
	if errors.As(err, &typeErr) {
		return &smithy.GenericAPIError{Code: "ValidationException", Message: err.Error(), Fault: smithy.FaultClient}
	}
	return &smithy.GenericAPIError{Code: "SerializationException", Message: "Could not decode request body", Fault: smithy.FaultClient}
}

// writeAPIError renders err in the service error format. Client faults are
// 400s; everything else is a 500.
func (s *Server) writeAPIError(w http.ResponseWriter, target string, err error) {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		code := "InternalServerError"
		if errors.Is(err, context.DeadlineExceeded) {
			code = "RequestTimeout"
		}
		s.logger.Error("request failed", "target", target, "error", err)
		writeError(w, code, err.Error(), http.StatusInternalServerError)
		return
	}
	status := http.StatusBadRequest
	if apiErr.ErrorFault() == smithy.FaultServer {
		status = http.StatusInternalServerError
		s.logger.Error("request failed", "target", target, "error", err)
	} else {
		s.logger.Debug("request rejected", "target", target, "code", apiErr.ErrorCode(), "message", apiErr.ErrorMessage())
	}
	writeError(w, apiErr.ErrorCode(), apiErr.ErrorMessage(), status)
}

func writeError(w http.ResponseWriter, errType, message string, status int) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"__type":  errorTypePrefix + errType,
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"requestID", middleware.GetReqID(r.Context()),
				"target", strings.TrimSpace(r.Header.Get("X-Amz-Target")),
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
