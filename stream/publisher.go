// Package stream publishes store writes as DynamoDB Streams records.
//
// A Publisher is a store.Listener. Every committed write becomes one
// events.DynamoDBEventRecord, shaped exactly like the records Lambda
// receives from a real table stream, so stream handlers can be exercised
// against the emulator unchanged.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/jacentio/dynamock/attr"
	"github.com/jacentio/dynamock/ddbapi"
	"github.com/jacentio/dynamock/internal/ckey"
	"github.com/jacentio/dynamock/internal/shard"
	"github.com/jacentio/dynamock/store"
)

// Handler consumes stream events, like a Lambda stream handler.
type Handler func(ctx context.Context, event events.DynamoDBEvent) error

// Config holds configuration for a Publisher.
type Config struct {
	// Region is reported in every record.
	// Default: "local"
	Region string

	// Shards is the number of shards records are spread over by partition
	// key.
	// Default: 1
	Shards int

	// Retain is the number of records kept per shard for Records.
	// Default: 1000
	Retain int

	// ViewType selects which images records carry.
	// Default: NEW_AND_OLD_IMAGES
	ViewType events.DynamoDBStreamViewType
}

// DefaultConfig returns a single-shard configuration with both images.
func DefaultConfig() Config {
	return Config{
		Region:   "local",
		Shards:   1,
		Retain:   1000,
		ViewType: events.DynamoDBStreamViewTypeNewAndOldImages,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Region == "" {
		c.Region = "local"
	}
	if c.Shards < 1 {
		c.Shards = 1
	}
	if c.Retain < 1 {
		c.Retain = 1000
	}
	if c.ViewType == "" {
		c.ViewType = events.DynamoDBStreamViewTypeNewAndOldImages
	}
}

// Publisher converts store changes into stream records and fans them out
// to subscribed handlers.
type Publisher struct {
	config  Config
	logger  *slog.Logger
	created time.Time
	now     func() time.Time

	mu       sync.Mutex
	seq      []uint64
	retained [][]events.DynamoDBEventRecord
	handlers []Handler
}

var _ store.Listener = (*Publisher)(nil)

// NewPublisher creates a new publisher.
func NewPublisher(config Config, logger *slog.Logger) *Publisher {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		config:   config,
		logger:   logger,
		created:  time.Now(),
		now:      time.Now,
		seq:      make([]uint64, config.Shards),
		retained: make([][]events.DynamoDBEventRecord, config.Shards),
	}
}

// Subscribe adds h to every future change.
func (p *Publisher) Subscribe(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// OnChange publishes one store change. Every handler sees the record; the
// returned error joins the handler failures.
func (p *Publisher) OnChange(ctx context.Context, change store.Change) error {
	record, idx, err := p.record(change)
	if err != nil {
		p.logger.Error("failed to build stream record", "table", change.Table, "error", err)
		return err
	}

	p.mu.Lock()
	p.seq[idx]++
	record.Change.SequenceNumber = shard.SequenceNumber(idx, p.seq[idx])
	kept := append(p.retained[idx], record)
	if len(kept) > p.config.Retain {
		kept = kept[len(kept)-p.config.Retain:]
	}
	p.retained[idx] = kept
	handlers := p.handlers
	p.mu.Unlock()

	p.logger.Debug("stream record published",
		"table", change.Table,
		"pk", getStringAttr(record.Change.Keys, change.HashKey),
		"eventName", record.EventName,
		"eventID", record.EventID,
		"sequenceNumber", record.Change.SequenceNumber,
	)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record}}
	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			p.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// record converts change, leaving the sequence number to the caller. It
// returns the shard the record belongs to.
func (p *Publisher) record(change store.Change) (events.DynamoDBEventRecord, int, error) {
	keys, err := attr.ItemToEvent(change.Keys)
	if err != nil {
		return events.DynamoDBEventRecord{}, 0, fmt.Errorf("keys: %w", err)
	}
	sc := events.DynamoDBStreamRecord{
		ApproximateCreationDateTime: events.SecondsEpochTime{Time: p.now()},
		Keys:                        keys,
		StreamViewType:              string(p.config.ViewType),
	}
	vt := p.config.ViewType
	if change.New != nil && (vt == events.DynamoDBStreamViewTypeNewImage || vt == events.DynamoDBStreamViewTypeNewAndOldImages) {
		if sc.NewImage, err = attr.ItemToEvent(change.New); err != nil {
			return events.DynamoDBEventRecord{}, 0, fmt.Errorf("new image: %w", err)
		}
	}
	if change.Old != nil && (vt == events.DynamoDBStreamViewTypeOldImage || vt == events.DynamoDBStreamViewTypeNewAndOldImages) {
		if sc.OldImage, err = attr.ItemToEvent(change.Old); err != nil {
			return events.DynamoDBEventRecord{}, 0, fmt.Errorf("old image: %w", err)
		}
	}
	sc.SizeBytes = sizeBytes(sc)

	name := events.DynamoDBOperationTypeModify
	switch {
	case change.Old == nil:
		name = events.DynamoDBOperationTypeInsert
	case change.New == nil:
		name = events.DynamoDBOperationTypeRemove
	}

	r := events.DynamoDBEventRecord{
		AWSRegion:      p.config.Region,
		Change:         sc,
		EventID:        uuid.NewString(),
		EventName:      string(name),
		EventSource:    "aws:dynamodb",
		EventVersion:   "1.1",
		EventSourceArn: p.StreamARN(change.Table),
	}
	if change.Expired {
		r.UserIdentity = &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: "dynamodb.amazonaws.com"}
	}
	partition, err := ckey.Component(change.Keys[change.HashKey])
	if err != nil {
		return events.DynamoDBEventRecord{}, 0, fmt.Errorf("partition key: %w", err)
	}
	return r, shard.Index(partition, p.config.Shards), nil
}

func sizeBytes(sc events.DynamoDBStreamRecord) int64 {
	var n int64
	for _, image := range []map[string]events.DynamoDBAttributeValue{sc.Keys, sc.NewImage, sc.OldImage} {
		if image == nil {
			continue
		}
		b, err := json.Marshal(image)
		if err != nil {
			continue
		}
		n += int64(len(b))
	}
	return n
}

// Label is the stream label shared by every table's stream.
func (p *Publisher) Label() string {
	return p.created.UTC().Format("2006-01-02T15:04:05.000")
}

// StreamARN returns the stream ARN records of tableName carry.
func (p *Publisher) StreamARN(tableName string) string {
	return ddbapi.TableARN(tableName) + "/stream/" + p.Label()
}

// TableFromARN extracts the table name from a stream ARN produced by
// StreamARN.
func TableFromARN(streamARN string) (string, bool) {
	_, rest, ok := strings.Cut(streamARN, ":table/")
	if !ok {
		return "", false
	}
	table, _, ok := strings.Cut(rest, "/stream/")
	if !ok || table == "" {
		return "", false
	}
	return table, true
}

// ViewType reports the configured stream view type.
func (p *Publisher) ViewType() events.DynamoDBStreamViewType {
	return p.config.ViewType
}

// Shards lists the shard IDs in index order.
func (p *Publisher) Shards() []string {
	ids := make([]string, p.config.Shards)
	for i := range ids {
		ids[i] = shard.ID(p.created.UnixMilli(), i)
	}
	return ids
}

// Records returns the retained records of shardID whose sequence number is
// after afterSequence, oldest first. An empty afterSequence starts at the
// oldest retained record.
func (p *Publisher) Records(shardID, afterSequence string) ([]events.DynamoDBEventRecord, error) {
	idx := -1
	for i, id := range p.Shards() {
		if id == shardID {
			idx = i
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("unknown shard %q", shardID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.DynamoDBEventRecord
	for _, r := range p.retained[idx] {
		if afterSequence == "" || r.Change.SequenceNumber > afterSequence {
			out = append(out, r)
		}
	}
	return out, nil
}

// ConvertStreamKey converts the keys of a stream record back into a store
// key.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) (store.Item, error) {
	return attr.ItemFromEvent(streamKey)
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
