package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"slices"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/smithy-go"

	"github.com/jacentio/dynamock/stream"
)

// maxRecords caps one GetRecords page.
const maxRecords = 1000

// shardIterator is the decoded form of the opaque ShardIterator token.
type shardIterator struct {
	StreamARN string `json:"a"`
	ShardID   string `json:"s"`
	After     string `json:"q,omitempty"`
	Inclusive bool   `json:"i,omitempty"`
}

func (it shardIterator) encode() string {
	b, _ := json.Marshal(it)
	return base64.RawURLEncoding.EncodeToString(b)
}

func parseShardIterator(token string) (shardIterator, error) {
	var it shardIterator
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(b, &it)
	}
	if err != nil || it.StreamARN == "" || it.ShardID == "" {
		return shardIterator{}, apiError("ValidationException", "Invalid ShardIterator")
	}
	return it, nil
}

func apiError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message, Fault: smithy.FaultClient}
}

// streamTable resolves a stream ARN to an existing table and returns its
// description.
func (s *Server) streamTable(ctx context.Context, streamARN string) (tableDescription, error) {
	table, ok := stream.TableFromARN(streamARN)
	if !ok || s.publisher.StreamARN(table) != streamARN {
		return tableDescription{}, apiError("ResourceNotFoundException", "Requested resource not found: Stream: "+streamARN+" not found")
	}
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return tableDescription{}, err
	}
	return wireTable(out.Table), nil
}

func (s *Server) listStreams(ctx context.Context, body []byte) (any, error) {
	var req listStreamsRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		return nil, err
	}

	resp := listStreamsResponse{Streams: []streamSummary{}}
	started := req.ExclusiveStartStreamArn == ""
	for _, table := range out.TableNames {
		arn := s.publisher.StreamARN(table)
		if !started {
			started = arn == req.ExclusiveStartStreamArn
			continue
		}
		if req.TableName != "" && table != req.TableName {
			continue
		}
		if limit := int(aws.ToInt32(req.Limit)); limit > 0 && len(resp.Streams) == limit {
			resp.LastEvaluatedStreamArn = resp.Streams[limit-1].StreamArn
			break
		}
		resp.Streams = append(resp.Streams, streamSummary{
			StreamArn:   arn,
			StreamLabel: s.publisher.Label(),
			TableName:   table,
		})
	}
	return resp, nil
}

func (s *Server) describeStream(ctx context.Context, body []byte) (any, error) {
	var req describeStreamRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	table, err := s.streamTable(ctx, req.StreamArn)
	if err != nil {
		return nil, err
	}

	desc := streamDescription{
		StreamArn:      req.StreamArn,
		StreamLabel:    s.publisher.Label(),
		StreamStatus:   "ENABLED",
		StreamViewType: string(s.publisher.ViewType()),
		TableName:      table.TableName,
		KeySchema:      table.KeySchema,
	}
	for _, id := range s.publisher.Shards() {
		sh := streamShard{ShardId: id}
		records, err := s.tableRecords(req.StreamArn, id)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			sh.SequenceNumberRange.StartingSequenceNumber = records[0].Change.SequenceNumber
		}
		desc.Shards = append(desc.Shards, sh)
	}
	return describeStreamResponse{StreamDescription: desc}, nil
}

func (s *Server) getShardIterator(ctx context.Context, body []byte) (any, error) {
	var req getShardIteratorRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if _, err := s.streamTable(ctx, req.StreamArn); err != nil {
		return nil, err
	}
	if !slices.Contains(s.publisher.Shards(), req.ShardId) {
		return nil, apiError("ResourceNotFoundException", "Requested resource not found: Shard does not exist")
	}

	it := shardIterator{StreamARN: req.StreamArn, ShardID: req.ShardId}
	switch req.ShardIteratorType {
	case "TRIM_HORIZON":
	case "LATEST":
		records, err := s.tableRecords(req.StreamArn, req.ShardId)
		if err != nil {
			return nil, err
		}
		if n := len(records); n > 0 {
			it.After = records[n-1].Change.SequenceNumber
		}
	case "AT_SEQUENCE_NUMBER", "AFTER_SEQUENCE_NUMBER":
		if req.SequenceNumber == "" {
			return nil, apiError("ValidationException", "SequenceNumber is required for "+req.ShardIteratorType)
		}
		it.After = req.SequenceNumber
		it.Inclusive = req.ShardIteratorType == "AT_SEQUENCE_NUMBER"
	default:
		return nil, apiError("ValidationException", "Invalid ShardIteratorType: "+req.ShardIteratorType)
	}
	return getShardIteratorResponse{ShardIterator: it.encode()}, nil
}

func (s *Server) getRecords(ctx context.Context, body []byte) (any, error) {
	var req getRecordsRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	it, err := parseShardIterator(req.ShardIterator)
	if err != nil {
		return nil, err
	}
	if _, err := s.streamTable(ctx, it.StreamARN); err != nil {
		return nil, err
	}
	records, err := s.tableRecords(it.StreamARN, it.ShardID)
	if err != nil {
		return nil, err
	}

	limit := int(aws.ToInt32(req.Limit))
	if limit <= 0 || limit > maxRecords {
		limit = maxRecords
	}
	resp := getRecordsResponse{Records: []events.DynamoDBEventRecord{}}
	for _, r := range records {
		seq := r.Change.SequenceNumber
		if it.After != "" && (seq < it.After || seq == it.After && !it.Inclusive) {
			continue
		}
		if len(resp.Records) == limit {
			break
		}
		resp.Records = append(resp.Records, r)
	}

	next := shardIterator{StreamARN: it.StreamARN, ShardID: it.ShardID, After: it.After, Inclusive: it.Inclusive}
	if n := len(resp.Records); n > 0 {
		next.After = resp.Records[n-1].Change.SequenceNumber
		next.Inclusive = false
	}
	resp.NextShardIterator = next.encode()
	return resp, nil
}

// tableRecords returns the retained records of one table's stream in a
// shard. Shards are shared by every table, so records are filtered by
// their source ARN.
func (s *Server) tableRecords(streamARN, shardID string) ([]events.DynamoDBEventRecord, error) {
	all, err := s.publisher.Records(shardID, "")
	if err != nil {
		return nil, apiError("ResourceNotFoundException", "Requested resource not found: Shard does not exist")
	}
	out := all[:0:0]
	for _, r := range all {
		if r.EventSourceArn == streamARN {
			out = append(out, r)
		}
	}
	return out, nil
}
