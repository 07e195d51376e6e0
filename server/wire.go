package server

import (
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
)

// Request and response bodies of the JSON 1.0 protocol. Items travel as
// attr.JSONItem so attribute values keep their {TYPE: value} wire form.

type getItemRequest struct {
	TableName                string            `json:"TableName"`
	Key                      attr.JSONItem     `json:"Key"`
	ProjectionExpression     string            `json:"ProjectionExpression"`
	ExpressionAttributeNames map[string]string `json:"ExpressionAttributeNames"`
	ConsistentRead           bool              `json:"ConsistentRead"`
}

type getItemResponse struct {
	Item attr.JSONItem `json:"Item,omitempty"`
}

type putItemRequest struct {
	TableName                 string            `json:"TableName"`
	Item                      attr.JSONItem     `json:"Item"`
	ConditionExpression       string            `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues attr.JSONItem     `json:"ExpressionAttributeValues"`
	ReturnValues              string            `json:"ReturnValues"`
}

type deleteItemRequest struct {
	TableName                 string            `json:"TableName"`
	Key                       attr.JSONItem     `json:"Key"`
	ConditionExpression       string            `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues attr.JSONItem     `json:"ExpressionAttributeValues"`
	ReturnValues              string            `json:"ReturnValues"`
}

type updateItemRequest struct {
	TableName                 string            `json:"TableName"`
	Key                       attr.JSONItem     `json:"Key"`
	UpdateExpression          *string           `json:"UpdateExpression"`
	ConditionExpression       string            `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues attr.JSONItem     `json:"ExpressionAttributeValues"`
	ReturnValues              string            `json:"ReturnValues"`
}

// attributesResponse answers PutItem, DeleteItem and UpdateItem.
type attributesResponse struct {
	Attributes attr.JSONItem `json:"Attributes,omitempty"`
}

type queryRequest struct {
	TableName                 string            `json:"TableName"`
	IndexName                 string            `json:"IndexName"`
	KeyConditionExpression    string            `json:"KeyConditionExpression"`
	FilterExpression          string            `json:"FilterExpression"`
	ProjectionExpression      string            `json:"ProjectionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues attr.JSONItem     `json:"ExpressionAttributeValues"`
	Limit                     *int32            `json:"Limit"`
	ExclusiveStartKey         attr.JSONItem     `json:"ExclusiveStartKey"`
	ScanIndexForward          *bool             `json:"ScanIndexForward"`
	Select                    string            `json:"Select"`
	ConsistentRead            bool              `json:"ConsistentRead"`
}

type scanRequest struct {
	TableName                 string            `json:"TableName"`
	IndexName                 string            `json:"IndexName"`
	FilterExpression          string            `json:"FilterExpression"`
	ProjectionExpression      string            `json:"ProjectionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues attr.JSONItem     `json:"ExpressionAttributeValues"`
	Limit                     *int32            `json:"Limit"`
	ExclusiveStartKey         attr.JSONItem     `json:"ExclusiveStartKey"`
	Select                    string            `json:"Select"`
	Segment                   *int32            `json:"Segment"`
	TotalSegments             *int32            `json:"TotalSegments"`
	ConsistentRead            bool              `json:"ConsistentRead"`
}

// pageResponse answers Query and Scan.
type pageResponse struct {
	Items            []attr.JSONItem `json:"Items,omitempty"`
	Count            int32           `json:"Count"`
	ScannedCount     int32           `json:"ScannedCount"`
	LastEvaluatedKey attr.JSONItem   `json:"LastEvaluatedKey,omitempty"`
}

type keysAndAttributes struct {
	Keys                     []attr.JSONItem   `json:"Keys"`
	ProjectionExpression     string            `json:"ProjectionExpression,omitempty"`
	ExpressionAttributeNames map[string]string `json:"ExpressionAttributeNames,omitempty"`
	ConsistentRead           bool              `json:"ConsistentRead,omitempty"`
}

type batchGetItemRequest struct {
	RequestItems map[string]keysAndAttributes `json:"RequestItems"`
}

type batchGetItemResponse struct {
	Responses       map[string][]attr.JSONItem   `json:"Responses"`
	UnprocessedKeys map[string]keysAndAttributes `json:"UnprocessedKeys"`
}

type writeRequest struct {
	PutRequest *struct {
		Item attr.JSONItem `json:"Item"`
	} `json:"PutRequest,omitempty"`
	DeleteRequest *struct {
		Key attr.JSONItem `json:"Key"`
	} `json:"DeleteRequest,omitempty"`
}

type batchWriteItemRequest struct {
	RequestItems map[string][]writeRequest `json:"RequestItems"`
}

type batchWriteItemResponse struct {
	UnprocessedItems map[string][]writeRequest `json:"UnprocessedItems"`
}

type keySchemaElement struct {
	AttributeName string `json:"AttributeName"`
	KeyType       string `json:"KeyType"`
}

type projection struct {
	ProjectionType   string   `json:"ProjectionType,omitempty"`
	NonKeyAttributes []string `json:"NonKeyAttributes,omitempty"`
}

type secondaryIndex struct {
	IndexName   string             `json:"IndexName"`
	KeySchema   []keySchemaElement `json:"KeySchema"`
	Projection  *projection        `json:"Projection,omitempty"`
	IndexStatus string             `json:"IndexStatus,omitempty"`
}

type createTableRequest struct {
	TableName              string             `json:"TableName"`
	KeySchema              []keySchemaElement `json:"KeySchema"`
	GlobalSecondaryIndexes []secondaryIndex   `json:"GlobalSecondaryIndexes"`
	LocalSecondaryIndexes  []secondaryIndex   `json:"LocalSecondaryIndexes"`
}

type tableRequest struct {
	TableName string `json:"TableName"`
}

type tableDescription struct {
	TableName              string             `json:"TableName"`
	TableArn               string             `json:"TableArn"`
	TableStatus            string             `json:"TableStatus"`
	KeySchema              []keySchemaElement `json:"KeySchema"`
	ItemCount              int64              `json:"ItemCount"`
	CreationDateTime       float64            `json:"CreationDateTime,omitempty"`
	GlobalSecondaryIndexes []secondaryIndex   `json:"GlobalSecondaryIndexes,omitempty"`
	LatestStreamArn        string             `json:"LatestStreamArn,omitempty"`
	LatestStreamLabel      string             `json:"LatestStreamLabel,omitempty"`
}

type createTableResponse struct {
	TableDescription tableDescription `json:"TableDescription"`
}

type describeTableResponse struct {
	Table tableDescription `json:"Table"`
}

type listTablesRequest struct {
	ExclusiveStartTableName string `json:"ExclusiveStartTableName"`
	Limit                   *int32 `json:"Limit"`
}

type listTablesResponse struct {
	TableNames             []string `json:"TableNames"`
	LastEvaluatedTableName string   `json:"LastEvaluatedTableName,omitempty"`
}

// Streams API bodies.

type listStreamsRequest struct {
	TableName               string `json:"TableName"`
	ExclusiveStartStreamArn string `json:"ExclusiveStartStreamArn"`
	Limit                   *int32 `json:"Limit"`
}

type streamSummary struct {
	StreamArn   string `json:"StreamArn"`
	StreamLabel string `json:"StreamLabel"`
	TableName   string `json:"TableName"`
}

type listStreamsResponse struct {
	Streams                []streamSummary `json:"Streams"`
	LastEvaluatedStreamArn string          `json:"LastEvaluatedStreamArn,omitempty"`
}

type describeStreamRequest struct {
	StreamArn string `json:"StreamArn"`
}

type sequenceNumberRange struct {
	StartingSequenceNumber string `json:"StartingSequenceNumber,omitempty"`
}

type streamShard struct {
	ShardId             string              `json:"ShardId"`
	SequenceNumberRange sequenceNumberRange `json:"SequenceNumberRange"`
}

type streamDescription struct {
	StreamArn      string             `json:"StreamArn"`
	StreamLabel    string             `json:"StreamLabel"`
	StreamStatus   string             `json:"StreamStatus"`
	StreamViewType string             `json:"StreamViewType"`
	TableName      string             `json:"TableName"`
	KeySchema      []keySchemaElement `json:"KeySchema"`
	Shards         []streamShard      `json:"Shards"`
}

type describeStreamResponse struct {
	StreamDescription streamDescription `json:"StreamDescription"`
}

type getShardIteratorRequest struct {
	StreamArn         string `json:"StreamArn"`
	ShardId           string `json:"ShardId"`
	ShardIteratorType string `json:"ShardIteratorType"`
	SequenceNumber    string `json:"SequenceNumber"`
}

type getShardIteratorResponse struct {
	ShardIterator string `json:"ShardIterator"`
}

type getRecordsRequest struct {
	ShardIterator string `json:"ShardIterator"`
	Limit         *int32 `json:"Limit"`
}

type getRecordsResponse struct {
	Records           []events.DynamoDBEventRecord `json:"Records"`
	NextShardIterator string                       `json:"NextShardIterator,omitempty"`
}

func jsonItems(items []map[string]types.AttributeValue) []attr.JSONItem {
	out := make([]attr.JSONItem, 0, len(items))
	for _, item := range items {
		out = append(out, attr.JSONItem(item))
	}
	return out
}

func sdkItems(items []attr.JSONItem) []map[string]types.AttributeValue {
	out := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}

func wireKeySchema(schema []types.KeySchemaElement) []keySchemaElement {
	out := make([]keySchemaElement, 0, len(schema))
	for _, el := range schema {
		out = append(out, keySchemaElement{AttributeName: aws.ToString(el.AttributeName), KeyType: string(el.KeyType)})
	}
	return out
}

func sdkKeySchema(schema []keySchemaElement) []types.KeySchemaElement {
	out := make([]types.KeySchemaElement, 0, len(schema))
	for _, el := range schema {
		out = append(out, types.KeySchemaElement{AttributeName: aws.String(el.AttributeName), KeyType: types.KeyType(el.KeyType)})
	}
	return out
}

func sdkProjection(p *projection) *types.Projection {
	if p == nil {
		return nil
	}
	return &types.Projection{ProjectionType: types.ProjectionType(p.ProjectionType), NonKeyAttributes: p.NonKeyAttributes}
}

func wireTable(desc *types.TableDescription) tableDescription {
	out := tableDescription{
		TableName:   aws.ToString(desc.TableName),
		TableArn:    aws.ToString(desc.TableArn),
		TableStatus: string(desc.TableStatus),
		KeySchema:   wireKeySchema(desc.KeySchema),
		ItemCount:   aws.ToInt64(desc.ItemCount),
	}
	if desc.CreationDateTime != nil {
		out.CreationDateTime = float64(desc.CreationDateTime.UnixMilli()) / 1000
	}
	for _, gsi := range desc.GlobalSecondaryIndexes {
		ix := secondaryIndex{
			IndexName:   aws.ToString(gsi.IndexName),
			KeySchema:   wireKeySchema(gsi.KeySchema),
			IndexStatus: string(gsi.IndexStatus),
		}
		if gsi.Projection != nil {
			ix.Projection = &projection{
				ProjectionType:   string(gsi.Projection.ProjectionType),
				NonKeyAttributes: gsi.Projection.NonKeyAttributes,
			}
		}
		out.GlobalSecondaryIndexes = append(out.GlobalSecondaryIndexes, ix)
	}
	return out
}

func sdkWriteRequests(in map[string][]writeRequest) map[string][]types.WriteRequest {
	out := make(map[string][]types.WriteRequest, len(in))
	for table, reqs := range in {
		for _, wr := range reqs {
			var sdk types.WriteRequest
			if wr.PutRequest != nil {
				sdk.PutRequest = &types.PutRequest{Item: wr.PutRequest.Item}
			}
			if wr.DeleteRequest != nil {
				sdk.DeleteRequest = &types.DeleteRequest{Key: wr.DeleteRequest.Key}
			}
			out[table] = append(out[table], sdk)
		}
	}
	return out
}

func wireWriteRequests(in map[string][]types.WriteRequest) map[string][]writeRequest {
	out := make(map[string][]writeRequest, len(in))
	for table, reqs := range in {
		for _, sdk := range reqs {
			var wr writeRequest
			if sdk.PutRequest != nil {
				wr.PutRequest = &struct {
					Item attr.JSONItem `json:"Item"`
				}{Item: sdk.PutRequest.Item}
			}
			if sdk.DeleteRequest != nil {
				wr.DeleteRequest = &struct {
					Key attr.JSONItem `json:"Key"`
				}{Key: sdk.DeleteRequest.Key}
			}
			out[table] = append(out[table], wr)
		}
	}
	return out
}

func wireKeysAndAttributes(in map[string]types.KeysAndAttributes) map[string]keysAndAttributes {
	out := make(map[string]keysAndAttributes, len(in))
	for table, ka := range in {
		out[table] = keysAndAttributes{
			Keys:                     jsonItems(ka.Keys),
			ProjectionExpression:     aws.ToString(ka.ProjectionExpression),
			ExpressionAttributeNames: ka.ExpressionAttributeNames,
		}
	}
	return out
}

func sdkKeysAndAttributes(in map[string]keysAndAttributes) map[string]types.KeysAndAttributes {
	out := make(map[string]types.KeysAndAttributes, len(in))
	for table, ka := range in {
		sdk := types.KeysAndAttributes{
			Keys:                     sdkItems(ka.Keys),
			ExpressionAttributeNames: ka.ExpressionAttributeNames,
			ConsistentRead:           aws.Bool(ka.ConsistentRead),
		}
		if ka.ProjectionExpression != "" {
			sdk.ProjectionExpression = aws.String(ka.ProjectionExpression)
		}
		out[table] = sdk
	}
	return out
}

// optional turns an empty wire string into a nil SDK pointer.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func pageOf(items []map[string]types.AttributeValue, count, scanned int32, lek map[string]types.AttributeValue, countOnly bool) pageResponse {
	out := pageResponse{Count: count, ScannedCount: scanned, LastEvaluatedKey: lek}
	if !countOnly {
		out.Items = jsonItems(items)
	}
	return out
}
