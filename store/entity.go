package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a DynamoDB item in SDK form.
type Item = map[string]types.AttributeValue

// KeySchema names the primary key attributes of a table. RangeKey is empty
// for hash-only tables.
type KeySchema struct {
	HashKey  string
	RangeKey string
}

// Names returns the key attribute names in schema order.
func (k KeySchema) Names() []string {
	if k.RangeKey == "" {
		return []string{k.HashKey}
	}
	return []string{k.HashKey, k.RangeKey}
}

// Key extracts the key attributes of item.
func (k KeySchema) Key(item Item) Item {
	key := Item{}
	for _, name := range k.Names() {
		if v, ok := item[name]; ok {
			key[name] = v
		}
	}
	return key
}

// QueryInput holds parameters for a query. Field names follow the SDK.
type QueryInput struct {
	TableName                 string
	IndexName                 string
	KeyConditionExpression    string
	FilterExpression          string
	ProjectionExpression      string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
	Limit                     int32
	ExclusiveStartKey         Item
	ScanIndexForward          *bool
}

// ScanInput holds parameters for a scan.
type ScanInput struct {
	TableName                 string
	IndexName                 string
	FilterExpression          string
	ProjectionExpression      string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
	Limit                     int32
	ExclusiveStartKey         Item
}

// Page is one page of query or scan results.
type Page struct {
	Items            []Item
	Count            int32
	ScannedCount     int32
	LastEvaluatedKey Item
}

// PaginatedInput drives GetPaginatedItems. Limit <= 0 means 100.
type PaginatedInput struct {
	TableName                 string
	IndexName                 string
	KeyConditionExpression    string
	FilterExpression          string
	ProjectionExpression      string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
	Limit                     int
}

// UpdateInput is an expression based update, as issued by UpdateItem.
type UpdateInput struct {
	TableName                 string
	Key                       Item
	UpdateExpression          string
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
}

// Change describes one committed write. Old is nil for inserts and New is
// nil for deletes.
type Change struct {
	Table string

	// HashKey names the partition key attribute within Keys.
	HashKey string
	Keys    Item
	Old     Item
	New     Item

	// Expired marks deletions made by PurgeExpired rather than a caller.
	Expired bool
}

// Listener is notified after every committed write, in write order.
type Listener interface {
	OnChange(ctx context.Context, change Change) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, change Change) error

// OnChange calls f.
func (f ListenerFunc) OnChange(ctx context.Context, change Change) error {
	return f(ctx, change)
}
