// Package dynamo is a small data-access layer over any ddbapi.Client.
//
// It carries the item helpers applications use day to day: plain and
// create-only puts, pk/sk lookups, optimistic-lock updates, paginated
// queries, scans and chunked batch reads and writes. Items cross the API as
// native Go maps (see attr.Encode for the accepted value types) so the same
// code runs unchanged against the real service and the local emulator.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
	"github.com/jacentio/dynamock/ddbapi"
	"github.com/jacentio/dynamock/internal/ckey"
	"github.com/jacentio/dynamock/store"
)

// maxBatchAttempts bounds the retries of unprocessed batch requests.
const maxBatchAttempts = 5

// ErrUnprocessed is returned when a batch call still has unprocessed
// requests after maxBatchAttempts.
var ErrUnprocessed = errors.New("dynamock: batch requests left unprocessed")

// DB wraps a client with pk/sk item helpers.
type DB struct {
	client ddbapi.Client
	config Config
	logger *slog.Logger
}

// New creates a DB over client.
func New(client ddbapi.Client, config Config) *DB {
	config.validate()
	return &DB{client: client, config: config, logger: config.Logger}
}

// Client returns the underlying client.
func (db *DB) Client() ddbapi.Client {
	return db.client
}

// Key addresses one item by partition and sort key.
type Key struct {
	PK string
	SK string
}

func (db *DB) key(pk, sk string) store.Item {
	k := store.Item{db.config.PKAttribute: &types.AttributeValueMemberS{Value: pk}}
	if sk != "" {
		k[db.config.SKAttribute] = &types.AttributeValueMemberS{Value: sk}
	}
	return k
}

// StoreItem writes item, replacing any item with the same key.
func (db *DB) StoreItem(ctx context.Context, tableName string, item map[string]any) error {
	av, err := MapToItem(item)
	if err != nil {
		return err
	}
	return db.PutItem(ctx, tableName, av)
}

// PutItem writes an already encoded item.
func (db *DB) PutItem(ctx context.Context, tableName string, item store.Item) error {
	_, err := db.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      item,
	})
	if err != nil {
		db.logger.Error("put item failed", "table", tableName, "error", err)
		return err
	}
	db.logger.Debug("stored item", "table", tableName, "pk", keyString(item[db.config.PKAttribute]))
	return nil
}

// PutNew writes item only when no item with its partition key exists. A
// taken key fails with an error matching store.ErrAlreadyExists.
func (db *DB) PutNew(ctx context.Context, tableName string, item map[string]any) error {
	av, err := MapToItem(item)
	if err != nil {
		return err
	}
	cond := expression.AttributeNotExists(expression.Name(db.config.PKAttribute))
	e, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}
	_, err = db.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(tableName),
		Item:                      av,
		ConditionExpression:       e.Condition(),
		ExpressionAttributeNames:  e.Names(),
		ExpressionAttributeValues: e.Values(),
	})
	if ddbapi.IsConditionalCheckFailed(err) {
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, keyString(av[db.config.PKAttribute]))
	}
	return err
}

// GetItemByPKSK returns the item at (pk, sk) decoded to a map, or nil when
// there is none.
func (db *DB) GetItemByPKSK(ctx context.Context, tableName, pk, sk string) (map[string]any, error) {
	item, err := db.getItem(ctx, tableName, db.key(pk, sk))
	if err != nil || item == nil {
		return nil, err
	}
	return ItemToMap(item)
}

// GetItemByPK is GetItemByPKSK for hash-only tables.
func (db *DB) GetItemByPK(ctx context.Context, tableName, pk string) (map[string]any, error) {
	return db.GetItemByPKSK(ctx, tableName, pk, "")
}

func (db *DB) getItem(ctx context.Context, tableName string, key store.Item) (store.Item, error) {
	db.logger.Debug("getting item", "table", tableName, "pk", keyString(key[db.config.PKAttribute]))
	out, err := db.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key:       key,
	})
	if err != nil {
		return nil, err
	}
	return out.Item, nil
}

// ItemExists reports whether (pk, sk) holds an item. A missing table is
// reported as false, not as an error.
func (db *DB) ItemExists(ctx context.Context, tableName, pk, sk string) (bool, error) {
	item, err := db.getItem(ctx, tableName, db.key(pk, sk))
	if ddbapi.IsResourceNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

// DeleteItemByPKSK removes the item at (pk, sk). Deleting a missing item
// succeeds.
func (db *DB) DeleteItemByPKSK(ctx context.Context, tableName, pk, sk string) error {
	_, err := db.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(tableName),
		Key:       db.key(pk, sk),
	})
	if err != nil {
		db.logger.Error("delete item failed", "table", tableName, "pk", pk, "sk", sk, "error", err)
		return err
	}
	db.logger.Debug("deleted item", "table", tableName, "pk", pk, "sk", sk)
	return nil
}

// UpdateVersionedItem writes updates to (pk, sk) when the stored version is
// expected and bumps it to expected+1. It returns the updated item.
//
// Updates whose rendered expression exceeds store.MaxExpressionSize fail
// with a validation error before the client is called. A version mismatch
// fails with an error matching store.ErrVersionConflict.
func (db *DB) UpdateVersionedItem(ctx context.Context, tableName, pk, sk string, updates map[string]any, expected int64) (map[string]any, error) {
	av, err := MapToItem(updates)
	if err != nil {
		return nil, err
	}
	rendered, err := store.RenderVersionedUpdate(av, expected, db.config.VersionAttribute)
	if err != nil {
		return nil, err
	}

	out, err := db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(tableName),
		Key:                       db.key(pk, sk),
		UpdateExpression:          aws.String(rendered.UpdateExpression),
		ConditionExpression:       aws.String(rendered.ConditionExpression),
		ExpressionAttributeNames:  rendered.ExpressionAttributeNames,
		ExpressionAttributeValues: rendered.ExpressionAttributeValues,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if ddbapi.IsConditionalCheckFailed(err) {
		db.logger.Error("optimistic lock failed", "table", tableName, "pk", pk, "sk", sk, "expected_version", expected)
		return nil, fmt.Errorf("%w: updating %s:%s, expecting %d: %w", store.ErrVersionConflict, pk, sk, expected, err)
	}
	if err != nil {
		db.logger.Error("versioned update failed", "table", tableName, "pk", pk, "sk", sk, "error", err)
		return nil, err
	}
	db.logger.Debug("updated item", "table", tableName, "pk", pk, "sk", sk, "version", expected+1)
	return ItemToMap(out.Attributes)
}

// QuerySpec describes a paginated query.
type QuerySpec struct {
	TableName string
	IndexName string

	// KeyCondition is required.
	KeyCondition expression.KeyConditionBuilder
	Filter       *expression.ConditionBuilder

	// Projection lists attribute names to return. Default: all
	Projection []string

	// Descending reverses the sort key order.
	Descending bool
}

func (q QuerySpec) input(pageSize int32) (*dynamodb.QueryInput, error) {
	b := expression.NewBuilder().WithKeyCondition(q.KeyCondition)
	if q.Filter != nil {
		b = b.WithFilter(*q.Filter)
	}
	if proj, ok := projection(q.Projection); ok {
		b = b.WithProjection(proj)
	}
	e, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build query expression: %w", err)
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(q.TableName),
		KeyConditionExpression:    e.KeyCondition(),
		FilterExpression:          e.Filter(),
		ProjectionExpression:      e.Projection(),
		ExpressionAttributeNames:  e.Names(),
		ExpressionAttributeValues: e.Values(),
		Limit:                     aws.Int32(pageSize),
	}
	if q.IndexName != "" {
		in.IndexName = aws.String(q.IndexName)
	}
	if q.Descending {
		in.ScanIndexForward = aws.Bool(false)
	}
	return in, nil
}

func projection(names []string) (expression.ProjectionBuilder, bool) {
	if len(names) == 0 {
		return expression.ProjectionBuilder{}, false
	}
	proj := expression.NamesList(expression.Name(names[0]))
	for _, n := range names[1:] {
		proj = proj.AddNames(expression.Name(n))
	}
	return proj, true
}

// GetPaginatedItems runs q to exhaustion, Config.PageSize items per page,
// and returns the raw items in key order.
func (db *DB) GetPaginatedItems(ctx context.Context, q QuerySpec) ([]store.Item, error) {
	in, err := q.input(db.config.PageSize)
	if err != nil {
		return nil, err
	}
	var items []store.Item
	p := dynamodb.NewQueryPaginator(db.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	db.logger.Debug("query complete", "table", q.TableName, "index", q.IndexName, "items", len(items))
	return items, nil
}

// GetPaginatedItemsByPK returns every item in partition pk, decoded.
func (db *DB) GetPaginatedItemsByPK(ctx context.Context, tableName, pk string) ([]map[string]any, error) {
	items, err := db.GetPaginatedItems(ctx, QuerySpec{
		TableName:    tableName,
		KeyCondition: expression.Key(db.config.PKAttribute).Equal(expression.Value(pk)),
	})
	if err != nil {
		return nil, err
	}
	return itemsToMaps(items)
}

// ScanForItems scans the whole table, applying filter and projection when
// given, and returns the decoded items.
func (db *DB) ScanForItems(ctx context.Context, tableName string, filter *expression.ConditionBuilder, projectionNames ...string) ([]map[string]any, error) {
	in := &dynamodb.ScanInput{
		TableName: aws.String(tableName),
		Limit:     aws.Int32(db.config.PageSize),
	}
	proj, hasProj := projection(projectionNames)
	if filter != nil || hasProj {
		b := expression.NewBuilder()
		if filter != nil {
			b = b.WithFilter(*filter)
		}
		if hasProj {
			b = b.WithProjection(proj)
		}
		e, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("build scan expression: %w", err)
		}
		in.FilterExpression = e.Filter()
		in.ProjectionExpression = e.Projection()
		in.ExpressionAttributeNames = e.Names()
		in.ExpressionAttributeValues = e.Values()
	}

	var items []store.Item
	p := dynamodb.NewScanPaginator(db.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return itemsToMaps(items)
}

// ScanForItemsByPKSK scans for items whose pk contains pkContains and whose
// sk contains skContains. An empty argument drops that half of the filter.
func (db *DB) ScanForItemsByPKSK(ctx context.Context, tableName, pkContains, skContains string) ([]map[string]any, error) {
	var conds []expression.ConditionBuilder
	if pkContains != "" {
		conds = append(conds, expression.Contains(expression.Name(db.config.PKAttribute), pkContains))
	}
	if skContains != "" {
		conds = append(conds, expression.Contains(expression.Name(db.config.SKAttribute), skContains))
	}
	switch len(conds) {
	case 0:
		return db.ScanForItems(ctx, tableName, nil)
	case 1:
		return db.ScanForItems(ctx, tableName, &conds[0])
	}
	filter := conds[0].And(conds[1])
	return db.ScanForItems(ctx, tableName, &filter)
}

// BatchGetItemsByPKSK reads keys in chunks of store.MaxBatchGet and returns
// the decoded items that exist. Unprocessed keys are retried.
func (db *DB) BatchGetItemsByPKSK(ctx context.Context, tableName string, keys []Key) ([]map[string]any, error) {
	var out []map[string]any
	for _, chunk := range store.Chunk(keys, store.MaxBatchGet) {
		request := make([]map[string]types.AttributeValue, 0, len(chunk))
		for _, k := range chunk {
			request = append(request, db.key(k.PK, k.SK))
		}
		pending := map[string]types.KeysAndAttributes{tableName: {Keys: request}}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == maxBatchAttempts {
				return nil, fmt.Errorf("%w: batch get on %s", ErrUnprocessed, tableName)
			}
			if err := backoff(ctx, attempt); err != nil {
				return nil, err
			}
			resp, err := db.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
			if err != nil {
				return nil, err
			}
			items, err := itemsToMaps(resp.Responses[tableName])
			if err != nil {
				return nil, err
			}
			out = append(out, items...)
			pending = resp.UnprocessedKeys
		}
	}
	return out, nil
}

// BatchWrite puts every object in chunks of store.MaxBatchWrite.
// Unprocessed requests are retried.
func (db *DB) BatchWrite(ctx context.Context, tableName string, objects []map[string]any) error {
	for _, chunk := range store.Chunk(objects, store.MaxBatchWrite) {
		requests := make([]types.WriteRequest, 0, len(chunk))
		for _, obj := range chunk {
			item, err := MapToItem(obj)
			if err != nil {
				return err
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		pending := map[string][]types.WriteRequest{tableName: requests}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == maxBatchAttempts {
				return fmt.Errorf("%w: batch write on %s", ErrUnprocessed, tableName)
			}
			if err := backoff(ctx, attempt); err != nil {
				return err
			}
			resp, err := db.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				db.logger.Error("batch write failed", "table", tableName, "error", err)
				return err
			}
			pending = resp.UnprocessedItems
		}
	}
	db.logger.Debug("batch write complete", "table", tableName, "items", len(objects))
	return nil
}

// backoff waits before every retry of a batch call.
func backoff(ctx context.Context, attempt int) error {
	if attempt == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(1<<attempt) * 25 * time.Millisecond):
		return nil
	}
}

// ItemToMap decodes an item into native Go values.
func ItemToMap(item store.Item) (map[string]any, error) {
	if item == nil {
		return map[string]any{}, nil
	}
	return attr.DecodeItem(item)
}

// MapToItem encodes native Go values into an item.
func MapToItem(m map[string]any) (store.Item, error) {
	return attr.EncodeItem(m)
}

func itemsToMaps(items []store.Item) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, err := ItemToMap(item)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Field is one NAME#value segment of a composed key.
type Field = ckey.Pair

// PKSKFromFields composes pk and sk strings from field pairs, e.g.
// USER#42 and DOC#7#REV#3.
func PKSKFromFields(pk, sk []Field) (string, string) {
	return ckey.ComposePKSK(pk, sk)
}

// PKSKFields splits composed pk and sk strings back into lower-cased field
// names and their values.
func PKSKFields(pk, sk string) map[string]string {
	return ckey.Fields(pk, sk)
}

func keyString(av types.AttributeValue) string {
	s, err := ckey.Component(av)
	if err != nil {
		return ""
	}
	return s
}
