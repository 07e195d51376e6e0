package ddbapi

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/dynamock/store"
)

// Local serves the Client interface from an in-process store.
type Local struct {
	store *store.Store

	mu      sync.Mutex
	created map[string]time.Time
}

// NewLocal wraps s.
func NewLocal(s *store.Store) *Local {
	return &Local{store: s, created: make(map[string]time.Time)}
}

// Store returns the wrapped emulator.
func (l *Local) Store() *store.Store {
	return l.store
}

// GetItem reads one item. ConsistentRead is ignored: reads always go
// through the consistency simulator.
func (l *Local) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	const op = "GetItem"
	table := aws.ToString(in.TableName)
	item, err := l.store.GetItem(ctx, table, in.Key)
	if err != nil {
		return nil, translate(op, err)
	}
	item, err = l.store.ProjectItem(ctx, table, aws.ToString(in.ProjectionExpression), in.ExpressionAttributeNames, item)
	if err != nil {
		return nil, translate(op, err)
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// PutItem stores an item, honouring ConditionExpression and ReturnValues
// ALL_OLD.
func (l *Local) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	const op = "PutItem"
	old, err := l.store.PutItem(ctx, aws.ToString(in.TableName), in.Item,
		aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, translate(op, err)
	}
	out := &dynamodb.PutItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

// DeleteItem removes an item, honouring ConditionExpression and
// ReturnValues ALL_OLD.
func (l *Local) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	const op = "DeleteItem"
	old, err := l.store.DeleteItem(ctx, aws.ToString(in.TableName), in.Key,
		aws.ToString(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, translate(op, err)
	}
	out := &dynamodb.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

// UpdateItem applies an update expression. UPDATED_OLD and UPDATED_NEW
// return the whole item, like ALL_OLD and ALL_NEW.
func (l *Local) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	const op = "UpdateItem"
	if in.UpdateExpression == nil {
		return nil, validation(op, "UpdateExpression must be specified")
	}
	old, updated, err := l.store.UpdateItem(ctx, store.UpdateInput{
		TableName:                 aws.ToString(in.TableName),
		Key:                       in.Key,
		UpdateExpression:          aws.ToString(in.UpdateExpression),
		ConditionExpression:       aws.ToString(in.ConditionExpression),
		ExpressionAttributeNames:  in.ExpressionAttributeNames,
		ExpressionAttributeValues: in.ExpressionAttributeValues,
	})
	if err != nil {
		return nil, translate(op, err)
	}
	out := &dynamodb.UpdateItemOutput{}
	switch in.ReturnValues {
	case types.ReturnValueAllOld, types.ReturnValueUpdatedOld:
		out.Attributes = old
	case types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
		out.Attributes = updated
	}
	return out, nil
}

// Query runs a key condition query. Select COUNT drops the items.
func (l *Local) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	page, err := l.store.Query(ctx, store.QueryInput{
		TableName:                 aws.ToString(in.TableName),
		IndexName:                 aws.ToString(in.IndexName),
		KeyConditionExpression:    aws.ToString(in.KeyConditionExpression),
		FilterExpression:          aws.ToString(in.FilterExpression),
		ProjectionExpression:      aws.ToString(in.ProjectionExpression),
		ExpressionAttributeNames:  in.ExpressionAttributeNames,
		ExpressionAttributeValues: in.ExpressionAttributeValues,
		Limit:                     aws.ToInt32(in.Limit),
		ExclusiveStartKey:         in.ExclusiveStartKey,
		ScanIndexForward:          in.ScanIndexForward,
	})
	if err != nil {
		return nil, translate("Query", err)
	}
	out := &dynamodb.QueryOutput{
		Items:            page.Items,
		Count:            page.Count,
		ScannedCount:     page.ScannedCount,
		LastEvaluatedKey: page.LastEvaluatedKey,
	}
	if in.Select == types.SelectCount {
		out.Items = nil
	}
	return out, nil
}

// Scan reads a whole table or index. Parallel scan segments are not
// supported.
func (l *Local) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	const op = "Scan"
	if aws.ToInt32(in.TotalSegments) > 1 {
		return nil, validation(op, "Parallel scan is not supported")
	}
	page, err := l.store.Scan(ctx, store.ScanInput{
		TableName:                 aws.ToString(in.TableName),
		IndexName:                 aws.ToString(in.IndexName),
		FilterExpression:          aws.ToString(in.FilterExpression),
		ProjectionExpression:      aws.ToString(in.ProjectionExpression),
		ExpressionAttributeNames:  in.ExpressionAttributeNames,
		ExpressionAttributeValues: in.ExpressionAttributeValues,
		Limit:                     aws.ToInt32(in.Limit),
		ExclusiveStartKey:         in.ExclusiveStartKey,
	})
	if err != nil {
		return nil, translate(op, err)
	}
	out := &dynamodb.ScanOutput{
		Items:            page.Items,
		Count:            page.Count,
		ScannedCount:     page.ScannedCount,
		LastEvaluatedKey: page.LastEvaluatedKey,
	}
	if in.Select == types.SelectCount {
		out.Items = nil
	}
	return out, nil
}

// BatchGetItem reads up to 100 keys across tables. Missing items are
// omitted and nothing is ever left unprocessed.
func (l *Local) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	const op = "BatchGetItem"
	total := 0
	for _, ka := range in.RequestItems {
		total += len(ka.Keys)
	}
	if total > store.MaxBatchGet {
		return nil, validation(op, fmt.Sprintf("Too many items requested for the BatchGetItem call; max: %d", store.MaxBatchGet))
	}

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	for _, table := range slices.Sorted(maps.Keys(in.RequestItems)) {
		ka := in.RequestItems[table]
		items, err := l.store.BatchGet(ctx, table, ka.Keys)
		if err != nil {
			return nil, translate(op, err)
		}
		for i, item := range items {
			if items[i], err = l.store.ProjectItem(ctx, table, aws.ToString(ka.ProjectionExpression), ka.ExpressionAttributeNames, item); err != nil {
				return nil, translate(op, err)
			}
		}
		out.Responses[table] = items
	}
	return out, nil
}

// BatchWriteItem applies up to 25 puts and deletes across tables.
func (l *Local) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	const op = "BatchWriteItem"
	total := 0
	for _, reqs := range in.RequestItems {
		total += len(reqs)
	}
	if total > store.MaxBatchWrite {
		return nil, validation(op, fmt.Sprintf("Too many items requested for the BatchWriteItem call; max: %d", store.MaxBatchWrite))
	}

	for _, table := range slices.Sorted(maps.Keys(in.RequestItems)) {
		var reqs []store.WriteRequest
		for _, wr := range in.RequestItems[table] {
			var req store.WriteRequest
			if wr.PutRequest != nil {
				req.Put = wr.PutRequest.Item
			}
			if wr.DeleteRequest != nil {
				req.DeleteKey = wr.DeleteRequest.Key
			}
			reqs = append(reqs, req)
		}
		if err := l.store.BatchWrite(ctx, table, reqs); err != nil {
			return nil, translate(op, err)
		}
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}, nil
}

// CreateTable creates a table and its secondary indexes.
func (l *Local) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	const op = "CreateTable"
	name := aws.ToString(in.TableName)
	if l.store.HasTable(name) {
		return nil, &smithy.OperationError{ServiceID: ServiceID, OperationName: op, Err: &types.ResourceInUseException{
			Message: aws.String("Table already exists: " + name),
		}}
	}
	hash, rng := keyNames(in.KeySchema)
	if hash == "" {
		return nil, validation(op, "No Hash Key specified in schema. All Dynamo DB tables must have exactly one hash key")
	}
	if err := l.store.CreateTable(ctx, name, store.KeySchema{HashKey: hash, RangeKey: rng}); err != nil {
		return nil, translate(op, err)
	}

	var specs []store.IndexSpec
	for _, gsi := range in.GlobalSecondaryIndexes {
		specs = append(specs, indexSpec(aws.ToString(gsi.IndexName), gsi.KeySchema, gsi.Projection))
	}
	for _, lsi := range in.LocalSecondaryIndexes {
		specs = append(specs, indexSpec(aws.ToString(lsi.IndexName), lsi.KeySchema, lsi.Projection))
	}
	for _, spec := range specs {
		if err := l.store.AddIndex(ctx, name, spec); err != nil {
			return nil, translate(op, err)
		}
	}
	l.mu.Lock()
	l.created[name] = time.Now()
	l.mu.Unlock()

	desc, err := l.describe(ctx, name)
	if err != nil {
		return nil, translate(op, err)
	}
	return &dynamodb.CreateTableOutput{TableDescription: desc}, nil
}

// DescribeTable reports the key schema and indexes of an existing table.
func (l *Local) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	const op = "DescribeTable"
	name := aws.ToString(in.TableName)
	if !l.store.HasTable(name) {
		return nil, translate(op, store.ErrTableNotFound)
	}
	desc, err := l.describe(ctx, name)
	if err != nil {
		return nil, translate(op, err)
	}
	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

// ListTables pages through table names in creation order.
func (l *Local) ListTables(ctx context.Context, in *dynamodb.ListTablesInput, _ ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := l.store.Tables()
	if start := aws.ToString(in.ExclusiveStartTableName); start != "" {
		if i := slices.Index(names, start); i >= 0 {
			names = names[i+1:]
		}
	}
	out := &dynamodb.ListTablesOutput{TableNames: names}
	if limit := int(aws.ToInt32(in.Limit)); limit > 0 && len(names) > limit {
		out.TableNames = names[:limit]
		out.LastEvaluatedTableName = aws.String(names[limit-1])
	}
	return out, nil
}

func (l *Local) describe(ctx context.Context, name string) (*types.TableDescription, error) {
	schema, err := l.store.Schema(ctx, name)
	if err != nil {
		return nil, err
	}
	specs, err := l.store.Indexes(ctx, name)
	if err != nil {
		return nil, err
	}
	items, err := l.store.AllItems(ctx, name)
	if err != nil {
		return nil, err
	}

	desc := &types.TableDescription{
		TableName:   aws.String(name),
		TableArn:    aws.String(TableARN(name)),
		TableStatus: types.TableStatusActive,
		KeySchema:   keySchema(schema.HashKey, schema.RangeKey),
		ItemCount:   aws.Int64(int64(len(items))),
	}
	l.mu.Lock()
	if t, ok := l.created[name]; ok {
		desc.CreationDateTime = aws.Time(t)
	}
	l.mu.Unlock()
	for _, spec := range specs {
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, types.GlobalSecondaryIndexDescription{
			IndexName:   aws.String(spec.Name),
			IndexStatus: types.IndexStatusActive,
			KeySchema:   keySchema(spec.HashKey, spec.SortKey),
			Projection: &types.Projection{
				ProjectionType:   types.ProjectionType(spec.ProjectionType),
				NonKeyAttributes: spec.NonKeyAttributes,
			},
		})
	}
	return desc, nil
}

// TableARN is the ARN the emulator reports for a table.
func TableARN(name string) string {
	return "arn:aws:dynamodb:local:000000000000:table/" + name
}

func keyNames(schema []types.KeySchemaElement) (hash, rng string) {
	for _, el := range schema {
		switch el.KeyType {
		case types.KeyTypeHash:
			hash = aws.ToString(el.AttributeName)
		case types.KeyTypeRange:
			rng = aws.ToString(el.AttributeName)
		}
	}
	return hash, rng
}

func keySchema(hash, rng string) []types.KeySchemaElement {
	out := []types.KeySchemaElement{{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash}}
	if rng != "" {
		out = append(out, types.KeySchemaElement{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange})
	}
	return out
}

func indexSpec(name string, schema []types.KeySchemaElement, proj *types.Projection) store.IndexSpec {
	hash, rng := keyNames(schema)
	spec := store.IndexSpec{Name: name, HashKey: hash, SortKey: rng, ProjectionType: store.ProjectionAll}
	if proj != nil && proj.ProjectionType != "" {
		spec.ProjectionType = store.ProjectionType(proj.ProjectionType)
		spec.NonKeyAttributes = proj.NonKeyAttributes
	}
	return spec
}
