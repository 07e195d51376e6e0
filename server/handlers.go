package server

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
)

func (s *Server) getItem(ctx context.Context, body []byte) (any, error) {
	var req getItemRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(req.TableName),
		Key:                      req.Key,
		ProjectionExpression:     optional(req.ProjectionExpression),
		ExpressionAttributeNames: req.ExpressionAttributeNames,
		ConsistentRead:           aws.Bool(req.ConsistentRead),
	})
	if err != nil {
		return nil, err
	}
	return getItemResponse{Item: out.Item}, nil
}

func (s *Server) putItem(ctx context.Context, body []byte) (any, error) {
	var req putItemRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(req.TableName),
		Item:                      req.Item,
		ConditionExpression:       optional(req.ConditionExpression),
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: req.ExpressionAttributeValues,
		ReturnValues:              types.ReturnValue(req.ReturnValues),
	})
	if err != nil {
		return nil, err
	}
	return attributesResponse{Attributes: out.Attributes}, nil
}

func (s *Server) deleteItem(ctx context.Context, body []byte) (any, error) {
	var req deleteItemRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(req.TableName),
		Key:                       req.Key,
		ConditionExpression:       optional(req.ConditionExpression),
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: req.ExpressionAttributeValues,
		ReturnValues:              types.ReturnValue(req.ReturnValues),
	})
	if err != nil {
		return nil, err
	}
	return attributesResponse{Attributes: out.Attributes}, nil
}

func (s *Server) updateItem(ctx context.Context, body []byte) (any, error) {
	var req updateItemRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(req.TableName),
		Key:                       req.Key,
		UpdateExpression:          req.UpdateExpression,
		ConditionExpression:       optional(req.ConditionExpression),
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: req.ExpressionAttributeValues,
		ReturnValues:              types.ReturnValue(req.ReturnValues),
	})
	if err != nil {
		return nil, err
	}
	return attributesResponse{Attributes: out.Attributes}, nil
}

func (s *Server) query(ctx context.Context, body []byte) (any, error) {
	var req queryRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(req.TableName),
		IndexName:                 optional(req.IndexName),
		KeyConditionExpression:    optional(req.KeyConditionExpression),
		FilterExpression:          optional(req.FilterExpression),
		ProjectionExpression:      optional(req.ProjectionExpression),
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: req.ExpressionAttributeValues,
		Limit:                     req.Limit,
		ExclusiveStartKey:         req.ExclusiveStartKey,
		ScanIndexForward:          req.ScanIndexForward,
		Select:                    types.Select(req.Select),
		ConsistentRead:            aws.Bool(req.ConsistentRead),
	})
	if err != nil {
		return nil, err
	}
	return pageOf(out.Items, out.Count, out.ScannedCount, out.LastEvaluatedKey, req.Select == string(types.SelectCount)), nil
}

func (s *Server) scan(ctx context.Context, body []byte) (any, error) {
	var req scanRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(req.TableName),
		IndexName:                 optional(req.IndexName),
		FilterExpression:          optional(req.FilterExpression),
		ProjectionExpression:      optional(req.ProjectionExpression),
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: req.ExpressionAttributeValues,
		Limit:                     req.Limit,
		ExclusiveStartKey:         req.ExclusiveStartKey,
		Select:                    types.Select(req.Select),
		Segment:                   req.Segment,
		TotalSegments:             req.TotalSegments,
		ConsistentRead:            aws.Bool(req.ConsistentRead),
	})
	if err != nil {
		return nil, err
	}
	return pageOf(out.Items, out.Count, out.ScannedCount, out.LastEvaluatedKey, req.Select == string(types.SelectCount)), nil
}

func (s *Server) batchGetItem(ctx context.Context, body []byte) (any, error) {
	var req batchGetItemRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: sdkKeysAndAttributes(req.RequestItems),
	})
	if err != nil {
		return nil, err
	}
	resp := batchGetItemResponse{
		Responses:       make(map[string][]attr.JSONItem, len(out.Responses)),
		UnprocessedKeys: wireKeysAndAttributes(out.UnprocessedKeys),
	}
	for table, items := range out.Responses {
		resp.Responses[table] = jsonItems(items)
	}
	return resp, nil
}

func (s *Server) batchWriteItem(ctx context.Context, body []byte) (any, error) {
	var req batchWriteItemRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: sdkWriteRequests(req.RequestItems),
	})
	if err != nil {
		return nil, err
	}
	return batchWriteItemResponse{UnprocessedItems: wireWriteRequests(out.UnprocessedItems)}, nil
}

func (s *Server) createTable(ctx context.Context, body []byte) (any, error) {
	var req createTableRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	in := &dynamodb.CreateTableInput{
		TableName: aws.String(req.TableName),
		KeySchema: sdkKeySchema(req.KeySchema),
	}
	for _, gsi := range req.GlobalSecondaryIndexes {
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(gsi.IndexName),
			KeySchema:  sdkKeySchema(gsi.KeySchema),
			Projection: sdkProjection(gsi.Projection),
		})
	}
	for _, lsi := range req.LocalSecondaryIndexes {
		in.LocalSecondaryIndexes = append(in.LocalSecondaryIndexes, types.LocalSecondaryIndex{
			IndexName:  aws.String(lsi.IndexName),
			KeySchema:  sdkKeySchema(lsi.KeySchema),
			Projection: sdkProjection(lsi.Projection),
		})
	}
	out, err := s.client.CreateTable(ctx, in)
	if err != nil {
		return nil, err
	}
	return createTableResponse{TableDescription: s.withStream(wireTable(out.TableDescription))}, nil
}

func (s *Server) describeTable(ctx context.Context, body []byte) (any, error) {
	var req tableRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(req.TableName)})
	if err != nil {
		return nil, err
	}
	return describeTableResponse{Table: s.withStream(wireTable(out.Table))}, nil
}

func (s *Server) listTables(ctx context.Context, body []byte) (any, error) {
	var req listTablesRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	out, err := s.client.ListTables(ctx, &dynamodb.ListTablesInput{
		ExclusiveStartTableName: optional(req.ExclusiveStartTableName),
		Limit:                   req.Limit,
	})
	if err != nil {
		return nil, err
	}
	resp := listTablesResponse{
		TableNames:             out.TableNames,
		LastEvaluatedTableName: aws.ToString(out.LastEvaluatedTableName),
	}
	if resp.TableNames == nil {
		resp.TableNames = []string{}
	}
	return resp, nil
}

// withStream fills the stream fields of desc when streams are served.
func (s *Server) withStream(desc tableDescription) tableDescription {
	if s.publisher != nil {
		desc.LatestStreamArn = s.publisher.StreamARN(desc.TableName)
		desc.LatestStreamLabel = s.publisher.Label()
	}
	return desc
}
