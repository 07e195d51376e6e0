package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

// PutStruct marshals v with attributevalue struct tags and stores it.
func (db *DB) PutStruct(ctx context.Context, tableName string, v any) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	return db.PutItem(ctx, tableName, item)
}

// GetInto loads the item at (pk, sk) into out. It reports false, leaving
// out untouched, when there is no such item.
func (db *DB) GetInto(ctx context.Context, tableName, pk, sk string, out any) (bool, error) {
	item, err := db.getItem(ctx, tableName, db.key(pk, sk))
	if err != nil || item == nil {
		return false, err
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return false, fmt.Errorf("unmarshal item: %w", err)
	}
	return true, nil
}

// QueryInto runs q and unmarshals every item into out, a pointer to a slice.
func (db *DB) QueryInto(ctx context.Context, q QuerySpec, out any) error {
	items, err := db.GetPaginatedItems(ctx, q)
	if err != nil {
		return err
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("unmarshal items: %w", err)
	}
	return nil
}
