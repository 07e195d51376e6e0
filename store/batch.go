package store

import (
	"context"
	"fmt"
)

// MaxBatchGet is the number of keys a single BatchGetItem call accepts.
const MaxBatchGet = 100

// MaxBatchWrite is the number of requests a single BatchWriteItem call accepts.
const MaxBatchWrite = 25

// Chunk splits items into consecutive groups of at most size.
func Chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

// BatchGet looks up keys in groups of MaxBatchGet and returns the items
// found, in request order. Missing items are skipped.
func (s *Store) BatchGet(ctx context.Context, tableName string, keys []Item) ([]Item, error) {
	var items []Item
	for _, chunk := range Chunk(keys, MaxBatchGet) {
		found, err := s.batchGet(ctx, tableName, chunk)
		if err != nil {
			return nil, err
		}
		items = append(items, found...)
	}
	return items, nil
}

func (s *Store) batchGet(ctx context.Context, tableName string, keys []Item) ([]Item, error) {
	var items []Item
	for _, key := range keys {
		item, err := s.GetItem(ctx, tableName, key)
		if err != nil {
			return nil, err
		}
		if item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

// WriteRequest is one put or delete of a batch write. Exactly one of Put
// and DeleteKey is set.
type WriteRequest struct {
	Put       Item
	DeleteKey Item
}

// BatchWrite applies puts and deletes in request order.
func (s *Store) BatchWrite(ctx context.Context, tableName string, requests []WriteRequest) error {
	for i, req := range requests {
		var err error
		switch {
		case req.Put != nil && req.DeleteKey == nil:
			err = s.Put(ctx, tableName, req.Put)
		case req.DeleteKey != nil && req.Put == nil:
			_, err = s.DeleteItem(ctx, tableName, req.DeleteKey, "", nil, nil)
		default:
			err = validationf("write request %d must set exactly one of Put and DeleteKey", i)
		}
		if err != nil {
			return fmt.Errorf("write request %d: %w", i, err)
		}
	}
	return nil
}
