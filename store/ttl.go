package store

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
)

// IsExpired checks if item has a TTL attribute at or before now.
// Items without the attribute, or with a non-numeric value, never expire.
func IsExpired(item Item, ttlAttr string, now time.Time) bool {
	if ttlAttr == "" {
		return false
	}
	ttlNum, ok := item[ttlAttr].(*types.AttributeValueMemberN)
	if !ok {
		return false // No TTL = active
	}
	c, err := attr.CompareNumbers(ttlNum.Value, strconv.FormatInt(now.Unix(), 10))
	if err != nil {
		return false
	}
	return c <= 0
}

// PurgeExpired deletes every expired item of tableName, notifying listeners
// with Change.Expired set, and returns how many items were removed. It is a
// no-op when no TTL attribute is configured.
func (s *Store) PurgeExpired(ctx context.Context, tableName string) (int, error) {
	if s.config.TTLAttribute == "" {
		return 0, nil
	}
	t, err := s.table(ctx, tableName)
	if err != nil {
		return 0, err
	}

	now := s.now()
	t.mu.Lock()
	recs := make([]*record, 0, len(t.items))
	for _, rec := range t.items {
		recs = append(recs, rec)
	}
	sortRecords(recs)
	var changes []Change
	for _, rec := range recs {
		if !IsExpired(rec.item, s.config.TTLAttribute, now) {
			continue
		}
		gone := &record{key: rec.key, hash: rec.hash, rng: rec.rng}
		old, err := s.commit(ctx, t, gone)
		if err != nil {
			t.mu.Unlock()
			s.notify(ctx, changes...)
			return len(changes), err
		}
		c := s.change(t, gone, old)
		c.Expired = true
		changes = append(changes, c)
	}
	t.mu.Unlock()

	if len(changes) > 0 {
		s.logger.Info("expired items purged", "table", tableName, "count", len(changes))
	}
	s.notify(ctx, changes...)
	return len(changes), nil
}

// PurgeAllExpired runs PurgeExpired over every table.
func (s *Store) PurgeAllExpired(ctx context.Context) (int, error) {
	total := 0
	for _, name := range s.Tables() {
		n, err := s.PurgeExpired(ctx, name)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
