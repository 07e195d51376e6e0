package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
	"github.com/jacentio/dynamock/expr"
	"github.com/jacentio/dynamock/internal/ckey"
)

// DefaultPageSize is the item limit of the paginated helpers.
const DefaultPageSize = 100

// plan is a parsed query or scan, ready to run against a locked table.
type plan struct {
	keyCond    *expr.Condition
	filter     *expr.Condition
	projection *expr.ProjectionExpr
	index      *IndexSpec
	limit      int32
	forward    bool
	startKey   Item
}

// Query returns the items matching a key condition, ordered by the table
// key. Limit caps the number of items evaluated; LastEvaluatedKey is set
// when more items remain.
func (s *Store) Query(ctx context.Context, in QueryInput) (*Page, error) {
	if in.KeyConditionExpression == "" {
		return nil, validationf("Either the KeyConditions or KeyConditionExpression parameter must be specified in the request.")
	}
	t, err := s.table(ctx, in.TableName)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	opts := s.exprOptions(t, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	p := &plan{limit: in.Limit, forward: true, startKey: in.ExclusiveStartKey}
	if in.ScanIndexForward != nil {
		p.forward = *in.ScanIndexForward
	}
	if p.keyCond, err = expr.Parse(expr.KeyCondition, in.KeyConditionExpression, opts); err != nil {
		return nil, asValidation(err)
	}
	if err := s.prepare(t, p, in.IndexName, in.FilterExpression, in.ProjectionExpression, opts); err != nil {
		return nil, err
	}
	return s.run(t, p)
}

// Scan returns every item passing the filter, ordered by the table key.
func (s *Store) Scan(ctx context.Context, in ScanInput) (*Page, error) {
	t, err := s.table(ctx, in.TableName)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	opts := s.exprOptions(t, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	p := &plan{limit: in.Limit, forward: true, startKey: in.ExclusiveStartKey}
	if err := s.prepare(t, p, in.IndexName, in.FilterExpression, in.ProjectionExpression, opts); err != nil {
		return nil, err
	}
	return s.run(t, p)
}

func (s *Store) prepare(t *table, p *plan, indexName, filter, projection string, opts expr.Options) error {
	var err error
	if p.limit < 0 {
		return validationf("Limit must be greater than or equal to 1")
	}
	if filter != "" {
		if p.filter, err = expr.Parse(expr.Filter, filter, opts); err != nil {
			return asValidation(err)
		}
	}
	if projection != "" {
		if p.projection, err = expr.ParseProjection(projection, opts); err != nil {
			return asValidation(err)
		}
	}
	if indexName != "" {
		if p.index, err = s.indexSpec(t, indexName); err != nil {
			return err
		}
	}
	return nil
}

// candidates picks the keys a plan has to look at: the index entries for
// an index query, the partition when the key condition pins the table
// hash key, every key otherwise.
func (s *Store) candidates(t *table, p *plan) []*record {
	if p.index != nil {
		hashKey := p.index.HashKey
		carries := func(k ckey.Key) bool {
			if r := t.items[k]; r != nil {
				if _, ok := r.item[hashKey]; ok {
					return true
				}
			}
			if st := t.stale[k]; st != nil && st.snapshot != nil {
				_, ok := st.snapshot.item[hashKey]
				return ok
			}
			return false
		}
		return t.keys(t.indexes.byName[p.index.Name].entries, carries)
	}
	if p.keyCond != nil {
		if v := equality(p.keyCond, t.schema.HashKey); v != nil {
			if hash, err := ckey.Component(v); err == nil {
				part := t.parts[hash]
				if part == nil {
					part = map[ckey.Key]struct{}{}
				}
				return t.keys(part, func(k ckey.Key) bool { return k.Hash == hash })
			}
		}
	}
	return t.keys(nil, nil)
}

// equality returns the value a condition compares name to with "=".
func equality(c *expr.Condition, name string) types.AttributeValue {
	for _, cl := range c.Clauses {
		cmp, ok := cl.(*expr.Compare)
		if !ok || cmp.Op != expr.OpEqual {
			continue
		}
		path, ok := cmp.Left.(*expr.Path)
		if !ok || path.Name != name {
			continue
		}
		if ph, ok := cmp.Right.(*expr.Placeholder); ok {
			return ph.Value
		}
	}
	return nil
}

func (s *Store) run(t *table, p *plan) (*Page, error) {
	recs := s.candidates(t, p)
	if !p.forward {
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
	}
	if p.startKey != nil {
		start, err := t.keyOf(p.startKey)
		if err != nil {
			return nil, validationf("The provided starting key is invalid: %v", err)
		}
		i := 0
		for i < len(recs) {
			c := compareRecords(recs[i], start)
			if (p.forward && c > 0) || (!p.forward && c < 0) {
				break
			}
			i++
		}
		recs = recs[i:]
	}

	now := s.now()
	relevant := func(item Item) bool {
		if IsExpired(item, s.config.TTLAttribute, now) {
			return false
		}
		return p.keyCond == nil || p.keyCond.Eval(item)
	}

	page := &Page{Items: []Item{}}
	var last *record
	for _, rec := range recs {
		if p.limit > 0 && page.ScannedCount == p.limit {
			page.LastEvaluatedKey = s.lastKey(t, p, last)
			break
		}
		found := t.observe(rec.key, relevant)
		if found == nil || !relevant(found.item) {
			continue
		}
		page.ScannedCount++
		last = found
		if p.filter != nil && !p.filter.Eval(found.item) {
			continue
		}
		item := found.item
		if p.index != nil {
			item = s.project(t, *p.index, item, t.schema.Names())
		}
		if p.projection != nil {
			item = p.projection.Apply(item)
		} else {
			item = attr.CloneItem(item)
		}
		page.Items = append(page.Items, item)
	}
	page.Count = int32(len(page.Items))
	return page, nil
}

// lastKey renders LastEvaluatedKey: the table key plus, for index reads,
// the index key attributes.
func (s *Store) lastKey(t *table, p *plan, rec *record) Item {
	key := t.keyItem(rec)
	if p.index != nil {
		for _, name := range []string{p.index.HashKey, p.index.SortKey} {
			if v, ok := rec.item[name]; ok && name != "" {
				key[name] = v
			}
		}
	}
	return attr.CloneItem(key)
}

// GetPaginatedItems pages through a query and returns up to in.Limit
// items in ascending key order.
func (s *Store) GetPaginatedItems(ctx context.Context, in PaginatedInput) ([]Item, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := QueryInput{
		TableName:                 in.TableName,
		IndexName:                 in.IndexName,
		KeyConditionExpression:    in.KeyConditionExpression,
		FilterExpression:          in.FilterExpression,
		ProjectionExpression:      in.ProjectionExpression,
		ExpressionAttributeNames:  in.ExpressionAttributeNames,
		ExpressionAttributeValues: in.ExpressionAttributeValues,
		Limit:                     int32(limit),
	}

	var items []Item
	for {
		page, err := s.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if len(items) >= limit || page.LastEvaluatedKey == nil {
			break
		}
		q.ExclusiveStartKey = page.LastEvaluatedKey
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// GetPaginatedItemsByPK returns the items of one partition.
func (s *Store) GetPaginatedItemsByPK(ctx context.Context, tableName string, pk types.AttributeValue, limit int, projection string) ([]Item, error) {
	schema, err := s.Schema(ctx, tableName)
	if err != nil {
		return nil, err
	}
	return s.GetPaginatedItems(ctx, PaginatedInput{
		TableName:                 tableName,
		KeyConditionExpression:    "#pk = :pk",
		ProjectionExpression:      projection,
		ExpressionAttributeNames:  map[string]string{"#pk": schema.HashKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": pk},
		Limit:                     limit,
	})
}

// GetPaginatedItemsBySK queries an index keyed by the table's range key.
func (s *Store) GetPaginatedItemsBySK(ctx context.Context, tableName, indexName string, sk types.AttributeValue, limit int) ([]Item, error) {
	schema, err := s.Schema(ctx, tableName)
	if err != nil {
		return nil, err
	}
	return s.GetPaginatedItems(ctx, PaginatedInput{
		TableName:                 tableName,
		IndexName:                 indexName,
		KeyConditionExpression:    "#sk = :sk",
		ExpressionAttributeNames:  map[string]string{"#sk": schema.RangeKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{":sk": sk},
		Limit:                     limit,
	})
}

// GetPaginatedItemsStartingAt returns the items of partition pk whose
// range key is at or after sk.
func (s *Store) GetPaginatedItemsStartingAt(ctx context.Context, tableName string, pk, sk types.AttributeValue, limit int) ([]Item, error) {
	schema, err := s.Schema(ctx, tableName)
	if err != nil {
		return nil, err
	}
	return s.GetPaginatedItems(ctx, PaginatedInput{
		TableName:                 tableName,
		KeyConditionExpression:    "#pk = :pk AND #sk >= :sk",
		ExpressionAttributeNames:  map[string]string{"#pk": schema.HashKey, "#sk": schema.RangeKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": pk, ":sk": sk},
		Limit:                     limit,
	})
}

// ScanForItemsByPKSK returns the items whose hash key contains pkContains
// and whose range key contains skContains. Empty arguments match anything.
func (s *Store) ScanForItemsByPKSK(ctx context.Context, tableName, pkContains, skContains string) ([]Item, error) {
	schema, err := s.Schema(ctx, tableName)
	if err != nil {
		return nil, err
	}
	in := ScanInput{
		TableName:                 tableName,
		ExpressionAttributeNames:  map[string]string{},
		ExpressionAttributeValues: map[string]types.AttributeValue{},
	}
	var clauses []string
	if pkContains != "" {
		clauses = append(clauses, "contains(#pk, :pk)")
		in.ExpressionAttributeNames["#pk"] = schema.HashKey
		in.ExpressionAttributeValues[":pk"] = &types.AttributeValueMemberS{Value: pkContains}
	}
	if skContains != "" && schema.RangeKey != "" {
		clauses = append(clauses, "contains(#sk, :sk)")
		in.ExpressionAttributeNames["#sk"] = schema.RangeKey
		in.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: skContains}
	}
	for i, c := range clauses {
		if i > 0 {
			in.FilterExpression += " and "
		}
		in.FilterExpression += c
	}

	var items []Item
	for {
		page, err := s.Scan(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.LastEvaluatedKey == nil {
			return items, nil
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// AllItems returns every stored item of a table in key order, bypassing
// the consistency simulator and TTL.
func (s *Store) AllItems(ctx context.Context, tableName string) ([]Item, error) {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	recs := make([]*record, 0, len(t.items))
	for _, rec := range t.items {
		recs = append(recs, rec)
	}
	sortRecords(recs)
	items := make([]Item, 0, len(recs))
	for _, rec := range recs {
		items = append(items, attr.CloneItem(rec.item))
	}
	return items, nil
}

// ProjectItem applies a projection expression to item, resolving names
// against the table's allow list.
func (s *Store) ProjectItem(ctx context.Context, tableName, projection string, names map[string]string, item Item) (Item, error) {
	if projection == "" || item == nil {
		return item, nil
	}
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	p, err := expr.ParseProjection(projection, s.exprOptions(t, names, nil))
	t.mu.Unlock()
	if err != nil {
		return nil, asValidation(err)
	}
	return p.Apply(item), nil
}
