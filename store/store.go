package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
	"github.com/jacentio/dynamock/expr"
	"github.com/jacentio/dynamock/internal/keyword"
	"github.com/jacentio/dynamock/internal/persist"
)

// Store is an in-process DynamoDB emulator.
type Store struct {
	config  Config
	logger  *slog.Logger
	sim     *simulator
	allowed keyword.Set
	db      *persist.DB
	now     func() time.Time

	mu     sync.Mutex
	tables map[string]*table
	order  []string

	lmu       sync.RWMutex
	listeners []Listener
}

// New creates a Store. With a Path configured the SQLite file is opened
// and its tables, indexes and items are loaded.
func New(config Config) (*Store, error) {
	config.validate()
	sim, err := newSimulator(config.Consistency)
	if err != nil {
		return nil, err
	}
	s := &Store{
		config:  config,
		logger:  config.Logger,
		sim:     sim,
		allowed: keyword.NewSet(config.AllowedReservedKeywords...),
		now:     time.Now,
		tables:  make(map[string]*table),
	}
	if config.Path == "" {
		return s, nil
	}

	db, err := persist.Open(config.Path)
	if err != nil {
		return nil, err
	}
	s.db = db
	if err := s.load(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("load %s: %w", config.Path, err)
	}
	s.logger.Info("store opened", "path", config.Path, "tables", len(s.order))
	return s, nil
}

// Close releases the SQLite file, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) load(ctx context.Context) error {
	recs, err := s.db.LoadTables(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		t := newTable(rec.Name, KeySchema{HashKey: rec.HashKey, RangeKey: rec.RangeKey})
		t.allowed.Add(rec.Allowed...)

		indexes, err := s.db.LoadIndexes(ctx, rec.Name)
		if err != nil {
			return err
		}
		for _, ix := range indexes {
			err := t.indexes.Register(IndexSpec{
				Name:             ix.Name,
				ProjectionType:   ProjectionType(ix.ProjectionType),
				HashKey:          ix.HashKey,
				SortKey:          ix.SortKey,
				NonKeyAttributes: ix.NonKeyAttributes,
			})
			if err != nil {
				return fmt.Errorf("table %s: %w", rec.Name, err)
			}
		}

		items, err := s.db.LoadItems(ctx, rec.Name)
		if err != nil {
			return err
		}
		for _, item := range items {
			r, err := t.keyOf(item)
			if err != nil {
				return fmt.Errorf("table %s: %w", rec.Name, err)
			}
			r.item = item
			t.put(r)
		}
		s.tables[rec.Name] = t
		s.order = append(s.order, rec.Name)
	}
	return nil
}

// table returns the named table, creating it with the default key schema
// unless Config.RequireTables is set.
func (s *Store) table(ctx context.Context, name string) (*table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, validationf("TableName must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t, nil
	}
	if s.config.RequireTables {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return s.createLocked(ctx, name, KeySchema{HashKey: s.config.HashKey, RangeKey: s.config.RangeKey})
}

func (s *Store) createLocked(ctx context.Context, name string, schema KeySchema) (*table, error) {
	t := newTable(name, schema)
	if s.db != nil {
		if err := s.db.SaveTable(ctx, s.tableRecord(t)); err != nil {
			return nil, err
		}
	}
	s.tables[name] = t
	s.order = append(s.order, name)
	s.logger.Debug("table created", "table", name, "hash_key", schema.HashKey, "range_key", schema.RangeKey)
	return t, nil
}

func (s *Store) tableRecord(t *table) persist.TableRecord {
	allowed := slices.Sorted(maps.Keys(t.allowed))
	return persist.TableRecord{
		Name:     t.name,
		HashKey:  t.schema.HashKey,
		RangeKey: t.schema.RangeKey,
		Allowed:  allowed,
	}
}

// CreateTable creates a table with an explicit key schema. Creating an
// existing table with the same schema is a no-op.
func (s *Store) CreateTable(ctx context.Context, name string, schema KeySchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || schema.HashKey == "" {
		return validationf("TableName and hash key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		if t.schema != schema {
			return validationf("Table already exists with a different key schema: %s", name)
		}
		return nil
	}
	_, err := s.createLocked(ctx, name, schema)
	return err
}

// Tables returns the table names in creation order.
func (s *Store) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// HasTable reports whether a table exists, without creating it.
func (s *Store) HasTable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[name]
	return ok
}

// Schema returns the key schema of a table.
func (s *Store) Schema(ctx context.Context, name string) (KeySchema, error) {
	t, err := s.table(ctx, name)
	if err != nil {
		return KeySchema{}, err
	}
	return t.schema, nil
}

// AllowReservedKeywords exempts attribute names from the reserved word
// check for one table.
func (s *Store) AllowReservedKeywords(ctx context.Context, tableName string, names ...string) error {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowed.Add(names...)
	if s.db != nil {
		return s.db.SaveTable(ctx, s.tableRecord(t))
	}
	return nil
}

// AddListener registers l for every committed write.
func (s *Store) AddListener(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(ctx context.Context, changes ...Change) {
	s.lmu.RLock()
	listeners := s.listeners
	s.lmu.RUnlock()
	for _, c := range changes {
		for _, l := range listeners {
			if err := l.OnChange(ctx, c); err != nil {
				s.logger.Warn("change listener failed", "table", c.Table, "error", err)
			}
		}
	}
}

// checkReserved rejects attribute names that are reserved words and not
// allow-listed.
func (s *Store) checkReserved(t *table, names []string) error {
	bad := keyword.Filter(names, t.allows(s.allowed))
	if len(bad) == 0 {
		return nil
	}
	return validationf("Attribute name is a reserved keyword; reserved keyword: %s. "+
		"Use an expression attribute name (#alias) or allow-list the name for table %s",
		strings.Join(bad, ", "), t.name)
}

// exprOptions builds parser options bound to the table's allow list.
func (s *Store) exprOptions(t *table, names map[string]string, values map[string]types.AttributeValue) expr.Options {
	return expr.Options{
		Names:        names,
		Values:       values,
		AllowKeyword: t.allows(s.allowed),
	}
}

// normalize validates the codec shape of an item and returns a canonical copy.
func normalize(item Item) (Item, error) {
	out, err := attr.NormalizeItem(item)
	if err != nil {
		return nil, &ValidationError{Message: err.Error(), Err: err}
	}
	return out, nil
}

// commit writes rec (or removes key when rec.item is nil) and opens a
// consistency window when a rule matches. Callers hold t.mu.
func (s *Store) commit(ctx context.Context, t *table, rec *record) (*record, error) {
	if s.db != nil {
		var err error
		if rec.item == nil {
			err = s.db.DeleteItem(ctx, t.name, rec.key.Hash, rec.key.Range)
		} else {
			err = s.db.SaveItem(ctx, t.name, rec.key.Hash, rec.key.Range, rec.item)
		}
		if err != nil {
			return nil, err
		}
	}

	var old *record
	if rec.item == nil {
		old = t.remove(rec.key)
	} else {
		old = t.put(rec)
	}
	if notFound, delay, ok := s.sim.window(t.name, rec.hash, rec.rng); ok && (old != nil || rec.item != nil) {
		t.markStale(rec, old, notFound, delay)
		s.logger.Debug("consistency window opened", "table", t.name, "key", rec.key.String(),
			"not_found_reads", notFound, "delay_reads", delay)
	}
	return old, nil
}

func (s *Store) change(t *table, rec, old *record) Change {
	c := Change{Table: t.name, HashKey: t.schema.HashKey, Keys: t.keyItem(rec)}
	if old != nil {
		c.Old = attr.CloneItem(old.item)
	}
	if rec.item != nil {
		c.New = attr.CloneItem(rec.item)
	}
	return c
}

// Put validates item and stores it, replacing any item with the same key.
func (s *Store) Put(ctx context.Context, tableName string, item Item) error {
	_, err := s.put(ctx, tableName, item, nil)
	return err
}

// PutNative encodes a native item through the attr codec and stores it.
func (s *Store) PutNative(ctx context.Context, tableName string, item map[string]any) error {
	encoded, err := attr.EncodeItem(item)
	if err != nil {
		return err
	}
	return s.Put(ctx, tableName, encoded)
}

// PutNew stores item only when no item with the same key exists.
func (s *Store) PutNew(ctx context.Context, tableName string, item Item) error {
	_, err := s.put(ctx, tableName, item, func(old Item) error {
		if old != nil {
			return &ConflictError{Message: "The conditional request failed: item already exists", Err: ErrAlreadyExists}
		}
		return nil
	})
	return err
}

// PutItem stores item, evaluating an optional condition expression
// against the current item first. It returns the replaced item.
func (s *Store) PutItem(ctx context.Context, tableName string, item Item, cond string, names map[string]string, values map[string]types.AttributeValue) (Item, error) {
	var check func(Item) error
	if cond != "" {
		t, err := s.table(ctx, tableName)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		c, err := expr.Parse(expr.ConditionExpr, cond, s.exprOptions(t, names, values))
		t.mu.Unlock()
		if err != nil {
			return nil, asValidation(err)
		}
		check = conditionCheck(c)
	}
	return s.put(ctx, tableName, item, check)
}

func conditionCheck(c *expr.Condition) func(Item) error {
	return func(old Item) error {
		if old == nil {
			old = Item{}
		}
		if !c.Eval(old) {
			return &ConflictError{Message: "The conditional request failed", Err: ErrConditionFailed}
		}
		return nil
	}
}

func (s *Store) put(ctx context.Context, tableName string, item Item, check func(old Item) error) (Item, error) {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}
	norm, err := normalize(item)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	rec, err := t.keyOf(norm)
	if err == nil {
		err = s.checkReserved(t, slices.Sorted(maps.Keys(norm)))
	}
	if err == nil && check != nil {
		var cur Item
		if r := t.items[rec.key]; r != nil {
			cur = r.item
		}
		err = check(cur)
	}
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	rec.item = norm
	old, err := s.commit(ctx, t, rec)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	change := s.change(t, rec, old)
	t.mu.Unlock()

	s.logger.Debug("item stored", "table", t.name, "key", rec.key.String())
	s.notify(ctx, change)
	return change.Old, nil
}

// Get returns a copy of the item at (hash, rng), or nil when the item is
// absent, expired or hidden by the consistency simulator.
func (s *Store) Get(ctx context.Context, tableName string, hash, rng types.AttributeValue) (Item, error) {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.lookup(hash, rng)
	if err != nil {
		return nil, err
	}
	found := t.read(rec.key)
	if found == nil || IsExpired(found.item, s.config.TTLAttribute, s.now()) {
		return nil, nil
	}
	return attr.CloneItem(found.item), nil
}

// GetItem is Get with the key given as an item.
func (s *Store) GetItem(ctx context.Context, tableName string, key Item) (Item, error) {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tableName, key[t.schema.HashKey], key[t.schema.RangeKey])
}

// Exists reports whether an unexpired item is stored at (hash, rng). It
// bypasses the consistency simulator and consumes no simulated reads.
func (s *Store) Exists(ctx context.Context, tableName string, hash, rng types.AttributeValue) (bool, error) {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.lookup(hash, rng)
	if err != nil {
		return false, err
	}
	cur, ok := t.items[rec.key]
	return ok && !IsExpired(cur.item, s.config.TTLAttribute, s.now()), nil
}

// Delete removes the item at (hash, rng). Deleting an absent item is a no-op.
func (s *Store) Delete(ctx context.Context, tableName string, hash, rng types.AttributeValue) error {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return err
	}
	rec, err := t.lookup(hash, rng)
	if err != nil {
		return err
	}
	_, err = s.DeleteItem(ctx, tableName, t.keyItem(rec), "", nil, nil)
	return err
}

// DeleteItem removes the item at key after checking an optional condition
// expression. It returns the removed item, nil when there was none.
func (s *Store) DeleteItem(ctx context.Context, tableName string, key Item, cond string, names map[string]string, values map[string]types.AttributeValue) (Item, error) {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	rec, err := t.keyOf(key)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if cond != "" {
		c, err := expr.Parse(expr.ConditionExpr, cond, s.exprOptions(t, names, values))
		if err != nil {
			t.mu.Unlock()
			return nil, asValidation(err)
		}
		var cur Item
		if r := t.items[rec.key]; r != nil {
			cur = r.item
		}
		if err := conditionCheck(c)(cur); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	if _, ok := t.items[rec.key]; !ok {
		t.mu.Unlock()
		return nil, nil
	}
	old, err := s.commit(ctx, t, rec)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	change := s.change(t, rec, old)
	t.mu.Unlock()

	s.logger.Debug("item deleted", "table", t.name, "key", rec.key.String())
	s.notify(ctx, change)
	return change.Old, nil
}

// UpdateItem applies a SET/REMOVE update expression to the item at
// in.Key, creating it when absent. It returns the items before and after.
func (s *Store) UpdateItem(ctx context.Context, in UpdateInput) (old, updated Item, err error) {
	t, err := s.table(ctx, in.TableName)
	if err != nil {
		return nil, nil, err
	}

	t.mu.Lock()
	opts := s.exprOptions(t, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	var check func(Item) error
	if in.ConditionExpression != "" {
		c, err := expr.Parse(expr.ConditionExpr, in.ConditionExpression, opts)
		if err != nil {
			t.mu.Unlock()
			return nil, nil, asValidation(err)
		}
		check = conditionCheck(c)
	}
	upd, err := expr.ParseUpdate(in.UpdateExpression, opts)
	if err != nil {
		t.mu.Unlock()
		return nil, nil, asValidation(err)
	}
	change, err := s.applyUpdate(ctx, t, in.Key, upd, check)
	t.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	s.notify(ctx, change)
	return change.Old, attr.CloneItem(change.New), nil
}

// applyUpdate runs a parsed update against the item at key. Callers hold t.mu.
func (s *Store) applyUpdate(ctx context.Context, t *table, key Item, upd *expr.UpdateExpr, check func(Item) error) (Change, error) {
	rec, err := t.keyOf(key)
	if err != nil {
		return Change{}, err
	}
	for _, name := range upd.Targets() {
		if name == t.schema.HashKey || name == t.schema.RangeKey {
			return Change{}, validationf("One or more parameter values were invalid: Cannot update attribute %s. This attribute is part of the key", name)
		}
	}

	var cur Item
	if r := t.items[rec.key]; r != nil {
		cur = r.item
	}
	if check != nil {
		if err := check(cur); err != nil {
			return Change{}, err
		}
	}
	base := cur
	if base == nil {
		base = t.keyItem(rec)
	}
	next, err := upd.Apply(base)
	if err != nil {
		return Change{}, asValidation(err)
	}
	if rec.item, err = normalize(next); err != nil {
		return Change{}, err
	}

	old, err := s.commit(ctx, t, rec)
	if err != nil {
		return Change{}, err
	}
	s.logger.Debug("item updated", "table", t.name, "key", rec.key.String())
	return s.change(t, rec, old), nil
}

// AddIndex registers a secondary index on a table. Re-adding a name
// replaces its definition.
func (s *Store) AddIndex(ctx context.Context, tableName string, spec IndexSpec) error {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.indexes.Register(spec); err != nil {
		return err
	}
	for _, rec := range t.items {
		t.indexes.Track(rec.key, rec.item)
	}
	if s.db != nil {
		err := s.db.SaveIndex(ctx, tableName, persist.IndexRecord{
			Name:             spec.Name,
			ProjectionType:   string(spec.ProjectionType),
			HashKey:          spec.HashKey,
			SortKey:          spec.SortKey,
			NonKeyAttributes: spec.NonKeyAttributes,
		})
		if err != nil {
			return err
		}
	}
	s.logger.Info("index added", "table", tableName, "index", spec.Name, "projection", string(spec.ProjectionType))
	return nil
}

// Indexes lists a table's index definitions in registration order.
func (s *Store) Indexes(ctx context.Context, tableName string) ([]IndexSpec, error) {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.indexes.Specs(), nil
}

// ApplyProjection filters item through the named index's projection.
// baseKeys are the table key attributes; nil means the table schema.
func (s *Store) ApplyProjection(ctx context.Context, tableName, indexName string, item Item, baseKeys []string) (Item, error) {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if baseKeys == nil {
		baseKeys = t.schema.Names()
	}
	spec, err := s.indexSpec(t, indexName)
	if err != nil || spec == nil {
		return item, err
	}
	return s.project(t, *spec, item, baseKeys), nil
}

// indexSpec resolves an index name. It returns nil without error when the
// index is unknown and enforcement is off.
func (s *Store) indexSpec(t *table, name string) (*IndexSpec, error) {
	spec, ok := t.indexes.Lookup(name)
	if ok {
		return &spec, nil
	}
	if s.config.EnforceIndexes {
		return nil, validationf("Index %s not found", name)
	}
	return nil, nil
}

// project applies an index projection, returning the item unfiltered when
// it holds values the codec rejects.
func (s *Store) project(t *table, spec IndexSpec, item Item, baseKeys []string) Item {
	if spec.ProjectionType == ProjectionAll {
		return item
	}
	if _, err := attr.NormalizeItem(item); err != nil {
		s.logger.Warn("index projection skipped", "table", t.name, "index", spec.Name, "error", err)
		return item
	}
	return spec.Project(item, baseKeys)
}

// StaleReadCount returns how many stale or not-found answers the
// consistency simulator has served for a key.
func (s *Store) StaleReadCount(ctx context.Context, tableName string, hash, rng types.AttributeValue) (int, error) {
	t, err := s.table(ctx, tableName)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.lookup(hash, rng)
	if err != nil {
		return 0, err
	}
	return t.reads[rec.key], nil
}

// IsNotFound reports whether err means a missing item or table.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTableNotFound)
}
