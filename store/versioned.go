package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
	"github.com/jacentio/dynamock/expr"
)

// MaxExpressionSize is the largest rendered update the service accepts.
const MaxExpressionSize = 4096

// VersionedUpdate is the rendered form of an optimistic-lock update.
type VersionedUpdate struct {
	UpdateExpression          string
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue

	// Size is the byte size the service charges against MaxExpressionSize.
	Size int
}

// RenderVersionedUpdate builds the SET expression that writes updates and
// bumps versionAttr from expected to expected+1, conditioned on the stored
// version still being expected. Attributes are aliased #attr0, #attr1, ...
// in name order. It fails with a ValidationError when the rendered size
// exceeds MaxExpressionSize.
func RenderVersionedUpdate(updates Item, expected int64, versionAttr string) (*VersionedUpdate, error) {
	if versionAttr == "" {
		versionAttr = "version"
	}
	u := &VersionedUpdate{
		ConditionExpression: "#version = :expectedVersion",
		ExpressionAttributeNames: map[string]string{
			"#version": versionAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expectedVersion": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
			":newVersion":      &types.AttributeValueMemberN{Value: strconv.FormatInt(expected+1, 10)},
		},
	}

	var setClauses []string
	for i, name := range slices.Sorted(maps.Keys(updates)) {
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		u.ExpressionAttributeNames[nameKey] = name
		u.ExpressionAttributeValues[valueKey] = updates[name]
		setClauses = append(setClauses, nameKey+" = "+valueKey)
	}
	setClauses = append(setClauses, "#version = :newVersion")
	u.UpdateExpression = "SET " + strings.Join(setClauses, ", ")

	size, err := u.size()
	if err != nil {
		return nil, err
	}
	u.Size = size
	if size > MaxExpressionSize {
		return nil, validationf("Invalid UpdateExpression: Expression size has exceeded the maximum allowed size; max size: %d bytes", MaxExpressionSize)
	}
	return u, nil
}

func (u *VersionedUpdate) size() (int, error) {
	n := len(u.UpdateExpression) + len(u.ConditionExpression)
	for k, v := range u.ExpressionAttributeNames {
		n += len(k) + len(v)
	}
	for k, v := range u.ExpressionAttributeValues {
		b, err := attr.MarshalJSON(v)
		if err != nil {
			return 0, &ValidationError{Message: fmt.Sprintf("attribute value %s: %v", k, err), Err: err}
		}
		n += len(k) + len(b)
	}
	return n, nil
}

// CurrentVersion reads the version attribute of item. A missing attribute
// is version 0.
func CurrentVersion(item Item, versionAttr string) (int64, error) {
	av, ok := item[versionAttr]
	if !ok {
		return 0, nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, validationf("version attribute %s must be a number", versionAttr)
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, validationf("version attribute %s must be an integer: %s", versionAttr, n.Value)
	}
	return v, nil
}

// UpdateVersioned applies updates to the item at (hash, rng) when its
// version equals expected, and sets the version to expected+1. It returns
// the updated item. An empty versionAttr uses Config.VersionAttribute.
func (s *Store) UpdateVersioned(ctx context.Context, tableName string, hash, rng types.AttributeValue, updates Item, expected int64, versionAttr string) (Item, error) {
	if versionAttr == "" {
		versionAttr = s.config.VersionAttribute
	}
	t, err := s.table(ctx, tableName)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	change, err := s.updateVersioned(ctx, t, hash, rng, updates, expected, versionAttr)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.notify(ctx, change)
	return attr.CloneItem(change.New), nil
}

// updateVersioned runs every check before touching state. Callers hold t.mu.
func (s *Store) updateVersioned(ctx context.Context, t *table, hash, rng types.AttributeValue, updates Item, expected int64, versionAttr string) (Change, error) {
	rec, err := t.lookup(hash, rng)
	if err != nil {
		return Change{}, err
	}
	cur, ok := t.items[rec.key]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s %s", ErrNotFound, t.name, rec.key)
	}

	version, err := CurrentVersion(cur.item, versionAttr)
	if err != nil {
		return Change{}, err
	}
	if version != expected {
		return Change{}, &ConflictError{
			Message: fmt.Sprintf("The conditional request failed: expected version %d, found %d", expected, version),
			Err:     ErrVersionConflict,
		}
	}

	if err := s.checkReserved(t, slices.Sorted(maps.Keys(updates))); err != nil {
		return Change{}, err
	}

	rendered, err := RenderVersionedUpdate(updates, expected, versionAttr)
	if err != nil {
		return Change{}, err
	}
	upd, err := expr.ParseUpdate(rendered.UpdateExpression, expr.Options{
		Names:  rendered.ExpressionAttributeNames,
		Values: rendered.ExpressionAttributeValues,
	})
	if err != nil {
		return Change{}, asValidation(err)
	}
	return s.applyUpdate(ctx, t, t.keyItem(rec), upd, nil)
}
