// Package ckey builds composite primary keys for the in-memory tables.
package ckey

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
)

// Key identifies one physical item. Each half is a typed component string
// produced by Component; Range is empty for hash-only tables.
type Key struct {
	Hash  string
	Range string
}

// String renders the key for logs.
func (k Key) String() string {
	if k.Range == "" {
		return k.Hash
	}
	return k.Hash + "|" + k.Range
}

// Component encodes a key attribute as a comparable string. Only S, N and B
// values can be key attributes. Numbers are canonicalised so that 1 and 1.0
// address the same item.
func Component(av types.AttributeValue) (string, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value, nil
	case *types.AttributeValueMemberN:
		n, err := attr.CanonicalNumber(v.Value)
		if err != nil {
			return "", err
		}
		return "N:" + n, nil
	case *types.AttributeValueMemberB:
		return "B:" + base64.StdEncoding.EncodeToString(v.Value), nil
	case nil:
		return "", fmt.Errorf("key attribute is missing")
	}
	return "", fmt.Errorf("key attribute must be S, N or B, got %T", av)
}

// Make builds a Key from hash and optional range attribute values.
func Make(hash, rng types.AttributeValue) (Key, error) {
	h, err := Component(hash)
	if err != nil {
		return Key{}, fmt.Errorf("hash key: %w", err)
	}
	if rng == nil {
		return Key{Hash: h}, nil
	}
	r, err := Component(rng)
	if err != nil {
		return Key{}, fmt.Errorf("range key: %w", err)
	}
	return Key{Hash: h, Range: r}, nil
}

// Compare orders two key attribute values: numbers numerically, strings and
// binaries byte-wise. Nil sorts first. Values of different types order by type
// tag so that the ordering stays total.
func Compare(a, b types.AttributeValue) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := attr.Compare(a, b); ok {
		return c
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

// Pair is one name/value segment of a composed key.
type Pair struct {
	Name  string
	Value string
}

// Compose joins pairs as NAME#value#NAME#value.
func Compose(pairs ...Pair) string {
	parts := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		parts = append(parts, p.Name, p.Value)
	}
	return strings.Join(parts, "#")
}

// ComposePKSK builds both halves of a key from field pairs.
func ComposePKSK(pk, sk []Pair) (string, string) {
	return Compose(pk...), Compose(sk...)
}

// Fields splits composed pk and sk strings back into a field map. Field
// names are lower-cased; sk fields win on collision. A trailing name with no
// value is dropped.
func Fields(pk, sk string) map[string]string {
	out := make(map[string]string)
	for _, s := range []string{pk, sk} {
		parts := strings.Split(s, "#")
		for i := 0; i+1 < len(parts); i += 2 {
			out[strings.ToLower(parts[i])] = parts[i+1]
		}
	}
	return out
}
