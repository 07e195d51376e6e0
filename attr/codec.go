// Package attr converts between Go values and DynamoDB attribute values.
//
// The wire representation is the AWS SDK union types.AttributeValue. Numbers
// follow the DynamoDB number type: 38 significant digits and an exponent in
// [-128, 126]. Anything that would need rounding is rejected, and so is every
// Go floating point value; use *apd.Decimal for non-integral numbers.
package attr

import (
	"bytes"
	"math/big"
	"reflect"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/apd/v3"
)

// Binary is a raw byte payload stored as a B value. It is never treated as
// text.
type Binary []byte

// StringSet is a DynamoDB SS value.
type StringSet []string

// NumberSet is a DynamoDB NS value.
type NumberSet []*apd.Decimal

// BinarySet is a DynamoDB BS value.
type BinarySet []Binary

// Encode converts a Go value to an attribute value.
func Encode(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case types.AttributeValue:
		return Normalize(x)
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}, nil
	case string:
		return &types.AttributeValueMemberS{Value: x}, nil
	case Binary:
		return &types.AttributeValueMemberB{Value: bytes.Clone([]byte(x))}, nil
	case []byte:
		return &types.AttributeValueMemberB{Value: bytes.Clone(x)}, nil
	case int:
		return numberMember(strconv.FormatInt(int64(x), 10))
	case int8:
		return numberMember(strconv.FormatInt(int64(x), 10))
	case int16:
		return numberMember(strconv.FormatInt(int64(x), 10))
	case int32:
		return numberMember(strconv.FormatInt(int64(x), 10))
	case int64:
		return numberMember(strconv.FormatInt(x, 10))
	case uint:
		return numberMember(strconv.FormatUint(uint64(x), 10))
	case uint8:
		return numberMember(strconv.FormatUint(uint64(x), 10))
	case uint16:
		return numberMember(strconv.FormatUint(uint64(x), 10))
	case uint32:
		return numberMember(strconv.FormatUint(uint64(x), 10))
	case uint64:
		return numberMember(strconv.FormatUint(x, 10))
	case *big.Int:
		if x == nil {
			return nil, typeErrorf("nil *big.Int")
		}
		s, err := decimalFromBig(x)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberN{Value: s}, nil
	case big.Int:
		return Encode(&x)
	case *apd.Decimal:
		if x == nil {
			return nil, typeErrorf("nil *apd.Decimal")
		}
		return numberMember(x.Text('G'))
	case apd.Decimal:
		return numberMember(x.Text('G'))
	case float32, float64:
		return nil, typeErrorf("float values are not supported, use *apd.Decimal (got %T)", v)
	case StringSet:
		return encodeStringSet(x)
	case NumberSet:
		return encodeNumberSet(x)
	case BinarySet:
		return encodeBinarySet(x)
	case []any:
		list := make([]types.AttributeValue, 0, len(x))
		for i, e := range x {
			av, err := Encode(e)
			if err != nil {
				return nil, typeErrorf("list element %d: %s", i, reason(err))
			}
			list = append(list, av)
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case map[string]any:
		m, err := EncodeItem(x)
		if err != nil {
			return nil, typeErrorf("map: %s", reason(err))
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return encodeReflect(reflect.ValueOf(v))
}

// encodeReflect handles slices and string-keyed maps of any element type.
func encodeReflect(rv reflect.Value) (types.AttributeValue, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		list := make([]types.AttributeValue, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			av, err := Encode(rv.Index(i).Interface())
			if err != nil {
				return nil, typeErrorf("list element %d: %s", i, reason(err))
			}
			list = append(list, av)
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, typeErrorf("map keys must be strings (got %s)", rv.Type())
		}
		m := make(map[string]types.AttributeValue, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			av, err := Encode(iter.Value().Interface())
			if err != nil {
				return nil, typeErrorf("map key %q: %s", k, reason(err))
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	if !rv.IsValid() {
		return &types.AttributeValueMemberNULL{Value: true}, nil
	}
	return nil, typeErrorf("cannot encode %s", rv.Type())
}

// EncodeItem encodes every attribute of a native item. A failure names the
// offending attribute.
func EncodeItem(item map[string]any) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(item))
	for _, name := range sortedKeys(item) {
		av, err := Encode(item[name])
		if err != nil {
			return nil, withAttribute(err, name)
		}
		out[name] = av
	}
	return out, nil
}

// Decode converts an attribute value to its Go form.
func Decode(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return ParseNumber(v.Value)
	case *types.AttributeValueMemberB:
		return Binary(bytes.Clone(v.Value)), nil
	case *types.AttributeValueMemberSS:
		return StringSet(append([]string(nil), v.Value...)), nil
	case *types.AttributeValueMemberNS:
		set := make(NumberSet, 0, len(v.Value))
		for _, s := range v.Value {
			d, err := ParseDecimal(s)
			if err != nil {
				return nil, err
			}
			set = append(set, d)
		}
		return set, nil
	case *types.AttributeValueMemberBS:
		set := make(BinarySet, 0, len(v.Value))
		for _, b := range v.Value {
			set = append(set, Binary(bytes.Clone(b)))
		}
		return set, nil
	case *types.AttributeValueMemberL:
		list := make([]any, 0, len(v.Value))
		for _, e := range v.Value {
			d, err := Decode(e)
			if err != nil {
				return nil, err
			}
			list = append(list, d)
		}
		return list, nil
	case *types.AttributeValueMemberM:
		return DecodeItem(v.Value)
	case nil:
		return nil, typeErrorf("attribute value has no type")
	default:
		return nil, typeErrorf("unknown attribute value member %T", av)
	}
}

// DecodeItem decodes every attribute of an item.
func DecodeItem(item map[string]types.AttributeValue) (map[string]any, error) {
	out := make(map[string]any, len(item))
	for name, av := range item {
		v, err := Decode(av)
		if err != nil {
			return nil, withAttribute(err, name)
		}
		out[name] = v
	}
	return out, nil
}

// Normalize validates an attribute value and returns a deep copy in
// canonical form: numbers reduced, sets sorted and de-duplicated.
func Normalize(av types.AttributeValue) (types.AttributeValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberNULL:
		if !v.Value {
			return nil, typeErrorf("NULL must be true")
		}
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}, nil
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}, nil
	case *types.AttributeValueMemberN:
		return numberMember(v.Value)
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: bytes.Clone(v.Value)}, nil
	case *types.AttributeValueMemberSS:
		return encodeStringSet(v.Value)
	case *types.AttributeValueMemberNS:
		set := make(NumberSet, 0, len(v.Value))
		for _, s := range v.Value {
			d, err := ParseDecimal(s)
			if err != nil {
				return nil, err
			}
			set = append(set, d)
		}
		return encodeNumberSet(set)
	case *types.AttributeValueMemberBS:
		set := make(BinarySet, 0, len(v.Value))
		for _, b := range v.Value {
			set = append(set, b)
		}
		return encodeBinarySet(set)
	case *types.AttributeValueMemberL:
		list := make([]types.AttributeValue, 0, len(v.Value))
		for i, e := range v.Value {
			n, err := Normalize(e)
			if err != nil {
				return nil, typeErrorf("list element %d: %s", i, reason(err))
			}
			list = append(list, n)
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case *types.AttributeValueMemberM:
		m, err := NormalizeItem(v.Value)
		if err != nil {
			return nil, typeErrorf("map: %s", reason(err))
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case nil:
		return nil, typeErrorf("attribute value has no type")
	default:
		return nil, typeErrorf("unknown attribute value member %T", av)
	}
}

// NormalizeItem applies Normalize to every attribute of an item.
func NormalizeItem(item map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(item))
	for _, name := range sortedKeys(item) {
		n, err := Normalize(item[name])
		if err != nil {
			return nil, withAttribute(err, name)
		}
		out[name] = n
	}
	return out, nil
}

func numberMember(s string) (types.AttributeValue, error) {
	c, err := CanonicalNumber(s)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberN{Value: c}, nil
}

func encodeStringSet(in []string) (types.AttributeValue, error) {
	if len(in) == 0 {
		return nil, typeErrorf("string set must not be empty")
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return &types.AttributeValueMemberSS{Value: dedupe(out, func(a, b string) bool { return a == b })}, nil
}

func encodeNumberSet(in NumberSet) (types.AttributeValue, error) {
	if len(in) == 0 {
		return nil, typeErrorf("number set must not be empty")
	}
	nums := make([]*apd.Decimal, 0, len(in))
	for _, d := range in {
		if d == nil {
			return nil, typeErrorf("nil number in set")
		}
		checked, err := ParseDecimal(d.Text('G'))
		if err != nil {
			return nil, err
		}
		nums = append(nums, checked)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i].Cmp(nums[j]) < 0 })
	nums = dedupe(nums, func(a, b *apd.Decimal) bool { return a.Cmp(b) == 0 })
	out := make([]string, 0, len(nums))
	for _, d := range nums {
		out = append(out, formatDecimal(d))
	}
	return &types.AttributeValueMemberNS{Value: out}, nil
}

func encodeBinarySet(in BinarySet) (types.AttributeValue, error) {
	if len(in) == 0 {
		return nil, typeErrorf("binary set must not be empty")
	}
	out := make([][]byte, 0, len(in))
	for _, b := range in {
		out = append(out, bytes.Clone([]byte(b)))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return &types.AttributeValueMemberBS{Value: dedupe(out, bytes.Equal)}, nil
}

func dedupe[T any](sorted []T, eq func(a, b T) bool) []T {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if !eq(out[len(out)-1], v) {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func reason(err error) string {
	if te, ok := err.(*TypeError); ok {
		if te.Attribute != "" {
			return te.Attribute + ": " + te.Reason
		}
		return te.Reason
	}
	return err.Error()
}
