package attr

import (
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ToEvent converts an SDK attribute value to the Lambda stream form.
func ToEvent(av types.AttributeValue) (events.DynamoDBAttributeValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return events.NewStringAttribute(v.Value), nil
	case *types.AttributeValueMemberN:
		return events.NewNumberAttribute(v.Value), nil
	case *types.AttributeValueMemberB:
		return events.NewBinaryAttribute(v.Value), nil
	case *types.AttributeValueMemberBOOL:
		return events.NewBooleanAttribute(v.Value), nil
	case *types.AttributeValueMemberNULL:
		return events.NewNullAttribute(), nil
	case *types.AttributeValueMemberSS:
		return events.NewStringSetAttribute(v.Value), nil
	case *types.AttributeValueMemberNS:
		return events.NewNumberSetAttribute(v.Value), nil
	case *types.AttributeValueMemberBS:
		return events.NewBinarySetAttribute(v.Value), nil
	case *types.AttributeValueMemberL:
		list := make([]events.DynamoDBAttributeValue, 0, len(v.Value))
		for _, e := range v.Value {
			ev, err := ToEvent(e)
			if err != nil {
				return events.DynamoDBAttributeValue{}, err
			}
			list = append(list, ev)
		}
		return events.NewListAttribute(list), nil
	case *types.AttributeValueMemberM:
		m, err := ItemToEvent(v.Value)
		if err != nil {
			return events.DynamoDBAttributeValue{}, err
		}
		return events.NewMapAttribute(m), nil
	}
	return events.DynamoDBAttributeValue{}, typeErrorf("unknown attribute value member %T", av)
}

// FromEvent converts a Lambda stream attribute value to the SDK form.
func FromEvent(ev events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch ev.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: ev.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: ev.Number()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: ev.Binary()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: ev.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: ev.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: ev.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: ev.BinarySet()}, nil
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(ev.List()))
		for _, e := range ev.List() {
			av, err := FromEvent(e)
			if err != nil {
				return nil, err
			}
			list = append(list, av)
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case events.DataTypeMap:
		m, err := ItemFromEvent(ev.Map())
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return nil, typeErrorf("unknown stream data type %v", ev.DataType())
}

// ItemToEvent converts an SDK item to a stream image.
func ItemToEvent(item map[string]types.AttributeValue) (map[string]events.DynamoDBAttributeValue, error) {
	if item == nil {
		return nil, nil
	}
	out := make(map[string]events.DynamoDBAttributeValue, len(item))
	for k, v := range item {
		ev, err := ToEvent(v)
		if err != nil {
			return nil, withAttribute(err, k)
		}
		out[k] = ev
	}
	return out, nil
}

// ItemFromEvent converts a stream image to an SDK item.
func ItemFromEvent(image map[string]events.DynamoDBAttributeValue) (map[string]types.AttributeValue, error) {
	if image == nil {
		return nil, nil
	}
	out := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		av, err := FromEvent(v)
		if err != nil {
			return nil, withAttribute(err, k)
		}
		out[k] = av
	}
	return out, nil
}

// MarshalJSON renders an attribute value in the {TYPE: value} wire form.
func MarshalJSON(av types.AttributeValue) ([]byte, error) {
	ev, err := ToEvent(av)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}

// UnmarshalJSON parses a {TYPE: value} object. Objects without exactly one
// type key are rejected.
func UnmarshalJSON(data []byte) (types.AttributeValue, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, typeErrorf("attribute value is not a JSON object: %v", err)
	}
	if len(probe) != 1 {
		return nil, typeErrorf("attribute value must have exactly one type key, got %d", len(probe))
	}
	var ev events.DynamoDBAttributeValue
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, typeErrorf("%v", err)
	}
	av, err := FromEvent(ev)
	if err != nil {
		return nil, err
	}
	return Normalize(av)
}

// JSONItem is an item that encodes to and decodes from the DynamoDB JSON
// wire form.
type JSONItem map[string]types.AttributeValue

// MarshalJSON implements json.Marshaler.
func (it JSONItem) MarshalJSON() ([]byte, error) {
	image, err := ItemToEvent(it)
	if err != nil {
		return nil, err
	}
	if image == nil {
		return []byte("null"), nil
	}
	return json.Marshal(image)
}

// UnmarshalJSON implements json.Unmarshaler.
func (it *JSONItem) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*it = nil
		return nil
	}
	out := make(JSONItem, len(raw))
	for name, value := range raw {
		av, err := UnmarshalJSON(value)
		if err != nil {
			return withAttribute(err, name)
		}
		out[name] = av
	}
	*it = out
	return nil
}
