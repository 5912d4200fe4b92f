package dynamodb

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sharedcode/ogm"
)

// toAttribute marshals one column value.
func toAttribute(v any) (types.AttributeValue, error) {
	return attributevalue.Marshal(v)
}

// keyAttributes builds the primary key of an item from key columns.
func keyAttributes(names []string, values []any) (map[string]types.AttributeValue, error) {
	key := make(map[string]types.AttributeValue, len(names))
	for i, c := range names {
		av, err := toAttribute(values[i])
		if err != nil {
			return nil, ogm.ContractError(values, "key column %q can not be marshaled: %v", c, err)
		}
		key[c] = av
	}
	return key, nil
}

// fromItem unmarshals an item into a column map. Numbers come back as int64 when integral,
// float64 otherwise, so values compare equal with what other dialects return.
func fromItem(item map[string]types.AttributeValue) (map[string]any, error) {
	var m map[string]any
	err := attributevalue.UnmarshalMapWithOptions(item, &m, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err != nil {
		return nil, err
	}
	for k, v := range m {
		m[k] = number(v)
	}
	return m, nil
}

func number(v any) any {
	switch x := v.(type) {
	case attributevalue.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = number(e)
		}
	case []any:
		for i, e := range x {
			x[i] = number(e)
		}
	}
	return v
}
