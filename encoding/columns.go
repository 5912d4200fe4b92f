package encoding

// EncodeKey encodes ordered key values; equal keys encode to equal bytes,
// which makes the result usable as a bucket or hash key.
func EncodeKey(values []any) ([]byte, error) {
	return DefaultMarshaler.Marshal(normalize(values))
}

// normalize widens integers so that a key built by a caller and the same key decoded
// from storage encode to the same bytes.
func normalize(values []any) []any {
	r := make([]any, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case int:
			r[i] = int64(x)
		case int8:
			r[i] = int64(x)
		case int16:
			r[i] = int64(x)
		case int32:
			r[i] = int64(x)
		case uint:
			r[i] = uint64(x)
		case uint8:
			r[i] = uint64(x)
		case uint16:
			r[i] = uint64(x)
		case uint32:
			r[i] = uint64(x)
		default:
			r[i] = v
		}
	}
	return r
}

// DecodeKey is the reverse of EncodeKey.
func DecodeKey(data []byte) ([]any, error) {
	var values []any
	if err := DefaultMarshaler.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// EncodeColumns encodes a column map.
func EncodeColumns(columns map[string]any) ([]byte, error) {
	return DefaultMarshaler.Marshal(columns)
}

// DecodeColumns decodes a column map written by EncodeColumns.
func DecodeColumns(data []byte) (map[string]any, error) {
	columns := make(map[string]any)
	if err := DefaultMarshaler.Unmarshal(data, &columns); err != nil {
		return nil, err
	}
	return columns, nil
}

// EncodeValue encodes a single column value.
func EncodeValue(v any) ([]byte, error) {
	return DefaultMarshaler.Marshal(v)
}

// DecodeValue decodes a single column value.
func DecodeValue(data []byte) (any, error) {
	var v any
	if err := DefaultMarshaler.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
