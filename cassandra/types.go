package cassandra

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/sharedcode/ogm"
)

var durationType = reflect.TypeOf(time.Duration(0))

// OverrideType stores unsigned integers and durations as bigint, CQL having no unsigned types.
func (d *Dialect) OverrideType(t reflect.Type) ogm.TypeConverter {
	if t == durationType {
		return durationConverter{}
	}
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return unsignedConverter{t: t}
	}
	return nil
}

type unsignedConverter struct {
	t reflect.Type
}

func (c unsignedConverter) ToBackend(value any) (any, error) {
	u := reflect.ValueOf(value).Uint()
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("%d overflows bigint", u)
	}
	return int64(u), nil
}

func (c unsignedConverter) FromBackend(value any) (any, error) {
	i, ok := value.(int64)
	if !ok {
		return nil, fmt.Errorf("expected bigint, got %T", value)
	}
	if i < 0 {
		return nil, fmt.Errorf("%d can not be stored in %v", i, c.t)
	}
	v := reflect.New(c.t).Elem()
	if v.OverflowUint(uint64(i)) {
		return nil, fmt.Errorf("%d overflows %v", i, c.t)
	}
	v.SetUint(uint64(i))
	return v.Interface(), nil
}

type durationConverter struct{}

func (durationConverter) ToBackend(value any) (any, error) {
	return int64(value.(time.Duration)), nil
}

func (durationConverter) FromBackend(value any) (any, error) {
	i, ok := value.(int64)
	if !ok {
		return nil, fmt.Errorf("expected bigint, got %T", value)
	}
	return time.Duration(i), nil
}
