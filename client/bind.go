package qwebchannel

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
)

var (
	objectPtrType       = reflect.TypeOf((*Object)(nil))
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// ReadProperties copies the cached properties of the object into the
// exported fields of the struct pointed to by dst, as a typed view of the
// object.
//
// A field matches the property named by its `json` tag, or its own name with
// the first letter in lower case. Fields tagged `qwebchannel:"-"` and fields
// without a matching property are left alone, as are properties whose value
// is undefined. Values are converted to the field type when possible,
// including through encoding.TextUnmarshaler for strings. *Object fields
// receive the object itself, and other composite fields are decoded as JSON.
func (o *Object) ReadProperties(dst interface{}) error {
	if err := o.checkLive(); err != nil {
		return err
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errors.New("ReadProperties requires a pointer to a struct")
	}
	return o.readFields(v.Elem())
}

func (o *Object) readFields(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if bindShouldIgnoreField(field) {
			continue
		}

		// Embedded structs contribute their fields as if they were our own
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if err := o.readFields(v.Field(i)); err != nil {
				return err
			}
			continue
		}

		index, ok := o.properties[bindFieldName(field)]
		if !ok {
			continue
		}
		value := o.cache[index]
		if value == Undefined {
			continue
		}
		if err := assignValue(v.Field(i), value); err != nil {
			return fmt.Errorf("property %s of %s: %w", bindFieldName(field), o.id, err)
		}
	}
	return nil
}

func bindShouldIgnoreField(field reflect.StructField) bool {
	if field.PkgPath != "" || field.Tag.Get("qwebchannel") == "-" {
		// Unexported or ignored field
		return true
	} else if field.Tag.Get("json") == "-" {
		return true
	}
	return false
}

func bindFieldName(field reflect.StructField) string {
	name := field.Name
	if len(name) > 0 {
		name = strings.ToLower(string(name[0])) + name[1:]
	}
	if tag := field.Tag.Get("json"); len(tag) > 0 {
		tags := strings.Split(tag, ",")
		if len(tags) > 0 && len(tags[0]) > 0 {
			name = tags[0]
		}
	}
	return name
}

// assignValue stores a cached property value into a field, converting or
// unmarshaling as necessary.
func assignValue(field reflect.Value, value interface{}) error {
	fieldType := field.Type()
	inValue := reflect.ValueOf(value)

	// Zero value, property is null
	if !inValue.IsValid() {
		field.Set(reflect.Zero(fieldType))
		return nil
	}

	if obj, isObject := value.(*Object); isObject {
		if fieldType == objectPtrType {
			field.Set(inValue)
			return nil
		} else if fieldType.Kind() == reflect.Interface && inValue.Type().Implements(fieldType) {
			field.Set(inValue)
			return nil
		}
		return fmt.Errorf("cannot assign object %s to %s", obj.id, fieldType)
	}

	if inValue.Type() == fieldType {
		// Types match
		field.Set(inValue)
		return nil
	} else if fieldType.Kind() == reflect.Interface && inValue.Type().Implements(fieldType) {
		field.Set(inValue)
		return nil
	} else if inValue.Kind() == reflect.Float64 && isNumberKind(fieldType.Kind()) {
		if err := checkNumber(inValue.Float(), fieldType); err != nil {
			return err
		}
		field.Set(inValue.Convert(fieldType))
		return nil
	} else if inValue.Kind() == reflect.String {
		// Attempt to unmarshal via TextUnmarshaler, directly or by pointer
		if ptr := reflect.New(fieldType); ptr.Type().Implements(textUnmarshalerType) {
			if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(value.(string))); err != nil {
				return fmt.Errorf("unmarshal as %s failed: %s", fieldType, err)
			}
			field.Set(ptr.Elem())
			return nil
		} else if inValue.Type().ConvertibleTo(fieldType) && fieldType.Kind() == reflect.String {
			field.Set(inValue.Convert(fieldType))
			return nil
		}
	} else if inValue.Type().ConvertibleTo(fieldType) && fieldType.Kind() == inValue.Kind() {
		field.Set(inValue.Convert(fieldType))
		return nil
	}

	// Composite values take a trip through JSON. Nested objects become
	// references, which only *Object fields can hold.
	buf, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ptr := reflect.New(fieldType)
	if err := json.Unmarshal(buf, ptr.Interface()); err != nil {
		return fmt.Errorf("wrong type; expected %s, provided %T: %s", fieldType, value, err)
	}
	field.Set(ptr.Elem())
	return nil
}

// checkNumber refuses JSON numbers that would not survive conversion to t
func checkNumber(n float64, t reflect.Type) error {
	zero := reflect.Zero(t)
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n != math.Trunc(n) {
			return fmt.Errorf("%v is not an integer", n)
		} else if n < math.MinInt64 || n >= math.MaxInt64 || zero.OverflowInt(int64(n)) {
			return fmt.Errorf("%v overflows %s", n, t)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n != math.Trunc(n) {
			return fmt.Errorf("%v is not an integer", n)
		} else if n < 0 {
			return fmt.Errorf("negative value %v for %s", n, t)
		} else if n >= math.MaxUint64 || zero.OverflowUint(uint64(n)) {
			return fmt.Errorf("%v overflows %s", n, t)
		}
	case reflect.Float32:
		if zero.OverflowFloat(n) {
			return fmt.Errorf("%v overflows %s", n, t)
		}
	}
	return nil
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
