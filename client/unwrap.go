package qwebchannel

import (
	"reflect"
	"runtime"
)

// Key marking a JSON object as a reference to a host object
const objectMarker = "__QObject*__"

// unwrap converts a value decoded from the wire into its local form, with
// every object reference replaced by the *Object for that id. References to
// objects that are not yet known must carry the object's descriptor; the
// new object is registered before its own properties are unwrapped, so
// cyclic references resolve to the same instance.
//
// An unresolvable reference is reported and becomes nil.
func (c *Channel) unwrap(v interface{}) interface{} {
	switch value := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, e := range value {
			out[i] = c.unwrap(e)
		}
		return out

	case map[string]interface{}:
		id, isRef := objectReference(value)
		if !isRef {
			out := make(map[string]interface{}, len(value))
			for k, e := range value {
				out[k] = c.unwrap(e)
			}
			return out
		}

		if obj, exists := c.objects[id]; exists {
			return obj
		}

		data, hasData := value["data"]
		if !hasData || data == nil {
			c.warnf(ErrUnresolvableObject, "cannot unwrap unknown object %s", id)
			return nil
		}
		desc, err := parseDescriptor(data)
		if err != nil {
			c.warnf(ErrUnresolvableObject, "descriptor of %s: %s", id, err)
			return nil
		}

		obj := newObject(c, id, desc)
		if sig := obj.destroyedSignal(); sig != nil {
			sig.Connect(func(...interface{}) {
				if c.objects[id] == obj {
					delete(c.objects, id)
					obj.invalidate()
				}
			})
		}
		obj.unwrapProperties()
		return obj

	default:
		return v
	}
}

// objectReference reports whether m is an object reference, and its id.
// Maps with the marker but no id are plain data.
func objectReference(m map[string]interface{}) (string, bool) {
	marker, ok := m[objectMarker]
	if !ok || marker == nil || marker == false {
		return "", false
	}
	idValue, ok := m["id"]
	if !ok || idValue == nil {
		return "", false
	}
	if id, ok := idValue.(string); ok {
		return id, true
	}
	return "", false
}

// wrapOutbound prepares a method argument or property value to be sent.
// Objects are sent as a stub carrying only their id, and functions, which
// cannot be sent, are replaced by their name.
func wrapOutbound(v interface{}) interface{} {
	switch value := v.(type) {
	case *Object:
		if value == nil {
			return nil
		}
		return map[string]interface{}{"id": value.id}
	case nil:
		return nil
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func {
		if rv.IsNil() {
			return nil
		}
		if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
			return fn.Name()
		}
		return ""
	}
	return v
}
