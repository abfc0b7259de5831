package qwebchannel

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/golang/glog"
)

// Descriptor is the host's description of an object type, sent along with
// the first reference to each object. It shapes the surface of the Object
// built from it and isn't used afterwards.
type Descriptor struct {
	Methods    []MethodInfo
	Properties []PropertyInfo
	Signals    []SignalInfo
	Enums      map[string]interface{}
}

// MethodInfo names a method and the index used to invoke it.
type MethodInfo struct {
	Name  string
	Index int
}

// SignalInfo names a signal and the index it is emitted with.
type SignalInfo struct {
	Name  string
	Index int
}

type PropertyInfo struct {
	Index int
	Name  string
	// Notify is the signal emitted by the host when the property changes,
	// if there is one.
	Notify *SignalInfo
	// Value is the initial value, still in wire form. Undefined if the host
	// did not send one.
	Value interface{}
}

// UnmarshalJSON parses the host's array-based descriptor format.
func (d *Descriptor) UnmarshalJSON(buf []byte) error {
	var v interface{}
	if err := json.Unmarshal(buf, &v); err != nil {
		return err
	}
	pd, err := parseDescriptor(v)
	if err != nil {
		return err
	}
	*d = *pd
	return nil
}

// parseDescriptor reads a descriptor out of a generic JSON value tree, as
// embedded in an Init response or an object reference.
func parseDescriptor(v interface{}) (*Descriptor, error) {
	data, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("descriptor is %T, not an object", v)
	}

	d := &Descriptor{Enums: make(map[string]interface{})}

	methods, _ := data["methods"].([]interface{})
	for i, m := range methods {
		name, index, err := parseNameIndex(m)
		if err != nil {
			return nil, fmt.Errorf("method %d: %s", i, err)
		}
		d.Methods = append(d.Methods, MethodInfo{Name: name, Index: index})
	}

	signals, _ := data["signals"].([]interface{})
	for i, s := range signals {
		name, index, err := parseNameIndex(s)
		if err != nil {
			return nil, fmt.Errorf("signal %d: %s", i, err)
		}
		d.Signals = append(d.Signals, SignalInfo{Name: name, Index: index})
	}

	properties, _ := data["properties"].([]interface{})
	for i, p := range properties {
		fields, ok := p.([]interface{})
		if !ok || len(fields) < 2 {
			return nil, fmt.Errorf("property %d: malformed entry %v", i, p)
		}
		index, ok := toIndex(fields[0])
		if !ok {
			return nil, fmt.Errorf("property %d: invalid index %v", i, fields[0])
		}
		name, ok := fields[1].(string)
		if !ok {
			return nil, fmt.Errorf("property %d: invalid name %v", i, fields[1])
		}

		info := PropertyInfo{Index: index, Name: name, Value: Undefined}
		if len(fields) > 2 {
			// An empty or null notify entry means the property is constant
			if notify, ok := fields[2].([]interface{}); ok && len(notify) > 0 {
				info.Notify = parseNotify(name, notify)
			}
		}
		if len(fields) > 3 {
			info.Value = fields[3]
		}
		d.Properties = append(d.Properties, info)
	}

	if enums, ok := data["enums"].(map[string]interface{}); ok {
		for k, v := range enums {
			d.Enums[k] = v
		}
	}

	return d, nil
}

// parseNotify reads the notify signal of property name. Hosts abbreviate
// "<name>Changed" to the number 1. A notify entry that still can't be read
// leaves the property without a notify signal rather than failing the
// descriptor.
func parseNotify(name string, notify []interface{}) *SignalInfo {
	if len(notify) >= 2 {
		if short, ok := toIndex(notify[0]); ok && short == 1 {
			notify = []interface{}{name + "Changed", notify[1]}
		}
	}
	nname, nindex, err := parseNameIndex(notify)
	if err != nil {
		glog.Warningf("qwebchannel: ignoring notify signal of property %s: %s", name, err)
		return nil
	}
	return &SignalInfo{Name: nname, Index: nindex}
}

func parseNameIndex(v interface{}) (string, int, error) {
	fields, ok := v.([]interface{})
	if !ok || len(fields) < 2 {
		return "", 0, fmt.Errorf("malformed entry %v", v)
	}
	name, ok := fields[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("invalid name %v", fields[0])
	}
	index, ok := toIndex(fields[1])
	if !ok {
		return "", 0, fmt.Errorf("invalid index %v for %s", fields[1], name)
	}
	return name, index, nil
}

// toIndex accepts the numeric forms a decoded index may take
func toIndex(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < 0 {
			return 0, false
		}
		return int(n), true
	case int:
		return n, n >= 0
	case int64:
		return int(n), n >= 0
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil && i >= 0
	default:
		return 0, false
	}
}

// Signal names that are handled locally and never subscribed on the wire
func isDestroyedSignal(name string) bool {
	switch name {
	case "destroyed", "destroyed()", "destroyed(QObject*)":
		return true
	}
	return false
}
