package qwebchannel

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Object is the local proxy of an object owned by the host. Its methods,
// properties and signals are those of the Descriptor it was created from,
// accessed by name through Call, Property, SetProperty and Signal.
//
// For a given Channel there is never more than one Object for the same
// identifier, so Objects can be compared with ==.
//
// When the host destroys the object, it is removed from the Channel and all
// accessors return ErrObjectDestroyed.
type Object struct {
	c  *Channel
	id string

	methods        map[string]int
	methodNames    []string
	properties     map[string]int
	propertyNames  []string
	signals        map[string]*Signal
	signalNames    []string
	enums          map[string]interface{}
	destroyed      bool
	nextSubscriber Subscription

	// property index -> last known value
	cache map[int]interface{}
	// signal index -> handlers in order of connection
	handlers map[int][]subscriber
}

// newObject builds the proxy for id and registers it with the channel
// before anything else happens; the caller unwraps its properties after.
func newObject(c *Channel, id string, desc *Descriptor) *Object {
	o := &Object{
		c:          c,
		id:         id,
		methods:    make(map[string]int),
		properties: make(map[string]int),
		signals:    make(map[string]*Signal),
		enums:      make(map[string]interface{}),
		cache:      make(map[int]interface{}),
		handlers:   make(map[int][]subscriber),
	}
	c.objects[id] = o

	for _, m := range desc.Methods {
		if _, exists := o.methods[m.Name]; !exists {
			o.methodNames = append(o.methodNames, m.Name)
		}
		o.methods[m.Name] = m.Index
	}

	for _, p := range desc.Properties {
		if _, exists := o.properties[p.Name]; !exists {
			o.propertyNames = append(o.propertyNames, p.Name)
		}
		o.properties[p.Name] = p.Index
		o.cache[p.Index] = p.Value
		if p.Notify != nil {
			o.addSignal(p.Notify.Name, p.Notify.Index, true)
		}
	}

	for _, s := range desc.Signals {
		o.addSignal(s.Name, s.Index, false)
	}

	for k, v := range desc.Enums {
		o.enums[k] = v
	}

	return o
}

func (o *Object) addSignal(name string, index int, notify bool) {
	if _, exists := o.signals[name]; !exists {
		o.signalNames = append(o.signalNames, name)
	}
	o.signals[name] = &Signal{obj: o, name: name, index: index, notify: notify}
}

func (o *Object) String() string {
	return "Object(" + o.id + ")"
}

// MarshalJSON encodes the object as a reference the host understands
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(wrapOutbound(o))
}

// ID returns the host-assigned identifier of the object
func (o *Object) ID() string {
	return o.id
}

// Channel returns the channel the object belongs to.
func (o *Object) Channel() *Channel {
	return o.c
}

// Destroyed returns true once the host has destroyed the object.
func (o *Object) Destroyed() bool {
	return o.destroyed
}

// Methods returns the method names in the order the host declared them.
func (o *Object) Methods() []string {
	return append([]string(nil), o.methodNames...)
}

// Properties returns the property names in the order the host declared them.
func (o *Object) Properties() []string {
	return append([]string(nil), o.propertyNames...)
}

// SignalNames returns the names of all signals, including property notify
// signals.
func (o *Object) SignalNames() []string {
	return append([]string(nil), o.signalNames...)
}

// Enum returns the value of a named enum constant of the object's type.
func (o *Object) Enum(name string) (interface{}, bool) {
	v, ok := o.enums[name]
	return v, ok
}

func (o *Object) checkLive() error {
	if o.destroyed {
		return fmt.Errorf("%w: %s", ErrObjectDestroyed, o.id)
	}
	return nil
}

// Call invokes the named method on the host object. Object arguments are
// passed by reference; function arguments cannot be sent and are replaced
// by their name.
//
// The returned Future resolves with the unwrapped return value, or with
// ErrNoResult if the host answered without data. That is also the answer to
// methods that return nothing.
func (o *Object) Call(method string, args ...interface{}) (*Future, error) {
	if err := o.checkLive(); err != nil {
		return nil, err
	}
	index, ok := o.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, o.id, method)
	}

	wrapped := make([]interface{}, len(args))
	for i, arg := range args {
		wrapped[i] = wrapOutbound(arg)
	}
	buf, err := json.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("arguments to %s.%s: %w", o.id, method, err)
	}

	c := o.c
	f := newFuture()
	msg := &Message{
		Type:   TypeInvokeMethod,
		Object: o.id,
		Method: intPtr(index),
		Args:   buf,
	}
	err = c.Exec(msg, func(data json.RawMessage) {
		if len(data) == 0 {
			f.resolve(nil, ErrNoResult)
			return
		}
		v, err := decodeValue(data)
		if err != nil {
			f.resolve(nil, fmt.Errorf("%w: response to %s.%s: %s", ErrInvalidMessage, o.id, method, err))
			return
		}
		f.resolve(c.unwrap(v), nil)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Property returns the last known value of the named property. The value
// is what the host most recently sent, or what was most recently set
// locally, whichever came last.
func (o *Object) Property(name string) (interface{}, error) {
	if err := o.checkLive(); err != nil {
		return nil, err
	}
	index, ok := o.properties[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, o.id, name)
	}
	value := o.cache[index]
	if value == Undefined {
		o.c.warnf(ErrUndefinedValue, "undefined value in property cache for %s.%s", o.id, name)
	}
	return value, nil
}

// SetProperty changes the value of a property. The local value changes
// immediately and the change is sent to the host without waiting for an
// answer; the host's value replaces it when the host next updates the
// property.
func (o *Object) SetProperty(name string, value interface{}) error {
	if err := o.checkLive(); err != nil {
		return err
	}
	index, ok := o.properties[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, o.id, name)
	}
	if value == Undefined {
		return o.c.warnf(ErrUndefinedValue, "%s.%s", o.id, name)
	}

	buf, err := json.Marshal(wrapOutbound(value))
	if err != nil {
		return fmt.Errorf("value of %s.%s: %w", o.id, name, err)
	}

	o.cache[index] = value
	return o.c.Exec(&Message{
		Type:     TypeSetProperty,
		Object:   o.id,
		Property: intPtr(index),
		Value:    buf,
	}, nil)
}

// Signal returns the named signal of the object.
func (o *Object) Signal(name string) (*Signal, error) {
	if err := o.checkLive(); err != nil {
		return nil, err
	}
	s, ok := o.signals[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownSignal, o.id, name)
	}
	return s, nil
}

// Connect is a shortcut for Signal(signal) followed by Connect(handler).
func (o *Object) Connect(signal string, handler SignalHandler) (Subscription, error) {
	s, err := o.Signal(signal)
	if err != nil {
		return 0, err
	}
	return s.Connect(handler)
}

// Disconnect is a shortcut for Signal(signal) followed by Disconnect(sub).
func (o *Object) Disconnect(signal string, sub Subscription) error {
	s, err := o.Signal(signal)
	if err != nil {
		return err
	}
	return s.Disconnect(sub)
}

func (o *Object) destroyedSignal() *Signal {
	for _, name := range []string{"destroyed", "destroyed()", "destroyed(QObject*)"} {
		if s, ok := o.signals[name]; ok {
			return s
		}
	}
	return nil
}

func (o *Object) unwrapProperties() {
	for index, value := range o.cache {
		o.cache[index] = o.c.unwrap(value)
	}
}

func (o *Object) signalEmitted(index int, args []interface{}) {
	o.invokeHandlers(index, args)
}

func (o *Object) propertyUpdate(signals, properties map[string]json.RawMessage) {
	for _, key := range sortedKeys(properties) {
		index, err := strconv.Atoi(key)
		if err != nil {
			o.c.warnf(ErrInvalidMessage, "property index %q of %s", key, o.id)
			continue
		}
		if _, declared := o.cache[index]; !declared {
			o.c.warnf(ErrUnknownProperty, "update of property %d of %s", index, o.id)
			continue
		}
		value, err := decodeValue(properties[key])
		if err != nil {
			o.c.warnf(ErrInvalidMessage, "property %d of %s: %s", index, o.id, err)
			continue
		}
		o.cache[index] = o.c.unwrap(value)
	}

	for _, key := range sortedKeys(signals) {
		index, err := strconv.Atoi(key)
		if err != nil {
			o.c.warnf(ErrInvalidMessage, "signal index %q of %s", key, o.id)
			continue
		}
		args, err := decodeValue(signals[key])
		if err != nil {
			o.c.warnf(ErrInvalidMessage, "signal %d of %s: %s", index, o.id, err)
			continue
		}
		o.invokeHandlers(index, argsList(args))
	}
}

func (o *Object) invokeHandlers(index int, args []interface{}) {
	// Handlers may connect or disconnect while being called
	subs := append([]subscriber(nil), o.handlers[index]...)
	for _, s := range subs {
		s.handler(args...)
	}
}

// invalidate makes the object unusable after the host destroyed it
func (o *Object) invalidate() {
	o.destroyed = true
	o.methods = map[string]int{}
	o.properties = map[string]int{}
	o.signals = map[string]*Signal{}
	o.cache = map[int]interface{}{}
	o.handlers = map[int][]subscriber{}
	o.enums = map[string]interface{}{}
	o.methodNames, o.propertyNames, o.signalNames = nil, nil, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
