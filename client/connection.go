package qwebchannel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"

	"github.com/golang/glog"
	uuid "github.com/satori/go.uuid"
)

// MessageHandler is installed on a Transport to receive messages from the
// host. data is either JSON text (string or []byte) or an already decoded
// *Message.
type MessageHandler func(data interface{})

// Transport carries messages between a Channel and the host. How they travel
// is up to the implementation, but messages must arrive in the order they
// were sent.
type Transport interface {
	Send(payload string) error
	// SetMessageHandler is called once by NewChannel. The transport must
	// call the handler for each message, one at a time.
	SetMessageHandler(handler MessageHandler)
}

// CloseNotifier is implemented by transports that can end. The close handler
// must be called once, after the last call to the message handler and from
// the same goroutine.
type CloseNotifier interface {
	SetCloseHandler(handler func(err error))
}

// Channel is a client's connection to one host. It holds the proxy for every
// object the host has shared with it and matches responses to the calls that
// asked for them.
//
// A Channel is not safe for concurrent use; see Process and RunLockable.
type Channel struct {
	// OnWarning, if set, is called with each error that is reported and
	// recovered from: messages that are dropped, misuse of the object API
	// and similar. These are also logged.
	OnWarning func(err error)

	transport Transport
	tag       string
	objects   map[string]*Object
	pending   *pendingCalls
	onReady   func(*Channel)
	ready     bool
	err       error

	processSignal chan struct{}
	queue         chan interface{}
}

// NewChannel creates a channel over transport and starts the handshake with
// the host. onReady, if not nil, is called once all objects published by the
// host are available. The channel does nothing until Process or Run is
// called.
func NewChannel(transport Transport, onReady func(*Channel)) (*Channel, error) {
	if transport == nil {
		glog.Error(ErrNoTransport)
		return nil, ErrNoTransport
	} else if v := reflect.ValueOf(transport); v.Kind() == reflect.Ptr && v.IsNil() {
		glog.Error(ErrNoTransport)
		return nil, ErrNoTransport
	}

	u, _ := uuid.NewV4()
	c := &Channel{
		transport:     transport,
		tag:           u.String()[:8],
		objects:       make(map[string]*Object),
		pending:       newPendingCalls(),
		onReady:       onReady,
		processSignal: make(chan struct{}, 1),
		queue:         make(chan interface{}, 128),
	}

	if cn, ok := transport.(CloseNotifier); ok {
		cn.SetCloseHandler(c.transportClosed)
	}
	transport.SetMessageHandler(c.enqueue)

	if err := c.Exec(&Message{Type: TypeInit}, c.handleInit); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Channel) warn(err error) {
	glog.Warningf("qwebchannel[%s]: %s", c.tag, err)
	if c.OnWarning != nil {
		c.OnWarning(err)
	}
}

func (c *Channel) warnf(base error, fmsg string, p ...interface{}) error {
	err := fmt.Errorf("%w: "+fmsg, append([]interface{}{base}, p...)...)
	c.warn(err)
	return err
}

// enqueue runs on the transport's goroutine. Messages are only handled
// during Process.
func (c *Channel) enqueue(data interface{}) {
	c.queue <- data
	select {
	case c.processSignal <- struct{}{}:
	default:
	}
}

func (c *Channel) transportClosed(err error) {
	if err == nil {
		err = errors.New("transport closed")
	}
	c.err = err
	glog.Infof("qwebchannel[%s]: %s", c.tag, err)
	close(c.queue)
	close(c.processSignal)
}

// Close closes the transport, if it can be closed. Run returns once the
// transport reports that it has closed.
func (c *Channel) Close() error {
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Ready returns true once the handshake has completed and the onReady
// callback has been called.
func (c *Channel) Ready() bool {
	return c.ready
}

// Object returns a live object by its identifier, or nil. Objects published
// by the host are identified by their published name.
func (c *Channel) Object(id string) *Object {
	return c.objects[id]
}

// Objects returns the identifiers of all live objects, sorted.
func (c *Channel) Objects() []string {
	ids := make([]string, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Process handles any pending messages on the channel, but does not block to
// wait for new messages. ProcessSignal signals when there are messages to
// process.
//
// Objects, properties and signal handlers are only touched during Process
// and calls made by the application, so an application that controls when
// Process runs does not need any other synchronization.
//
// Process returns nil when no messages are pending. An error is returned only
// once the transport has closed.
func (c *Channel) Process() error {
	for {
		var data interface{}
		var open bool
		select {
		case data, open = <-c.queue:
			if !open {
				return c.err
			}
		default:
			return nil
		}

		c.handleMessage(data)
	}
}

// ProcessSignal returns a channel which will be signalled whenever the
// Channel has messages to process. The caller must call Process after
// reading from it. It is closed when the transport closes.
func (c *Channel) ProcessSignal() <-chan struct{} {
	return c.processSignal
}

// Run processes messages until the transport is closed. Objects may be
// changed by Run at any time; see RunLockable for a way to access them
// safely from other goroutines.
func (c *Channel) Run() error {
	for {
		if _, open := <-c.processSignal; !open {
			return c.Process()
		}
		if err := c.Process(); err != nil {
			return err
		}
	}
}

func (c *Channel) handleMessage(data interface{}) {
	msg, err := decodeMessage(data)
	if err != nil {
		c.warn(err)
		return
	}

	switch msg.Type {
	case TypeSignal:
		c.handleSignal(msg)
	case TypeResponse:
		c.handleResponse(msg)
	case TypePropertyUpdate:
		c.handlePropertyUpdate(msg)
	case TypeDebug:
		glog.V(2).Infof("qwebchannel[%s]: debug from host: %s", c.tag, msg.Data)
	default:
		c.warnf(ErrUnknownMessageType, "%s", msg.Type)
	}
}

func (c *Channel) handleInit(data json.RawMessage) {
	var objects map[string]interface{}
	if err := json.Unmarshal(data, &objects); err != nil {
		c.warnf(ErrInvalidMessage, "init response: %s", err)
		return
	}

	// Construct every object before unwrapping any properties, so that
	// published objects can reference each other.
	names := make([]string, 0, len(objects))
	for name := range objects {
		names = append(names, name)
	}
	sort.Strings(names)

	var created []*Object
	for _, name := range names {
		desc, err := parseDescriptor(objects[name])
		if err != nil {
			c.warnf(ErrInvalidMessage, "descriptor of %s: %s", name, err)
			continue
		}
		created = append(created, newObject(c, name, desc))
	}
	for _, obj := range created {
		obj.unwrapProperties()
	}

	c.ready = true
	glog.V(1).Infof("qwebchannel[%s]: initialized with %d objects", c.tag, len(created))
	if c.onReady != nil {
		c.onReady(c)
	}
	c.Exec(&Message{Type: TypeIdle}, nil)
}

func (c *Channel) handleSignal(msg *Message) {
	obj := c.objects[msg.Object]
	if obj == nil {
		c.warnf(ErrUnknownObject, "signal %s::%s", msg.Object, formatIndex(msg.Signal))
		return
	}
	if msg.Signal == nil {
		c.warnf(ErrInvalidMessage, "signal on %s without index", msg.Object)
		return
	}

	args, err := decodeValue(msg.Args)
	if err != nil {
		c.warnf(ErrInvalidMessage, "signal arguments: %s", err)
		return
	}
	obj.signalEmitted(*msg.Signal, argsList(c.unwrap(args)))
}

func (c *Channel) handleResponse(msg *Message) {
	if msg.ID == nil {
		c.warnf(ErrUnknownResponse, "response without id")
		return
	}
	handler, ok := c.pending.take(*msg.ID)
	if !ok {
		c.warnf(ErrUnknownResponse, "id %d", *msg.ID)
		return
	}
	handler(msg.Data)
}

func (c *Channel) handlePropertyUpdate(msg *Message) {
	var updates []propertyUpdate
	if err := json.Unmarshal(msg.Data, &updates); err != nil {
		// Still acknowledge, or the host never sends another batch
		c.warnf(ErrInvalidMessage, "property update: %s", err)
	}

	for _, update := range updates {
		obj := c.objects[update.Object]
		if obj == nil {
			c.warnf(ErrUnknownObject, "property update of %s", update.Object)
			continue
		}
		obj.propertyUpdate(update.Signals, update.Properties)
	}

	c.Exec(&Message{Type: TypeIdle}, nil)
}

// Exec sends a message to the host. If handler is nil, the message is sent
// and forgotten. Otherwise the message is assigned an id and handler is
// called with the data of the matching response. Messages passed with a
// handler must not already have an id.
func (c *Channel) Exec(msg *Message, handler ResponseHandler) error {
	if handler == nil {
		return c.send(msg)
	}

	if msg.ID != nil {
		return c.warnf(ErrReservedID, "%s message has id %d", msg.Type, *msg.ID)
	}

	id := c.pending.add(handler)
	msg.ID = &id
	if err := c.send(msg); err != nil {
		c.pending.take(id)
		return err
	}
	return nil
}

// Debug sends a debug message to the host, which typically prints it.
func (c *Channel) Debug(data interface{}) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.Exec(&Message{Type: TypeDebug, Data: buf}, nil)
}

func (c *Channel) send(msg interface{}) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		glog.Errorf("qwebchannel[%s]: message encoding failed: %s", c.tag, err)
		return err
	}
	glog.V(2).Infof("qwebchannel[%s]: -> %s", c.tag, payload)
	if err := c.transport.Send(payload); err != nil {
		glog.Errorf("qwebchannel[%s]: send failed: %s", c.tag, err)
		return err
	}
	return nil
}

// argsList turns decoded signal arguments into positional arguments
func argsList(v interface{}) []interface{} {
	switch a := v.(type) {
	case []interface{}:
		return a
	case UndefinedValue, nil:
		return nil
	default:
		return []interface{}{a}
	}
}

func formatIndex(i *int) string {
	if i == nil {
		return "?"
	}
	return strconv.Itoa(*i)
}
