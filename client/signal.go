package qwebchannel

import (
	"fmt"
)

// SignalHandler is called with the arguments of each emission of a signal.
type SignalHandler func(args ...interface{})

// Subscription identifies one connected SignalHandler. The zero value is
// never a valid subscription.
type Subscription uint64

type subscriber struct {
	id      Subscription
	handler SignalHandler
}

// Signal is one signal of an Object.
//
// The host only sends a signal while at least one handler is connected:
// connecting the first handler subscribes to the signal and disconnecting
// the last one unsubscribes. Property notify signals and the destroyed
// signal are always sent by the host and are never subscribed explicitly.
type Signal struct {
	obj    *Object
	name   string
	index  int
	notify bool
}

// Name returns the signal name as declared by the host.
func (s *Signal) Name() string {
	return s.name
}

// Index returns the index the host uses for the signal on the wire.
func (s *Signal) Index() int {
	return s.index
}

// IsNotify returns true if this is the notify signal of a property
func (s *Signal) IsNotify() bool {
	return s.notify
}

func (s *Signal) implicit() bool {
	return s.notify || isDestroyedSignal(s.name)
}

// Connect adds handler to the signal. Handlers are called in the order they
// were connected.
func (s *Signal) Connect(handler SignalHandler) (Subscription, error) {
	o := s.obj
	if err := o.checkLive(); err != nil {
		return 0, err
	}
	if handler == nil {
		return 0, o.c.warnf(ErrInvalidHandler, "connect to signal %s of %s", s.name, o.id)
	}

	o.nextSubscriber++
	sub := o.nextSubscriber
	o.handlers[s.index] = append(o.handlers[s.index], subscriber{sub, handler})

	if !s.implicit() && len(o.handlers[s.index]) == 1 {
		if err := o.c.Exec(&Message{
			Type:   TypeConnectToSignal,
			Object: o.id,
			Signal: intPtr(s.index),
		}, nil); err != nil {
			// Unsubscribed on the wire, so the next Connect must try again
			delete(o.handlers, s.index)
			return 0, err
		}
	}
	return sub, nil
}

// Disconnect removes a handler added by Connect.
func (s *Signal) Disconnect(sub Subscription) error {
	o := s.obj
	if err := o.checkLive(); err != nil {
		return err
	}

	subs := o.handlers[s.index]
	pos := -1
	for i, existing := range subs {
		if existing.id == sub {
			pos = i
			break
		}
	}
	if pos < 0 {
		return o.c.warnf(ErrNotConnected, "subscription %d to signal %s of %s", sub, s.name, o.id)
	}

	subs = append(subs[:pos:pos], subs[pos+1:]...)
	if len(subs) == 0 {
		delete(o.handlers, s.index)
	} else {
		o.handlers[s.index] = subs
	}

	if !s.implicit() && len(subs) == 0 {
		return o.c.Exec(&Message{
			Type:   TypeDisconnectFromSignal,
			Object: o.id,
			Signal: intPtr(s.index),
		}, nil)
	}
	return nil
}

func (s *Signal) String() string {
	return fmt.Sprintf("%s::%s", s.obj.id, s.name)
}
