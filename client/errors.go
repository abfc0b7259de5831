package qwebchannel

import "errors"

var (
	// ErrNoTransport is returned by NewChannel when there is no transport to
	// send messages with. It is the only error that prevents a channel from
	// existing at all.
	ErrNoTransport = errors.New("qwebchannel: channel requires a transport with a Send method")

	ErrInvalidMessage     = errors.New("invalid message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrUnknownResponse    = errors.New("response for unknown call")
	ErrUnknownObject      = errors.New("unknown object")
	ErrReservedID         = errors.New("message id is reserved for call correlation")
	ErrUnresolvableObject = errors.New("object reference has no descriptor")

	ErrInvalidHandler  = errors.New("invalid signal handler")
	ErrUndefinedValue  = errors.New("property set to undefined value")
	ErrNotConnected    = errors.New("handler is not connected")
	ErrUnknownMethod   = errors.New("method does not exist")
	ErrUnknownProperty = errors.New("property does not exist")
	ErrUnknownSignal   = errors.New("signal does not exist")
	ErrObjectDestroyed = errors.New("object has been destroyed")

	// ErrNoResult rejects a method call whose response carried no data. The
	// host sends the same response for a failed call and for a method that
	// returns nothing, so the two cannot be told apart.
	ErrNoResult = errors.New("method call returned no result")
)
