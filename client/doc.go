// qwebchannel is a Go client for QWebChannel, the protocol Qt applications use to publish their QObjects to
// remote clients.
//
// A Qt application (the host) publishes a set of named objects. This package connects to the host over a
// Transport, and builds a local proxy Object for each remote object, mirroring its methods, properties and
// signals. Objects reached through properties, signal arguments and return values become proxies as well, so
// the application works with a connected graph of Objects and never with the wire format.
//
// Channel
//
// Channel owns the transport and all proxies. NewChannel starts the handshake immediately; the onReady
// callback runs once the published objects are available:
//
//  transport, err := wstransport.Dial(ctx, "ws://localhost:12345", nil)
//  c, err := qwebchannel.NewChannel(transport, func(c *qwebchannel.Channel) {
//      backend := c.Object("backend")
//      ...
//  })
//  c.Run()
//
// Messages from the host are queued as they arrive, and are only handled during calls to Process (or Run,
// which loops on ProcessSignal and Process). Objects are never touched at any other time, so an application
// can decide when the channel runs. RunLockable runs the channel in its own goroutine and provides a
// sync.Locker for exclusive access to the objects from elsewhere.
//
// Objects
//
// Object exposes its remote surface by name:
//
//  title, err := obj.Property("title")
//  err = obj.SetProperty("title", "New title")
//  f, err := obj.Call("addItem", "milk", 2)
//  result, err := f.Wait(ctx)
//  sub, err := obj.Connect("itemAdded", func(args ...interface{}) { ... })
//
// Properties are cached locally. Reads never go to the host; the cache is updated whenever the host reports
// a change. SetProperty updates the cache immediately and tells the host, but the host's next update is
// always the authoritative value.
//
// Method calls return a Future, which resolves when the host answers. The protocol doesn't distinguish a
// method without a return value from a failed call, and both resolve with ErrNoResult.
//
// The host only emits a signal to this client while at least one handler is connected to it, which Signal
// manages with a reference count. Notify signals of properties are always emitted along with the property
// update.
//
// ReadProperties copies properties into a struct, for a typed view of an object.
//
// Transports
//
// Transport is a small interface around sending and receiving JSON messages. StreamTransport implements it
// over any byte stream, and the wstransport package over WebSocket, which is how QWebChannel hosts
// usually publish objects.
//
// Errors
//
// Apart from a missing transport, nothing that goes wrong on the channel stops it. Malformed or unexpected
// messages and misuse of objects are logged with glog and passed to Channel.OnWarning; the message or call
// concerned is dropped.
package qwebchannel
