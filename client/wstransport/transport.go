// wstransport connects a qwebchannel.Channel to a host over WebSocket.
//
// QWebChannel hosts usually publish their objects through a QWebSocketServer, with one JSON message per text
// frame. Dial connects to such a server:
//
//  transport, err := wstransport.Dial(ctx, "ws://localhost:12345", nil)
//  if err != nil {
//      ...
//  }
//  c, err := qwebchannel.NewChannel(transport, onReady)
//  c.Run()
package wstransport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	qwebchannel "github.com/CrimsonAS/qwebchannel/client"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send once the transport has closed.
var ErrClosed = errors.New("wstransport: transport is closed")

// Settings controls connection timeouts and buffering.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval is how often a ping is sent while the connection is idle.
	// Zero disables pings.
	PingInterval time.Duration
	// ReadTimeout closes the connection when nothing, including a pong, has
	// been received for this long. Zero disables the timeout.
	ReadTimeout    time.Duration
	SendBufferSize int
}

func DefaultSettings() *Settings {
	pingInterval := 15 * time.Second
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     pingInterval,
		ReadTimeout:      4 * pingInterval,
		SendBufferSize:   32,
	}
}

// Transport implements qwebchannel.Transport and qwebchannel.CloseNotifier
// over a WebSocket connection. It is safe for concurrent use.
type Transport struct {
	conn     *websocket.Conn
	settings *Settings

	ctx        context.Context
	cancel     context.CancelFunc
	send       chan []byte
	writerDone chan struct{}

	// sendMu orders Send against Close, so that nothing is queued after
	// the writer has stopped
	sendMu sync.Mutex
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
	onMessage qwebchannel.MessageHandler
	onClose   func(error)
}

// Dial connects to a QWebChannel host at url with the default settings.
func Dial(ctx context.Context, url string, header http.Header) (*Transport, error) {
	return DialWithSettings(ctx, url, header, DefaultSettings())
}

// DialWithSettings is Dial with custom settings. nil settings are the
// defaults.
func DialWithSettings(ctx context.Context, url string, header http.Header, settings *Settings) (*Transport, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: settings.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[ws]connected %s", url)
	return New(conn, settings), nil
}

// New creates a transport on an established connection, such as one
// accepted by a websocket.Upgrader. The transport owns conn from now on.
func New(conn *websocket.Conn, settings *Settings) *Transport {
	if settings == nil {
		settings = DefaultSettings()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:       conn,
		settings:   settings,
		ctx:        ctx,
		cancel:     cancel,
		send:       make(chan []byte, settings.SendBufferSize),
		writerDone: make(chan struct{}),
	}
	go t.writeLoop()
	return t
}

// Send queues payload to be written as a text frame. Messages are written in
// the order they were sent.
func (t *Transport) Send(payload string) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.closed || t.ctx.Err() != nil {
		return ErrClosed
	}

	select {
	case t.send <- []byte(payload):
		// Close cannot cancel while sendMu is held, so this is a failed
		// connection and the writer is gone.
		if t.ctx.Err() != nil {
			return ErrClosed
		}
		return nil
	case <-t.ctx.Done():
		return ErrClosed
	}
}

// SetMessageHandler starts reading from the connection.
func (t *Transport) SetMessageHandler(handler qwebchannel.MessageHandler) {
	t.onMessage = handler
	t.startOnce.Do(func() {
		go t.readLoop()
	})
}

// SetCloseHandler must be called before SetMessageHandler.
func (t *Transport) SetCloseHandler(handler func(err error)) {
	t.onClose = handler
}

// Close ends the connection after writing any messages already queued by
// Send. The close handler is called once reading stops.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.sendMu.Lock()
		t.closed = true
		t.sendMu.Unlock()

		t.cancel()
		<-t.writerDone
		deadline := time.Now().Add(t.settings.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) writeLoop() {
	defer close(t.writerDone)

	var ping <-chan time.Time
	if t.settings.PingInterval > 0 {
		ticker := time.NewTicker(t.settings.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-t.ctx.Done():
			t.flush()
			return
		case message := <-t.send:
			if err := t.write(message); err != nil {
				t.abort()
				return
			}
		case <-ping:
			deadline := time.Now().Add(t.settings.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				glog.Infof("[ws]ping error = %s", err)
				t.abort()
				return
			}
		}
	}
}

func (t *Transport) write(message []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.settings.WriteTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		// a deadline timeout cannot be recovered
		glog.Infof("[ws]-> error = %s", err)
		return err
	}
	glog.V(2).Infof("[ws]-> %d bytes", len(message))
	return nil
}

func (t *Transport) flush() {
	for {
		select {
		case message := <-t.send:
			if err := t.write(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// abort drops the connection after a write failure. The read loop then
// fails and reports the close.
func (t *Transport) abort() {
	t.cancel()
	t.conn.Close()
}

func (t *Transport) readLoop() {
	err := t.readMessages()
	t.Close()
	if t.onClose != nil {
		t.onClose(err)
	}
}

func (t *Transport) readMessages() error {
	extendDeadline := func() {
		if t.settings.ReadTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.settings.ReadTimeout))
		}
	}
	extendDeadline()
	t.conn.SetPongHandler(func(string) error {
		extendDeadline()
		return nil
	})

	for {
		messageType, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(1).Infof("[ws]<- closed = %s", err)
			} else {
				glog.Infof("[ws]<- error = %s", err)
			}
			return err
		}
		extendDeadline()

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			glog.V(2).Infof("[ws]<- %d bytes", len(message))
			t.onMessage(string(message))
		default:
			glog.V(2).Infof("[ws]<- other=%d", messageType)
		}
	}
}
