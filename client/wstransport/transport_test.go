package wstransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qwebchannel "github.com/CrimsonAS/qwebchannel/client"
	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

const counterInit = `{
	"counter": {
		"methods": [["increment", 5]],
		"properties": [[1, "value", ["valueChanged", 3], 41]],
		"signals": [["destroyed", 0]]
	}
}`

// testHost plays the server side of a channel, one step per message.
type testHost struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *testHost) next() *qwebchannel.Message {
	h.t.Helper()
	h.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := h.conn.ReadMessage()
	if err != nil {
		h.t.Errorf("host read failed: %s", err)
		return nil
	}
	msg := &qwebchannel.Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		h.t.Errorf("invalid message from client: %s", err)
		return nil
	}
	return msg
}

// drain reads until the connection is closed
func (h *testHost) drain() {
	h.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := h.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *testHost) respond(msg *qwebchannel.Message, data string) {
	payload := `{"type":10,"id":` + formatID(msg) + `,"data":` + data + `}`
	h.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

func formatID(msg *qwebchannel.Message) string {
	b, _ := json.Marshal(*msg.ID)
	return string(b)
}

func newTestServer(t *testing.T, script func(h *testHost)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %s", err)
			return
		}
		defer conn.Close()
		script(&testHost{t: t, conn: conn})
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestChannelOverWebSocket(t *testing.T) {
	server := newTestServer(t, func(h *testHost) {
		init := h.next()
		if init == nil || init.Type != qwebchannel.TypeInit {
			t.Errorf("expected init, got %+v", init)
			return
		}
		h.respond(init, counterInit)

		if idle := h.next(); idle == nil || idle.Type != qwebchannel.TypeIdle {
			t.Errorf("expected idle, got %+v", idle)
			return
		}

		invoke := h.next()
		if invoke == nil || invoke.Type != qwebchannel.TypeInvokeMethod {
			t.Errorf("expected invoke, got %+v", invoke)
			return
		}
		h.respond(invoke, "42")

		// Closing from the host ends the client's Run
		h.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		h.drain()
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transport, err := Dial(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial failed: %s", err)
	}

	ready := make(chan *qwebchannel.Channel, 1)
	c, err := qwebchannel.NewChannel(transport, func(c *qwebchannel.Channel) {
		ready <- c
	})
	assert.Equal(t, nil, err)

	lock, errCh := c.RunLockable()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("channel never became ready")
	}

	lock.Lock()
	counter := c.Object("counter")
	assert.NotEqual(t, nil, counter)
	value, err := counter.Property("value")
	assert.Equal(t, nil, err)
	assert.Equal(t, float64(41), value)
	f, err := counter.Call("increment")
	lock.Unlock()
	assert.Equal(t, nil, err)

	result, err := f.Wait(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, float64(42), result)

	select {
	case err := <-errCh:
		assert.Equal(t, true, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not end when the host closed")
	}
}

func TestSendAfterClose(t *testing.T) {
	server := newTestServer(t, func(h *testHost) {
		h.drain()
	})
	defer server.Close()

	transport, err := Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial failed: %s", err)
	}

	closed := make(chan error, 1)
	transport.SetCloseHandler(func(err error) {
		closed <- err
	})
	transport.SetMessageHandler(func(interface{}) {})

	assert.Equal(t, nil, transport.Close())
	assert.Equal(t, ErrClosed, transport.Send(`{"type":4}`))

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close handler was not called")
	}
}

func TestCloseFlushesSent(t *testing.T) {
	const count = 50
	received := make(chan int, 1)
	server := newTestServer(t, func(h *testHost) {
		n := 0
		h.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := h.conn.ReadMessage(); err != nil {
				break
			}
			n++
		}
		received <- n
	})
	defer server.Close()

	settings := DefaultSettings()
	settings.SendBufferSize = 4
	transport, err := DialWithSettings(context.Background(), wsURL(server), nil, settings)
	if err != nil {
		t.Fatalf("dial failed: %s", err)
	}
	transport.SetMessageHandler(func(interface{}) {})

	var wg sync.WaitGroup
	var accepted int32
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if transport.Send(`{"type":4}`) == nil {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	// Some sends race with Close; every accepted one must be written
	time.Sleep(time.Millisecond)
	transport.Close()
	wg.Wait()

	select {
	case n := <-received:
		assert.Equal(t, int(atomic.LoadInt32(&accepted)), n)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not see the connection close")
	}
	assert.Equal(t, ErrClosed, transport.Send(`{"type":4}`))
}

func TestDialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := Dial(context.Background(), wsURL(server), nil)
	assert.NotEqual(t, nil, err)
}
