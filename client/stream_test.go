package qwebchannel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// testHost is the far end of a StreamTransport
type testHost struct {
	t        *testing.T
	out      io.WriteCloser
	received chan string
}

func newTestHost(t *testing.T) (*testHost, *StreamTransport) {
	clientIn, hostOut := io.Pipe()
	hostIn, clientOut := io.Pipe()

	h := &testHost{t: t, out: hostOut, received: make(chan string, 16)}
	go h.readFrames(hostIn)
	return h, NewStreamTransportSplit(clientIn, clientOut)
}

func (h *testHost) readFrames(r io.Reader) {
	defer close(h.received)
	rd := bufio.NewReader(r)
	for {
		sizeStr, err := rd.ReadString(' ')
		if err != nil {
			return
		}
		n, _ := strconv.Atoi(strings.TrimSpace(sizeStr))
		buf := make([]byte, n+1)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return
		}
		h.received <- string(buf[:n])
	}
}

func (h *testHost) next() *Message {
	h.t.Helper()
	select {
	case data, ok := <-h.received:
		if !ok {
			h.t.Fatal("client stream closed")
		}
		msg := &Message{}
		if err := json.Unmarshal([]byte(data), msg); err != nil {
			h.t.Fatalf("invalid message from client: %s", err)
		}
		return msg
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for a message from the client")
	}
	return nil
}

func (h *testHost) send(payload string) {
	fmt.Fprintf(h.out, "%d %s\n", len(payload), payload)
}

func TestStreamTransport(t *testing.T) {
	host, transport := newTestHost(t)

	ready := make(chan struct{})
	c, err := NewChannel(transport, func(c *Channel) {
		close(ready)
	})
	assert.Equal(t, nil, err)

	lock, errCh := c.RunLockable()

	init := host.next()
	assert.Equal(t, TypeInit, init.Type)
	host.send(fmt.Sprintf(`{"type":10,"id":%d,"data":%s}`, *init.ID, testInitData))

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("channel never became ready")
	}
	assert.Equal(t, TypeIdle, host.next().Type)

	lock.Lock()
	f, err := c.Object("backend").Call("describe")
	lock.Unlock()
	assert.Equal(t, nil, err)

	invoke := host.next()
	assert.Equal(t, TypeInvokeMethod, invoke.Type)
	assert.Equal(t, 7, *invoke.Method)
	host.send(fmt.Sprintf(`{"type":10,"id":%d,"data":"described"}`, *invoke.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, "described", v)

	host.out.Close()
	select {
	case err := <-errCh:
		assert.Equal(t, true, errors.Is(err, io.EOF))
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not end with the stream")
	}
}

func TestStreamTransportMalformed(t *testing.T) {
	host, transport := newTestHost(t)

	c, err := NewChannel(transport, nil)
	assert.Equal(t, nil, err)
	host.next()

	done := make(chan error, 1)
	go func() {
		done <- c.Run()
	}()

	fmt.Fprint(host.out, "x {}\n")
	select {
	case err := <-done:
		assert.NotEqual(t, nil, err)
		assert.Equal(t, false, errors.Is(err, io.EOF))
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not end on a malformed frame")
	}
}
