package qwebchannel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/golang/glog"
)

// StreamTransport carries messages over a byte stream, such as a pipe or
// the standard input and output of a host process. Each message is framed
// as its length in bytes, a space, the JSON message, and a newline.
type StreamTransport struct {
	in    io.ReadCloser
	out   io.WriteCloser
	split bool

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	onMessage MessageHandler
	onClose   func(error)
}

// NewStreamTransport creates a transport from an open stream. Reading begins
// once a message handler is installed, which NewChannel does.
func NewStreamTransport(data io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{in: data, out: data}
}

// NewStreamTransportSplit is equivalent to NewStreamTransport, except that
// it uses separate streams for reading and writing. This is useful for
// certain kinds of pipe or when using stdin and stdout.
func NewStreamTransportSplit(in io.ReadCloser, out io.WriteCloser) *StreamTransport {
	return &StreamTransport{in: in, out: out, split: true}
}

// Send writes one framed message. It is safe for concurrent use.
func (t *StreamTransport) Send(payload string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := fmt.Fprintf(t.out, "%d %s\n", len(payload), payload)
	return err
}

func (t *StreamTransport) SetMessageHandler(handler MessageHandler) {
	t.onMessage = handler
	t.startOnce.Do(func() {
		go t.handle()
	})
}

// SetCloseHandler must be called before SetMessageHandler.
func (t *StreamTransport) SetCloseHandler(handler func(err error)) {
	t.onClose = handler
}

func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.in.Close()
		if t.split {
			if werr := t.out.Close(); err == nil {
				err = werr
			}
		}
	})
	return err
}

// handle reads messages until the stream ends or is malformed.
func (t *StreamTransport) handle() {
	err := t.readMessages()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		glog.V(1).Infof("qwebchannel: stream closed: %s", err)
	} else {
		glog.Errorf("qwebchannel: stream failed: %s", err)
	}
	t.Close()
	if t.onClose != nil {
		t.onClose(err)
	}
}

func (t *StreamTransport) readMessages() error {
	rd := bufio.NewReader(t.in)
	for {
		sizeStr, err := rd.ReadString(' ')
		if err != nil {
			return err
		} else if len(sizeStr) < 2 {
			return errors.New("read invalid message: invalid size")
		}

		byteCnt, _ := strconv.ParseInt(sizeStr[:len(sizeStr)-1], 10, 32)
		if byteCnt < 1 {
			return errors.New("read invalid message: size too short")
		}

		blob := make([]byte, byteCnt)
		if _, err := io.ReadFull(rd, blob); err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		// Read the final newline
		if nl, err := rd.ReadByte(); err != nil {
			return fmt.Errorf("read error: %w", err)
		} else if nl != '\n' {
			return fmt.Errorf("read invalid message: expected terminating newline, read %c", nl)
		}

		t.onMessage(string(blob))
	}
}
