package qwebchannel

import (
	"context"
	"sync"
)

// Future is the result of a method call. It resolves exactly once, when the
// channel processes the response for that call; never during Call itself.
// There is no timeout: a call the host never answers stays pending.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	value     interface{}
	err       error
	callbacks []func(interface{}, error)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value interface{}, err error) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return
	default:
	}
	f.value, f.err = value, err
	close(f.done)
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the value and error of a resolved future. ok is false if
// the future has not resolved yet.
func (f *Future) Result() (value interface{}, err error, ok bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		return nil, nil, false
	}
}

// Wait blocks until the future resolves or ctx is done. It must not be
// called from the goroutine that processes the channel, because the
// response could then never be handled.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then calls fn with the result once the future resolves. fn runs on the
// goroutine processing the channel. If the future has already resolved, fn
// is called immediately.
func (f *Future) Then(fn func(value interface{}, err error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		fn(f.value, f.err)
		return
	default:
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}
