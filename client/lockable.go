package qwebchannel

import "sync"

// processLock hands exclusive access back and forth between the goroutine
// running RunLockable and its callers. Lock blocks until the processing
// goroutine is between two calls to Process; it then waits for Unlock.
type processLock struct {
	acquire chan struct{}
	release chan struct{}
}

func (l *processLock) Lock() {
	l.acquire <- struct{}{}
}

func (l *processLock) Unlock() {
	l.release <- struct{}{}
}

// RunLockable runs the channel on a new goroutine, like Run, and returns a
// sync.Locker. While it is held, Process is not running and will not start,
// so objects can be used safely: calling methods, reading and setting
// properties, and connecting to signals.
//
// Signal handlers and Future.Then callbacks run on the processing goroutine
// and must not take the lock. A Future must be waited on without holding the
// lock, or its response can never be processed.
//
// The returned channel receives the error that ended processing and is then
// closed. The lock must not be taken after that.
func (c *Channel) RunLockable() (sync.Locker, <-chan error) {
	lock := &processLock{
		acquire: make(chan struct{}),
		release: make(chan struct{}),
	}
	result := make(chan error, 1)

	go func() {
		defer close(result)
		result <- c.serve(lock)
	}()
	return lock, result
}

// serve processes messages whenever they arrive, and yields to lock holders
// in between. After the transport closes, Process drains what is still
// queued and returns the transport's error.
func (c *Channel) serve(lock *processLock) error {
	for {
		select {
		case <-lock.acquire:
			<-lock.release
			continue
		case _, open := <-c.processSignal:
			err := c.Process()
			if !open || err != nil {
				return err
			}
		}
	}
}
