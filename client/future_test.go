package qwebchannel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestFutureResolve(t *testing.T) {
	f := newFuture()

	var before []interface{}
	f.Then(func(v interface{}, err error) {
		before = append(before, v)
	})

	_, _, ok := f.Result()
	assert.Equal(t, false, ok)

	f.resolve("value", nil)
	f.resolve("again", errors.New("ignored"))

	v, err, ok := f.Result()
	assert.Equal(t, true, ok)
	assert.Equal(t, nil, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, []interface{}{"value"}, before)

	var after interface{}
	f.Then(func(v interface{}, err error) {
		after = v
	})
	assert.Equal(t, "value", after)

	v, err = f.Wait(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, "value", v)
}

func TestFutureWait(t *testing.T) {
	f := newFuture()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.resolve(nil, ErrNoResult)
	}()

	_, err := f.Wait(context.Background())
	assert.Equal(t, ErrNoResult, err)

	pending := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}
