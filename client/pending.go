package qwebchannel

import (
	"encoding/json"
	"math"
)

// ResponseHandler receives the raw data of a Response. data is nil when the
// response carried no data field at all.
type ResponseHandler func(data json.RawMessage)

// pendingCalls correlates requests with their response handler.
type pendingCalls struct {
	nextID   int64
	handlers map[int64]ResponseHandler
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{handlers: make(map[int64]ResponseHandler)}
}

// add registers handler under a new id and returns the id. Ids increase
// and wrap from the maximum int64 to the minimum; an id that is still
// outstanding after wrapping is skipped.
func (p *pendingCalls) add(handler ResponseHandler) int64 {
	for {
		if p.nextID == math.MaxInt64 {
			p.nextID = math.MinInt64
		}
		id := p.nextID
		p.nextID++
		if _, used := p.handlers[id]; used {
			continue
		}
		p.handlers[id] = handler
		return id
	}
}

// take removes and returns the handler for id
func (p *pendingCalls) take(id int64) (ResponseHandler, bool) {
	handler, ok := p.handlers[id]
	if ok {
		delete(p.handlers, id)
	}
	return handler, ok
}

func (p *pendingCalls) len() int {
	return len(p.handlers)
}
