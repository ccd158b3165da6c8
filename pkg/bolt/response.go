package bolt

import "container/list"

// responseHandler is one outstanding request's callbacks. RECORD messages
// are delivered to OnRecord zero or more times (only for streaming requests
// such as PULL/DISCARD); the terminating SUCCESS or FAILURE/IGNORED is
// delivered exactly once and pops the handler off the queue (§4.4
// "Callback-style response handling").
type responseHandler struct {
	kind      requestKind
	streaming bool
	onRecord  func(fields []any)
	onSuccess func(metadata map[string]any)
	onFailure func(err error)
	onIgnored func()
}

// responseQueue is the FIFO of outstanding request callbacks a Connection
// maintains so it can pipeline several requests (e.g. RUN immediately
// followed by PULL) before reading any of their responses off the wire.
type responseQueue struct {
	pending *list.List
}

func newResponseQueue() *responseQueue {
	return &responseQueue{pending: list.New()}
}

func (q *responseQueue) push(h *responseHandler) {
	q.pending.PushBack(h)
}

func (q *responseQueue) empty() bool { return q.pending.Len() == 0 }

func (q *responseQueue) len() int { return q.pending.Len() }

// front returns the oldest outstanding handler without removing it; a RECORD
// is dispatched to it in place, while a terminating response pops it via pop.
func (q *responseQueue) front() *responseHandler {
	e := q.pending.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*responseHandler)
}

func (q *responseQueue) pop() *responseHandler {
	e := q.pending.Front()
	if e == nil {
		return nil
	}
	q.pending.Remove(e)
	return e.Value.(*responseHandler)
}

// dispatch decodes one server message (already split from its signature
// Structure) and routes it to the oldest outstanding handler. It returns the
// handler that was terminated (popped), or nil if the message was a RECORD
// that left its handler in place.
func (q *responseQueue) dispatch(kind ResponseKind, fields []any) (*responseHandler, error) {
	h := q.front()
	if h == nil {
		return nil, NewProtocolError("received %v with no outstanding request", kind)
	}
	switch kind {
	case ResponseRecord:
		if h.onRecord != nil {
			h.onRecord(fields)
		}
		return nil, nil
	case ResponseSuccess:
		q.pop()
		meta := map[string]any{}
		if len(fields) > 0 {
			meta = asMap(fields[0])
		}
		if h.onSuccess != nil {
			h.onSuccess(meta)
		}
		return h, nil
	case ResponseFailure:
		q.pop()
		meta := map[string]any{}
		if len(fields) > 0 {
			meta = asMap(fields[0])
		}
		err := neo4jErrorFromMetadata(meta)
		if h.onFailure != nil {
			h.onFailure(err)
		}
		return h, nil
	case ResponseIgnored:
		q.pop()
		if h.onIgnored != nil {
			h.onIgnored()
		}
		return h, nil
	default:
		return nil, NewProtocolError("unrecognized response signature")
	}
}

// failFront fails the oldest outstanding handler with err and pops it,
// regardless of what kind of response it was expecting. Used when a message
// arrives broken (malformed structure fields) rather than as a well-formed
// SUCCESS/RECORD/FAILURE/IGNORED: the request fails, but the connection's
// framing is intact, so no other outstanding or future request is affected.
func (q *responseQueue) failFront(err error) *responseHandler {
	h := q.pop()
	if h == nil {
		return nil
	}
	if h.onFailure != nil {
		h.onFailure(err)
	}
	return h
}

func neo4jErrorFromMetadata(meta map[string]any) error {
	code, _ := meta["code"].(string)
	msg, _ := meta["message"].(string)
	return &Neo4jError{Code: code, Message: msg}
}
