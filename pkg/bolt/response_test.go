package bolt

import "testing"

func TestResponseQueueDispatchesRecordWithoutPopping(t *testing.T) {
	q := newResponseQueue()
	var got []any
	q.push(&responseHandler{onRecord: func(fields []any) { got = fields }})

	h, err := q.dispatch(ResponseRecord, []any{"a", int64(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != nil {
		t.Error("expected RECORD not to terminate the handler")
	}
	if q.len() != 1 {
		t.Errorf("expected handler to remain queued, len=%d", q.len())
	}
	if len(got) != 2 || got[0] != "a" {
		t.Errorf("onRecord did not receive fields: %v", got)
	}
}

func TestResponseQueueSuccessPopsAndDeliversMetadata(t *testing.T) {
	q := newResponseQueue()
	var meta map[string]any
	q.push(&responseHandler{onSuccess: func(m map[string]any) { meta = m }})

	h, err := q.dispatch(ResponseSuccess, []any{map[string]any{"has_more": true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h == nil {
		t.Fatal("expected SUCCESS to terminate the handler")
	}
	if !q.empty() {
		t.Error("expected queue to be empty after SUCCESS")
	}
	if meta["has_more"] != true {
		t.Errorf("onSuccess metadata mismatch: %v", meta)
	}
}

func TestResponseQueueFailureBuildsNeo4jError(t *testing.T) {
	q := newResponseQueue()
	var gotErr error
	q.push(&responseHandler{onFailure: func(err error) { gotErr = err }})

	_, err := q.dispatch(ResponseFailure, []any{map[string]any{
		"code":    "Neo.ClientError.Security.Unauthorized",
		"message": "bad credentials",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	neoErr, ok := gotErr.(*Neo4jError)
	if !ok {
		t.Fatalf("expected *Neo4jError, got %T", gotErr)
	}
	if neoErr.Code != "Neo.ClientError.Security.Unauthorized" || neoErr.Message != "bad credentials" {
		t.Errorf("unexpected error contents: %+v", neoErr)
	}
}

func TestResponseQueueIgnoredPopsWithoutError(t *testing.T) {
	q := newResponseQueue()
	called := false
	q.push(&responseHandler{onIgnored: func() { called = true }})

	h, err := q.dispatch(ResponseIgnored, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h == nil || !called {
		t.Error("expected IGNORED to terminate the handler and invoke onIgnored")
	}
}

func TestResponseQueueDispatchWithNoOutstandingRequestIsProtocolError(t *testing.T) {
	q := newResponseQueue()
	_, err := q.dispatch(ResponseSuccess, nil)
	if err == nil {
		t.Fatal("expected error dispatching to an empty queue")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Errorf("expected *ProtocolError, got %T", err)
	}
}

// TestResponseQueueFailFrontPopsWithoutInvokingOnSuccess covers a broken
// top-level record (§4.1/§4.3): failFront pops the request it belonged to
// without calling onSuccess. Delivery to onFailure is covered by
// TestResponseQueueFailFrontDeliversToOnFailure.
func TestResponseQueueFailFrontPopsWithoutInvokingOnSuccess(t *testing.T) {
	q := newResponseQueue()
	q.push(&responseHandler{onSuccess: func(map[string]any) {
		t.Error("onSuccess should not be invoked for a broken response")
	}})

	h := q.failFront(NewProtocolError("broken record"))
	if h == nil {
		t.Fatal("expected failFront to pop and return the handler")
	}
	if !q.empty() {
		t.Error("expected queue to be empty after failFront")
	}
}

func TestResponseQueueFailFrontDeliversToOnFailure(t *testing.T) {
	q := newResponseQueue()
	var gotErr error
	q.push(&responseHandler{onFailure: func(err error) { gotErr = err }})

	want := NewProtocolError("broken record")
	h := q.failFront(want)
	if h == nil {
		t.Fatal("expected failFront to return the terminated handler")
	}
	if gotErr != want {
		t.Errorf("expected onFailure to receive the given error, got %v", gotErr)
	}
}

func TestResponseQueueFailFrontOnEmptyQueueReturnsNil(t *testing.T) {
	q := newResponseQueue()
	if h := q.failFront(NewProtocolError("broken record")); h != nil {
		t.Error("expected failFront on an empty queue to return nil")
	}
}
