package bolt

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/gobolt/pkg/packstream"
)

// UserAgent identifies this driver to the server in HELLO.
const UserAgent = "gobolt/1.0"

// Connection owns one negotiated Bolt connection: the socket, the chunked
// framer, the packstream codec wired with a version-appropriate hydration
// scope, the outstanding-response queue, and the state machine in §4.5/§4.6.
// It is not safe for concurrent use by multiple goroutines: the owning pool
// is responsible for giving out at most one borrower at a time (§5).
type Connection struct {
	id      string
	conn    net.Conn
	address Address
	version Version
	caps    Capabilities
	hydr    *HydrationScope

	chunkW *ChunkWriter
	chunkR *ChunkReader

	responses *responseQueue

	mu    sync.Mutex
	state ConnectionState

	serverAgent string
	connectionID string
	hints       map[string]any

	auth     AuthManager
	authTok  AuthToken
	routingContext map[string]string

	createdAt  time.Time
	idleSince  time.Time
	stale      bool
	defunct    bool
	mostRecentQid int64
}

// connWriter/connReader adapt net.Conn to the byte-oriented io interfaces the
// chunk framer wants without exposing deadline plumbing to it; deadlines are
// set directly on the underlying net.Conn by the methods below.
type connWriter struct{ c net.Conn }

func (w connWriter) Write(p []byte) (int, error) { return w.c.Write(p) }

type connReader struct{ c net.Conn }

func (r connReader) Read(p []byte) (int, error) { return r.c.Read(p) }

// Dial opens a TCP connection to addr, performs the Bolt handshake over it,
// and returns a Connection parked in StateConnected (HELLO not yet sent).
// TLS wrapping, URI parsing and DNS resolution are the caller's
// responsibility (§3 "external collaborators"); Dial only ever sees a
// concrete, already-resolved Address.
func Dial(ctx context.Context, dialer *net.Dialer, addr Address, offered []Version, maxMessageSize int) (*Connection, error) {
	nc, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, NewServiceUnavailable("dial %s: %v", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(dl)
	}
	version, err := Handshake(nc, offered)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{})

	hydr := NewHydrationScope(version)
	cw := NewChunkWriter(connWriter{nc})
	cr := NewChunkReader(connReader{nc})
	cr.SetMaxMessageSize(maxMessageSize)

	now := time.Now()
	c := &Connection{
		id:        uuid.NewString(),
		conn:      nc,
		address:   addr,
		version:   version,
		caps:      CapabilitiesFor(version),
		hydr:      hydr,
		chunkW:    cw,
		chunkR:    cr,
		responses: newResponseQueue(),
		state:     StateConnected,
		createdAt: now,
		idleSince: now,
		mostRecentQid: -1,
	}
	return c, nil
}

// ID is the driver-internal connection identifier (not the server's
// connection_id, which is populated from HELLO's SUCCESS metadata).
func (c *Connection) ID() string { return c.id }

func (c *Connection) Address() Address { return c.address }

func (c *Connection) Version() Version { return c.version }

func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Defunct() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defunct
}

// MarkStale flags the connection for eviction the next time the pool checks
// liveness, without affecting its current borrower (§4.6 "mark_all_stale").
func (c *Connection) MarkStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

func (c *Connection) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

func (c *Connection) Age() time.Duration { return time.Since(c.createdAt) }

func (c *Connection) IdleDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.idleSince)
}

// MarkReleased records that the owning pool is returning this connection to
// its idle set right now, resetting the clock IdleDuration reports against
// (§4.6 "Liveness check" measures time since the connection was last
// released, not time since it was created).
func (c *Connection) MarkReleased() { c.touchIdle() }

func (c *Connection) touchIdle() {
	c.mu.Lock()
	c.idleSince = time.Now()
	c.mu.Unlock()
}

// markDefunct transitions the connection to the terminal state and closes the
// socket. It is called on any I/O or protocol error, since the wire is no
// longer in a known state (§4.6 "Failure handling").
func (c *Connection) markDefunct(cause error) error {
	c.mu.Lock()
	c.state = StateDefunct
	c.defunct = true
	c.mu.Unlock()
	_ = c.conn.Close()
	return cause
}

func (c *Connection) setDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
}

// sendStructure packstream-encodes s and enqueues it with the chunk writer;
// the caller must call flush to actually write to the socket.
func (c *Connection) sendStructure(s packstream.Structure) error {
	var payload fieldBuffer
	enc := packstream.NewEncoder(&payload)
	c.hydr.RegisterDehydration(enc)
	if err := enc.Encode(s); err != nil {
		return err
	}
	c.chunkW.WriteMessage(payload)
	return nil
}

// fieldBuffer is a tiny growable byte sink so sendStructure can encode into
// memory before chunking it, avoiding a partial chunk write on encode error.
type fieldBuffer []byte

func (b *fieldBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (c *Connection) flush(ctx context.Context) error {
	c.setDeadline(ctx)
	if err := c.chunkW.Flush(); err != nil {
		return c.markDefunct(NewServiceUnavailable("write to %s failed: %v", c.address, err))
	}
	return nil
}

// receiveOne reads one message, decodes it and dispatches it to the front
// handler of the response queue. It returns that handler when the message
// terminated it (nil for a RECORD), or an error that marks the connection
// defunct.
func (c *Connection) receiveOne(ctx context.Context) (*responseHandler, error) {
	c.setDeadline(ctx)
	msg, err := c.chunkR.ReadMessage()
	if err != nil {
		return nil, c.markDefunct(NewServiceUnavailable("read from %s failed: %v", c.address, err))
	}
	dec := packstream.NewDecoder(byteReader(msg))
	c.hydr.RegisterHydration(dec)
	v, err := dec.Decode()
	if err != nil {
		return nil, c.markDefunct(NewProtocolError("malformed response from %s: %v", c.address, err))
	}
	if broken, ok := v.(*packstream.Broken); ok {
		// A single broken record (e.g. a DateTime whose tag doesn't match the
		// negotiated version's hydration rules) fails that request only; the
		// chunked framing around it was read successfully, so the connection
		// itself is still sound (§4.1, §4.3).
		h := c.responses.failFront(NewProtocolError(
			"broken response from %s (tag 0x%02X): %v", c.address, broken.Tag, broken.Err))
		if h == nil {
			return nil, c.markDefunct(NewProtocolError(
				"broken response from %s with no outstanding request: %v", c.address, broken.Err))
		}
		return h, nil
	}
	s, ok := v.(packstream.Structure)
	if !ok {
		return nil, c.markDefunct(NewProtocolError("response from %s is not a structure", c.address))
	}
	kind := classifyResponse(s)
	if kind == ResponseUnknown {
		return nil, c.markDefunct(NewProtocolError("unrecognized response signature 0x%02X from %s", s.Tag, c.address))
	}
	terminated, err := c.responses.dispatch(kind, s.Fields)
	if err != nil {
		return nil, c.markDefunct(err)
	}
	return terminated, nil
}

type byteReader []byte

func (b byteReader) Read(p []byte) (int, error) {
	n := copy(p, b)
	if n == 0 && len(p) > 0 {
		return 0, fmt.Errorf("short read")
	}
	return n, nil
}

// pump drains responses until the given handler has been terminated
// (removed from the queue by a SUCCESS/FAILURE/IGNORED), invoking its
// callbacks along the way. Other handlers queued ahead of it (pipelined
// requests) are drained and terminated first, in order.
func (c *Connection) pump(ctx context.Context, target *responseHandler) error {
	for {
		terminated, err := c.receiveOne(ctx)
		if err != nil {
			return err
		}
		if terminated == target {
			return nil
		}
	}
}

// Hello sends HELLO (and, on Bolt < 5.1, embeds the auth token directly in
// it) and blocks for its SUCCESS, recording the server's reported identity
// and connection_id (§4.5 "CONNECTED -> READY").
func (c *Connection) Hello(ctx context.Context, auth AuthManager, routingContext map[string]string) error {
	c.mu.Lock()
	if !c.state.canSend(requestHelloOrLogon) {
		st := c.state
		c.mu.Unlock()
		return NewProtocolError("HELLO illegal from state %s", st)
	}
	c.mu.Unlock()

	tok, err := auth.GetAuth(ctx)
	if err != nil {
		return fmt.Errorf("obtain auth token: %w", err)
	}
	c.auth = auth
	c.authTok = tok
	c.routingContext = routingContext

	req := HelloRequest{UserAgent: UserAgent, RoutingContext: routingContext}
	if !c.caps.LogonLogoff {
		req.Auth = tok.ToWireMap()
	}
	if err := c.sendStructure(req.ToStructure(c.version)); err != nil {
		return err
	}

	var helloErr error
	h := &responseHandler{
		kind: requestHelloOrLogon,
		onSuccess: func(meta map[string]any) {
			c.serverAgent, _ = meta["server"].(string)
			c.connectionID, _ = meta["connection_id"].(string)
			c.hints = asMap(meta["hints"])
		},
		onFailure: func(err error) { helloErr = err },
	}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return err
	}
	if err := c.pump(ctx, h); err != nil {
		return err
	}
	if helloErr != nil {
		return c.markDefunct(helloErr)
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()

	if c.caps.LogonLogoff {
		return c.Logon(ctx, tok)
	}
	return nil
}

// Logon sends LOGON with the given token (Bolt >= 5.1 separates credential
// presentation from HELLO so they can be refreshed independently, §4.5).
func (c *Connection) Logon(ctx context.Context, tok AuthToken) error {
	if err := c.sendStructure(logonStructure(tok.ToWireMap())); err != nil {
		return err
	}
	var logonErr error
	h := &responseHandler{
		kind:      requestHelloOrLogon,
		onFailure: func(err error) { logonErr = err },
	}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return err
	}
	if err := c.pump(ctx, h); err != nil {
		return err
	}
	if logonErr != nil {
		if c.auth != nil {
			c.auth.OnAuthExpired(tok)
		}
		return c.markDefunct(logonErr)
	}
	c.authTok = tok
	return nil
}

// Logoff sends LOGOFF, invalidating server-side credentials ahead of a
// Logon with a fresh token (re-authentication on acquire, §4.6).
func (c *Connection) Logoff(ctx context.Context) error {
	if !c.caps.LogonLogoff {
		return nil
	}
	if err := c.sendStructure(logoffStructure()); err != nil {
		return err
	}
	var logoffErr error
	h := &responseHandler{kind: requestHelloOrLogon, onFailure: func(err error) { logoffErr = err }}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return err
	}
	if err := c.pump(ctx, h); err != nil {
		return err
	}
	if logoffErr != nil {
		return c.markDefunct(logoffErr)
	}
	return nil
}

// Run sends RUN and returns the field names from the RUN's own SUCCESS
// metadata and the server-assigned query id; the caller must still Pull or
// Discard to retrieve/consume records (§4.4).
func (c *Connection) Run(ctx context.Context, req RunRequest, inTx bool) (fields []string, qid int64, err error) {
	c.mu.Lock()
	if !c.state.canSend(requestRun) {
		st := c.state
		c.mu.Unlock()
		return nil, 0, NewProtocolError("RUN illegal from state %s", st)
	}
	c.mu.Unlock()

	if err := c.sendStructure(req.ToStructure(c.version)); err != nil {
		return nil, 0, err
	}

	var runErr error
	h := &responseHandler{
		kind: requestRun,
		onSuccess: func(meta map[string]any) {
			for _, f := range asSlice(meta["fields"]) {
				fields = append(fields, asString(f))
			}
			if q, ok := meta["qid"].(int64); ok {
				qid = q
			} else {
				qid = -1
			}
		},
		onFailure: func(e error) { runErr = e },
	}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return nil, 0, err
	}
	if err := c.pump(ctx, h); err != nil {
		return nil, 0, err
	}
	if runErr != nil {
		c.transitionFailed(requestRun, inTx)
		return nil, 0, runErr
	}
	c.mostRecentQid = qid
	c.mu.Lock()
	c.state = c.state.next(requestRun, false, inTx)
	c.mu.Unlock()
	return fields, qid, nil
}

// RecordCallback receives one RECORD's field values as they stream in.
type RecordCallback func(values []any)

// Pull sends PULL n (or DISCARD, see Discard) for the given qid (-1 for the
// most recently RUN query) and blocks until its terminating SUCCESS/FAILURE,
// invoking onRecord for each RECORD (§4.4).
func (c *Connection) Pull(ctx context.Context, n, qid int64, inTx bool, onRecord RecordCallback) (hasMore bool, err error) {
	return c.pullOrDiscard(ctx, PullRequest{N: n, Qid: qid}.ToStructure(), inTx, onRecord)
}

// Discard sends DISCARD, consuming the remaining records of the stream
// without invoking a record callback.
func (c *Connection) Discard(ctx context.Context, n, qid int64, inTx bool) (hasMore bool, err error) {
	return c.pullOrDiscard(ctx, DiscardRequest{N: n, Qid: qid}.ToStructure(), inTx, nil)
}

func (c *Connection) pullOrDiscard(ctx context.Context, s packstream.Structure, inTx bool, onRecord RecordCallback) (hasMore bool, err error) {
	c.mu.Lock()
	if !c.state.canSend(requestPullOrDiscard) {
		st := c.state
		c.mu.Unlock()
		return false, NewProtocolError("PULL/DISCARD illegal from state %s", st)
	}
	c.mu.Unlock()

	if err := c.sendStructure(s); err != nil {
		return false, err
	}

	var streamErr error
	h := &responseHandler{
		kind:      requestPullOrDiscard,
		streaming: true,
		onRecord: func(fields []any) {
			if onRecord != nil {
				onRecord(fields)
			}
		},
		onSuccess: func(meta map[string]any) {
			hasMore, _ = meta["has_more"].(bool)
		},
		onFailure: func(e error) { streamErr = e },
	}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return false, err
	}
	if err := c.pump(ctx, h); err != nil {
		return false, err
	}
	if streamErr != nil {
		c.transitionFailed(requestPullOrDiscard, inTx)
		return false, streamErr
	}
	c.mu.Lock()
	c.state = c.state.next(requestPullOrDiscard, hasMore, inTx)
	c.mu.Unlock()
	return hasMore, nil
}

// Begin opens an explicit transaction (§4.4, §4.5).
func (c *Connection) Begin(ctx context.Context, req BeginRequest) error {
	return c.simpleRequest(ctx, requestBegin, req.ToStructure(c.version), false)
}

// Commit closes the current explicit transaction. A lost response (I/O error
// while awaiting SUCCESS) is surfaced as IncompleteCommit rather than a
// generic connectivity error, because the commit's server-side outcome is
// genuinely unknown (§7.7).
func (c *Connection) Commit(ctx context.Context) error {
	if err := c.sendStructure(commitStructure()); err != nil {
		return err
	}
	var commitErr error
	h := &responseHandler{kind: requestCommitOrRollback, onFailure: func(e error) { commitErr = e }}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return NewIncompleteCommit("commit response lost for connection %s: %v", c.id, err)
	}
	if err := c.pump(ctx, h); err != nil {
		return NewIncompleteCommit("commit response lost for connection %s: %v", c.id, err)
	}
	if commitErr != nil {
		c.transitionFailed(requestCommitOrRollback, true)
		return commitErr
	}
	c.mu.Lock()
	c.state = c.state.next(requestCommitOrRollback, false, true)
	c.mu.Unlock()
	return nil
}

// Rollback aborts the current explicit transaction. Unlike Commit, a lost
// response is not ambiguous: rollback has no partial-success outcome worth
// distinguishing, so ordinary connectivity errors are returned (§7.7).
func (c *Connection) Rollback(ctx context.Context) error {
	return c.simpleRequest(ctx, requestCommitOrRollback, rollbackStructure(), true)
}

func (c *Connection) simpleRequest(ctx context.Context, kind requestKind, s packstream.Structure, inTx bool) error {
	c.mu.Lock()
	if !c.state.canSend(kind) {
		st := c.state
		c.mu.Unlock()
		return NewProtocolError("request illegal from state %s", st)
	}
	c.mu.Unlock()

	if err := c.sendStructure(s); err != nil {
		return err
	}
	var reqErr error
	h := &responseHandler{kind: kind, onFailure: func(e error) { reqErr = e }}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return err
	}
	if err := c.pump(ctx, h); err != nil {
		return err
	}
	if reqErr != nil {
		c.transitionFailed(kind, inTx)
		return reqErr
	}
	c.mu.Lock()
	c.state = c.state.next(kind, false, inTx)
	c.mu.Unlock()
	return nil
}

// Route sends ROUTE (Bolt >= 4.3) and returns the raw routing table record
// for the routing layer to parse (§4.7).
func (c *Connection) Route(ctx context.Context, req RouteRequest) (map[string]any, error) {
	if !c.caps.Route {
		return nil, NewConfigurationError("ROUTE requires Bolt >= 4.3, connection is %s", c.version)
	}
	if err := c.sendStructure(req.ToStructure()); err != nil {
		return nil, err
	}
	var table map[string]any
	var routeErr error
	h := &responseHandler{
		kind: requestRoute,
		onSuccess: func(meta map[string]any) { table = asMap(meta["rt"]) },
		onFailure: func(e error) { routeErr = e },
	}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return nil, err
	}
	if err := c.pump(ctx, h); err != nil {
		return nil, err
	}
	if routeErr != nil {
		return nil, routeErr
	}
	return table, nil
}

// Telemetry sends a best-effort TELEMETRY message (Bolt >= 5.4). Failures are
// swallowed by callers since telemetry is advisory only.
func (c *Connection) Telemetry(ctx context.Context, apiType int64) error {
	if !c.caps.Telemetry {
		return nil
	}
	if err := c.sendStructure(telemetryStructure(apiType)); err != nil {
		return err
	}
	h := &responseHandler{kind: requestRun}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return err
	}
	return c.pump(ctx, h)
}

// Reset restores a FAILED (or merely dirty) connection to READY, the only
// legal recovery from StateFailed short of discarding the connection (§4.6
// "Liveness check" and "the reset contract").
func (c *Connection) Reset(ctx context.Context) error {
	if err := c.sendStructure(resetStructure()); err != nil {
		return err
	}
	var resetErr error
	h := &responseHandler{kind: requestReset, onFailure: func(e error) { resetErr = e }}
	c.responses.push(h)
	if err := c.flush(ctx); err != nil {
		return err
	}
	if err := c.pump(ctx, h); err != nil {
		return err
	}
	if resetErr != nil {
		return c.markDefunct(resetErr)
	}
	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()
	c.touchIdle()
	return nil
}

// Goodbye sends GOODBYE and closes the socket without waiting for a
// response, as the protocol does not send one. A connection that is already
// defunct (e.g. after a cancelled or failed read) skips GOODBYE entirely and
// is simply closed, since the server will notice the severed socket on its
// own (§4.6 "no GOODBYE on cancel during an open exchange"). Any other
// state, including one with a result still streaming, sends GOODBYE.
func (c *Connection) Goodbye() error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st == StateDefunct {
		return c.conn.Close()
	}
	_ = c.sendStructure(goodbyeStructure())
	_ = c.chunkW.Flush()
	return c.conn.Close()
}

// transitionFailed moves the connection into StateFailed after a FAILURE
// response, short-circuiting any further state-machine advance for the
// request that triggered it (§4.6).
func (c *Connection) transitionFailed(kind requestKind, inTx bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDefunct {
		return
	}
	c.state = StateFailed
}

// MostRecentQid returns the qid of the last RUN, for PULL/DISCARD calls that
// want to target "the most recent query" (qid -1 on the wire already means
// this, but callers needing the concrete id for logging can use this).
func (c *Connection) MostRecentQid() int64 { return c.mostRecentQid }

func (c *Connection) ServerAgent() string   { return c.serverAgent }
func (c *Connection) ConnectionID() string  { return c.connectionID }
func (c *Connection) Hints() map[string]any { return c.hints }
