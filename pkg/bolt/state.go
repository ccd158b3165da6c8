package bolt

// ConnectionState is the connection's position in the state machine defined
// in §4.5/§4.6. Hello, Run, Pull, Discard, Begin and Rollback check the
// current state before writing; Commit, Route, Logon, Logoff, Telemetry,
// Reset and Goodbye do not. The state is advanced according to the response
// received.
type ConnectionState int

const (
	// StateConnected is the state immediately after a successful handshake,
	// before HELLO has been acknowledged.
	StateConnected ConnectionState = iota
	// StateReady accepts RUN, BEGIN, or ROUTE.
	StateReady
	// StateStreaming means an auto-commit RUN's result is being pulled.
	StateStreaming
	// StateTxReady is inside an explicit transaction with no open result.
	StateTxReady
	// StateTxStreaming is inside an explicit transaction with an open result.
	StateTxStreaming
	// StateFailed means the server reported a FAILURE and is refusing
	// further requests (other than RESET/GOODBYE) until reset.
	StateFailed
	// StateDefunct is terminal: the socket or protocol is broken and the
	// connection must be discarded, never reset.
	StateDefunct
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateReady:
		return "READY"
	case StateStreaming:
		return "STREAMING"
	case StateTxReady:
		return "TX_READY"
	case StateTxStreaming:
		return "TX_STREAMING"
	case StateFailed:
		return "FAILED"
	case StateDefunct:
		return "DEFUNCT"
	default:
		return "UNKNOWN"
	}
}

// canSend reports whether the given request kind is legal from the current
// state, independent of server-side acceptance (§4.5). RESET and GOODBYE are
// always legal except from DEFUNCT, where the connection must simply be
// discarded.
func (s ConnectionState) canSend(kind requestKind) bool {
	if s == StateDefunct {
		return false
	}
	switch kind {
	case requestReset, requestGoodbye:
		return true
	case requestRun:
		return s == StateReady || s == StateTxReady
	case requestPullOrDiscard:
		return s == StateStreaming || s == StateTxStreaming
	case requestBegin, requestRoute:
		return s == StateReady
	case requestCommitOrRollback:
		return s == StateTxReady
	case requestHelloOrLogon:
		return s == StateConnected || s == StateReady
	default:
		return false
	}
}

type requestKind int

const (
	requestHelloOrLogon requestKind = iota
	requestRun
	requestPullOrDiscard
	requestBegin
	requestCommitOrRollback
	requestRoute
	requestReset
	requestGoodbye
)

// next computes the state after a successful (SUCCESS) response to a request
// of the given kind, given whether the stream it opened still has records
// pending (hasMore, from the SUCCESS metadata's "has_more" key).
func (s ConnectionState) next(kind requestKind, hasMore bool, inTx bool) ConnectionState {
	switch kind {
	case requestHelloOrLogon:
		return StateReady
	case requestRun:
		if inTx {
			return StateTxStreaming
		}
		return StateStreaming
	case requestPullOrDiscard:
		if hasMore {
			if inTx {
				return StateTxStreaming
			}
			return StateStreaming
		}
		if inTx {
			return StateTxReady
		}
		return StateReady
	case requestBegin:
		return StateTxReady
	case requestCommitOrRollback:
		return StateReady
	case requestRoute:
		return s
	case requestReset:
		return StateReady
	default:
		return s
	}
}
