package bolt

import (
	"fmt"
	"strings"
)

// ServiceUnavailable means a direct (single-address) driver could not reach
// its configured host at all.
type ServiceUnavailable struct{ msg string }

func (e *ServiceUnavailable) Error() string { return e.msg }

func NewServiceUnavailable(format string, args ...any) error {
	return &ServiceUnavailable{msg: fmt.Sprintf(format, args...)}
}

// SessionExpired means a cluster driver's chosen host is gone; the routing
// pool should pick another address rather than fail the whole operation.
type SessionExpired struct{ msg string }

func (e *SessionExpired) Error() string { return e.msg }

func NewSessionExpired(format string, args ...any) error {
	return &SessionExpired{msg: fmt.Sprintf(format, args...)}
}

// BoltHandshakeError reports a failed protocol version negotiation.
type BoltHandshakeError struct {
	Offered   []Version
	Supported string
}

func (e *BoltHandshakeError) Error() string {
	offered := make([]string, len(e.Offered))
	for i, v := range e.Offered {
		offered[i] = v.String()
	}
	return fmt.Sprintf("no agreement on protocol version: offered [%s], server supports %s",
		strings.Join(offered, ", "), e.Supported)
}

// AuthError is a fatal authentication failure, distinct from the two
// re-authenticatable variants the pool handles automatically.
type AuthError struct{ msg string }

func (e *AuthError) Error() string { return e.msg }

func NewAuthError(format string, args ...any) error {
	return &AuthError{msg: fmt.Sprintf(format, args...)}
}

// Neo4jError is a structured server-reported failure with a
// classification.category.title code, e.g. "Neo.ClientError.Security.TokenExpired".
type Neo4jError struct {
	Code    string
	Message string
}

func (e *Neo4jError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Classification returns the second dot-separated component of Code, the
// one after "Neo" (ClientError, DatabaseError, TransientError, ...).
func (e *Neo4jError) Classification() string {
	parts := strings.SplitN(e.Code, ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// IsRetriableAuth reports whether this is one of the two server errors the
// pool retries automatically by refreshing credentials (§4.7, §4.8).
func (e *Neo4jError) IsRetriableAuth() bool {
	return e.Code == "Neo.ClientError.Security.AuthorizationExpired" ||
		e.Code == "Neo.ClientError.Security.TokenExpired"
}

// IsNotALeader reports the cluster-topology errors that should forget the
// current writer for a database (§4.7).
func (e *Neo4jError) IsNotALeader() bool {
	return e.Code == "Neo.ClientError.Cluster.NotALeader" ||
		e.Code == "Neo.ClientError.General.ForbiddenOnReadOnlyDatabase"
}

// ProtocolError signals a state-machine or framing violation. It is always
// fatal to the connection and to the current unit of work (§7.6).
type ProtocolError struct{ msg string }

func (e *ProtocolError) Error() string { return e.msg }

func NewProtocolError(format string, args ...any) error {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// IncompleteCommit is raised when a COMMIT response is lost to a socket error
// or cancellation: the commit's outcome on the server is unknown (§7.7).
type IncompleteCommit struct{ msg string }

func (e *IncompleteCommit) Error() string { return e.msg }

func NewIncompleteCommit(format string, args ...any) error {
	return &IncompleteCommit{msg: fmt.Sprintf(format, args...)}
}

// ConnectionAcquisitionTimeout is returned by the pool when no connection
// becomes available before the caller's deadline (§4.6, §8).
type ConnectionAcquisitionTimeout struct{ msg string }

func (e *ConnectionAcquisitionTimeout) Error() string { return e.msg }

func NewConnectionAcquisitionTimeout(format string, args ...any) error {
	return &ConnectionAcquisitionTimeout{msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError is raised synchronously for a bad URL, malformed auth
// token, or unsupported requested protocol version (§7.1).
type ConfigurationError struct{ msg string }

func (e *ConfigurationError) Error() string { return e.msg }

func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// nonRetriableTransientCodes are the TransientError codes explicitly excluded from
// automatic retry by the managed-transaction policy (§4.8).
var nonRetriableTransientCodes = map[string]bool{
	"Neo.TransientError.Transaction.Terminated":       true,
	"Neo.TransientError.Transaction.LockClientStopped": true,
}

// IsRetriable classifies an error against the managed-transaction retry
// policy in §4.8: ServiceUnavailable, SessionExpired, the two
// re-authenticatable security errors, and TransientError codes except the
// two explicitly excluded ones.
func IsRetriable(err error) bool {
	switch e := err.(type) {
	case *ServiceUnavailable:
		return true
	case *SessionExpired:
		return true
	case *Neo4jError:
		if e.IsRetriableAuth() {
			return true
		}
		if e.Classification() == "TransientError" {
			return !nonRetriableTransientCodes[e.Code]
		}
		return false
	default:
		return false
	}
}
