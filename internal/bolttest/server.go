// Package bolttest is a minimal, hand-rolled fake Bolt server used only by
// this repo's own tests (internal/pool, internal/routing) to exercise
// Dial/Hello/Reset/Goodbye against a real TCP socket without depending on an
// actual Neo4j instance. It speaks just enough PackStream/Bolt to answer the
// handshake and the handful of messages the pool and routing layers send
// during acquire/release (§8 "Pool size gate", "Liveness", "Routing
// refresh").
package bolttest

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/marmos91/gobolt/pkg/bolt"
)

// successEmpty is the wire encoding of `SUCCESS {}`: a tiny structure with
// one field (tag 0x70, an empty tiny map), per spec.md §8's bit-exact marker
// table (`{}` -> `A0`).
var successEmpty = []byte{0xB1, 0x70, 0xA0}

// Behavior lets a test customize how the fake server answers a given
// incoming message signature byte. It is called with the raw signature
// (e.g. 0x0F for RESET) and returns the bytes to send back verbatim
// (already packstream-encoded, unchunked) or false to mean "close the
// socket without responding", simulating a dead connection.
type Behavior func(signature byte) (response []byte, respond bool)

// Server is a fake single-version Bolt listener. Zero value is not usable;
// construct with Listen.
type Server struct {
	ln      net.Listener
	version bolt.Version
	behave  Behavior

	mu      sync.Mutex
	accepted int
}

// DefaultBehavior answers HELLO, LOGON, LOGOFF and RESET with SUCCESS {} and
// ignores (does not reply to) GOODBYE, which the protocol defines as
// one-way.
func DefaultBehavior(signature byte) ([]byte, bool) {
	switch signature {
	case 0x01, 0x6A, 0x6B, 0x0F: // HELLO, LOGON, LOGOFF, RESET
		return successEmpty, true
	default:
		return nil, false
	}
}

// Listen starts a fake server on an OS-assigned loopback port negotiating
// the given version on every handshake and answering messages per behave
// (nil defaults to DefaultBehavior).
func Listen(version bolt.Version, behave Behavior) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if behave == nil {
		behave = DefaultBehavior
	}
	s := &Server{ln: ln, version: version, behave: behave}
	go s.acceptLoop()
	return s, nil
}

// Address is the loopback Address this server is listening on.
func (s *Server) Address() bolt.Address {
	tcpAddr := s.ln.Addr().(*net.TCPAddr)
	return bolt.NewAddress(tcpAddr.IP.String(), tcpAddr.Port)
}

// Accepted reports how many connections this server has accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	if !s.handshake(conn) {
		return
	}

	for {
		payload, ok := s.readMessage(conn)
		if !ok {
			return
		}
		if len(payload) < 2 {
			return
		}
		sig := payload[1]
		if sig == 0x02 { // GOODBYE: one-way, server just closes.
			return
		}
		resp, respond := s.behave(sig)
		if !respond {
			return
		}
		if !s.writeMessage(conn, resp) {
			return
		}
	}
}

// handshake reads the 4-byte magic + up to 4 offered versions and always
// agrees to s.version, mirroring a real server that picks the first offer it
// supports.
func (s *Server) handshake(conn net.Conn) bool {
	buf := make([]byte, 4+16)
	if _, err := readFull(conn, buf); err != nil {
		return false
	}
	reply := [4]byte{0x00, 0x00, s.version.Minor, s.version.Major}
	_, err := conn.Write(reply[:])
	return err == nil
}

// readMessage reads chunked frames until the zero-length terminator and
// returns the reassembled payload (§4.2).
func (s *Server) readMessage(conn net.Conn) ([]byte, bool) {
	var msg []byte
	for {
		var lenBuf [2]byte
		if _, err := readFull(conn, lenBuf[:]); err != nil {
			return nil, false
		}
		n := binary.BigEndian.Uint16(lenBuf[:])
		if n == 0 {
			return msg, true
		}
		chunk := make([]byte, n)
		if _, err := readFull(conn, chunk); err != nil {
			return nil, false
		}
		msg = append(msg, chunk...)
	}
}

// writeMessage frames payload as a single chunk followed by the terminator.
func (s *Server) writeMessage(conn net.Conn, payload []byte) bool {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return false
	}
	if _, err := conn.Write(payload); err != nil {
		return false
	}
	_, err := conn.Write([]byte{0x00, 0x00})
	return err == nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
