// Package bolt implements the Bolt wire protocol layered on top of the
// packstream codec: chunked transport, the connection state machine, the
// per-version message set, hydration of domain types, and the auth manager
// interfaces consumed by the pool layers.
package bolt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxChunkSize is the largest payload a single chunk may carry (§4.2): a
// 16-bit unsigned length field, minus nothing — 0xFFFF is a legal chunk size.
const MaxChunkSize = 0xFFFF

// chunkTerminator is the zero-length chunk that ends a logical message.
var chunkTerminator = [2]byte{0x00, 0x00}

// ChunkWriter splits one or more logical messages into ≤65535-byte chunks
// terminated by an empty chunk, and buffers them until Flush is called. The
// framer may concatenate multiple queued messages into a single underlying
// write, but always preserves the terminator between them (§4.2).
type ChunkWriter struct {
	w   io.Writer
	buf []byte
}

// NewChunkWriter returns a ChunkWriter that flushes to w.
func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{w: w}
}

// WriteMessage appends one logical message (already packstream-encoded) to
// the outbound buffer, chunked and terminated. It does not write to the
// underlying writer; call Flush to send.
func (c *ChunkWriter) WriteMessage(payload []byte) {
	for len(payload) > 0 {
		n := len(payload)
		if n > MaxChunkSize {
			n = MaxChunkSize
		}
		var header [2]byte
		binary.BigEndian.PutUint16(header[:], uint16(n))
		c.buf = append(c.buf, header[:]...)
		c.buf = append(c.buf, payload[:n]...)
		payload = payload[n:]
	}
	c.buf = append(c.buf, chunkTerminator[:]...)
}

// Flush writes all buffered chunks in a single underlying write and resets
// the buffer. Returns the underlying writer's error, if any.
func (c *ChunkWriter) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	_, err := c.w.Write(c.buf)
	c.buf = c.buf[:0]
	return err
}

// Pending reports whether WriteMessage has buffered bytes not yet flushed.
func (c *ChunkWriter) Pending() bool { return len(c.buf) > 0 }

// ChunkReader reassembles inbound chunks into logical messages.
type ChunkReader struct {
	r        io.Reader
	maxBytes int // 0 = unbounded
}

// NewChunkReader returns a ChunkReader that reads chunked frames from r.
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{r: r}
}

// SetMaxMessageSize bounds the total reassembled size ReadMessage will
// accept before failing with a ProtocolError, guarding against a
// misbehaving or malicious server streaming an unbounded message into
// memory. Zero (the default) means unbounded.
func (c *ChunkReader) SetMaxMessageSize(n int) { c.maxBytes = n }

// ReadMessage reads chunks until the zero-length terminator and returns the
// concatenated payload as a single message buffer.
func (c *ChunkReader) ReadMessage() ([]byte, error) {
	var message []byte
	for {
		var header [2]byte
		if _, err := io.ReadFull(c.r, header[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint16(header[:])
		if n == 0 {
			return message, nil
		}
		if c.maxBytes > 0 && len(message)+int(n) > c.maxBytes {
			return nil, NewProtocolError("message exceeds configured maximum of %d bytes", c.maxBytes)
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(c.r, chunk); err != nil {
			return nil, fmt.Errorf("read chunk payload: %w", err)
		}
		message = append(message, chunk...)
	}
}
