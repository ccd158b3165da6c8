package bolt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkingLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte{0xA2}, 2*MaxChunkSize+0x8DA2)

	var out bytes.Buffer
	w := NewChunkWriter(&out)
	w.WriteMessage(payload)
	require.NoError(t, w.Flush())

	got := out.Bytes()
	// FF FF <65535 bytes> FF FF <65535 bytes> 8D A2 <remainder> 00 00
	assert.Equal(t, byte(0xFF), got[0])
	assert.Equal(t, byte(0xFF), got[1])
	remainder := len(payload) - 2*MaxChunkSize
	remainderHeaderOffset := 2 + MaxChunkSize + 2 + MaxChunkSize
	assert.Equal(t, byte(0x8D), got[remainderHeaderOffset])
	assert.Equal(t, byte(0xA2), got[remainderHeaderOffset+1])
	assert.Equal(t, uint16(remainder), uint16(got[remainderHeaderOffset])<<8|uint16(got[remainderHeaderOffset+1]))
	assert.Equal(t, []byte{0x00, 0x00}, got[len(got)-2:])

	r := NewChunkReader(&out)
	// out has already been drained by Bytes()/reading above? bytes.Buffer.Bytes
	// does not consume, so reset a fresh reader over the same data.
	r = NewChunkReader(bytes.NewReader(got))
	msg, err := r.ReadMessage()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, msg))
}

func TestChunkWriterPreservesTerminatorBetweenMessages(t *testing.T) {
	var out bytes.Buffer
	w := NewChunkWriter(&out)
	w.WriteMessage([]byte("hello"))
	w.WriteMessage([]byte("world"))
	require.NoError(t, w.Flush())

	r := NewChunkReader(bytes.NewReader(out.Bytes()))
	m1, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(m1))
	m2, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "world", string(m2))
}

func TestEmptyMessageIsJustTerminator(t *testing.T) {
	var out bytes.Buffer
	w := NewChunkWriter(&out)
	w.WriteMessage(nil)
	require.NoError(t, w.Flush())
	assert.Equal(t, []byte{0x00, 0x00}, out.Bytes())
}
