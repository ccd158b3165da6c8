package bolttest

import (
	"github.com/marmos91/gobolt/pkg/packstream"
)

// EncodeSuccess packstream-encodes `SUCCESS meta` (tag 0x70), for tests that
// need a server reply carrying metadata (e.g. a ROUTE response's routing
// table) rather than the bare `SUCCESS {}` successEmpty covers.
func EncodeSuccess(meta map[string]any) []byte {
	var buf fieldBuffer
	enc := packstream.NewEncoder(&buf)
	// Encode errors are unreachable for the plain maps/slices/strings/ints
	// this helper is built for; a test author who gets this wrong will see
	// it immediately as a decode failure on the client side.
	_ = enc.Encode(packstream.Structure{Tag: 0x70, Fields: []any{meta}})
	return []byte(buf)
}

type fieldBuffer []byte

func (b *fieldBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
