// Package packstream implements the PackStream binary serialization format
// used by the Bolt wire protocol: a self-describing codec with length-prefixed
// containers and tagged structures.
//
// The codec itself never looks up domain types (Node, Relationship, Date, ...).
// That mapping lives one layer up, in the hydration scope, which registers
// Structure transformers with an Encoder and recognizes tags coming out of a
// Decoder. PackStream only knows about the nine wire-level variants described
// in Bolt's PackStream v1 spec: Null, Boolean, Integer, Float, Bytes, String,
// List, Map and Structure.
package packstream

import "math"

// Structure is a tagged, ordered sequence of fields. The codec gives no tag a
// meaning of its own; the message layer and hydration scope assign them.
type Structure struct {
	Tag    byte
	Fields []any
}

// Broken wraps a value that failed to decode. It carries the error that
// produced it so a caller can fail the single record without tearing down the
// connection; the raw bytes of the value are not kept. Containers holding a
// Broken value propagate the breakage: any List, Map or Structure containing
// one becomes Broken itself.
type Broken struct {
	// Tag is the structure tag whose fields or hydration failed, or 0 when
	// the broken value is a list, a map or an unknown marker.
	Tag byte
	// Payload is left nil by Decoder.
	Payload []byte
	Err     error
}

func (b *Broken) Error() string { return b.Err.Error() }
func (b *Broken) Unwrap() error { return b.Err }

// isBroken reports whether v is a Broken marker, or a container that
// transitively holds one.
func isBroken(v any) (*Broken, bool) {
	switch t := v.(type) {
	case *Broken:
		return t, true
	case []any:
		for _, e := range t {
			if b, ok := isBroken(e); ok {
				return b, true
			}
		}
	case map[string]any:
		for _, e := range t {
			if b, ok := isBroken(e); ok {
				return b, true
			}
		}
	}
	return nil, false
}

// equalValue compares two decoded PackStream values for the codec round-trip
// property in the test suite. NaN floats compare equal to themselves, mirroring
// IEEE "is_nan" semantics rather than IEEE "==" semantics.
func equalValue(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return false
		}
		if math.IsNaN(av) && math.IsNaN(bv) {
			return true
		}
		return av == bv
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, vv := range av {
			bvv, ok := bv[k]
			if !ok || !equalValue(vv, bvv) {
				return false
			}
		}
		return true
	case Structure:
		bv, ok := b.(Structure)
		if !ok || av.Tag != bv.Tag || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if !equalValue(av.Fields[i], bv.Fields[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Equal reports whether two decoded values are equivalent per the codec
// round-trip property (§8): NaN equals NaN, containers compare structurally.
func Equal(a, b any) bool { return equalValue(a, b) }
