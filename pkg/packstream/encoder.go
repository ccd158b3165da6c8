package packstream

import (
	"encoding/binary"
	"io"
	"math"
	"reflect"
)

// DehydrationHook converts a concrete Go value into the Structure that
// represents it on the wire. Hooks are registered per concrete type; if no
// exact match is found the encoder walks the type's declared ancestors (see
// Encoder.RegisterAncestor) before giving up.
type DehydrationHook func(v any) (Structure, error)

// Encoder writes PackStream values to an io.Writer. The zero value has no
// dehydration hooks registered; construct with NewEncoder so spatial,
// temporal and graph domain types can be wired in by the hydration scope.
type Encoder struct {
	w        io.Writer
	hooks    map[reflect.Type]DehydrationHook
	ancestor map[reflect.Type]reflect.Type
	buf      [8]byte
}

// NewEncoder returns an Encoder with no dehydration hooks registered.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:        w,
		hooks:    make(map[reflect.Type]DehydrationHook),
		ancestor: make(map[reflect.Type]reflect.Type),
	}
}

// RegisterHook associates a concrete type with its dehydration transform. The
// sample value is only used to extract its reflect.Type.
func (e *Encoder) RegisterHook(sample any, hook DehydrationHook) {
	e.hooks[reflect.TypeOf(sample)] = hook
}

// RegisterAncestor declares that values of type `child` should fall back to
// the hook registered for `ancestor` when no exact-type hook exists. This
// models the "walk declared ancestors" subtype-lookup rule in §4.1.
func (e *Encoder) RegisterAncestor(child, ancestor any) {
	e.ancestor[reflect.TypeOf(child)] = reflect.TypeOf(ancestor)
}

func (e *Encoder) lookupHook(t reflect.Type) (DehydrationHook, bool) {
	for cur := t; ; {
		if h, ok := e.hooks[cur]; ok {
			return h, true
		}
		anc, ok := e.ancestor[cur]
		if !ok {
			return nil, false
		}
		cur = anc
	}
}

func (e *Encoder) write(p []byte) error {
	_, err := e.w.Write(p)
	return err
}

func (e *Encoder) writeByte(b byte) error {
	e.buf[0] = b
	return e.write(e.buf[:1])
}

// Encode serializes a single PackStream value. Supported Go types: nil, bool,
// all signed/unsigned integer kinds (range-checked against the signed 64-bit
// envelope), float32/float64, []byte, string, []any (or any slice via
// reflection), map[string]any, Structure, and any type with a registered
// dehydration hook.
func (e *Encoder) Encode(v any) error {
	switch val := v.(type) {
	case nil:
		return e.writeByte(markerNull)
	case bool:
		if val {
			return e.writeByte(markerTrue)
		}
		return e.writeByte(markerFalse)
	case float32:
		return e.encodeFloat(float64(val))
	case float64:
		return e.encodeFloat(val)
	case int:
		return e.encodeInt(int64(val))
	case int8:
		return e.encodeInt(int64(val))
	case int16:
		return e.encodeInt(int64(val))
	case int32:
		return e.encodeInt(int64(val))
	case int64:
		return e.encodeInt(val)
	case uint:
		return e.encodeUint(uint64(val))
	case uint8:
		return e.encodeInt(int64(val))
	case uint16:
		return e.encodeInt(int64(val))
	case uint32:
		return e.encodeInt(int64(val))
	case uint64:
		return e.encodeUint(val)
	case []byte:
		return e.encodeBytes(val)
	case string:
		return e.encodeString(val)
	case []any:
		return e.encodeList(val)
	case map[string]any:
		return e.encodeMap(val)
	case Structure:
		return e.encodeStruct(val)
	case *Broken:
		return encodeErrorf("cannot encode a broken hydration value")
	default:
		if h, ok := e.lookupHook(reflect.TypeOf(v)); ok {
			s, err := h(v)
			if err != nil {
				return err
			}
			return e.encodeStruct(s)
		}
		return e.encodeReflect(v)
	}
}

// encodeReflect handles slice, array and string-keyed map types that don't
// hit the concrete-type switch directly (e.g. a []string parameter value, or
// a named map type). Any other kind, structs and pointers included, is an
// EncodeError.
func (e *Encoder) encodeReflect(v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		items := make([]any, n)
		for i := 0; i < n; i++ {
			items[i] = rv.Index(i).Interface()
		}
		return e.encodeList(items)
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, ok := iter.Key().Interface().(string)
			if !ok {
				return encodeErrorf("map keys must be strings, got %s", iter.Key().Kind())
			}
			m[k] = iter.Value().Interface()
		}
		return e.encodeMap(m)
	default:
		return encodeErrorf("unsupported type %T", v)
	}
}

func (e *Encoder) encodeFloat(f float64) error {
	if err := e.writeByte(markerFloat); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(e.buf[:8], math.Float64bits(f))
	return e.write(e.buf[:8])
}

func (e *Encoder) encodeUint(v uint64) error {
	if v > math.MaxInt64 {
		return rangeErrorf("integer %d out of signed 64-bit range", v)
	}
	return e.encodeInt(int64(v))
}

func (e *Encoder) encodeInt(v int64) error {
	switch {
	case v >= tinyIntNegativeMin && v <= tinyIntPositiveMax:
		return e.writeByte(byte(int8(v)))
	case v >= math.MinInt8 && v < tinyIntNegativeMin:
		if err := e.writeByte(markerInt8); err != nil {
			return err
		}
		return e.writeByte(byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		if err := e.writeByte(markerInt16); err != nil {
			return err
		}
		binary.BigEndian.PutUint16(e.buf[:2], uint16(int16(v)))
		return e.write(e.buf[:2])
	case v >= math.MinInt32 && v <= math.MaxInt32:
		if err := e.writeByte(markerInt32); err != nil {
			return err
		}
		binary.BigEndian.PutUint32(e.buf[:4], uint32(int32(v)))
		return e.write(e.buf[:4])
	default:
		if err := e.writeByte(markerInt64); err != nil {
			return err
		}
		binary.BigEndian.PutUint64(e.buf[:8], uint64(v))
		return e.write(e.buf[:8])
	}
}

func (e *Encoder) encodeBytes(b []byte) error {
	n := len(b)
	switch {
	case n <= max8Bit:
		if err := e.writeByte(markerBytes8); err != nil {
			return err
		}
		if err := e.writeByte(byte(n)); err != nil {
			return err
		}
	case n <= max16Bit:
		if err := e.writeByte(markerBytes16); err != nil {
			return err
		}
		binary.BigEndian.PutUint16(e.buf[:2], uint16(n))
		if err := e.write(e.buf[:2]); err != nil {
			return err
		}
	case n <= max32Bit:
		if err := e.writeByte(markerBytes32); err != nil {
			return err
		}
		binary.BigEndian.PutUint32(e.buf[:4], uint32(n))
		if err := e.write(e.buf[:4]); err != nil {
			return err
		}
	default:
		return rangeErrorf("bytes length %d exceeds 32-bit header", n)
	}
	return e.write(b)
}

func (e *Encoder) encodeString(s string) error {
	n := len(s)
	switch {
	case n <= maxTinyContainer:
		if err := e.writeByte(tinyStringBase | byte(n)); err != nil {
			return err
		}
	case n <= max8Bit:
		if err := e.writeByte(markerString8); err != nil {
			return err
		}
		if err := e.writeByte(byte(n)); err != nil {
			return err
		}
	case n <= max16Bit:
		if err := e.writeByte(markerString16); err != nil {
			return err
		}
		binary.BigEndian.PutUint16(e.buf[:2], uint16(n))
		if err := e.write(e.buf[:2]); err != nil {
			return err
		}
	case n <= max32Bit:
		if err := e.writeByte(markerString32); err != nil {
			return err
		}
		binary.BigEndian.PutUint32(e.buf[:4], uint32(n))
		if err := e.write(e.buf[:4]); err != nil {
			return err
		}
	default:
		return rangeErrorf("string length %d exceeds 32-bit header", n)
	}
	return e.write([]byte(s))
}

func (e *Encoder) encodeListHeader(n int) error {
	switch {
	case n <= maxTinyContainer:
		return e.writeByte(tinyListBase | byte(n))
	case n <= max8Bit:
		if err := e.writeByte(markerList8); err != nil {
			return err
		}
		return e.writeByte(byte(n))
	case n <= max16Bit:
		if err := e.writeByte(markerList16); err != nil {
			return err
		}
		binary.BigEndian.PutUint16(e.buf[:2], uint16(n))
		return e.write(e.buf[:2])
	case n <= max32Bit:
		if err := e.writeByte(markerList32); err != nil {
			return err
		}
		binary.BigEndian.PutUint32(e.buf[:4], uint32(n))
		return e.write(e.buf[:4])
	default:
		return rangeErrorf("list length %d exceeds 32-bit header", n)
	}
}

func (e *Encoder) encodeList(items []any) error {
	if err := e.encodeListHeader(len(items)); err != nil {
		return err
	}
	for _, item := range items {
		if err := e.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeMapHeader(n int) error {
	switch {
	case n <= maxTinyContainer:
		return e.writeByte(tinyMapBase | byte(n))
	case n <= max8Bit:
		if err := e.writeByte(markerMap8); err != nil {
			return err
		}
		return e.writeByte(byte(n))
	case n <= max16Bit:
		if err := e.writeByte(markerMap16); err != nil {
			return err
		}
		binary.BigEndian.PutUint16(e.buf[:2], uint16(n))
		return e.write(e.buf[:2])
	case n <= max32Bit:
		if err := e.writeByte(markerMap32); err != nil {
			return err
		}
		binary.BigEndian.PutUint32(e.buf[:4], uint32(n))
		return e.write(e.buf[:4])
	default:
		return rangeErrorf("map length %d exceeds 32-bit header", n)
	}
}

func (e *Encoder) encodeMap(m map[string]any) error {
	if err := e.encodeMapHeader(len(m)); err != nil {
		return err
	}
	// Duplicate keys are structurally impossible for a Go map; the fatal
	// "duplicate key" case in §4.1 is enforced by the Go type system here.
	for k, v := range m {
		if err := e.encodeString(k); err != nil {
			return err
		}
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeStructHeader(n int, tag byte) error {
	switch {
	case n <= maxTinyContainer:
		if err := e.writeByte(tinyStructBase | byte(n)); err != nil {
			return err
		}
	case n <= max8Bit:
		if err := e.writeByte(markerStruct8); err != nil {
			return err
		}
		if err := e.writeByte(byte(n)); err != nil {
			return err
		}
	case n <= max16Bit:
		if err := e.writeByte(markerStruct16); err != nil {
			return err
		}
		binary.BigEndian.PutUint16(e.buf[:2], uint16(n))
		if err := e.write(e.buf[:2]); err != nil {
			return err
		}
	default:
		return rangeErrorf("structure field count %d exceeds 16-bit header", n)
	}
	return e.writeByte(tag)
}

func (e *Encoder) encodeStruct(s Structure) error {
	if err := e.encodeStructHeader(len(s.Fields), s.Tag); err != nil {
		return err
	}
	for _, f := range s.Fields {
		if err := e.Encode(f); err != nil {
			return err
		}
	}
	return nil
}
