package packstream

import (
	"encoding/binary"
	"io"
	"math"
)

// HydrationHook turns a decoded Structure into a domain value (Node, Date,
// Point, ...). It is looked up by tag during Decode. A hook that returns an
// error causes the decoder to emit a *Broken value for that structure rather
// than aborting the whole decode; the error still propagates to the caller
// via the Broken's Err field.
type HydrationHook func(s Structure) (any, error)

// Decoder reads PackStream values from an io.Reader.
type Decoder struct {
	r     io.Reader
	hooks map[byte]HydrationHook
	buf   [8]byte
}

// NewDecoder returns a Decoder with no hydration hooks registered; raw
// Structures are returned as Structure values until hooks are wired in by the
// hydration scope (pkg/bolt).
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, hooks: make(map[byte]HydrationHook)}
}

// RegisterHook wires a structure tag to its hydration transform.
func (d *Decoder) RegisterHook(tag byte, hook HydrationHook) {
	d.hooks[tag] = hook
}

func (d *Decoder) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Decoder) readByte() (byte, error) {
	if _, err := io.ReadFull(d.r, d.buf[:1]); err != nil {
		return 0, err
	}
	return d.buf[0], nil
}

// Decode reads and decodes exactly one PackStream value. It never reads past
// the value's own terminator: a fixed-size scalar reads exactly its payload,
// and a container recurses into Decode once per element.
//
// An unrecognized marker byte, a non-string or duplicate map key, or a failing
// hydration hook does not return a Go error — the offending value becomes a
// *Broken, and any list, map or structure holding it is returned as a
// *Broken in its place. An I/O error (including a length-prefixed payload
// cut short) is returned as a Go error at any depth.
func (d *Decoder) Decode() (any, error) {
	marker, err := d.readByte()
	if err != nil {
		return nil, err
	}
	return d.decodeValue(marker)
}

func (d *Decoder) decodeValue(marker byte) (any, error) {
	switch {
	case marker == markerNull:
		return nil, nil
	case marker == markerTrue:
		return true, nil
	case marker == markerFalse:
		return false, nil
	case marker == markerFloat:
		b, err := d.readFull(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case marker <= tinyIntPositiveMax || marker >= 0xF0:
		return int64(int8(marker)), nil
	case marker == markerInt8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return int64(int8(b)), nil
	case marker == markerInt16:
		b, err := d.readFull(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case marker == markerInt32:
		b, err := d.readFull(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case marker == markerInt64:
		b, err := d.readFull(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case marker == markerBytes8, marker == markerBytes16, marker == markerBytes32:
		n, err := d.readLength(marker, markerBytes8, markerBytes16, markerBytes32)
		if err != nil {
			return nil, err
		}
		return d.readFull(n)
	case marker&0xF0 == tinyStringBase:
		return d.readString(int(marker & tinyContainerMask))
	case marker == markerString8, marker == markerString16, marker == markerString32:
		n, err := d.readLength(marker, markerString8, markerString16, markerString32)
		if err != nil {
			return nil, err
		}
		return d.readString(n)
	case marker&0xF0 == tinyListBase:
		return d.decodeListBody(int(marker & tinyContainerMask))
	case marker == markerList8, marker == markerList16, marker == markerList32:
		n, err := d.readLength(marker, markerList8, markerList16, markerList32)
		if err != nil {
			return nil, err
		}
		return d.decodeListBody(n)
	case marker&0xF0 == tinyMapBase:
		return d.decodeMapBody(int(marker & tinyContainerMask))
	case marker == markerMap8, marker == markerMap16, marker == markerMap32:
		n, err := d.readLength(marker, markerMap8, markerMap16, markerMap32)
		if err != nil {
			return nil, err
		}
		return d.decodeMapBody(n)
	case marker&0xF0 == tinyStructBase:
		return d.decodeStructBody(int(marker & tinyContainerMask))
	case marker == markerStruct8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.decodeStructBody(int(b))
	case marker == markerStruct16:
		b, err := d.readFull(2)
		if err != nil {
			return nil, err
		}
		return d.decodeStructBody(int(binary.BigEndian.Uint16(b)))
	default:
		return &Broken{Err: encodeErrorf("unknown marker byte 0x%02X", marker)}, nil
	}
}

func (d *Decoder) readLength(marker, m8, m16, m32 byte) (int, error) {
	switch marker {
	case m8:
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		return int(b), nil
	case m16:
		b, err := d.readFull(2)
		if err != nil {
			return 0, err
		}
		return int(binary.BigEndian.Uint16(b)), nil
	default: // m32
		b, err := d.readFull(4)
		if err != nil {
			return 0, err
		}
		return int(binary.BigEndian.Uint32(b)), nil
	}
}

func (d *Decoder) readString(n int) (string, error) {
	b, err := d.readFull(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) decodeListBody(n int) (any, error) {
	items := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if b, ok := isBroken(items); ok {
		return &Broken{Payload: nil, Err: b.Err}, nil
	}
	return items, nil
}

func (d *Decoder) decodeMapBody(n int) (any, error) {
	m := make(map[string]any, n)
	var dupErr error
	for i := 0; i < n; i++ {
		kv, err := d.Decode()
		if err != nil {
			return nil, err
		}
		k, ok := kv.(string)
		if !ok {
			return &Broken{Err: encodeErrorf("map key is not a string: %T", kv)}, nil
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		if _, exists := m[k]; exists && dupErr == nil {
			dupErr = encodeErrorf("duplicate map key %q", k)
		}
		m[k] = v
	}
	if dupErr != nil {
		return &Broken{Err: dupErr}, nil
	}
	if b, ok := isBroken(m); ok {
		return &Broken{Err: b.Err}, nil
	}
	return m, nil
}

func (d *Decoder) decodeStructBody(n int) (any, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	fields := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		fields = append(fields, v)
	}
	if b, ok := isBroken(fields); ok {
		return &Broken{Tag: tag, Err: b.Err}, nil
	}
	s := Structure{Tag: tag, Fields: fields}
	if hook, ok := d.hooks[tag]; ok {
		v, err := hook(s)
		if err != nil {
			return &Broken{Tag: tag, Err: err}, nil
		}
		return v, nil
	}
	return s, nil
}
