package bolt

import (
	"github.com/marmos91/gobolt/pkg/packstream"
)

// Structure tags for the domain types hydration understands (§4.3).
const (
	tagNode                 byte = 'N'
	tagRelationship         byte = 'R'
	tagUnboundRelationship  byte = 'r'
	tagPath                 byte = 'P'
	tagPoint2D              byte = 'X'
	tagPoint3D              byte = 'Y'
	tagDate                 byte = 'D'
	tagTime                 byte = 'T'
	tagLocalTime            byte = 't'
	tagLocalDateTime        byte = 'd'
	tagDuration             byte = 'E'
	tagDateTimeLegacy       byte = 'F' // Bolt < 5.0, local-seconds + zone offset
	tagDateTimeZoneIDLegacy byte = 'f' // Bolt < 5.0, local-seconds + zone name
	tagDateTimeUTC          byte = 'I' // Bolt >= 5.0, UTC-seconds + zone offset
	tagDateTimeZoneIDUTC    byte = 'i' // Bolt >= 5.0, UTC-seconds + zone name
)

// HydrationScope maps structure tags to domain types and back. It is created
// fresh per connection because the set of legal tags (and the DateTime
// encoding in particular) depends on the negotiated protocol version (§4.3).
type HydrationScope struct {
	version   Version
	elementID bool // Bolt >= 5.0: Node/Relationship/Path carry element-id strings
	utcDates  bool // Bolt >= 5.0: DateTime uses tags I/i with UTC seconds
}

// NewHydrationScope builds the hydration scope for a negotiated version.
func NewHydrationScope(v Version) *HydrationScope {
	return &HydrationScope{
		version:   v,
		elementID: v.AtLeast(Version{Major: 5, Minor: 0}),
		utcDates:  v.AtLeast(Version{Major: 5, Minor: 0}),
	}
}

// RegisterHydration wires this scope's hydrate functions into a decoder.
func (h *HydrationScope) RegisterHydration(dec *packstream.Decoder) {
	dec.RegisterHook(tagNode, h.hydrateNode)
	dec.RegisterHook(tagRelationship, h.hydrateRelationship)
	dec.RegisterHook(tagUnboundRelationship, h.hydrateUnboundRelationship)
	dec.RegisterHook(tagPath, h.hydratePath)
	dec.RegisterHook(tagPoint2D, h.hydratePoint2D)
	dec.RegisterHook(tagPoint3D, h.hydratePoint3D)
	dec.RegisterHook(tagDate, h.hydrateDate)
	dec.RegisterHook(tagTime, h.hydrateTime)
	dec.RegisterHook(tagLocalTime, h.hydrateLocalTime)
	dec.RegisterHook(tagLocalDateTime, h.hydrateLocalDateTime)
	dec.RegisterHook(tagDuration, h.hydrateDuration)
	dec.RegisterHook(tagDateTimeLegacy, h.hydrateDateTimeLegacyOffset)
	dec.RegisterHook(tagDateTimeZoneIDLegacy, h.hydrateDateTimeLegacyZone)
	dec.RegisterHook(tagDateTimeUTC, h.hydrateDateTimeUTCOffset)
	dec.RegisterHook(tagDateTimeZoneIDUTC, h.hydrateDateTimeUTCZone)
}

// RegisterDehydration wires this scope's dehydration hooks into an encoder,
// for outbound parameter values of domain types (§4.1 "Dehydration hooks").
func (h *HydrationScope) RegisterDehydration(enc *packstream.Encoder) {
	enc.RegisterHook(Point2D{}, func(v any) (packstream.Structure, error) {
		p := v.(Point2D)
		return packstream.Structure{Tag: tagPoint2D, Fields: []any{p.SRID, p.X, p.Y}}, nil
	})
	enc.RegisterHook(Point3D{}, func(v any) (packstream.Structure, error) {
		p := v.(Point3D)
		return packstream.Structure{Tag: tagPoint3D, Fields: []any{p.SRID, p.X, p.Y, p.Z}}, nil
	})
	enc.RegisterHook(Date{}, func(v any) (packstream.Structure, error) {
		d := v.(Date)
		return packstream.Structure{Tag: tagDate, Fields: []any{d.Days}}, nil
	})
	enc.RegisterHook(LocalTime{}, func(v any) (packstream.Structure, error) {
		t := v.(LocalTime)
		return packstream.Structure{Tag: tagLocalTime, Fields: []any{t.Nanoseconds}}, nil
	})
	enc.RegisterHook(Time{}, func(v any) (packstream.Structure, error) {
		t := v.(Time)
		return packstream.Structure{Tag: tagTime, Fields: []any{t.Nanoseconds, t.OffsetSeconds}}, nil
	})
	enc.RegisterHook(LocalDateTime{}, func(v any) (packstream.Structure, error) {
		t := v.(LocalDateTime)
		return packstream.Structure{Tag: tagLocalDateTime, Fields: []any{t.Seconds, t.Nanos}}, nil
	})
	enc.RegisterHook(Duration{}, func(v any) (packstream.Structure, error) {
		d := v.(Duration)
		return packstream.Structure{Tag: tagDuration, Fields: []any{d.Months, d.Days, d.Seconds, d.Nanos}}, nil
	})
	enc.RegisterHook(DateTime{}, h.dehydrateDateTime)
}

func (h *HydrationScope) dehydrateDateTime(v any) (packstream.Structure, error) {
	dt := v.(DateTime)
	if h.utcDates {
		if dt.ZoneName != "" {
			return packstream.Structure{Tag: tagDateTimeZoneIDUTC, Fields: []any{dt.Seconds, dt.Nanos, dt.ZoneName}}, nil
		}
		return packstream.Structure{Tag: tagDateTimeUTC, Fields: []any{dt.Seconds, dt.Nanos, dt.OffsetSeconds}}, nil
	}
	if dt.ZoneName != "" {
		return packstream.Structure{Tag: tagDateTimeZoneIDLegacy, Fields: []any{dt.Seconds, dt.Nanos, dt.ZoneName}}, nil
	}
	return packstream.Structure{Tag: tagDateTimeLegacy, Fields: []any{dt.Seconds, dt.Nanos, dt.OffsetSeconds}}, nil
}

func field(s packstream.Structure, i int) any {
	if i >= len(s.Fields) {
		return nil
	}
	return s.Fields[i]
}

func asInt64(v any) int64 {
	i, _ := v.(int64)
	return i
}

func asFloat64(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func (h *HydrationScope) hydrateNode(s packstream.Structure) (any, error) {
	n := Node{
		ID:         asInt64(field(s, 0)),
		Properties: asMap(field(s, 2)),
	}
	for _, l := range asSlice(field(s, 1)) {
		n.Labels = append(n.Labels, asString(l))
	}
	if h.elementID && len(s.Fields) > 3 {
		n.ElementID = asString(field(s, 3))
	}
	return n, nil
}

func (h *HydrationScope) hydrateRelationship(s packstream.Structure) (any, error) {
	r := Relationship{
		ID:          asInt64(field(s, 0)),
		StartNodeID: asInt64(field(s, 1)),
		EndNodeID:   asInt64(field(s, 2)),
		Type:        asString(field(s, 3)),
		Properties:  asMap(field(s, 4)),
	}
	if h.elementID && len(s.Fields) > 7 {
		r.ElementID = asString(field(s, 5))
		r.StartElementID = asString(field(s, 6))
		r.EndElementID = asString(field(s, 7))
	}
	return r, nil
}

func (h *HydrationScope) hydrateUnboundRelationship(s packstream.Structure) (any, error) {
	r := UnboundRelationship{
		ID:         asInt64(field(s, 0)),
		Type:       asString(field(s, 1)),
		Properties: asMap(field(s, 2)),
	}
	if h.elementID && len(s.Fields) > 3 {
		r.ElementID = asString(field(s, 3))
	}
	return r, nil
}

func (h *HydrationScope) hydratePath(s packstream.Structure) (any, error) {
	p := Path{}
	for _, nv := range asSlice(field(s, 0)) {
		if n, ok := nv.(Node); ok {
			p.Nodes = append(p.Nodes, n)
		}
	}
	for _, rv := range asSlice(field(s, 1)) {
		if r, ok := rv.(UnboundRelationship); ok {
			p.Relationships = append(p.Relationships, r)
		}
	}
	for _, iv := range asSlice(field(s, 2)) {
		p.Sequence = append(p.Sequence, asInt64(iv))
	}
	return p, nil
}

func (h *HydrationScope) hydratePoint2D(s packstream.Structure) (any, error) {
	return Point2D{SRID: asInt64(field(s, 0)), X: asFloat64(field(s, 1)), Y: asFloat64(field(s, 2))}, nil
}

func (h *HydrationScope) hydratePoint3D(s packstream.Structure) (any, error) {
	return Point3D{
		SRID: asInt64(field(s, 0)), X: asFloat64(field(s, 1)),
		Y: asFloat64(field(s, 2)), Z: asFloat64(field(s, 3)),
	}, nil
}

func (h *HydrationScope) hydrateDate(s packstream.Structure) (any, error) {
	return Date{Days: asInt64(field(s, 0))}, nil
}

func (h *HydrationScope) hydrateTime(s packstream.Structure) (any, error) {
	return Time{Nanoseconds: asInt64(field(s, 0)), OffsetSeconds: asInt64(field(s, 1))}, nil
}

func (h *HydrationScope) hydrateLocalTime(s packstream.Structure) (any, error) {
	return LocalTime{Nanoseconds: asInt64(field(s, 0))}, nil
}

func (h *HydrationScope) hydrateLocalDateTime(s packstream.Structure) (any, error) {
	return LocalDateTime{Seconds: asInt64(field(s, 0)), Nanos: asInt64(field(s, 1))}, nil
}

func (h *HydrationScope) hydrateDuration(s packstream.Structure) (any, error) {
	return Duration{
		Months: asInt64(field(s, 0)), Days: asInt64(field(s, 1)),
		Seconds: asInt64(field(s, 2)), Nanos: asInt64(field(s, 3)),
	}, nil
}

// hydrateDateTimeLegacyOffset/hydrateDateTimeUTCOffset etc. reject tags that
// don't match the connection's negotiated encoding: mixing 'F'/'f' (legacy,
// local seconds) with 'I'/'i' (Bolt >= 5.0, UTC seconds) is a protocol
// violation, not a representational choice (§4.3).

func (h *HydrationScope) hydrateDateTimeLegacyOffset(s packstream.Structure) (any, error) {
	if h.utcDates {
		return nil, NewProtocolError("DateTime tag 'F' is not valid on Bolt %s (expects UTC encoding 'I')", h.version)
	}
	return DateTime{Seconds: asInt64(field(s, 0)), Nanos: asInt64(field(s, 1)), OffsetSeconds: asInt64(field(s, 2))}, nil
}

func (h *HydrationScope) hydrateDateTimeLegacyZone(s packstream.Structure) (any, error) {
	if h.utcDates {
		return nil, NewProtocolError("DateTime tag 'f' is not valid on Bolt %s (expects UTC encoding 'i')", h.version)
	}
	return DateTime{Seconds: asInt64(field(s, 0)), Nanos: asInt64(field(s, 1)), ZoneName: asString(field(s, 2))}, nil
}

func (h *HydrationScope) hydrateDateTimeUTCOffset(s packstream.Structure) (any, error) {
	if !h.utcDates {
		return nil, NewProtocolError("DateTime tag 'I' is not valid on Bolt %s (expects legacy encoding 'F')", h.version)
	}
	return DateTime{Seconds: asInt64(field(s, 0)), Nanos: asInt64(field(s, 1)), OffsetSeconds: asInt64(field(s, 2)), UTC: true}, nil
}

func (h *HydrationScope) hydrateDateTimeUTCZone(s packstream.Structure) (any, error) {
	if !h.utcDates {
		return nil, NewProtocolError("DateTime tag 'i' is not valid on Bolt %s (expects legacy encoding 'f')", h.version)
	}
	return DateTime{Seconds: asInt64(field(s, 0)), Nanos: asInt64(field(s, 1)), ZoneName: asString(field(s, 2)), UTC: true}, nil
}
